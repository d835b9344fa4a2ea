package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"predictpix/internal/auth"
	"predictpix/internal/models"
	"predictpix/internal/services"
)

type MarketHandler struct {
	settlement *services.SettlementService
}

func NewMarketHandler(settlement *services.SettlementService) *MarketHandler {
	return &MarketHandler{settlement: settlement}
}

// GetMarkets returns markets with optional status filtering
// GET /api/markets
func (h *MarketHandler) GetMarkets(c *gin.Context) {
	status := models.MarketStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	markets, total, err := h.settlement.ListMarkets(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch markets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    markets,
		"count":   total,
	})
}

// GetMarketByID returns a specific market
// GET /api/markets/:id
func (h *MarketHandler) GetMarketByID(c *gin.Context) {
	marketID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	market, err := h.settlement.GetMarket(c.Request.Context(), marketID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}

// GetMarketOdds returns the implied odds derived from the current pools
// GET /api/markets/:id/odds
func (h *MarketHandler) GetMarketOdds(c *gin.Context) {
	marketID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	market, err := h.settlement.GetMarket(c.Request.Context(), marketID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.settlement.CalculateOdds(market),
	})
}

// GetMarketEvents returns the audit trail for a market
// GET /api/markets/:id/events
func (h *MarketHandler) GetMarketEvents(c *gin.Context) {
	marketID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	events, err := h.settlement.GetMarketEvents(c.Request.Context(), marketID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    events,
		"count":   len(events),
	})
}

// CreateMarket creates a new market
// POST /api/markets
func (h *MarketHandler) CreateMarket(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	market, err := h.settlement.CreateMarket(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    market,
	})
}

// ResolveMarket sets the final outcome of a market (admin only)
// POST /api/markets/:id/resolve
func (h *MarketHandler) ResolveMarket(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	marketID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	var req models.ResolveMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.settlement.ResolveMarket(c.Request.Context(), marketID, req.Outcome, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market resolved",
	})
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
