package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"predictpix/internal/auth"
	"predictpix/internal/models"
	"predictpix/internal/services"
)

type PredictionHandler struct {
	settlement *services.SettlementService
}

func NewPredictionHandler(settlement *services.SettlementService) *PredictionHandler {
	return &PredictionHandler{settlement: settlement}
}

// PlaceStake stakes an amount on one side of an open market
// POST /api/predictions
func (h *PredictionHandler) PlaceStake(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.PlaceStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.settlement.PlaceStake(c.Request.Context(), req.MarketID, userID, req.Side, req.Amount); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Stake placed",
	})
}

// GetUserPredictions returns the caller's stakes, optionally for one market
// GET /api/predictions
func (h *PredictionHandler) GetUserPredictions(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var marketID *uint
	if raw := c.Query("market_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
			return
		}
		marketID = &id
	}

	stakes, err := h.settlement.GetUserStakes(c.Request.Context(), userID, marketID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch predictions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stakes,
		"count":   len(stakes),
	})
}

// GetPotentialReward returns the caller's payout if the market resolved now
// GET /api/predictions/:market_id/reward
func (h *PredictionHandler) GetPotentialReward(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	marketID, err := parseID(c.Param("market_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	amount, err := h.settlement.CalculateReward(c.Request.Context(), marketID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"market_id": marketID, "reward": amount},
	})
}
