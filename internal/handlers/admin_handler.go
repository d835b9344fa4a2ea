package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"predictpix/internal/models"
)

// AdminHandler exposes operational endpoints behind the admin role
type AdminHandler struct {
	db *gorm.DB
}

func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

// GetAllMarkets returns all markets regardless of status
// GET /api/admin/markets
func (h *AdminHandler) GetAllMarkets(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var markets []models.Market
	if err := h.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&markets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch markets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    markets,
		"count":   len(markets),
	})
}

// UpdateMarketStatus manually moves a market between lifecycle states.
// A resolved market is final and cannot be moved.
// PUT /api/admin/markets/:id/status
func (h *AdminHandler) UpdateMarketStatus(c *gin.Context) {
	marketID, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}

	var req struct {
		Status models.MarketStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Status {
	case models.MarketStatusOpen, models.MarketStatusLocked, models.MarketStatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	var market models.Market
	if err := h.db.Where("id = ?", marketID).First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch market"})
		return
	}

	if market.Status == models.MarketStatusResolved {
		c.JSON(http.StatusConflict, gin.H{"error": "resolved markets are final"})
		return
	}

	if err := h.db.Model(&market).Updates(map[string]interface{}{
		"status":     req.Status,
		"updated_at": time.Now(),
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update market"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market status updated",
		"data":    market,
	})
}

// GetFailedRewards lists rewards whose value transfer did not complete.
// These were claimed but never paid and need manual reconciliation.
// GET /api/admin/rewards/failed
func (h *AdminHandler) GetFailedRewards(c *gin.Context) {
	var rewards []models.Reward
	if err := h.db.Where("status = ?", models.RewardStatusFailed).
		Order("created_at ASC").Find(&rewards).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rewards"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rewards,
		"count":   len(rewards),
	})
}
