package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"predictpix/internal/auth"
	"predictpix/internal/models"
	"predictpix/internal/services"
)

type RewardHandler struct {
	settlement *services.SettlementService
}

func NewRewardHandler(settlement *services.SettlementService) *RewardHandler {
	return &RewardHandler{settlement: settlement}
}

// ListRewards returns the caller's reward receipts
// GET /api/rewards
func (h *RewardHandler) ListRewards(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	status := models.RewardStatus(c.Query("status"))
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

	rewards, err := h.settlement.ListRewards(c.Request.Context(), userID, status, marketID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rewards"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rewards,
		"count":   len(rewards),
	})
}

// GetReward returns a single reward receipt owned by the caller
// GET /api/rewards/:id
func (h *RewardHandler) GetReward(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	rewardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward id"})
		return
	}

	reward, err := h.settlement.GetReward(c.Request.Context(), rewardID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    reward,
	})
}

// ClaimReward pays out the caller's winning stake on a resolved market
// POST /api/markets/:id/claim
func (h *RewardHandler) ClaimReward(c *gin.Context) {
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

	amount, err := h.settlement.ClaimReward(c.Request.Context(), marketID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"market_id": marketID, "amount": amount},
	})
}
