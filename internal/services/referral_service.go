package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"predictpix/internal/models"
)

type ReferralService struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewReferralService(db *gorm.DB) *ReferralService {
	return &ReferralService{
		db: db,
	}
}

// RebateTier defines the rebate percentage based on active referral count
type RebateTier struct {
	MinReferrals  int
	RebatePercent decimal.Decimal
}

// RebateTiers defines the rebate tiers. The percentage applies to the
// platform-fee share of the referred user's stake.
var RebateTiers = []RebateTier{
	{50, decimal.NewFromInt(30)},
	{20, decimal.NewFromInt(25)},
	{10, decimal.NewFromInt(20)},
	{5, decimal.NewFromInt(15)},
	{1, decimal.NewFromInt(10)},
	{0, decimal.Zero},
}

// GenerateReferralCode generates a unique referral code for a user
func (s *ReferralService) GenerateReferralCode(userID uint) (*models.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.generateRandomCode()
	if err != nil {
		return nil, err
	}

	referralCode := models.ReferralCode{
		UserID:   userID,
		Code:     code,
		IsActive: true,
	}

	if err := s.db.Create(&referralCode).Error; err != nil {
		return nil, fmt.Errorf("failed to create referral code: %w", err)
	}

	log.Printf("Generated referral code %s for user %d", code, userID)
	return &referralCode, nil
}

// generateRandomCode generates a random 8-character code
func (s *ReferralService) generateRandomCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b)[:8], nil
}

// GetUserReferralCode gets or creates a referral code for a user
func (s *ReferralService) GetUserReferralCode(userID uint) (*models.ReferralCode, error) {
	var code models.ReferralCode
	result := s.db.Where("user_id = ? AND is_active = ?", userID, true).First(&code)

	if result.Error == gorm.ErrRecordNotFound {
		return s.GenerateReferralCode(userID)
	}

	if result.Error != nil {
		return nil, result.Error
	}

	return &code, nil
}

// ValidateAndApplyReferralCode validates a referral code and creates the
// referral relationship
func (s *ReferralService) ValidateAndApplyReferralCode(referredUserID uint, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var referralCode models.ReferralCode
	if err := s.db.Where("code = ? AND is_active = ?", code, true).First(&referralCode).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("invalid referral code")
		}
		return err
	}

	if referralCode.UserID == referredUserID {
		return fmt.Errorf("cannot use your own referral code")
	}

	// Check if already referred
	var existingReferral models.Referral
	if err := s.db.Where("referred_user_id = ?", referredUserID).First(&existingReferral).Error; err == nil {
		return fmt.Errorf("user already has a referrer")
	}

	referral := models.Referral{
		ReferrerID:     referralCode.UserID,
		ReferredUserID: referredUserID,
		ReferralCodeID: &referralCode.ID,
		Status:         "ACTIVE",
	}

	if err := s.db.Create(&referral).Error; err != nil {
		return fmt.Errorf("failed to create referral: %w", err)
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", referredUserID).
		Update("referrer_id", referralCode.UserID).Error; err != nil {
		return err
	}

	if err := s.IncrementReferralCount(referralCode.UserID, true); err != nil {
		log.Printf("Warning: failed to update referral stats for user %d: %v", referralCode.UserID, err)
	}

	log.Printf("Applied referral code %s: user %d referred by user %d", code, referredUserID, referralCode.UserID)
	return nil
}

// CalculateRebatePercentage calculates the rebate percentage from the
// referrer's active referral count
func (s *ReferralService) CalculateRebatePercentage(referrerID uint) (decimal.Decimal, error) {
	var activeReferrals int64
	if err := s.db.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", referrerID, "ACTIVE").
		Count(&activeReferrals).Error; err != nil {
		return decimal.Zero, err
	}

	for _, tier := range RebateTiers {
		if int(activeReferrals) >= tier.MinReferrals {
			return tier.RebatePercent, nil
		}
	}

	return decimal.Zero, nil
}

// ProcessStakeRebate pays the staker's referrer a share of the platform
// fee generated by the stake. No referrer or a zero tier means no rebate.
func (s *ReferralService) ProcessStakeRebate(stakerID, marketID uint, stakeAmount, platformFeeBps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var staker models.User
	if err := s.db.Where("id = ?", stakerID).First(&staker).Error; err != nil {
		return err
	}

	if staker.ReferrerID == nil {
		return nil // No referrer, no rebate
	}

	rebatePercent, err := s.CalculateRebatePercentage(*staker.ReferrerID)
	if err != nil {
		return err
	}

	if rebatePercent.IsZero() {
		return nil // No rebate for this tier
	}

	feeShare := decimal.NewFromInt(stakeAmount).
		Mul(decimal.NewFromInt(platformFeeBps)).
		Div(decimal.NewFromInt(10000))
	rebateAmount := feeShare.Mul(rebatePercent).Div(decimal.NewFromInt(100)).Floor()

	if rebateAmount.IsZero() {
		return nil
	}

	rebate := models.ReferralRebate{
		ReferrerID:       *staker.ReferrerID,
		ReferredUserID:   stakerID,
		MarketID:         marketID,
		RebatePercentage: rebatePercent,
		RebateAmount:     rebateAmount,
		Status:           "PENDING",
	}

	if err := s.db.Create(&rebate).Error; err != nil {
		return fmt.Errorf("failed to create rebate: %w", err)
	}

	if err := s.IncrementRebatesEarned(*staker.ReferrerID, rebateAmount); err != nil {
		log.Printf("Warning: failed to update rebate stats: %v", err)
	}

	// Immediately pay the rebate
	if err := s.payRebateLocked(&rebate); err != nil {
		log.Printf("Error paying rebate: %v", err)
	}

	log.Printf("Rebate created: %s for referrer %d from stake on market %d", rebateAmount, *staker.ReferrerID, marketID)
	return nil
}

// PayRebate pays out a pending rebate
func (s *ReferralService) PayRebate(rebateID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rebate models.ReferralRebate
	if err := s.db.Where("id = ?", rebateID).First(&rebate).Error; err != nil {
		return err
	}

	return s.payRebateLocked(&rebate)
}

func (s *ReferralService) payRebateLocked(rebate *models.ReferralRebate) error {
	if rebate.Status != "PENDING" {
		return fmt.Errorf("rebate already paid or invalid status")
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", rebate.ReferrerID).
		Update("balance", gorm.Expr("balance + ?", rebate.RebateAmount.IntPart())).Error; err != nil {
		return err
	}

	now := time.Now()
	if err := s.db.Model(rebate).Updates(map[string]interface{}{
		"status":  "PAID",
		"paid_at": now,
	}).Error; err != nil {
		return err
	}

	if err := s.IncrementRebatesPaid(rebate.ReferrerID, rebate.RebateAmount); err != nil {
		log.Printf("Warning: failed to update rebate stats: %v", err)
	}

	referrerID := rebate.ReferrerID
	if err := s.db.Create(&models.Transaction{
		UserID:      &referrerID,
		Type:        models.TransactionTypeRebate,
		Amount:      rebate.RebateAmount.IntPart(),
		ReferenceID: fmt.Sprintf("rebate_%d", rebate.ID),
		Description: "Referral rebate",
	}).Error; err != nil {
		log.Printf("Warning: failed to record rebate transaction: %v", err)
	}

	log.Printf("Rebate paid: %s to user %d", rebate.RebateAmount, rebate.ReferrerID)
	return nil
}

// GetReferralStats returns referral statistics for a user
func (s *ReferralService) GetReferralStats(userID uint) (*models.ReferralStats, error) {
	var stats models.ReferralStats
	result := s.db.Where("user_id = ?", userID).First(&stats)

	if result.Error == gorm.ErrRecordNotFound {
		stats = models.ReferralStats{
			UserID:             userID,
			TotalRebatesEarned: decimal.Zero,
			TotalRebatesPaid:   decimal.Zero,
		}
		if err := s.db.Create(&stats).Error; err != nil {
			return nil, err
		}
		return &stats, nil
	}

	if result.Error != nil {
		return nil, result.Error
	}

	return &stats, nil
}

// IncrementReferralCount bumps the referral counters for a referrer,
// falling back to a full recalculation when no stats row exists yet
func (s *ReferralService) IncrementReferralCount(userID uint, active bool) error {
	updates := map[string]interface{}{
		"total_referrals": gorm.Expr("total_referrals + 1"),
		"updated_at":      time.Now(),
	}
	if active {
		updates["active_referrals"] = gorm.Expr("active_referrals + 1")
	}

	result := s.db.Model(&models.ReferralStats{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.RecalculateReferralStats(userID)
	}
	return nil
}

// IncrementRebatesEarned adds to the earned-rebate counter
func (s *ReferralService) IncrementRebatesEarned(userID uint, amount decimal.Decimal) error {
	result := s.db.Model(&models.ReferralStats{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_rebates_earned": gorm.Expr("total_rebates_earned + ?", amount),
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.RecalculateReferralStats(userID)
	}
	return nil
}

// IncrementRebatesPaid adds to the paid-rebate counter
func (s *ReferralService) IncrementRebatesPaid(userID uint, amount decimal.Decimal) error {
	result := s.db.Model(&models.ReferralStats{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_rebates_paid": gorm.Expr("total_rebates_paid + ?", amount),
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.RecalculateReferralStats(userID)
	}
	return nil
}

// RecalculateReferralStats rebuilds a user's stats row from the ground truth
func (s *ReferralService) RecalculateReferralStats(userID uint) error {
	var totalReferrals int64
	if err := s.db.Model(&models.Referral{}).Where("referrer_id = ?", userID).
		Count(&totalReferrals).Error; err != nil {
		return err
	}

	var activeReferrals int64
	if err := s.db.Model(&models.Referral{}).Where("referrer_id = ? AND status = ?", userID, "ACTIVE").
		Count(&activeReferrals).Error; err != nil {
		return err
	}

	var totalRebatesEarned decimal.Decimal
	row := s.db.Model(&models.ReferralRebate{}).Where("referrer_id = ?", userID).
		Select("COALESCE(SUM(rebate_amount), 0)").Row()
	if err := row.Scan(&totalRebatesEarned); err != nil {
		totalRebatesEarned = decimal.Zero
	}

	var totalRebatesPaid decimal.Decimal
	row = s.db.Model(&models.ReferralRebate{}).Where("referrer_id = ? AND status = ?", userID, "PAID").
		Select("COALESCE(SUM(rebate_amount), 0)").Row()
	if err := row.Scan(&totalRebatesPaid); err != nil {
		totalRebatesPaid = decimal.Zero
	}

	var stats models.ReferralStats
	result := s.db.Where("user_id = ?", userID).First(&stats)

	if result.Error == gorm.ErrRecordNotFound {
		stats = models.ReferralStats{
			UserID:             userID,
			TotalReferrals:     int(totalReferrals),
			ActiveReferrals:    int(activeReferrals),
			TotalRebatesEarned: totalRebatesEarned,
			TotalRebatesPaid:   totalRebatesPaid,
		}
		return s.db.Create(&stats).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return s.db.Model(&stats).Updates(map[string]interface{}{
		"total_referrals":      totalReferrals,
		"active_referrals":     activeReferrals,
		"total_rebates_earned": totalRebatesEarned,
		"total_rebates_paid":   totalRebatesPaid,
		"updated_at":           time.Now(),
	}).Error
}

// GetUserReferrals returns all referrals for a user
func (s *ReferralService) GetUserReferrals(userID uint) ([]models.Referral, error) {
	var referrals []models.Referral
	if err := s.db.Where("referrer_id = ?", userID).Preload("ReferredUser").Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

// GetReferralRebates returns all rebates for a user
func (s *ReferralService) GetReferralRebates(userID uint) ([]models.ReferralRebate, error) {
	var rebates []models.ReferralRebate
	if err := s.db.Where("referrer_id = ?", userID).Order("created_at DESC").Find(&rebates).Error; err != nil {
		return nil, err
	}
	return rebates, nil
}
