package services

import (
	"fmt"
	"log"

	"gorm.io/gorm"

	"predictpix/internal/models"
)

// AuthService handles authentication business logic
type AuthService struct {
	db        *gorm.DB
	referrals *ReferralService
}

// NewAuthService creates a new AuthService
func NewAuthService(db *gorm.DB, referrals *ReferralService) *AuthService {
	return &AuthService{db: db, referrals: referrals}
}

// ProcessWalletLogin finds or creates a user by wallet address
func (s *AuthService) ProcessWalletLogin(walletAddress string, referralCode string) (*models.User, error) {
	var user models.User

	result := s.db.Where("wallet_address = ?", walletAddress).First(&user)

	if result.Error == gorm.ErrRecordNotFound {
		// New user — create account
		user = models.User{
			WalletAddress: walletAddress,
			Role:          models.UserRoleUser,
		}

		if err := s.db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		// Apply referral code if provided; a bad code never blocks signup
		if referralCode != "" && s.referrals != nil {
			if err := s.referrals.ValidateAndApplyReferralCode(user.ID, referralCode); err != nil {
				log.Printf("Warning: failed to apply referral code for user %d: %v", user.ID, err)
			}
		}

		log.Printf("New user created: wallet=%s (ID: %d)", walletAddress, user.ID)
	} else if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	} else {
		log.Printf("User logged in: wallet=%s (ID: %d)", walletAddress, user.ID)
	}

	return &user, nil
}

// GetUserByID retrieves a user by their ID
func (s *AuthService) GetUserByID(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
