package repository

import (
	"context"
	"fmt"
	"time"

	"predictpix/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for callers that need raw queries.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateMarket creates a new market
func (r *Repository) CreateMarket(ctx context.Context, market *models.Market) error {
	return r.db.WithContext(ctx).Create(market).Error
}

// GetMarketByID retrieves a market by ID
func (r *Repository) GetMarketByID(ctx context.Context, marketID uint) (*models.Market, error) {
	var market models.Market
	err := r.db.WithContext(ctx).Where("id = ?", marketID).First(&market).Error
	if err != nil {
		return nil, err
	}
	return &market, nil
}

// ListMarkets retrieves markets filtered by status with total count
func (r *Repository) ListMarkets(ctx context.Context, status models.MarketStatus, limit, offset int) ([]models.Market, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Market{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var markets []models.Market
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&markets).Error
	if err != nil {
		return nil, 0, err
	}

	return markets, total, nil
}

// LockExpiredMarkets flips Open markets whose betting window has passed to Locked
func (r *Repository) LockExpiredMarkets(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Market{}).
		Where("status = ? AND end_time <= ?", models.MarketStatusOpen, now).
		Update("status", models.MarketStatusLocked)
	return result.RowsAffected, result.Error
}

// AddStake accumulates a stake into the user's per-side position and the
// market pools inside a single transaction, so pool totals never drift
// from the sum of recorded stakes.
func (r *Repository) AddStake(ctx context.Context, marketID, userID uint, side models.Side, amount int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stake := models.Stake{
			MarketID: marketID,
			UserID:   userID,
			Side:     side,
			Amount:   amount,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "market_id"}, {Name: "user_id"}, {Name: "side"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"amount":     gorm.Expr("stakes.amount + ?", amount),
				"updated_at": time.Now(),
			}),
		}).Create(&stake).Error; err != nil {
			return err
		}

		poolColumn := "no_pool"
		if side == models.SideYes {
			poolColumn = "yes_pool"
		}

		return tx.Model(&models.Market{}).Where("id = ?", marketID).
			Updates(map[string]interface{}{
				poolColumn:   gorm.Expr(poolColumn+" + ?", amount),
				"total_pool": gorm.Expr("total_pool + ?", amount),
			}).Error
	})
}

// GetStake retrieves the cumulative stake for (market, user, side)
func (r *Repository) GetStake(ctx context.Context, marketID, userID uint, side models.Side) (*models.Stake, error) {
	var stake models.Stake
	err := r.db.WithContext(ctx).
		Where("market_id = ? AND user_id = ? AND side = ?", marketID, userID, side).
		First(&stake).Error
	if err != nil {
		return nil, err
	}
	return &stake, nil
}

// GetUserStakes retrieves all of a user's stakes, optionally scoped to one market
func (r *Repository) GetUserStakes(ctx context.Context, userID uint, marketID *uint, limit, offset int) ([]models.Stake, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if marketID != nil {
		query = query.Where("market_id = ?", *marketID)
	}

	var stakes []models.Stake
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&stakes).Error
	if err != nil {
		return nil, err
	}
	return stakes, nil
}

// ResolveMarket persists the final outcome together with the fee ledger
// rows and the creator's fee credit in one transaction.
func (r *Repository) ResolveMarket(
	ctx context.Context,
	market *models.Market,
	outcome models.Side,
	creatorFee, platformFee int64,
) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Market{}).Where("id = ?", market.ID).
			Updates(map[string]interface{}{
				"status":      models.MarketStatusResolved,
				"outcome":     outcome,
				"resolved_at": now,
			}).Error; err != nil {
			return err
		}

		if creatorFee > 0 {
			creatorID := market.CreatorID
			if err := tx.Create(&models.Transaction{
				UserID:      &creatorID,
				Type:        models.TransactionTypeCreatorFee,
				Amount:      creatorFee,
				ReferenceID: marketRef(market.ID),
				Description: "Creator fee on market resolution",
			}).Error; err != nil {
				return err
			}

			if err := tx.Model(&models.User{}).Where("id = ?", market.CreatorID).
				Update("balance", gorm.Expr("balance + ?", creatorFee)).Error; err != nil {
				return err
			}
		}

		if platformFee > 0 {
			// Treasury row carries no user ID.
			if err := tx.Create(&models.Transaction{
				Type:        models.TransactionTypePlatformFee,
				Amount:      platformFee,
				ReferenceID: marketRef(market.ID),
				Description: "Platform fee on market resolution",
			}).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// ClaimStake atomically marks a stake claimed and records the reward
// receipt. The WHERE claimed = false guard is the compare-and-set that
// makes claiming exactly-once: a concurrent or repeated claim sees zero
// rows affected and reports nothing to claim.
func (r *Repository) ClaimStake(ctx context.Context, stake *models.Stake, reward *models.Reward) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.Stake{}).
			Where("id = ? AND claimed = ?", stake.ID, false).
			Updates(map[string]interface{}{
				"claimed":    true,
				"claimed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		claimed = true

		if err := tx.Create(reward).Error; err != nil {
			return err
		}

		userID := reward.UserID
		return tx.Create(&models.Transaction{
			UserID:      &userID,
			Type:        models.TransactionTypeWinnings,
			Amount:      reward.Amount,
			ReferenceID: marketRef(reward.MarketID),
			Description: "Winnings claimed",
		}).Error
	})
	return claimed, err
}

// UpdateRewardStatus records the outcome of the external value transfer
func (r *Repository) UpdateRewardStatus(ctx context.Context, rewardID uuid.UUID, status models.RewardStatus, transferRef *string) error {
	updates := map[string]interface{}{"status": status}
	if status == models.RewardStatusProcessed {
		updates["processed_at"] = time.Now()
	}
	if transferRef != nil {
		updates["transfer_ref"] = *transferRef
	}
	return r.db.WithContext(ctx).Model(&models.Reward{}).
		Where("id = ?", rewardID).Updates(updates).Error
}

// ListRewards retrieves rewards for a user with optional filters
func (r *Repository) ListRewards(ctx context.Context, userID uint, status models.RewardStatus, marketID *uint, limit, offset int) ([]models.Reward, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if marketID != nil {
		query = query.Where("market_id = ?", *marketID)
	}

	var rewards []models.Reward
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

// GetReward retrieves a single reward owned by the user
func (r *Repository) GetReward(ctx context.Context, rewardID uuid.UUID, userID uint) (*models.Reward, error) {
	var reward models.Reward
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", rewardID, userID).
		First(&reward).Error
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// CreateTransaction records a ledger row
func (r *Repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// AppendEvent appends an audit event for a market
func (r *Repository) AppendEvent(ctx context.Context, event *models.MarketEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// GetMarketEvents retrieves the audit trail for a market
func (r *Repository) GetMarketEvents(ctx context.Context, marketID uint) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	err := r.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreditBalance atomically adds to a user's ledger balance
func (r *Repository) CreditBalance(ctx context.Context, userID uint, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

func marketRef(marketID uint) string {
	return fmt.Sprintf("market_%d", marketID)
}
