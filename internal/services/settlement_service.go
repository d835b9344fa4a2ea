package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"predictpix/internal/config"
	"predictpix/internal/models"
	"predictpix/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueTransfer moves value out of the pool to a recipient. The engine
// calls it only after the claim is durably marked; a failure here leaves
// the claim marked and is surfaced to the caller for manual reconciliation.
type ValueTransfer interface {
	Transfer(ctx context.Context, userID uint, walletAddress string, amount int64) (string, error)
}

// SettlementService owns the market lifecycle: stake recording, pool
// accounting, fee math and the claim state machine. All mutations of one
// market are serialized behind a per-market lock; different markets
// proceed in parallel.
type SettlementService struct {
	repo      *repository.Repository
	transfer  ValueTransfer
	referrals *ReferralService
	cfg       config.SettlementConfig

	mu          sync.Mutex
	marketLocks map[uint]*marketLock
}

// marketLock is a refcounted mutex entry so the lock table can evict
// entries nobody holds or waits on, instead of growing by one per
// market ever touched.
type marketLock struct {
	mu   sync.Mutex
	refs int
}

func NewSettlementService(
	repo *repository.Repository,
	transfer ValueTransfer,
	referrals *ReferralService,
	cfg config.SettlementConfig,
) *SettlementService {
	return &SettlementService{
		repo:        repo,
		transfer:    transfer,
		referrals:   referrals,
		cfg:         cfg,
		marketLocks: make(map[uint]*marketLock),
	}
}

// lockMarket serializes all mutations of one market. Every lockMarket
// must be paired with unlockMarket on the same market ID.
func (s *SettlementService) lockMarket(marketID uint) {
	s.mu.Lock()
	lock, ok := s.marketLocks[marketID]
	if !ok {
		lock = &marketLock{}
		s.marketLocks[marketID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
}

// unlockMarket releases the per-market lock and evicts the table entry
// once no holder or waiter remains.
func (s *SettlementService) unlockMarket(marketID uint) {
	s.mu.Lock()
	lock := s.marketLocks[marketID]
	lock.refs--
	if lock.refs == 0 {
		delete(s.marketLocks, marketID)
	}
	s.mu.Unlock()

	lock.mu.Unlock()
}

// CreateMarket validates timing and fee parameters and allocates a new
// market in Open state with zero pools.
func (s *SettlementService) CreateMarket(
	ctx context.Context,
	req *models.CreateMarketRequest,
	creatorID uint,
) (*models.Market, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	now := time.Now()
	if req.EndTime.Before(now.Add(s.cfg.MinMarketDuration)) {
		return nil, fmt.Errorf("%w: end time must be at least %s in the future",
			ErrInvalidInput, s.cfg.MinMarketDuration)
	}

	if req.ResolutionTime.Before(req.EndTime.Add(s.cfg.MinResolutionDelay)) {
		return nil, fmt.Errorf("%w: resolution time must be at least %s after end time",
			ErrInvalidInput, s.cfg.MinResolutionDelay)
	}

	creatorFeeBps := s.cfg.DefaultCreatorFeeBps
	if req.CreatorFeeBps != nil {
		creatorFeeBps = *req.CreatorFeeBps
	}
	platformFeeBps := s.cfg.DefaultPlatformFeeBps
	if req.PlatformFeeBps != nil {
		platformFeeBps = *req.PlatformFeeBps
	}

	if creatorFeeBps < 0 || platformFeeBps < 0 {
		return nil, fmt.Errorf("%w: fees must be non-negative", ErrInvalidInput)
	}
	if creatorFeeBps+platformFeeBps > s.cfg.MaxFeeBps {
		return nil, fmt.Errorf("%w: combined fees exceed %d bps", ErrInvalidInput, s.cfg.MaxFeeBps)
	}

	market := &models.Market{
		CreatorID:      creatorID,
		Title:          req.Title,
		Description:    req.Description,
		EndTime:        req.EndTime,
		ResolutionTime: req.ResolutionTime,
		CreatorFeeBps:  creatorFeeBps,
		PlatformFeeBps: platformFeeBps,
		Status:         models.MarketStatusOpen,
	}

	if err := s.repo.CreateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to create market: %w", err)
	}

	if err := s.repo.AppendEvent(ctx, &models.MarketEvent{
		MarketID: market.ID,
		Type:     models.EventMarketCreated,
		UserID:   &creatorID,
	}); err != nil {
		log.Printf("[CreateMarket] Warning: failed to append event for market %d: %v", market.ID, err)
	}

	log.Printf("[CreateMarket] Market %d created by user %d (ends %s, resolves %s)",
		market.ID, creatorID, market.EndTime.Format(time.RFC3339), market.ResolutionTime.Format(time.RFC3339))

	return market, nil
}

// PlaceStake accumulates amount onto the user's position on one side of
// the market and bumps the side pool and total pool by the same amount.
// Stakes on opposite sides by the same user are tracked independently.
func (s *SettlementService) PlaceStake(
	ctx context.Context,
	marketID, userID uint,
	side models.Side,
	amount int64,
) error {
	if !side.Valid() {
		return fmt.Errorf("%w: side must be YES or NO", ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amount < s.cfg.MinStakeAmount {
		return fmt.Errorf("%w: minimum stake is %d", ErrInvalidInput, s.cfg.MinStakeAmount)
	}
	if s.cfg.MaxStakeAmount > 0 && amount > s.cfg.MaxStakeAmount {
		return fmt.Errorf("%w: maximum stake is %d", ErrInvalidInput, s.cfg.MaxStakeAmount)
	}

	s.lockMarket(marketID)
	defer s.unlockMarket(marketID)

	market, err := s.repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to get market: %w", err)
	}

	// The wall clock, not the status column, decides whether the betting
	// window is open; the lifecycle job only catches the column up.
	if !time.Now().Before(market.EndTime) {
		return ErrMarketClosed
	}
	if market.Status != models.MarketStatusOpen {
		return ErrMarketClosed
	}

	if err := s.repo.AddStake(ctx, marketID, userID, side, amount); err != nil {
		return fmt.Errorf("failed to record stake: %w", err)
	}

	if err := s.repo.CreateTransaction(ctx, &models.Transaction{
		UserID:      &userID,
		Type:        models.TransactionTypeStake,
		Amount:      amount,
		ReferenceID: fmt.Sprintf("market_%d", marketID),
		Description: fmt.Sprintf("Stake on %s", side),
	}); err != nil {
		log.Printf("[PlaceStake] Warning: failed to record stake transaction: %v", err)
	}

	if err := s.repo.AppendEvent(ctx, &models.MarketEvent{
		MarketID: marketID,
		Type:     models.EventStakePlaced,
		UserID:   &userID,
		Side:     &side,
		Amount:   &amount,
	}); err != nil {
		log.Printf("[PlaceStake] Warning: failed to append event for market %d: %v", marketID, err)
	}

	// Referral rebates ride on the platform fee share of the stake.
	if s.referrals != nil {
		if err := s.referrals.ProcessStakeRebate(userID, marketID, amount, market.PlatformFeeBps); err != nil {
			log.Printf("[PlaceStake] Warning: rebate processing failed for user %d: %v", userID, err)
		}
	}

	log.Printf("[PlaceStake] User %d staked %d on %s of market %d", userID, amount, side, marketID)
	return nil
}

// GetMarket returns a market for display purposes.
func (s *SettlementService) GetMarket(ctx context.Context, marketID uint) (*models.Market, error) {
	return s.repo.GetMarketByID(ctx, marketID)
}

// ListMarkets returns markets filtered by status with the total count.
func (s *SettlementService) ListMarkets(ctx context.Context, status models.MarketStatus, limit, offset int) ([]models.Market, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMarkets(ctx, status, limit, offset)
}

// GetMarketEvents returns the append-only audit trail for a market.
func (s *SettlementService) GetMarketEvents(ctx context.Context, marketID uint) ([]models.MarketEvent, error) {
	return s.repo.GetMarketEvents(ctx, marketID)
}

// GetUserStakes returns a user's stakes, optionally scoped to one market.
func (s *SettlementService) GetUserStakes(ctx context.Context, userID uint, marketID *uint, limit, offset int) ([]models.Stake, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetUserStakes(ctx, userID, marketID, limit, offset)
}

// ListRewards returns a user's reward receipts with optional filters.
func (s *SettlementService) ListRewards(ctx context.Context, userID uint, status models.RewardStatus, marketID *uint, limit, offset int) ([]models.Reward, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRewards(ctx, userID, status, marketID, limit, offset)
}

// GetReward returns a single reward receipt owned by the user.
func (s *SettlementService) GetReward(ctx context.Context, rewardID uuid.UUID, userID uint) (*models.Reward, error) {
	return s.repo.GetReward(ctx, rewardID, userID)
}

// GetUserStake returns the user's cumulative stake on one side, zero if none.
func (s *SettlementService) GetUserStake(ctx context.Context, marketID, userID uint, side models.Side) (int64, error) {
	stake, err := s.repo.GetStake(ctx, marketID, userID, side)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return stake.Amount, nil
}

// CalculateOdds derives decimal odds and implied probabilities from the
// current pools. An empty market reports even odds.
func (s *SettlementService) CalculateOdds(market *models.Market) models.MarketOdds {
	if market.TotalPool == 0 {
		return models.MarketOdds{
			YesOdds:        "2",
			NoOdds:         "2",
			YesProbability: "50",
			NoProbability:  "50",
		}
	}

	total := decimal.NewFromInt(market.TotalPool)
	yesProb := decimal.NewFromInt(market.YesPool).Div(total)
	noProb := decimal.NewFromInt(market.NoPool).Div(total)

	odds := models.MarketOdds{
		YesProbability: yesProb.Mul(decimal.NewFromInt(100)).Round(2).String(),
		NoProbability:  noProb.Mul(decimal.NewFromInt(100)).Round(2).String(),
	}

	if yesProb.IsPositive() {
		odds.YesOdds = decimal.NewFromInt(1).Div(yesProb).Round(2).String()
	} else {
		odds.YesOdds = "0"
	}
	if noProb.IsPositive() {
		odds.NoOdds = decimal.NewFromInt(1).Div(noProb).Round(2).String()
	} else {
		odds.NoOdds = "0"
	}

	return odds
}
