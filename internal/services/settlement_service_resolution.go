package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"predictpix/internal/models"

	"github.com/shopspring/decimal"
)

// ResolveMarket sets the market's final outcome, exactly once, and books
// the creator and platform fee ledger rows. Resolution requires the
// resolver (admin) role and the resolution time to have passed. If the
// winning side's pool is empty, no fees are collected and no one can
// claim: the whole pool stays put.
func (s *SettlementService) ResolveMarket(
	ctx context.Context,
	marketID uint,
	outcome models.Side,
	callerID uint,
) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: outcome must be YES or NO", ErrInvalidInput)
	}

	caller, err := s.repo.GetUserByID(ctx, callerID)
	if err != nil {
		return fmt.Errorf("failed to get caller: %w", err)
	}
	if !caller.IsResolver() {
		return ErrUnauthorized
	}

	s.lockMarket(marketID)
	defer s.unlockMarket(marketID)

	market, err := s.repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to get market: %w", err)
	}

	if market.Status == models.MarketStatusResolved {
		return ErrAlreadyResolved
	}
	if market.Status == models.MarketStatusCancelled {
		return fmt.Errorf("%w: market is cancelled", ErrInvalidInput)
	}
	if time.Now().Before(market.ResolutionTime) {
		return ErrTooEarly
	}

	var creatorFee, platformFee int64
	if market.PoolForSide(outcome) > 0 {
		creatorFee = feeAmount(market.TotalPool, market.CreatorFeeBps)
		platformFee = feeAmount(market.TotalPool, market.PlatformFeeBps)
	}

	if err := s.repo.ResolveMarket(ctx, market, outcome, creatorFee, platformFee); err != nil {
		return fmt.Errorf("failed to resolve market: %w", err)
	}

	totalPool := market.TotalPool
	if err := s.repo.AppendEvent(ctx, &models.MarketEvent{
		MarketID: marketID,
		Type:     models.EventMarketResolved,
		UserID:   &callerID,
		Side:     &outcome,
		Amount:   &totalPool,
	}); err != nil {
		log.Printf("[ResolveMarket] Warning: failed to append event for market %d: %v", marketID, err)
	}

	log.Printf("[ResolveMarket] Market %d resolved %s by user %d (pool=%d, creatorFee=%d, platformFee=%d)",
		marketID, outcome, callerID, market.TotalPool, creatorFee, platformFee)

	return nil
}

// CalculateReward computes the user's payout for a resolved market. It is
// a pure read: 0 if the market is unresolved, the user holds no stake on
// the winning side, or the winning pool is empty.
func (s *SettlementService) CalculateReward(ctx context.Context, marketID, userID uint) (int64, error) {
	market, err := s.repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("failed to get market: %w", err)
	}

	if market.Status != models.MarketStatusResolved || market.Outcome == nil {
		return 0, nil
	}

	winningPool := market.WinningPool()
	if winningPool == 0 {
		return 0, nil
	}

	stake, err := s.repo.GetStake(ctx, marketID, userID, *market.Outcome)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get stake: %w", err)
	}
	if stake.Amount == 0 {
		return 0, nil
	}

	return rewardAmount(stake.Amount, market.TotalPool, winningPool, market.FeeBps()), nil
}

// feeAmount returns totalPool * feeBps / 10000, truncated toward zero.
func feeAmount(totalPool, feeBps int64) int64 {
	fee, _ := decimal.NewFromInt(totalPool).
		Mul(decimal.NewFromInt(feeBps)).
		QuoRem(decimal.NewFromInt(10000), 0)
	return fee.IntPart()
}

// rewardAmount implements the settlement formula:
//
//	fees          = totalPool * feeBps / 10000
//	poolAfterFees = totalPool - fees
//	reward        = stake * poolAfterFees / winningPool
//
// Division truncates toward zero; the residual dust is never claimable.
func rewardAmount(stake, totalPool, winningPool, feeBps int64) int64 {
	if winningPool <= 0 || stake <= 0 {
		return 0
	}

	fees := feeAmount(totalPool, feeBps)
	poolAfterFees := decimal.NewFromInt(totalPool - fees)

	reward, _ := decimal.NewFromInt(stake).
		Mul(poolAfterFees).
		QuoRem(decimal.NewFromInt(winningPool), 0)

	return reward.IntPart()
}
