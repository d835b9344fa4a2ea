package services

import (
	"context"
	"fmt"
	"log"

	"predictpix/internal/models"

	"github.com/google/uuid"
)

// ClaimReward converts the caller's winning stake into a paid-out reward,
// exactly once. The claimed flag is flipped and the reward receipt is
// written before the external value transfer is invoked, so a reentrant
// or repeated claim observes "already claimed" instead of double-paying.
// A transfer failure after marking is fatal to this call and left for
// manual reconciliation; the flag is never reversed automatically.
func (s *SettlementService) ClaimReward(ctx context.Context, marketID, userID uint) (int64, error) {
	reward, err := s.recordClaim(ctx, marketID, userID)
	if err != nil {
		return 0, err
	}

	// Truncation can floor a tiny stake's reward to zero; the claim is
	// still consumed, there is just nothing to move.
	if reward.Amount == 0 {
		if err := s.repo.UpdateRewardStatus(ctx, reward.ID, models.RewardStatusProcessed, nil); err != nil {
			log.Printf("[ClaimReward] Warning: failed to update reward %s: %v", reward.ID, err)
		}
		return 0, nil
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get user: %w", err)
	}

	transferRef, err := s.transfer.Transfer(ctx, userID, user.WalletAddress, reward.Amount)
	if err != nil {
		// The stake is already marked claimed. Reversing it here could
		// double-credit a concurrent retry, so the inconsistency is
		// surfaced loudly and left to operations.
		log.Printf("[ClaimReward] ALERT: reward %s for user %d on market %d is marked claimed but transfer failed: %v",
			reward.ID, userID, marketID, err)
		if updateErr := s.repo.UpdateRewardStatus(ctx, reward.ID, models.RewardStatusFailed, nil); updateErr != nil {
			log.Printf("[ClaimReward] Warning: failed to flag reward %s as failed: %v", reward.ID, updateErr)
		}
		return 0, fmt.Errorf("value transfer failed after claim was recorded: %w", err)
	}

	if err := s.repo.UpdateRewardStatus(ctx, reward.ID, models.RewardStatusProcessed, &transferRef); err != nil {
		log.Printf("[ClaimReward] Warning: failed to update reward %s: %v", reward.ID, err)
	}

	log.Printf("[ClaimReward] User %d claimed %d from market %d (stake=%d, ref=%s)",
		userID, reward.Amount, marketID, reward.OriginalStakeAmount, transferRef)

	return reward.Amount, nil
}

// recordClaim marks the stake claimed and writes the pending reward
// receipt under the market lock. The value transfer runs after the lock
// is released: the compare-and-set already guarantees exactly-once, and
// a slow transfer must not stall other stakes or claims on the market.
func (s *SettlementService) recordClaim(ctx context.Context, marketID, userID uint) (*models.Reward, error) {
	s.lockMarket(marketID)
	defer s.unlockMarket(marketID)

	market, err := s.repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}

	if market.Status != models.MarketStatusResolved || market.Outcome == nil {
		return nil, ErrNotResolved
	}

	winningPool := market.WinningPool()
	if winningPool == 0 {
		return nil, ErrNothingToClaim
	}

	stake, err := s.repo.GetStake(ctx, marketID, userID, *market.Outcome)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNothingToClaim
		}
		return nil, fmt.Errorf("failed to get stake: %w", err)
	}
	if stake.Amount == 0 || stake.Claimed {
		return nil, ErrNothingToClaim
	}

	amount := rewardAmount(stake.Amount, market.TotalPool, winningPool, market.FeeBps())

	multiplier := 0.0
	if stake.Amount > 0 {
		multiplier = float64(amount) / float64(stake.Amount)
	}

	reward := &models.Reward{
		ID:                  uuid.New(),
		UserID:              userID,
		MarketID:            marketID,
		StakeID:             stake.ID,
		Amount:              amount,
		OriginalStakeAmount: stake.Amount,
		RewardMultiplier:    multiplier,
		Status:              models.RewardStatusPending,
	}

	claimed, err := s.repo.ClaimStake(ctx, stake, reward)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stake claimed: %w", err)
	}
	if !claimed {
		// Lost the compare-and-set: someone else claimed first.
		return nil, ErrNothingToClaim
	}

	if err := s.repo.AppendEvent(ctx, &models.MarketEvent{
		MarketID: marketID,
		Type:     models.EventRewardClaimed,
		UserID:   &userID,
		Side:     market.Outcome,
		Amount:   &amount,
	}); err != nil {
		log.Printf("[ClaimReward] Warning: failed to append event for market %d: %v", marketID, err)
	}

	return reward, nil
}
