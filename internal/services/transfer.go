package services

import (
	"context"
	"fmt"

	"predictpix/internal/repository"

	"github.com/google/uuid"
)

// BalanceTransfer pays rewards by crediting the user's ledger balance.
// It is the default value-transfer collaborator when on-chain payouts
// are disabled.
type BalanceTransfer struct {
	repo *repository.Repository
}

func NewBalanceTransfer(repo *repository.Repository) *BalanceTransfer {
	return &BalanceTransfer{repo: repo}
}

// Transfer credits amount to the user's balance and returns a ledger reference.
func (t *BalanceTransfer) Transfer(ctx context.Context, userID uint, walletAddress string, amount int64) (string, error) {
	if err := t.repo.CreditBalance(ctx, userID, amount); err != nil {
		return "", fmt.Errorf("failed to credit balance: %w", err)
	}
	return fmt.Sprintf("ledger_%s", uuid.NewString()), nil
}
