package models

import (
	"time"

	"github.com/google/uuid"
)

// Stake holds a user's cumulative position on one side of a market.
// There is at most one row per (market, user, side); repeated stakes
// accumulate into Amount. Rows are kept after claiming for audit.
type Stake struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	MarketID  uint       `gorm:"not null;uniqueIndex:idx_stakes_market_user_side" json:"market_id"`
	UserID    uint       `gorm:"not null;uniqueIndex:idx_stakes_market_user_side;index" json:"user_id"`
	Side      Side       `gorm:"size:10;not null;uniqueIndex:idx_stakes_market_user_side" json:"side"`
	Amount    int64      `gorm:"not null" json:"amount"`
	Claimed   bool       `gorm:"not null;default:false" json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Stake) TableName() string {
	return "stakes"
}

type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "PENDING"
	RewardStatusProcessed RewardStatus = "PROCESSED"
	RewardStatusFailed    RewardStatus = "FAILED"
)

// Reward is the receipt of a claimed winning stake. A FAILED reward means
// the stake was marked claimed but the value transfer did not complete;
// it needs manual reconciliation, never an automatic retry.
type Reward struct {
	ID                  uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              uint         `gorm:"not null;index" json:"user_id"`
	MarketID            uint         `gorm:"not null;index" json:"market_id"`
	StakeID             uint         `gorm:"not null" json:"stake_id"`
	Amount              int64        `gorm:"not null" json:"amount"`
	OriginalStakeAmount int64        `gorm:"not null" json:"original_stake_amount"`
	RewardMultiplier    float64      `gorm:"not null" json:"reward_multiplier"`
	Status              RewardStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	TransferRef         *string      `gorm:"size:255" json:"transfer_ref,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	ProcessedAt         *time.Time   `json:"processed_at,omitempty"`
}

func (Reward) TableName() string {
	return "rewards"
}

type TransactionType string

const (
	TransactionTypeStake       TransactionType = "STAKE"
	TransactionTypeWinnings    TransactionType = "WINNINGS"
	TransactionTypeCreatorFee  TransactionType = "CREATOR_FEE"
	TransactionTypePlatformFee TransactionType = "PLATFORM_FEE"
	TransactionTypeRebate      TransactionType = "REFERRAL_REBATE"
)

// Transaction is a ledger row. A nil UserID means the platform treasury.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      *uint           `gorm:"index" json:"user_id,omitempty"`
	Type        TransactionType `gorm:"size:50;not null;index" json:"type"`
	Amount      int64           `gorm:"not null" json:"amount"`
	ReferenceID string          `gorm:"size:255" json:"reference_id"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

type MarketEventType string

const (
	EventMarketCreated  MarketEventType = "MARKET_CREATED"
	EventStakePlaced    MarketEventType = "STAKE_PLACED"
	EventMarketResolved MarketEventType = "MARKET_RESOLVED"
	EventRewardClaimed  MarketEventType = "REWARD_CLAIMED"
)

// MarketEvent is an append-only audit record of engine activity.
type MarketEvent struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID  uint            `gorm:"not null;index" json:"market_id"`
	Type      MarketEventType `gorm:"size:50;not null" json:"type"`
	UserID    *uint           `json:"user_id,omitempty"`
	Side      *Side           `gorm:"size:10" json:"side,omitempty"`
	Amount    *int64          `json:"amount,omitempty"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (MarketEvent) TableName() string {
	return "market_events"
}
