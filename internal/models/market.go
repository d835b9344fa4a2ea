package models

import (
	"time"
)

type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "OPEN"
	MarketStatusLocked    MarketStatus = "LOCKED"
	MarketStatusResolved  MarketStatus = "RESOLVED"
	MarketStatusCancelled MarketStatus = "CANCELLED"
)

type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is one of the two tradable sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Market represents a binary prediction market. Pool amounts are in base
// units; YesPool + NoPool must always equal TotalPool.
type Market struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	CreatorID      uint         `gorm:"not null;index" json:"creator_id"`
	Creator        *User        `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Title          string       `gorm:"size:500;not null" json:"title"`
	Description    string       `gorm:"type:text" json:"description"`
	EndTime        time.Time    `gorm:"not null;index" json:"end_time"`
	ResolutionTime time.Time    `gorm:"not null" json:"resolution_time"`
	CreatorFeeBps  int64        `gorm:"not null;default:0" json:"creator_fee_bps"`
	PlatformFeeBps int64        `gorm:"not null;default:0" json:"platform_fee_bps"`
	YesPool        int64        `gorm:"not null;default:0" json:"yes_pool"`
	NoPool         int64        `gorm:"not null;default:0" json:"no_pool"`
	TotalPool      int64        `gorm:"not null;default:0" json:"total_pool"`
	Status         MarketStatus `gorm:"size:20;default:OPEN;index" json:"status"`
	Outcome        *Side        `gorm:"size:10" json:"outcome,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName specifies the table name for Market model
func (Market) TableName() string {
	return "markets"
}

// FeeBps returns the combined creator + platform fee in basis points.
func (m *Market) FeeBps() int64 {
	return m.CreatorFeeBps + m.PlatformFeeBps
}

// PoolForSide returns the accumulated stake on one side.
func (m *Market) PoolForSide(side Side) int64 {
	if side == SideYes {
		return m.YesPool
	}
	return m.NoPool
}

// WinningPool returns the pool of the resolved side, or 0 if unresolved.
func (m *Market) WinningPool() int64 {
	if m.Outcome == nil {
		return 0
	}
	return m.PoolForSide(*m.Outcome)
}

// CreateMarketRequest represents a request to create a new market
type CreateMarketRequest struct {
	Title          string    `json:"title" binding:"required"`
	Description    string    `json:"description"`
	EndTime        time.Time `json:"end_time" binding:"required"`
	ResolutionTime time.Time `json:"resolution_time" binding:"required"`
	CreatorFeeBps  *int64    `json:"creator_fee_bps"`
	PlatformFeeBps *int64    `json:"platform_fee_bps"`
}

// ResolveMarketRequest represents a request to resolve a market
type ResolveMarketRequest struct {
	Outcome Side `json:"outcome" binding:"required"`
}

// PlaceStakeRequest represents a request to stake on a market side
type PlaceStakeRequest struct {
	MarketID uint  `json:"market_id" binding:"required"`
	Side     Side  `json:"side" binding:"required"`
	Amount   int64 `json:"amount" binding:"required,gt=0"`
}

// MarketOdds carries the implied odds for display purposes
type MarketOdds struct {
	YesOdds        string `json:"yes_odds"`
	NoOdds         string `json:"no_odds"`
	YesProbability string `json:"yes_probability"`
	NoProbability  string `json:"no_probability"`
}
