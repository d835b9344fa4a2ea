package models

import (
	"time"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User represents a user in the system. Balance is held in base units
// (micro-PI) so all pool arithmetic stays integral.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Username      string    `gorm:"size:100" json:"username"`
	Role          UserRole  `gorm:"size:20;default:user;index" json:"role"`
	Balance       int64     `gorm:"not null;default:0" json:"balance"`
	ReferrerID    *uint     `gorm:"index" json:"referrer_id,omitempty"`
	Referrer      *User     `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// IsResolver reports whether the user may set market outcomes.
func (u *User) IsResolver() bool {
	return u.Role == UserRoleAdmin
}
