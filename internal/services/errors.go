package services

import (
	"errors"

	"gorm.io/gorm"
)

// Settlement error taxonomy. All are caller-correctable or state-machine
// violations; none are retryable without changing input or state.
var (
	// ErrInvalidInput represents a bad parameter supplied by the caller
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized represents a caller without the required role
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMarketClosed represents a stake placed after the betting window
	ErrMarketClosed = errors.New("market closed")

	// ErrTooEarly represents a resolution attempt before resolution time
	ErrTooEarly = errors.New("too early to resolve")

	// ErrAlreadyResolved represents a second resolution of the same market
	ErrAlreadyResolved = errors.New("market already resolved")

	// ErrNotResolved represents a claim against an unresolved market
	ErrNotResolved = errors.New("market not resolved")

	// ErrNothingToClaim represents a claim with no eligible balance
	ErrNothingToClaim = errors.New("nothing to claim")
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
