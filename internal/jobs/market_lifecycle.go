package jobs

import (
	"context"
	"log"
	"time"

	"predictpix/internal/repository"
)

// MarketLocker locks markets whose betting window has passed. The stake
// path checks the wall clock itself, so this job only keeps the status
// column in sync for listings and dashboards.
type MarketLocker struct {
	repo     *repository.Repository
	interval time.Duration
	stopChan chan struct{}
}

// NewMarketLocker creates a new market locking job
func NewMarketLocker(repo *repository.Repository, interval time.Duration) *MarketLocker {
	return &MarketLocker{
		repo:     repo,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the locking loop
func (ml *MarketLocker) Start() {
	log.Printf("[MarketLocker] Starting market locking job (interval: %v)", ml.interval)

	ticker := time.NewTicker(ml.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.lockExpiredMarkets()
		case <-ml.stopChan:
			log.Println("[MarketLocker] Stopping market locking job")
			return
		}
	}
}

// Stop stops the locking loop
func (ml *MarketLocker) Stop() {
	close(ml.stopChan)
}

func (ml *MarketLocker) lockExpiredMarkets() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	locked, err := ml.repo.LockExpiredMarkets(ctx, time.Now())
	if err != nil {
		log.Printf("[MarketLocker] Error locking expired markets: %v", err)
		return
	}

	if locked > 0 {
		log.Printf("[MarketLocker] Locked %d expired markets", locked)
	}
}
