package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"predictpix/internal/config"
	"predictpix/internal/database"
	"predictpix/internal/models"
	"predictpix/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// A per-test shared-cache name keeps the in-memory DB alive across
	// pooled connections without leaking state between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	// SQLite allows a single writer; one pooled connection keeps
	// concurrent claims from tripping over busy errors.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

type transferCall struct {
	userID uint
	wallet string
	amount int64
}

// fakeTransfer records transfer calls and can be told to fail.
type fakeTransfer struct {
	mu       sync.Mutex
	calls    []transferCall
	failWith error
}

func (f *fakeTransfer) Transfer(ctx context.Context, userID uint, walletAddress string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.calls = append(f.calls, transferCall{userID: userID, wallet: walletAddress, amount: amount})
	return fmt.Sprintf("fake_%d", len(f.calls)), nil
}

func (f *fakeTransfer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSettlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		MinMarketDuration:     time.Minute,
		MinResolutionDelay:    time.Minute,
		MaxFeeBps:             1000,
		DefaultCreatorFeeBps:  100,
		DefaultPlatformFeeBps: 200,
		MinStakeAmount:        1,
		MaxStakeAmount:        0,
	}
}

func newTestService(t *testing.T) (*SettlementService, *repository.Repository, *gorm.DB, *fakeTransfer) {
	db := setupTestDB(t)
	repo := repository.NewRepository(db)
	transfer := &fakeTransfer{}
	svc := NewSettlementService(repo, transfer, nil, testSettlementConfig())
	return svc, repo, db, transfer
}

func createUser(t *testing.T, db *gorm.DB, wallet string, role models.UserRole) *models.User {
	user := &models.User{WalletAddress: wallet, Role: role}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

// createResolvableMarket writes a market whose betting window and
// resolution delay have already passed, bypassing creation validation.
func createResolvableMarket(t *testing.T, repo *repository.Repository, creatorID uint, creatorFeeBps, platformFeeBps int64) *models.Market {
	market := &models.Market{
		CreatorID:      creatorID,
		Title:          "Will it rain tomorrow?",
		EndTime:        time.Now().Add(-2 * time.Hour),
		ResolutionTime: time.Now().Add(-time.Hour),
		CreatorFeeBps:  creatorFeeBps,
		PlatformFeeBps: platformFeeBps,
		Status:         models.MarketStatusOpen,
	}
	if err := repo.CreateMarket(context.Background(), market); err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	return market
}

func addStake(t *testing.T, repo *repository.Repository, marketID, userID uint, side models.Side, amount int64) {
	if err := repo.AddStake(context.Background(), marketID, userID, side, amount); err != nil {
		t.Fatalf("failed to add stake: %v", err)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	svc, _, db, _ := newTestService(t)
	ctx := context.Background()
	creator := createUser(t, db, "creator-validation", models.UserRoleUser)

	validEnd := time.Now().Add(2 * time.Hour)
	validResolution := validEnd.Add(2 * time.Hour)

	cases := []struct {
		name string
		req  models.CreateMarketRequest
	}{
		{
			name: "empty title",
			req:  models.CreateMarketRequest{EndTime: validEnd, ResolutionTime: validResolution},
		},
		{
			name: "end time in the past",
			req: models.CreateMarketRequest{
				Title:          "t",
				EndTime:        time.Now().Add(-time.Hour),
				ResolutionTime: validResolution,
			},
		},
		{
			name: "resolution before end plus delay",
			req: models.CreateMarketRequest{
				Title:          "t",
				EndTime:        validEnd,
				ResolutionTime: validEnd.Add(time.Second),
			},
		},
		{
			name: "combined fees over cap",
			req: func() models.CreateMarketRequest {
				creatorFee := int64(900)
				platformFee := int64(200)
				return models.CreateMarketRequest{
					Title:          "t",
					EndTime:        validEnd,
					ResolutionTime: validResolution,
					CreatorFeeBps:  &creatorFee,
					PlatformFeeBps: &platformFee,
				}
			}(),
		},
		{
			name: "negative fee",
			req: func() models.CreateMarketRequest {
				creatorFee := int64(-1)
				return models.CreateMarketRequest{
					Title:          "t",
					EndTime:        validEnd,
					ResolutionTime: validResolution,
					CreatorFeeBps:  &creatorFee,
				}
			}(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateMarket(ctx, &tc.req, creator.ID); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateMarketAppliesFeeDefaults(t *testing.T) {
	svc, _, db, _ := newTestService(t)
	ctx := context.Background()
	creator := createUser(t, db, "creator-defaults", models.UserRoleUser)

	market, err := svc.CreateMarket(ctx, &models.CreateMarketRequest{
		Title:          "Will the launch happen this quarter?",
		EndTime:        time.Now().Add(2 * time.Hour),
		ResolutionTime: time.Now().Add(4 * time.Hour),
	}, creator.ID)
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}

	if market.CreatorFeeBps != 100 || market.PlatformFeeBps != 200 {
		t.Errorf("expected default fees 100/200, got %d/%d", market.CreatorFeeBps, market.PlatformFeeBps)
	}
	if market.Status != models.MarketStatusOpen {
		t.Errorf("expected OPEN, got %s", market.Status)
	}
	if market.TotalPool != 0 || market.YesPool != 0 || market.NoPool != 0 {
		t.Errorf("expected zero pools, got yes=%d no=%d total=%d", market.YesPool, market.NoPool, market.TotalPool)
	}
}

func TestPlaceStakePoolPartition(t *testing.T) {
	svc, _, db, _ := newTestService(t)
	ctx := context.Background()

	creator := createUser(t, db, "creator-pools", models.UserRoleUser)
	alice := createUser(t, db, "alice-pools", models.UserRoleUser)
	bob := createUser(t, db, "bob-pools", models.UserRoleUser)

	market, err := svc.CreateMarket(ctx, &models.CreateMarketRequest{
		Title:          "pools",
		EndTime:        time.Now().Add(2 * time.Hour),
		ResolutionTime: time.Now().Add(4 * time.Hour),
	}, creator.ID)
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}

	// Alice stakes both sides; Bob stakes YES twice so amounts accumulate.
	stakes := []struct {
		userID uint
		side   models.Side
		amount int64
	}{
		{alice.ID, models.SideYes, 400},
		{alice.ID, models.SideNo, 300},
		{bob.ID, models.SideYes, 100},
		{bob.ID, models.SideYes, 200},
	}
	for _, s := range stakes {
		if err := svc.PlaceStake(ctx, market.ID, s.userID, s.side, s.amount); err != nil {
			t.Fatalf("PlaceStake(%d, %s, %d) failed: %v", s.userID, s.side, s.amount, err)
		}
	}

	got, err := svc.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if got.YesPool != 700 || got.NoPool != 300 {
		t.Errorf("expected pools 700/300, got %d/%d", got.YesPool, got.NoPool)
	}
	if got.TotalPool != got.YesPool+got.NoPool {
		t.Errorf("pool partition broken: total=%d yes=%d no=%d", got.TotalPool, got.YesPool, got.NoPool)
	}

	bobYes, err := svc.GetUserStake(ctx, market.ID, bob.ID, models.SideYes)
	if err != nil {
		t.Fatalf("GetUserStake failed: %v", err)
	}
	if bobYes != 300 {
		t.Errorf("expected accumulated stake 300, got %d", bobYes)
	}

	aliceNo, err := svc.GetUserStake(ctx, market.ID, alice.ID, models.SideNo)
	if err != nil {
		t.Fatalf("GetUserStake failed: %v", err)
	}
	if aliceNo != 300 {
		t.Errorf("expected NO stake 300, got %d", aliceNo)
	}
}

func TestPlaceStakeValidation(t *testing.T) {
	svc, _, db, _ := newTestService(t)
	ctx := context.Background()

	creator := createUser(t, db, "creator-stake-validation", models.UserRoleUser)
	market, err := svc.CreateMarket(ctx, &models.CreateMarketRequest{
		Title:          "validation",
		EndTime:        time.Now().Add(2 * time.Hour),
		ResolutionTime: time.Now().Add(4 * time.Hour),
	}, creator.ID)
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}

	if err := svc.PlaceStake(ctx, market.ID, creator.ID, "MAYBE", 100); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid side: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.PlaceStake(ctx, market.ID, creator.ID, models.SideYes, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero amount: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.PlaceStake(ctx, market.ID, creator.ID, models.SideYes, -5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative amount: expected ErrInvalidInput, got %v", err)
	}
}

func TestPlaceStakeClosedMarket(t *testing.T) {
	svc, repo, db, _ := newTestService(t)
	ctx := context.Background()

	creator := createUser(t, db, "creator-closed", models.UserRoleUser)
	user := createUser(t, db, "user-closed", models.UserRoleUser)

	// Betting window passed but lifecycle job has not run yet: the wall
	// clock alone must reject the stake.
	expired := createResolvableMarket(t, repo, creator.ID, 100, 200)
	if err := svc.PlaceStake(ctx, expired.ID, user.ID, models.SideYes, 100); !errors.Is(err, ErrMarketClosed) {
		t.Errorf("expired market: expected ErrMarketClosed, got %v", err)
	}

	// Locked status with a future end time is rejected too.
	locked := &models.Market{
		CreatorID:      creator.ID,
		Title:          "locked",
		EndTime:        time.Now().Add(time.Hour),
		ResolutionTime: time.Now().Add(2 * time.Hour),
		Status:         models.MarketStatusLocked,
	}
	if err := repo.CreateMarket(ctx, locked); err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	if err := svc.PlaceStake(ctx, locked.ID, user.ID, models.SideYes, 100); !errors.Is(err, ErrMarketClosed) {
		t.Errorf("locked market: expected ErrMarketClosed, got %v", err)
	}
}

func TestResolveMarketAuthorizationAndTiming(t *testing.T) {
	svc, repo, db, _ := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-resolve", models.UserRoleAdmin)
	user := createUser(t, db, "user-resolve", models.UserRoleUser)

	market := createResolvableMarket(t, repo, user.ID, 100, 200)
	addStake(t, repo, market.ID, user.ID, models.SideYes, 100)

	if err := svc.ResolveMarket(ctx, market.ID, "MAYBE", admin.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid outcome: expected ErrInvalidInput, got %v", err)
	}

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, user.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-admin caller: expected ErrUnauthorized, got %v", err)
	}

	early := &models.Market{
		CreatorID:      user.ID,
		Title:          "early",
		EndTime:        time.Now().Add(-time.Hour),
		ResolutionTime: time.Now().Add(time.Hour),
		Status:         models.MarketStatusLocked,
	}
	if err := repo.CreateMarket(ctx, early); err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	if err := svc.ResolveMarket(ctx, early.ID, models.SideYes, admin.ID); !errors.Is(err, ErrTooEarly) {
		t.Errorf("before resolution time: expected ErrTooEarly, got %v", err)
	}

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}
	if err := svc.ResolveMarket(ctx, market.ID, models.SideNo, admin.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second resolve: expected ErrAlreadyResolved, got %v", err)
	}

	resolved, err := svc.GetMarket(ctx, market.ID)
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if resolved.Status != models.MarketStatusResolved || resolved.Outcome == nil || *resolved.Outcome != models.SideYes {
		t.Errorf("expected RESOLVED/YES, got %s/%v", resolved.Status, resolved.Outcome)
	}
}

func TestResolveMarketBooksFees(t *testing.T) {
	svc, repo, db, _ := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-fees", models.UserRoleAdmin)
	creator := createUser(t, db, "creator-fees", models.UserRoleUser)
	winner := createUser(t, db, "winner-fees", models.UserRoleUser)
	loser := createUser(t, db, "loser-fees", models.UserRoleUser)

	// 100 + 200 bps on a 10000 pool: 100 creator, 200 platform.
	market := createResolvableMarket(t, repo, creator.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 6000)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 4000)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	var creatorAfter models.User
	if err := db.First(&creatorAfter, creator.ID).Error; err != nil {
		t.Fatalf("failed to load creator: %v", err)
	}
	if creatorAfter.Balance != 100 {
		t.Errorf("expected creator fee credit 100, got %d", creatorAfter.Balance)
	}

	var platformRows int64
	if err := db.Model(&models.Transaction{}).
		Where("type = ? AND user_id IS NULL AND amount = ?", models.TransactionTypePlatformFee, 200).
		Count(&platformRows).Error; err != nil {
		t.Fatalf("failed to count transactions: %v", err)
	}
	if platformRows != 1 {
		t.Errorf("expected 1 platform fee row of 200, got %d", platformRows)
	}
}

func TestRewardFormula(t *testing.T) {
	// fees = 1000*300/10000 = 30, poolAfterFees = 970,
	// reward = 140*970/700 = 194 exactly.
	if got := rewardAmount(140, 1000, 700, 300); got != 194 {
		t.Errorf("expected 194, got %d", got)
	}

	// Truncation: 1*970/700 = 1.38... -> 1
	if got := rewardAmount(1, 1000, 700, 300); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}

	// A stake too small for even one unit floors to zero.
	if got := rewardAmount(1, 1000, 2000, 300); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if got := rewardAmount(100, 1000, 0, 300); got != 0 {
		t.Errorf("zero winning pool: expected 0, got %d", got)
	}
	if got := rewardAmount(0, 1000, 700, 300); got != 0 {
		t.Errorf("zero stake: expected 0, got %d", got)
	}

	// No fees: the whole pool is distributable.
	if got := rewardAmount(700, 1000, 700, 0); got != 1000 {
		t.Errorf("sole winner, no fees: expected 1000, got %d", got)
	}
}

func TestCalculateRewardFullFlow(t *testing.T) {
	svc, repo, db, _ := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-calc", models.UserRoleAdmin)
	winner := createUser(t, db, "winner-calc", models.UserRoleUser)
	other := createUser(t, db, "other-calc", models.UserRoleUser)
	loser := createUser(t, db, "loser-calc", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 140)
	addStake(t, repo, market.ID, other.ID, models.SideYes, 560)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 300)

	// Unresolved market pays nothing.
	amount, err := svc.CalculateReward(ctx, market.ID, winner.ID)
	if err != nil {
		t.Fatalf("CalculateReward failed: %v", err)
	}
	if amount != 0 {
		t.Errorf("unresolved market: expected 0, got %d", amount)
	}

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	amount, err = svc.CalculateReward(ctx, market.ID, winner.ID)
	if err != nil {
		t.Fatalf("CalculateReward failed: %v", err)
	}
	if amount != 194 {
		t.Errorf("expected 194, got %d", amount)
	}

	// A losing stake pays nothing.
	amount, err = svc.CalculateReward(ctx, market.ID, loser.ID)
	if err != nil {
		t.Fatalf("CalculateReward failed: %v", err)
	}
	if amount != 0 {
		t.Errorf("losing side: expected 0, got %d", amount)
	}
}

func TestClaimRewardExactlyOnce(t *testing.T) {
	svc, repo, db, transfer := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-claim", models.UserRoleAdmin)
	winner := createUser(t, db, "winner-claim", models.UserRoleUser)
	loser := createUser(t, db, "loser-claim", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 700)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 300)

	// Claiming before resolution fails.
	if _, err := svc.ClaimReward(ctx, market.ID, winner.ID); !errors.Is(err, ErrNotResolved) {
		t.Errorf("unresolved: expected ErrNotResolved, got %v", err)
	}

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	amount, err := svc.ClaimReward(ctx, market.ID, winner.ID)
	if err != nil {
		t.Fatalf("ClaimReward failed: %v", err)
	}
	if amount != 970 {
		t.Errorf("expected payout 970, got %d", amount)
	}
	if transfer.callCount() != 1 {
		t.Errorf("expected 1 transfer, got %d", transfer.callCount())
	}

	// Second claim is a no-op: no extra transfer, nothing to claim.
	if _, err := svc.ClaimReward(ctx, market.ID, winner.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("second claim: expected ErrNothingToClaim, got %v", err)
	}
	if transfer.callCount() != 1 {
		t.Errorf("second claim triggered a transfer: got %d calls", transfer.callCount())
	}

	// The loser has nothing to claim.
	if _, err := svc.ClaimReward(ctx, market.ID, loser.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("losing side: expected ErrNothingToClaim, got %v", err)
	}

	var reward models.Reward
	if err := db.Where("user_id = ? AND market_id = ?", winner.ID, market.ID).First(&reward).Error; err != nil {
		t.Fatalf("failed to load reward: %v", err)
	}
	if reward.Status != models.RewardStatusProcessed {
		t.Errorf("expected PROCESSED, got %s", reward.Status)
	}
	if reward.Amount != 970 || reward.OriginalStakeAmount != 700 {
		t.Errorf("reward receipt wrong: amount=%d stake=%d", reward.Amount, reward.OriginalStakeAmount)
	}
	if reward.TransferRef == nil {
		t.Error("expected transfer ref on processed reward")
	}
}

func TestClaimRewardConcurrent(t *testing.T) {
	svc, repo, db, transfer := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-concurrent", models.UserRoleAdmin)
	winner := createUser(t, db, "winner-concurrent", models.UserRoleUser)
	loser := createUser(t, db, "loser-concurrent", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 700)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 300)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	// Fire simultaneous claims for the same stake: exactly one may win
	// the compare-and-set and pay out, everyone else sees nothing to
	// claim.
	const claimers = 16
	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
		payouts   []int64
		failures  []error
	)
	start := make(chan struct{})

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			amount, err := svc.ClaimReward(ctx, market.ID, winner.ID)
			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			payouts = append(payouts, amount)
		}()
	}
	close(start)
	wg.Wait()

	if len(payouts) != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d (%v)", len(payouts), payouts)
	}
	if payouts[0] != 970 {
		t.Errorf("expected payout 970, got %d", payouts[0])
	}
	if len(failures) != claimers-1 {
		t.Errorf("expected %d rejected claims, got %d", claimers-1, len(failures))
	}
	for _, err := range failures {
		if !errors.Is(err, ErrNothingToClaim) {
			t.Errorf("rejected claim: expected ErrNothingToClaim, got %v", err)
		}
	}
	if transfer.callCount() != 1 {
		t.Errorf("expected exactly 1 transfer, got %d", transfer.callCount())
	}

	var rewards int64
	if err := db.Model(&models.Reward{}).
		Where("user_id = ? AND market_id = ?", winner.ID, market.ID).
		Count(&rewards).Error; err != nil {
		t.Fatalf("failed to count rewards: %v", err)
	}
	if rewards != 1 {
		t.Errorf("expected 1 reward receipt, got %d", rewards)
	}
}

// gatedTransfer blocks the slow user's transfer until released so tests
// can observe what else the engine allows while a payout is in flight.
type gatedTransfer struct {
	slowUser uint
	started  chan struct{}
	release  chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedTransfer) Transfer(ctx context.Context, userID uint, walletAddress string, amount int64) (string, error) {
	if userID == g.slowUser {
		close(g.started)
		<-g.release
	}
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	return fmt.Sprintf("gated_%d", n), nil
}

func TestClaimTransferDoesNotBlockMarket(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()

	admin := createUser(t, db, "admin-gated", models.UserRoleAdmin)
	slow := createUser(t, db, "slow-gated", models.UserRoleUser)
	fast := createUser(t, db, "fast-gated", models.UserRoleUser)

	transfer := &gatedTransfer{
		slowUser: slow.ID,
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := NewSettlementService(repo, transfer, nil, testSettlementConfig())

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, slow.ID, models.SideYes, 400)
	addStake(t, repo, market.ID, fast.ID, models.SideYes, 300)
	addStake(t, repo, market.ID, admin.ID, models.SideNo, 300)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	slowDone := make(chan int64, 1)
	go func() {
		amount, err := svc.ClaimReward(ctx, market.ID, slow.ID)
		if err != nil {
			t.Errorf("slow claim failed: %v", err)
		}
		slowDone <- amount
	}()

	// Wait until the slow claim's transfer is in flight. The market lock
	// must already be released: another user's claim on the same market
	// completes without waiting for the payout.
	<-transfer.started

	fastAmount, err := svc.ClaimReward(ctx, market.ID, fast.ID)
	if err != nil {
		t.Fatalf("claim during in-flight transfer failed: %v", err)
	}
	if fastAmount != 415 {
		t.Errorf("expected payout 415, got %d", fastAmount)
	}

	close(transfer.release)
	if slowAmount := <-slowDone; slowAmount != 554 {
		t.Errorf("expected payout 554, got %d", slowAmount)
	}
}

func TestMarketLockTableEviction(t *testing.T) {
	svc, repo, db, _ := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-evict", models.UserRoleAdmin)
	winner := createUser(t, db, "winner-evict", models.UserRoleUser)
	loser := createUser(t, db, "loser-evict", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 700)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 300)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}
	if _, err := svc.ClaimReward(ctx, market.ID, winner.ID); err != nil {
		t.Fatalf("ClaimReward failed: %v", err)
	}

	svc.mu.Lock()
	entries := len(svc.marketLocks)
	svc.mu.Unlock()
	if entries != 0 {
		t.Errorf("expected empty lock table after operations finished, got %d entries", entries)
	}
}

func TestClaimRewardTransferFailure(t *testing.T) {
	svc, repo, db, transfer := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-fail", models.UserRoleAdmin)
	winner := createUser(t, db, "winner-fail", models.UserRoleUser)
	loser := createUser(t, db, "loser-fail", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, winner.ID, models.SideYes, 700)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 300)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	transfer.failWith = errors.New("rpc unavailable")

	if _, err := svc.ClaimReward(ctx, market.ID, winner.ID); err == nil {
		t.Fatal("expected claim to surface the transfer failure")
	}

	// The claim stands: the stake stays claimed, the reward is FAILED,
	// and a retry does not pay out a second time.
	var stake models.Stake
	if err := db.Where("market_id = ? AND user_id = ? AND side = ?", market.ID, winner.ID, models.SideYes).
		First(&stake).Error; err != nil {
		t.Fatalf("failed to load stake: %v", err)
	}
	if !stake.Claimed {
		t.Error("stake should remain claimed after transfer failure")
	}

	var reward models.Reward
	if err := db.Where("user_id = ? AND market_id = ?", winner.ID, market.ID).First(&reward).Error; err != nil {
		t.Fatalf("failed to load reward: %v", err)
	}
	if reward.Status != models.RewardStatusFailed {
		t.Errorf("expected FAILED, got %s", reward.Status)
	}

	transfer.failWith = nil
	if _, err := svc.ClaimReward(ctx, market.ID, winner.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("retry after failure: expected ErrNothingToClaim, got %v", err)
	}
	if transfer.callCount() != 0 {
		t.Errorf("no successful transfer expected, got %d", transfer.callCount())
	}
}

func TestZeroWinningPool(t *testing.T) {
	svc, repo, db, transfer := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-zero", models.UserRoleAdmin)
	loser := createUser(t, db, "loser-zero", models.UserRoleUser)

	market := createResolvableMarket(t, repo, admin.ID, 100, 200)
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 1000)

	// Everyone bet NO, outcome is YES: no fees, no claims.
	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	var feeRows int64
	if err := db.Model(&models.Transaction{}).
		Where("type IN ?", []models.TransactionType{models.TransactionTypeCreatorFee, models.TransactionTypePlatformFee}).
		Count(&feeRows).Error; err != nil {
		t.Fatalf("failed to count transactions: %v", err)
	}
	if feeRows != 0 {
		t.Errorf("expected no fee rows when winning pool is empty, got %d", feeRows)
	}

	if _, err := svc.ClaimReward(ctx, market.ID, loser.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("expected ErrNothingToClaim, got %v", err)
	}
	if transfer.callCount() != 0 {
		t.Errorf("expected no transfers, got %d", transfer.callCount())
	}
}

func TestPayoutConservation(t *testing.T) {
	svc, repo, db, transfer := newTestService(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin-conserve", models.UserRoleAdmin)
	loser := createUser(t, db, "loser-conserve", models.UserRoleUser)

	winners := []struct {
		wallet string
		amount int64
	}{
		{"w1-conserve", 100},
		{"w2-conserve", 50},
		{"w3-conserve", 333},
	}

	// 250 bps total on pool 1000: fees 25, distributable 975.
	market := createResolvableMarket(t, repo, admin.ID, 50, 200)
	var winnerIDs []uint
	for _, w := range winners {
		u := createUser(t, db, w.wallet, models.UserRoleUser)
		winnerIDs = append(winnerIDs, u.ID)
		addStake(t, repo, market.ID, u.ID, models.SideYes, w.amount)
	}
	addStake(t, repo, market.ID, loser.ID, models.SideNo, 517)

	if err := svc.ResolveMarket(ctx, market.ID, models.SideYes, admin.ID); err != nil {
		t.Fatalf("ResolveMarket failed: %v", err)
	}

	var paid int64
	for _, id := range winnerIDs {
		amount, err := svc.ClaimReward(ctx, market.ID, id)
		if err != nil {
			t.Fatalf("ClaimReward for user %d failed: %v", id, err)
		}
		paid += amount
	}

	fees := feeAmount(1000, 250)
	distributable := 1000 - fees
	if paid > distributable {
		t.Errorf("payouts %d exceed distributable pool %d", paid, distributable)
	}
	// Truncation dust is strictly less than the number of winners.
	if distributable-paid >= int64(len(winners)) {
		t.Errorf("residual %d too large for %d winners", distributable-paid, len(winners))
	}
	if transfer.callCount() != len(winners) {
		t.Errorf("expected %d transfers, got %d", len(winners), transfer.callCount())
	}
}

func TestCalculateOdds(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	empty := &models.Market{}
	odds := svc.CalculateOdds(empty)
	if odds.YesOdds != "2" || odds.NoOdds != "2" {
		t.Errorf("empty market: expected even odds, got %s/%s", odds.YesOdds, odds.NoOdds)
	}

	market := &models.Market{YesPool: 700, NoPool: 300, TotalPool: 1000}
	odds = svc.CalculateOdds(market)
	if odds.YesProbability != "70" || odds.NoProbability != "30" {
		t.Errorf("expected probabilities 70/30, got %s/%s", odds.YesProbability, odds.NoProbability)
	}
	if odds.YesOdds != "1.43" {
		t.Errorf("expected YES odds 1.43, got %s", odds.YesOdds)
	}
	if odds.NoOdds != "3.33" {
		t.Errorf("expected NO odds 3.33, got %s", odds.NoOdds)
	}

	oneSided := &models.Market{YesPool: 1000, NoPool: 0, TotalPool: 1000}
	odds = svc.CalculateOdds(oneSided)
	if odds.NoOdds != "0" {
		t.Errorf("empty side: expected odds 0, got %s", odds.NoOdds)
	}
}

func TestLockExpiredMarkets(t *testing.T) {
	_, repo, db, _ := newTestService(t)
	ctx := context.Background()

	creator := createUser(t, db, "creator-lock", models.UserRoleUser)

	expired := createResolvableMarket(t, repo, creator.ID, 100, 200)
	active := &models.Market{
		CreatorID:      creator.ID,
		Title:          "still open",
		EndTime:        time.Now().Add(time.Hour),
		ResolutionTime: time.Now().Add(2 * time.Hour),
		Status:         models.MarketStatusOpen,
	}
	if err := repo.CreateMarket(ctx, active); err != nil {
		t.Fatalf("failed to create market: %v", err)
	}

	locked, err := repo.LockExpiredMarkets(ctx, time.Now())
	if err != nil {
		t.Fatalf("LockExpiredMarkets failed: %v", err)
	}
	if locked != 1 {
		t.Errorf("expected 1 locked market, got %d", locked)
	}

	var got models.Market
	if err := db.First(&got, expired.ID).Error; err != nil {
		t.Fatalf("failed to load market: %v", err)
	}
	if got.Status != models.MarketStatusLocked {
		t.Errorf("expected LOCKED, got %s", got.Status)
	}

	// Fresh destination: reusing got would AND its already-set primary key
	// into the query condition and miss the active market.
	var gotActive models.Market
	if err := db.First(&gotActive, active.ID).Error; err != nil {
		t.Fatalf("failed to load market: %v", err)
	}
	if gotActive.Status != models.MarketStatusOpen {
		t.Errorf("open market should stay OPEN, got %s", gotActive.Status)
	}
}
