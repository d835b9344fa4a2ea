package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"predictpix/internal/auth"
	"predictpix/internal/blockchain"
	"predictpix/internal/config"
	"predictpix/internal/database"
	"predictpix/internal/handlers"
	"predictpix/internal/jobs"
	"predictpix/internal/repository"
	"predictpix/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repository
	repo := repository.NewRepository(database.GetDB())

	// Initialize services
	referralService := services.NewReferralService(database.GetDB())
	authService := services.NewAuthService(database.GetDB(), referralService)
	userService := services.NewUserService(database.GetDB())

	// Rewards are paid on-chain when Solana payouts are enabled, otherwise
	// credited to the user's ledger balance.
	var transfer services.ValueTransfer
	if cfg.Solana.PayoutsEnabled {
		payoutClient, err := blockchain.NewPayoutClient(cfg.Solana.Network, cfg.Solana.ServerWalletPrivateKey)
		if err != nil {
			log.Fatalf("Failed to initialize payout client: %v", err)
		}
		transfer = payoutClient
		log.Println("On-chain payouts enabled")
	} else {
		transfer = services.NewBalanceTransfer(repo)
		log.Println("Ledger payouts enabled")
	}

	settlementService := services.NewSettlementService(repo, transfer, referralService, cfg.Settlement)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	marketHandler := handlers.NewMarketHandler(settlementService)
	predictionHandler := handlers.NewPredictionHandler(settlementService)
	rewardHandler := handlers.NewRewardHandler(settlementService)
	referralHandler := handlers.NewReferralHandler(referralService)
	adminHandler := handlers.NewAdminHandler(database.GetDB())

	// Start market locking job (runs every minute)
	locker := jobs.NewMarketLocker(repo, time.Minute)
	go locker.Start()
	log.Println("Market locking job started")

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	allowedOrigins := []string{
		"http://localhost:3000", // Local development
		"http://localhost:5173", // Vite dev server
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
	// Add additional frontend URL from environment if provided
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Authentication routes (public)
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/wallet", authHandler.WalletLogin)
		authRoutes.POST("/logout", authHandler.Logout)
	}

	// Authenticated /auth/me route
	authProtected := router.Group("/auth")
	authProtected.Use(auth.AuthMiddleware())
	{
		authProtected.GET("/me", authHandler.GetMe)
	}

	// Public market routes
	router.GET("/api/markets", marketHandler.GetMarkets)
	router.GET("/api/markets/:id", marketHandler.GetMarketByID)
	router.GET("/api/markets/:id/odds", marketHandler.GetMarketOdds)
	router.GET("/api/markets/:id/events", marketHandler.GetMarketEvents)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		// User endpoints
		userRoutes := api.Group("/users")
		{
			userRoutes.GET("/balance", userHandler.GetBalance)
			userRoutes.GET("/transactions", userHandler.GetTransactions)
		}

		// Market endpoints (protected)
		api.POST("/markets", marketHandler.CreateMarket)
		api.POST("/markets/:id/resolve", marketHandler.ResolveMarket)
		api.POST("/markets/:id/claim", rewardHandler.ClaimReward)

		// Prediction endpoints (protected)
		api.POST("/predictions", predictionHandler.PlaceStake)
		api.GET("/predictions", predictionHandler.GetUserPredictions)
		api.GET("/predictions/:market_id/reward", predictionHandler.GetPotentialReward)

		// Reward endpoints (protected)
		api.GET("/rewards", rewardHandler.ListRewards)
		api.GET("/rewards/:id", rewardHandler.GetReward)

		// Referral endpoints (protected)
		api.GET("/referral/code", referralHandler.GetReferralCode)
		api.POST("/referral/apply", referralHandler.ApplyReferralCode)
		api.GET("/referral/stats", referralHandler.GetReferralStats)
		api.GET("/referral/referrals", referralHandler.GetReferrals)
		api.GET("/referral/rebates", referralHandler.GetReferralRebates)
	}

	// Admin routes (protected + admin only)
	admin := router.Group("/api/admin")
	admin.Use(auth.AuthMiddleware())
	admin.Use(auth.AdminMiddleware())
	{
		admin.GET("/markets", adminHandler.GetAllMarkets)
		admin.PUT("/markets/:id/status", adminHandler.UpdateMarketStatus)
		admin.GET("/rewards/failed", adminHandler.GetFailedRewards)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)
		log.Printf("Wallet auth: POST http://localhost:%s/auth/wallet", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop background jobs before the server drains
	locker.Stop()

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
