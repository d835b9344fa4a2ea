package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	App        AppConfig
	Settlement SettlementConfig
	Solana     SolanaConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret string
}

// SettlementConfig holds market lifecycle and fee settings.
// All amounts are in base units, all fees in basis points.
type SettlementConfig struct {
	MinMarketDuration     time.Duration
	MinResolutionDelay    time.Duration
	MaxFeeBps             int64
	DefaultCreatorFeeBps  int64
	DefaultPlatformFeeBps int64
	MinStakeAmount        int64
	MaxStakeAmount        int64
}

// SolanaConfig holds on-chain payout settings
type SolanaConfig struct {
	Network                string
	ServerWalletPrivateKey string
	PayoutsEnabled         bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "predictpix"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		App: AppConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Settlement: SettlementConfig{
			MinMarketDuration:     getEnvDuration("MIN_MARKET_DURATION", 5*time.Minute),
			MinResolutionDelay:    getEnvDuration("MIN_RESOLUTION_DELAY", time.Hour),
			MaxFeeBps:             getEnvInt64("MAX_FEE_BPS", 1000),
			DefaultCreatorFeeBps:  getEnvInt64("DEFAULT_CREATOR_FEE_BPS", 100),
			DefaultPlatformFeeBps: getEnvInt64("DEFAULT_PLATFORM_FEE_BPS", 200),
			MinStakeAmount:        getEnvInt64("MIN_STAKE_AMOUNT", 1_000_000),         // 1 PI
			MaxStakeAmount:        getEnvInt64("MAX_STAKE_AMOUNT", 1_000_000_000_000), // 1M PI
		},
		Solana: SolanaConfig{
			Network:                getEnv("SOLANA_NETWORK", "devnet"),
			ServerWalletPrivateKey: getEnv("SOLANA_SERVER_WALLET_PRIVATE_KEY", ""),
			PayoutsEnabled:         getEnvBool("SOLANA_PAYOUTS_ENABLED", false),
		},
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if config.Settlement.MaxFeeBps < 0 || config.Settlement.MaxFeeBps > 10000 {
		return nil, fmt.Errorf("MAX_FEE_BPS must be between 0 and 10000")
	}

	if config.Solana.PayoutsEnabled && config.Solana.ServerWalletPrivateKey == "" {
		return nil, fmt.Errorf("SOLANA_SERVER_WALLET_PRIVATE_KEY is required when payouts are enabled")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt64 gets an int64 environment variable with a fallback default value
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDuration gets a duration environment variable with a fallback default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvBool gets a boolean environment variable with a fallback default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
