package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all dispatch core configuration
type Config struct {
	Environment string
	ServiceName string
	Dispatch    DispatchConfig
	Matching    MatchingConfig
	Ledger      LedgerConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	MetricsAddr string
}

// DispatchConfig tunes the driver assignment loop
type DispatchConfig struct {
	InitialRadiusKm  float64
	MaxRadiusKm      float64
	MaxCandidates    int
	CooldownWindow   time.Duration
	AcceptanceWindow time.Duration
}

// MatchingConfig selects and tunes the candidate scoring strategy
type MatchingConfig struct {
	Strategy        string // hybrid, proximity, rating
	RatingWeight    float64
	ProximityWeight float64
}

// LedgerConfig tunes earnings and payout behaviour
type LedgerConfig struct {
	CommissionRate   float64
	MinPayoutAmount  float64
	SweepMinBalance  float64
	SweepConcurrency int
	SweepInterval    time.Duration
	GatewayTimeout   time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisAddr returns the host:port address for the Redis server
func (c RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the pgx connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// NATSConfig holds event bus settings
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	StreamName    string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceName: serviceName,
		Dispatch: DispatchConfig{
			InitialRadiusKm:  getEnvFloat("DISPATCH_INITIAL_RADIUS_KM", 10.0),
			MaxRadiusKm:      getEnvFloat("DISPATCH_MAX_RADIUS_KM", 15.0),
			MaxCandidates:    getEnvInt("DISPATCH_MAX_CANDIDATES", 20),
			CooldownWindow:   getEnvDuration("DISPATCH_COOLDOWN_WINDOW", 5*time.Minute),
			AcceptanceWindow: getEnvDuration("DISPATCH_ACCEPTANCE_WINDOW", 20*time.Second),
		},
		Matching: MatchingConfig{
			Strategy:        getEnv("MATCHING_STRATEGY", "hybrid"),
			RatingWeight:    getEnvFloat("MATCHING_RATING_WEIGHT", 0.7),
			ProximityWeight: getEnvFloat("MATCHING_PROXIMITY_WEIGHT", 0.3),
		},
		Ledger: LedgerConfig{
			CommissionRate:   getEnvFloat("LEDGER_COMMISSION_RATE", 0.20),
			MinPayoutAmount:  getEnvFloat("LEDGER_MIN_PAYOUT", 5.00),
			SweepMinBalance:  getEnvFloat("LEDGER_SWEEP_MIN_BALANCE", 50.00),
			SweepConcurrency: getEnvInt("LEDGER_SWEEP_CONCURRENCY", 8),
			SweepInterval:    getEnvDuration("LEDGER_SWEEP_INTERVAL", 24*time.Hour),
			GatewayTimeout:   getEnvDuration("LEDGER_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "dispatch"),
			Password: getEnv("DB_PASSWORD", "dispatch"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "dispatch"),
			StreamName:    getEnv("NATS_STREAM", "DISPATCH"),
		},
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Dispatch.InitialRadiusKm <= 0 || c.Dispatch.MaxRadiusKm < c.Dispatch.InitialRadiusKm {
		return fmt.Errorf("invalid dispatch radius configuration: initial=%.1f max=%.1f",
			c.Dispatch.InitialRadiusKm, c.Dispatch.MaxRadiusKm)
	}
	if c.Matching.RatingWeight < 0 || c.Matching.ProximityWeight < 0 {
		return fmt.Errorf("matching weights must be non-negative")
	}
	if c.Ledger.CommissionRate < 0 || c.Ledger.CommissionRate >= 1 {
		return fmt.Errorf("commission rate must be in [0, 1): %.2f", c.Ledger.CommissionRate)
	}
	return nil
}

// Helper functions to read environment variables

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
