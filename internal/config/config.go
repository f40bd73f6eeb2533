// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Stats backends selectable with STATS_BACKEND.
const (
	StatsBackendFile     = "file"
	StatsBackendMemory   = "memory"
	StatsBackendPostgres = "postgres"
	StatsBackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Scoring service
	ScoringURL     string
	ScoringTimeout time.Duration
	ScoringRPS     float64 // 0 disables client-side limiting

	// Storage
	DatabaseURL  string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL     string
	StatsDir     string
	StatsBackend string

	// Wallets exposed by the host
	WalletExtensions []string

	// Attestation ledger
	AttestationDelay time.Duration

	// HTTP
	CORSOrigins  []string
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultScoringURL       = "http://localhost:8000/api"
	DefaultScoringTimeout   = 30 * time.Second
	DefaultScoringRPS       = 5.0
	DefaultStatsDir         = ".masumiguard"
	DefaultStatsBackend     = StatsBackendFile
	DefaultWalletExtensions = "nami,eternl"
	DefaultAttestationDelay = 2 * time.Second
	DefaultCORSOrigins      = "http://localhost:3000,http://127.0.0.1:3000"
	DefaultRateLimit        = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		ScoringURL:       strings.TrimRight(getEnv("SCORING_URL", DefaultScoringURL), "/"),
		ScoringTimeout:   getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout),
		ScoringRPS:       getEnvFloat("SCORING_RATE_LIMIT_RPS", DefaultScoringRPS),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		StatsDir:         getEnv("STATS_DIR", DefaultStatsDir),
		StatsBackend:     strings.ToLower(getEnv("STATS_BACKEND", DefaultStatsBackend)),
		WalletExtensions: splitList(getEnv("WALLET_EXTENSIONS", DefaultWalletExtensions)),
		AttestationDelay: getEnvDuration("ATTESTATION_DELAY", DefaultAttestationDelay),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", DefaultCORSOrigins)),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	u, err := url.Parse(c.ScoringURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SCORING_URL must be an absolute http(s) URL, got %q", c.ScoringURL)
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	if c.ScoringRPS < 0 {
		return fmt.Errorf("SCORING_RATE_LIMIT_RPS must not be negative")
	}
	if c.AttestationDelay < 0 {
		return fmt.Errorf("ATTESTATION_DELAY must not be negative")
	}

	switch c.StatsBackend {
	case StatsBackendFile:
		if c.StatsDir == "" {
			return fmt.Errorf("STATS_DIR is required for the file stats backend")
		}
	case StatsBackendMemory:
	case StatsBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres stats backend")
		}
	case StatsBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis stats backend")
		}
	default:
		return fmt.Errorf("STATS_BACKEND must be one of file, memory, postgres, redis; got %q", c.StatsBackend)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
