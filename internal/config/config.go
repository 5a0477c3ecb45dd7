package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port string

	RedisURL  string
	RedisPass string
	RedisDB   int

	JWTSecret       string
	IntegritySecret string

	LedgerBaseURL string
	LedgerTimeout time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMax      int

	MaxQueueSize int
	QueueTimeout time.Duration

	MinBet float64
	MaxBet float64

	JoinLimitPerWindow int
	SpinLimitPerWindow int
	RateLimitWindow    time.Duration

	SymbolsPath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASSWORD", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		IntegritySecret: getEnv("INTEGRITY_SECRET", ""),

		LedgerBaseURL: getEnv("LEDGER_BASE_URL", "http://localhost:9090"),
		LedgerTimeout: getEnvDuration("LEDGER_TIMEOUT", 5*time.Second),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerHalfOpenMax:      getEnvInt("BREAKER_HALF_OPEN_MAX", 3),

		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 50),
		QueueTimeout: getEnvDuration("QUEUE_TIMEOUT", 15*time.Minute),

		MinBet: getEnvFloat("MIN_BET", 1),     // cents
		MaxBet: getEnvFloat("MAX_BET", 10000), // cents ($100)

		JoinLimitPerWindow: getEnvInt("JOIN_RATE_LIMIT", 10),
		SpinLimitPerWindow: getEnvInt("SPIN_RATE_LIMIT", 120),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),

		SymbolsPath: getEnv("SYMBOLS_PATH", ""),
	}

	if cfg.Env == "production" {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		if cfg.IntegritySecret == "" {
			return nil, fmt.Errorf("INTEGRITY_SECRET is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-jwt-secret"
	}
	if cfg.IntegritySecret == "" {
		cfg.IntegritySecret = "dev-integrity-secret"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
