package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxQueueSize != 50 {
		t.Errorf("Expected default queue size 50, got %d", cfg.MaxQueueSize)
	}
	if cfg.BreakerRecoveryTimeout != 30*time.Second {
		t.Errorf("Expected 30s recovery timeout, got %v", cfg.BreakerRecoveryTimeout)
	}
	if cfg.JWTSecret == "" || cfg.IntegritySecret == "" {
		t.Error("Development secrets should fall back to non-empty defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "5")
	t.Setenv("QUEUE_TIMEOUT", "2m")
	t.Setenv("MIN_BET", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxQueueSize != 5 {
		t.Errorf("Expected queue size 5, got %d", cfg.MaxQueueSize)
	}
	if cfg.QueueTimeout != 2*time.Minute {
		t.Errorf("Expected 2m timeout, got %v", cfg.QueueTimeout)
	}
	if cfg.MinBet != 50 {
		t.Errorf("Expected min bet 50, got %.0f", cfg.MinBet)
	}
}

func TestProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("INTEGRITY_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Production without secrets should be rejected")
	}

	t.Setenv("JWT_SECRET", "prod-jwt")
	t.Setenv("INTEGRITY_SECRET", "prod-integrity")
	if _, err := Load(); err != nil {
		t.Fatalf("Production with secrets should load: %v", err)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxQueueSize != 50 {
		t.Errorf("Malformed int should fall back to 50, got %d", cfg.MaxQueueSize)
	}
	if cfg.RateLimitWindow != time.Hour {
		t.Errorf("Malformed duration should fall back to 1h, got %v", cfg.RateLimitWindow)
	}
}
