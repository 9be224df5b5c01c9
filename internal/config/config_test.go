package config

import (
	"strings"
	"testing"
	"time"
)

// validSecret is 32 characters, the minimum accepted length.
const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.HistoryCacheCapacity != 1024 {
		t.Errorf("HistoryCacheCapacity = %d, want 1024", cfg.HistoryCacheCapacity)
	}
	if cfg.HistoryCacheTTL != time.Hour {
		t.Errorf("HistoryCacheTTL = %s, want 1h", cfg.HistoryCacheTTL)
	}
	if cfg.RateLimitSendCount != 50 {
		t.Errorf("RateLimitSendCount = %d, want 50", cfg.RateLimitSendCount)
	}
	if cfg.RateLimitLoginCount != 5 {
		t.Errorf("RateLimitLoginCount = %d, want 5", cfg.RateLimitLoginCount)
	}
	if cfg.GatewayMaxConnections != 1000 {
		t.Errorf("GatewayMaxConnections = %d, want 1000", cfg.GatewayMaxConnections)
	}
	if cfg.MaxConcurrentSends != 1000 {
		t.Errorf("MaxConcurrentSends = %d, want 1000", cfg.MaxConcurrentSends)
	}
	if cfg.GatewayShutdownDrain != 2*time.Second {
		t.Errorf("GatewayShutdownDrain = %s, want 2s", cfg.GatewayShutdownDrain)
	}
	if cfg.EventPublishEnabled {
		t.Error("EventPublishEnabled = true, want false by default")
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without JWT_SECRET")
	}
}

func TestLoadShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with short JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "32 characters") {
		t.Errorf("error = %v, want mention of minimum length", err)
	}
}

func TestLoadInvalidValuesCollected(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("HISTORY_CACHE_TTL", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with invalid values")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error does not mention SERVER_PORT: %v", err)
	}
	if !strings.Contains(err.Error(), "HISTORY_CACHE_TTL") {
		t.Errorf("error does not mention HISTORY_CACHE_TTL: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("GATEWAY_MAX_CONNECTIONS", "50")
	t.Setenv("RATE_LIMIT_SEND_COUNT", "10")
	t.Setenv("SERVER_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GatewayMaxConnections != 50 {
		t.Errorf("GatewayMaxConnections = %d, want 50", cfg.GatewayMaxConnections)
	}
	if cfg.RateLimitSendCount != 10 {
		t.Errorf("RateLimitSendCount = %d, want 10", cfg.RateLimitSendCount)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
}
