package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumericValues(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("DASHBOARD_CACHE_TTL_SECONDS", "-3")
	t.Setenv("LOW_STOCK_THRESHOLD", "0")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DashboardCacheTTLSeconds != 15 {
		t.Fatalf("expected default cache TTL, got %d", cfg.DashboardCacheTTLSeconds)
	}
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected default low-stock threshold, got %d", cfg.LowStockThreshold)
	}
}
