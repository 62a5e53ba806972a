package config

import "testing"

func TestLoadRequiresCredentials(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error without credentials, got nil")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEEDBARN_USERNAME", "reader")
	t.Setenv("FEEDBARN_PASSWORD", "secret")
	t.Setenv("FEEDBARN_ADDR", ":9000")
	t.Setenv("FEEDBARN_INTERVAL_MINUTES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Username != "reader" || cfg.Password != "secret" {
		t.Errorf("credentials not read from env: %+v", cfg)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.Addr)
	}
	if cfg.IntervalMinutes != 5 {
		t.Errorf("interval_minutes = %d, want 5", cfg.IntervalMinutes)
	}
	if cfg.FetchWorkers != 8 {
		t.Errorf("fetch_workers default = %d, want 8", cfg.FetchWorkers)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("FEEDBARN_USERNAME", "reader")
	t.Setenv("FEEDBARN_PASSWORD", "secret")
	t.Setenv("FEEDBARN_INTERVAL_MINUTES", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero interval, got nil")
	}
}
