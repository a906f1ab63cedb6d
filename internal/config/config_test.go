package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfigFile(t, "app:\n  environment: test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("expected environment from file, got %q", cfg.App.Environment)
	}
	if cfg.Runtime.MaxOrdersPerMin != 5 {
		t.Errorf("expected default max_orders_per_min 5, got %d", cfg.Runtime.MaxOrdersPerMin)
	}
	if cfg.Risk.SymbolCooldown != 30*time.Minute {
		t.Errorf("expected default symbol cooldown 30m, got %v", cfg.Risk.SymbolCooldown)
	}
	if cfg.Risk.GlobalLossStreak != 3 || cfg.Risk.SymbolLossStreak != 2 {
		t.Errorf("unexpected default loss streak thresholds: %d/%d",
			cfg.Risk.GlobalLossStreak, cfg.Risk.SymbolLossStreak)
	}
	if !cfg.Gateway.Simulation {
		t.Error("expected simulation gateway by default")
	}
	if cfg.Runtime.ReconcileInterval != 5*time.Minute {
		t.Errorf("expected default reconcile interval 5m, got %v", cfg.Runtime.ReconcileInterval)
	}
	if cfg.Database.MaxOpenConns != 1 || cfg.Database.MaxIdleConns != 1 {
		t.Errorf("expected single journal connection by default, got %d/%d",
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if got := cfg.Risk.BetaBuckets["majors"]; len(got) != 2 {
		t.Errorf("expected default majors bucket, got %v", got)
	}
}

func TestLoad_FileOverridesAndDurations(t *testing.T) {
	path := writeConfigFile(t, `
runtime:
  instruments: ["BTC/USDT", "ETH/USDT"]
  max_orders_per_min: 12
  poll_interval: 5s
risk:
  symbol_cooldown: 1h
gateway:
  retry:
    min_delay: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Runtime.Instruments) != 2 {
		t.Errorf("expected two instruments, got %v", cfg.Runtime.Instruments)
	}
	if cfg.Runtime.MaxOrdersPerMin != 12 {
		t.Errorf("expected max_orders_per_min 12, got %d", cfg.Runtime.MaxOrdersPerMin)
	}
	if cfg.Runtime.PollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", cfg.Runtime.PollInterval)
	}
	if cfg.Risk.SymbolCooldown != time.Hour {
		t.Errorf("expected cooldown 1h, got %v", cfg.Risk.SymbolCooldown)
	}
	if cfg.Gateway.Retry.MinDelay != 250*time.Millisecond {
		t.Errorf("expected retry min delay 250ms, got %v", cfg.Gateway.Retry.MinDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
account:
  risk_per_trade_usd: -1
runtime:
  max_orders_per_min: 0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid values")
	}
}

func TestValidate_LiveGatewayRequiresCredentials(t *testing.T) {
	path := writeConfigFile(t, `
gateway:
  simulation: false
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error when live gateway lacks credentials")
	}
}
