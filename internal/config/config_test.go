package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.BatchSchedule != "0 14 * * *" {
		t.Errorf("BatchSchedule = %q", cfg.BatchSchedule)
	}
	if cfg.Location == nil || cfg.Location.String() != "Europe/Paris" {
		t.Errorf("Location = %v, want Europe/Paris", cfg.Location)
	}
	if cfg.BatchCutoffOffset != 5*time.Minute {
		t.Errorf("BatchCutoffOffset = %v, want 5m", cfg.BatchCutoffOffset)
	}
	if !cfg.Buffer.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("Buffer = %s, want 0.02", cfg.Buffer)
	}
	if !cfg.CashPool.IsZero() {
		t.Errorf("CashPool = %s, want 0", cfg.CashPool)
	}
	if cfg.LedgerLockTimeout != 2*time.Second {
		t.Errorf("LedgerLockTimeout = %v, want 2s", cfg.LedgerLockTimeout)
	}
	if cfg.OverviewTTL != 2*time.Second {
		t.Errorf("OverviewTTL = %v, want 2s", cfg.OverviewTTL)
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("WebhookTimeout = %v, want 5s", cfg.WebhookTimeout)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.MarketURL != "" || cfg.JournalPath != "" || cfg.LogFile != "" {
		t.Errorf("optional paths should default to empty, got %+v", cfg)
	}
	if len(cfg.Instruments) != 0 {
		t.Errorf("Instruments = %v, want none", cfg.Instruments)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BATCH_SCHEDULE", "30 15 * * 1-5")
	t.Setenv("BATCH_TIMEZONE", "America/New_York")
	t.Setenv("BATCH_CUTOFF_OFFSET", "10m")
	t.Setenv("RESERVATION_BUFFER", "0.05")
	t.Setenv("BROKER_CASH", "250000.50")
	t.Setenv("MARKET_URL", "http://quotes.internal:9000")
	t.Setenv("JOURNAL_PATH", "/var/lib/batchbroker/journal.db")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.BatchSchedule != "30 15 * * 1-5" || cfg.Location.String() != "America/New_York" {
		t.Errorf("schedule = %q in %v", cfg.BatchSchedule, cfg.Location)
	}
	if cfg.BatchCutoffOffset != 10*time.Minute {
		t.Errorf("BatchCutoffOffset = %v, want 10m", cfg.BatchCutoffOffset)
	}
	if !cfg.Buffer.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("Buffer = %s, want 0.05", cfg.Buffer)
	}
	if !cfg.CashPool.Equal(decimal.RequireFromString("250000.50")) {
		t.Errorf("CashPool = %s", cfg.CashPool)
	}
	if cfg.MarketURL != "http://quotes.internal:9000" || cfg.JournalPath != "/var/lib/batchbroker/journal.db" {
		t.Errorf("got %q and %q", cfg.MarketURL, cfg.JournalPath)
	}
	if cfg.WebhookTimeout != 3*time.Second {
		t.Errorf("WebhookTimeout = %v, want 3s", cfg.WebhookTimeout)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "not-a-number"},
		{"PORT", "70000"},
		{"LOG_LEVEL", "verbose"},
		{"BATCH_SCHEDULE", "every day at two"},
		{"BATCH_TIMEZONE", "Mars/Olympus_Mons"},
		{"RESERVATION_BUFFER", "abc"},
		{"RESERVATION_BUFFER", "-0.01"},
		{"RESERVATION_BUFFER", "1"},
		{"BROKER_CASH", "-100"},
		{"BROKER_CASH", "10.001"},
		{"MARKET_URL", "not a url"},
		{"SCHEDULER_INTERVAL", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	for _, key := range durationEnvKeys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batchbroker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
log_level: warn
broker_cash: "1000000"
instruments:
  - symbol: AAPL
    ref: US0378331005
    currency: USD
    price: "187.25"
  - symbol: MSFT
    ref: US5949181045
    currency: USD
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("environment should win over the file, got LogLevel %q", cfg.LogLevel)
	}
	if !cfg.CashPool.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("CashPool = %s", cfg.CashPool)
	}
	if len(cfg.Instruments) != 2 {
		t.Fatalf("got %d instruments, want 2", len(cfg.Instruments))
	}
	if in := cfg.Instruments[0]; in.Symbol != "AAPL" || in.Ref != "US0378331005" || in.Price != "187.25" {
		t.Errorf("got %+v", in)
	}
	if cfg.Instruments[1].Price != "" {
		t.Errorf("MSFT should have no seed price, got %q", cfg.Instruments[1].Price)
	}
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"lowercase symbol", "instruments:\n  - {symbol: aapl, ref: X, currency: USD}\n"},
		{"missing ref", "instruments:\n  - {symbol: AAPL, currency: USD}\n"},
		{"bad currency", "instruments:\n  - {symbol: AAPL, ref: X, currency: US}\n"},
		{"duplicate symbol", "instruments:\n  - {symbol: AAPL, ref: X, currency: USD}\n  - {symbol: AAPL, ref: Y, currency: USD}\n"},
		{"non-positive price", "instruments:\n  - {symbol: AAPL, ref: X, currency: USD, price: \"0\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CONFIG_FILE", writeConfigFile(t, tt.body))
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error for a missing config file")
		}
	})
}
