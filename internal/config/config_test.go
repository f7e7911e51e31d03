package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.Sentiment.Boundaries(); got != [4]float64{25, 45, 55, 75} {
		t.Fatalf("boundaries = %v", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/hook")
	t.Setenv("POSTGRES_URL", "postgres://u@localhost/db")

	path := writeConfig(t, `
strategy:
  mode: streak
  streak:
    threshold: 5
scheduler:
  interval_seconds: 60
execution:
  quote_timeout_ms: 1500
storage:
  type: postgres
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy.Mode != "streak" || cfg.Strategy.Streak.Threshold != 5 {
		t.Fatalf("strategy = %+v", cfg.Strategy)
	}
	if cfg.Scheduler.Interval().Seconds() != 60 {
		t.Fatalf("interval = %v", cfg.Scheduler.Interval())
	}
	if cfg.Execution.QuoteTimeout().Milliseconds() != 1500 {
		t.Fatalf("quote timeout = %v", cfg.Execution.QuoteTimeout())
	}
	// незаданные поля остаются по умолчанию
	if cfg.Pair.Base.Symbol != "SOL" || cfg.Execution.SlippageBps != 50 {
		t.Fatalf("defaults lost: %+v", cfg.Pair.Base)
	}
	if cfg.Notify.DiscordWebhook != "https://discord.example/hook" || cfg.Storage.PostgresURL != "postgres://u@localhost/db" {
		t.Fatal("env overrides not applied")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "strategy: [")); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"boundaries", func(c *Config) { c.Sentiment.Fear = c.Sentiment.Neutral }, "строго возрастать"},
		{"strategy mode", func(c *Config) { c.Strategy.Mode = "martingale" }, "режим стратегии"},
		{"streak threshold", func(c *Config) { c.Strategy.Mode, c.Strategy.Streak.Threshold = "streak", 0 }, "threshold"},
		{"allocation cycles", func(c *Config) { c.Strategy.Mode, c.Strategy.Allocation.Cycles = "threshold", 0 }, "cycles"},
		{"live without key", func(c *Config) { c.Venue.Mode = "live" }, "WALLET_PRIVATE_KEY"},
		{"venue mode", func(c *Config) { c.Venue.Mode = "testnet" }, "режим площадки"},
		{"storage", func(c *Config) { c.Storage.Type = "redis" }, "тип хранилища"},
		{"interval", func(c *Config) { c.Scheduler.IntervalSeconds = 0 }, "interval_seconds"},
		{"attempts", func(c *Config) { c.Execution.ConfirmAttempts = 0 }, "попыток"},
		{"completeness", func(c *Config) { c.Execution.CloseCompleteness = 1.5 }, "close_completeness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
