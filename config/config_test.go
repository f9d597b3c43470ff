package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evdnx/gotsma/types"
)

func validConfig() BotConfig {
	cfg := Default()
	cfg.Symbol = "BTC/USD"
	return cfg
}

func TestValidateSuccess(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := validConfig()
	if cfg.BaseLength != 20 || cfg.EvalPeriod != 20 || cfg.RSIPeriod != 14 {
		t.Fatalf("unexpected MA defaults: %+v", cfg)
	}
	if cfg.ExitPollInterval != 5*time.Second || cfg.StartupDelay != 30*time.Second {
		t.Fatalf("unexpected timing defaults: poll=%v startup=%v", cfg.ExitPollInterval, cfg.StartupDelay)
	}
	if cfg.HistoryLimit != 1000 || cfg.DefaultQty != 0.0009 {
		t.Fatalf("unexpected data defaults: %+v", cfg)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := map[string]func(*BotConfig){
		"missing symbol":   func(c *BotConfig) { c.Symbol = " " },
		"bad timeframe":    func(c *BotConfig) { c.Timeframe = "2Min" },
		"bad strategy":     func(c *BotConfig) { c.Strategy = "magic" },
		"zero base":        func(c *BotConfig) { c.BaseLength = 0 },
		"tp too high":      func(c *BotConfig) { c.TakeProfit = "25" },
		"sl too low":       func(c *BotConfig) { c.StopLoss = "0.01" },
		"sl not a number":  func(c *BotConfig) { c.StopLoss = "lots" },
		"rsi sell band":    func(c *BotConfig) { c.RSISellMin = 60 },
		"zero qty":         func(c *BotConfig) { c.DefaultQty = 0 },
		"zero poll":        func(c *BotConfig) { c.ExitPollInterval = 0 },
		"unknown broker":   func(c *BotConfig) { c.Broker = "ftx" },
		"unknown loglevel": func(c *BotConfig) { c.Log.Level = "verbose" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !errors.Is(err, types.ErrConfigInvalid) {
			t.Fatalf("%s: error should wrap ErrConfigInvalid, got %v", name, err)
		}
	}
}

func TestValidateAcceptsAuto(t *testing.T) {
	cfg := validConfig()
	cfg.TakeProfit = "auto"
	cfg.StopLoss = "AUTO"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("auto TP/SL should validate: %v", err)
	}
	if !cfg.TakeProfitPercent().Auto || !cfg.StopLossPercent().Auto {
		t.Fatalf("auto TP/SL should parse as auto")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")
	body := "symbol: ETH/USD\nbase_length: 30\ntimeframe: 15Min\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOTSMA_EVAL_PERIOD", "40")
	t.Setenv("GOTSMA_LOG_MAX_BACKUPS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "ETH/USD" || cfg.BaseLength != 30 || cfg.Timeframe != types.Timeframe15Min {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.EvalPeriod != 40 || cfg.Log.MaxBackups != 9 || cfg.Log.Level != "debug" {
		t.Fatalf("env overrides not applied: eval=%d backups=%d level=%s", cfg.EvalPeriod, cfg.Log.MaxBackups, cfg.Log.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.BaseLength != 20 {
		t.Fatalf("expected defaults, got base_length %d", cfg.BaseLength)
	}
}

func TestSaveSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	cfg := validConfig()
	cfg.EnableCrossunder = true
	cfg.TakeProfit = "0.8"
	if err := SaveSnapshot(path, cfg); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.EnableCrossunder || got.TakeProfit != "0.8" || got.Symbol != cfg.Symbol {
		t.Fatalf("snapshot did not round-trip: %+v", got)
	}
	if got.ExitPollInterval != cfg.ExitPollInterval {
		t.Fatalf("durations did not round-trip: %v vs %v", got.ExitPollInterval, cfg.ExitPollInterval)
	}
}

func TestBarsPerYear(t *testing.T) {
	cfg := validConfig()
	cfg.Timeframe = types.Timeframe1Hour
	if cfg.BarsPerYear() != 365*24 {
		t.Fatalf("hourly factor = %v", cfg.BarsPerYear())
	}
	cfg.LegacyAnnualization = true
	if cfg.BarsPerYear() != types.LegacyBarsPerYear {
		t.Fatalf("legacy factor = %v", cfg.BarsPerYear())
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.TakeProfit = "auto"
	err := RequireCredentials(cfg, Credentials{TelegramToken: "x"})
	if !errors.Is(err, types.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	for _, name := range []string{EnvAlpacaKeyID, EnvAlpacaSecret, EnvLlamaKey, EnvTelegramChat} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should list %s: %v", name, err)
		}
	}
	ok := Credentials{AlpacaKeyID: "k", AlpacaSecret: "s"}
	cfg.TakeProfit = "1"
	if err := RequireCredentials(cfg, ok); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GOTSMA_TEST_SECRET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOTSMA_TEST_SECRET", "")
	os.Unsetenv("GOTSMA_TEST_SECRET")
	if err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("GOTSMA_TEST_SECRET"); got != "from-file" {
		t.Fatalf("expected value from dotenv file, got %q", got)
	}
}
