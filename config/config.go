// Package config holds the bot configuration. A BotConfig value is built once
// at startup and passed into every component; nothing mutates it afterwards
// except the orchestration layer, which persists changes with SaveSnapshot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/evdnx/gotsma/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Strategy names accepted in BotConfig.Strategy.
const (
	StrategySimple    = "simple"
	StrategyVolScaled = "volscaled"
	StrategyQuantum   = "quantum"
)

// Broker names accepted in BotConfig.Broker.
const (
	BrokerAlpaca = "alpaca"
	BrokerPaper  = "paper"
)

// Bounds for a manually configured TP/SL percentage.
const (
	MinPercentSetting = 0.1
	MaxPercentSetting = 10.0
)

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type LLMConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Model string `mapstructure:"model" yaml:"model"`
}

// BotConfig holds every tunable of one bot instance.
type BotConfig struct {
	Symbol    string          `mapstructure:"symbol" yaml:"symbol"`
	Timeframe types.Timeframe `mapstructure:"timeframe" yaml:"timeframe"`
	Strategy  string          `mapstructure:"strategy" yaml:"strategy"`

	// Moving-average parameters
	BaseLength int     `mapstructure:"base_length" yaml:"base_length"`
	EvalPeriod int     `mapstructure:"eval_period" yaml:"eval_period"`
	ALMAOffset float64 `mapstructure:"alma_offset" yaml:"alma_offset"`
	ALMASigma  float64 `mapstructure:"alma_sigma" yaml:"alma_sigma"`
	VolScale   float64 `mapstructure:"vol_scale" yaml:"vol_scale"`
	// LegacyAnnualization uses the 5-minute factor for every timeframe.
	LegacyAnnualization bool `mapstructure:"legacy_annualization" yaml:"legacy_annualization"`

	// RSI gate
	RSIPeriod  int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	RSIBuyMin  float64 `mapstructure:"rsi_buy_min" yaml:"rsi_buy_min"`
	RSIBuyMax  float64 `mapstructure:"rsi_buy_max" yaml:"rsi_buy_max"`
	RSISellMin float64 `mapstructure:"rsi_sell_min" yaml:"rsi_sell_min"`
	RSISellMax float64 `mapstructure:"rsi_sell_max" yaml:"rsi_sell_max"`

	// Risk: "auto" or a percentage in [0.1, 10]
	TakeProfit string  `mapstructure:"take_profit" yaml:"take_profit"`
	StopLoss   string  `mapstructure:"stop_loss" yaml:"stop_loss"`
	DefaultQty float64 `mapstructure:"default_qty" yaml:"default_qty"`

	EnableCrossunder      bool `mapstructure:"enable_crossunder" yaml:"enable_crossunder"`
	EnablePositionLogging bool `mapstructure:"enable_position_logging" yaml:"enable_position_logging"`
	ConfirmWithHMA        bool `mapstructure:"confirm_with_hma" yaml:"confirm_with_hma"`

	// Loop timing
	ExitPollInterval time.Duration `mapstructure:"exit_poll_interval" yaml:"exit_poll_interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay" yaml:"startup_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	HistoryLimit     int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxSeries        int           `mapstructure:"max_series" yaml:"max_series"`
	// RetuneEvery logs a retune hint after this many trades; 0 disables it.
	RetuneEvery int `mapstructure:"retune_every" yaml:"retune_every"`

	Broker    string  `mapstructure:"broker" yaml:"broker"`
	PaperCash float64 `mapstructure:"paper_cash" yaml:"paper_cash"`
	HTTPAddr  string  `mapstructure:"http_addr" yaml:"http_addr"`
	DBPath    string  `mapstructure:"db_path" yaml:"db_path"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`
}

var defaults = map[string]any{
	"timeframe":               string(types.Timeframe5Min),
	"strategy":                StrategyVolScaled,
	"base_length":             20,
	"eval_period":             20,
	"alma_offset":             0.85,
	"alma_sigma":              6.0,
	"vol_scale":               10.0,
	"legacy_annualization":    false,
	"rsi_period":              14,
	"rsi_buy_min":             0.0,
	"rsi_buy_max":             70.0,
	"rsi_sell_min":            30.0,
	"rsi_sell_max":            50.0,
	"take_profit":             "1",
	"stop_loss":               "1",
	"default_qty":             0.0009,
	"enable_crossunder":       false,
	"enable_position_logging": false,
	"confirm_with_hma":        false,
	"exit_poll_interval":      "5s",
	"startup_delay":           "30s",
	"request_timeout":         "15s",
	"history_limit":           1000,
	"max_series":              1000,
	"retune_every":            0,
	"broker":                  BrokerAlpaca,
	"paper_cash":              10000.0,
	"http_addr":               ":8080",
	"db_path":                 "gotsma.db",
	"log.level":               "info",
	"log.file":                "",
	"log.max_size_mb":         50,
	"log.max_backups":         3,
	"llm.url":                 "https://api.llama.com/v1/chat/completions",
	"llm.model":               "Llama-4-Maverick-17B-128E-Instruct-FP8",
}

// Default returns the configuration used when no file or env override is set.
func Default() BotConfig {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("GOTSMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (BotConfig, error) {
	var cfg BotConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return BotConfig{}, fmt.Errorf("parsing config failed: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path (a missing file is not an error) and
// applies GOTSMA_* environment overrides on top of the defaults. The result
// is not validated; call Validate once command-line overrides are applied.
func Load(path string) (BotConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return BotConfig{}, fmt.Errorf("reading config file failed (%s): %w", path, err)
			}
		}
	}
	return decode(v)
}

// SaveSnapshot writes cfg as YAML so a restart picks up runtime toggles.
func SaveSnapshot(path string, cfg BotConfig) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// TakeProfitPercent parses TakeProfit; invalid values read as "auto".
func (c BotConfig) TakeProfitPercent() types.Percent { return parseOrAuto(c.TakeProfit) }

// StopLossPercent parses StopLoss; invalid values read as "auto".
func (c BotConfig) StopLossPercent() types.Percent { return parseOrAuto(c.StopLoss) }

func parseOrAuto(s string) types.Percent {
	p, err := types.ParsePercent(s)
	if err != nil {
		return types.AutoPercent()
	}
	return p
}

// BarsPerYear is the volatility annualization factor.
func (c BotConfig) BarsPerYear() float64 {
	if c.LegacyAnnualization {
		return types.LegacyBarsPerYear
	}
	return c.Timeframe.BarsPerYear()
}

// BootstrapLimit is how many bars the startup fetch asks for.
func (c BotConfig) BootstrapLimit() int {
	n := 2 * c.BaseLength
	if n < 50 {
		n = 50
	}
	return n
}

// Validate checks every field and returns the first problem found.
func (c *BotConfig) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return invalid("symbol is required")
	}
	if !c.Timeframe.Valid() {
		return invalid("timeframe %q must be one of 1Min, 5Min, 15Min, 1Hour, 1Day", c.Timeframe)
	}
	switch c.Strategy {
	case StrategySimple, StrategyVolScaled, StrategyQuantum:
	default:
		return invalid("strategy %q must be simple, volscaled or quantum", c.Strategy)
	}
	if c.BaseLength < 1 {
		return invalid("base_length (%d) must be >= 1", c.BaseLength)
	}
	if c.EvalPeriod < 2 {
		return invalid("eval_period (%d) must be >= 2", c.EvalPeriod)
	}
	if c.ALMAOffset <= 0 || c.ALMAOffset >= 1 {
		return invalid("alma_offset (%f) must be in (0,1)", c.ALMAOffset)
	}
	if c.ALMASigma <= 0 {
		return invalid("alma_sigma (%f) must be positive", c.ALMASigma)
	}
	if c.VolScale < 0 {
		return invalid("vol_scale (%f) cannot be negative", c.VolScale)
	}
	if c.RSIPeriod < 1 {
		return invalid("rsi_period (%d) must be >= 1", c.RSIPeriod)
	}
	for name, v := range map[string]float64{
		"rsi_buy_min": c.RSIBuyMin, "rsi_buy_max": c.RSIBuyMax,
		"rsi_sell_min": c.RSISellMin, "rsi_sell_max": c.RSISellMax,
	} {
		if v < 0 || v > 100 {
			return invalid("%s (%f) must be in [0,100]", name, v)
		}
	}
	if c.RSIBuyMin > c.RSIBuyMax {
		return invalid("rsi_buy_min must not exceed rsi_buy_max")
	}
	if c.RSISellMin >= c.RSISellMax {
		return invalid("rsi_sell_min must be below rsi_sell_max")
	}
	if err := validPercent("take_profit", c.TakeProfit); err != nil {
		return err
	}
	if err := validPercent("stop_loss", c.StopLoss); err != nil {
		return err
	}
	if c.DefaultQty <= 0 {
		return invalid("default_qty (%f) must be positive", c.DefaultQty)
	}
	if c.ExitPollInterval <= 0 {
		return invalid("exit_poll_interval must be positive")
	}
	if c.StartupDelay < 0 {
		return invalid("startup_delay cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return invalid("request_timeout must be positive")
	}
	if c.HistoryLimit < c.BaseLength {
		return invalid("history_limit (%d) must be >= base_length (%d)", c.HistoryLimit, c.BaseLength)
	}
	if c.MaxSeries < 2*c.BaseLength+2 {
		return invalid("max_series (%d) must hold at least two long windows", c.MaxSeries)
	}
	if c.RetuneEvery < 0 {
		return invalid("retune_every cannot be negative")
	}
	switch c.Broker {
	case BrokerAlpaca:
	case BrokerPaper:
		if c.PaperCash <= 0 {
			return invalid("paper_cash must be positive for the paper broker")
		}
	default:
		return invalid("broker %q must be alpaca or paper", c.Broker)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return nil
}

func validPercent(name, raw string) error {
	p, err := types.ParsePercent(raw)
	if err != nil {
		return invalid("%s: %v", name, err)
	}
	if p.Auto {
		return nil
	}
	if p.Value < MinPercentSetting || p.Value > MaxPercentSetting {
		return invalid("%s (%v) must be \"auto\" or within [%v, %v]", name, p.Value, MinPercentSetting, MaxPercentSetting)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
