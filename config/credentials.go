package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/evdnx/gotsma/types"
	"github.com/joho/godotenv"
)

// Environment variable names for secrets. Secrets never live in the YAML.
const (
	EnvAlpacaKeyID   = "ALPACA_API_KEY_ID"
	EnvAlpacaSecret  = "ALPACA_SECRET_KEY"
	EnvFinnhubKey    = "FINNHUB_API_KEY"
	EnvLlamaKey      = "LLAMA_API_KEY"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
)

type Credentials struct {
	AlpacaKeyID   string
	AlpacaSecret  string
	FinnhubKey    string
	LlamaKey      string
	TelegramToken string
	TelegramChat  string
}

// LoadEnv loads the given dotenv files (".env" when none are given) into the
// process environment without overriding variables that are already set.
// Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// CredentialsFromEnv reads every secret from the environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		AlpacaKeyID:   os.Getenv(EnvAlpacaKeyID),
		AlpacaSecret:  os.Getenv(EnvAlpacaSecret),
		FinnhubKey:    os.Getenv(EnvFinnhubKey),
		LlamaKey:      os.Getenv(EnvLlamaKey),
		TelegramToken: os.Getenv(EnvTelegramToken),
		TelegramChat:  os.Getenv(EnvTelegramChat),
	}
}

// Missing lists the required variables that are empty. Market data always
// comes from Alpaca, so its keys are required even with the paper broker.
// The LLM key is required only when a TP or SL is "auto".
func (c Credentials) Missing(cfg BotConfig) []string {
	var out []string
	if c.AlpacaKeyID == "" {
		out = append(out, EnvAlpacaKeyID)
	}
	if c.AlpacaSecret == "" {
		out = append(out, EnvAlpacaSecret)
	}
	if (cfg.TakeProfitPercent().Auto || cfg.StopLossPercent().Auto) && c.LlamaKey == "" {
		out = append(out, EnvLlamaKey)
	}
	if (c.TelegramToken == "") != (c.TelegramChat == "") {
		if c.TelegramToken == "" {
			out = append(out, EnvTelegramToken)
		} else {
			out = append(out, EnvTelegramChat)
		}
	}
	return out
}

// RequireCredentials fails with ErrConfigInvalid naming every missing
// variable.
func RequireCredentials(cfg BotConfig, c Credentials) error {
	missing := c.Missing(cfg)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing environment variables: %s",
		types.ErrConfigInvalid, strings.Join(missing, ", "))
}
