// Package notify delivers operator notifications. Delivery is best effort:
// callers log the returned error and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/types"
	"go.uber.org/multierr"
)

// Sink receives a short title and a message body.
type Sink interface {
	Notify(ctx context.Context, title, message string) error
}

// TelegramAPI is the Bot API base URL.
const TelegramAPI = "https://api.telegram.org"

// Telegram posts to a chat through the Bot API with up to Retries attempts.
type Telegram struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Client   *http.Client
	Retries  int
	Backoff  time.Duration
}

func NewTelegram(botToken, chatID string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{
		BaseURL:  TelegramAPI,
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: timeout},
		Retries:  3,
		Backoff:  time.Second,
	}
}

func (t *Telegram) Notify(ctx context.Context, title, message string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram not configured: %w", types.ErrServiceUnavailable)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       "*" + title + "*\n" + message,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < t.Retries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			err = fmt.Errorf("telegram status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * t.Backoff):
		}
	}
	return fmt.Errorf("%w: %v", types.ErrServiceUnavailable, lastErr)
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	Log logger.Logger
}

func (l LogSink) Notify(_ context.Context, title, message string) error {
	l.Log.Info("notification", logger.String("title", title), logger.String("message", message))
	return nil
}

// Multi fans a notification out to every sink and combines their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, title, message string) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Notify(ctx, title, message))
	}
	return err
}
