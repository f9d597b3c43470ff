// Package sizer asks an LLM for order quantity and TP/SL percentages. It is
// advisory: every failure maps to ErrServiceUnavailable and the caller falls
// back to fixed sizing.
package sizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evdnx/gotsma/risk"
	"github.com/evdnx/gotsma/types"
	"github.com/tidwall/gjson"
)

// Suggestion is a sizing answer with TP/SL already clamped to the auto ranges.
type Suggestion struct {
	Qty           float64
	TakeProfitPct float64
	StopLossPct   float64
}

// Sizer suggests a position size for a BUY.
type Sizer interface {
	Suggest(ctx context.Context, cash, price float64, symbol string) (Suggestion, error)
}

const systemPrompt = "You are a trading assistant that calculates optimal position size, " +
	"take profit %, and stop loss % for a crypto trade. Only reply as: qty, " +
	"take_profit_percent, stop_loss_percent. All numbers, no explanation."

// LLMSizer calls an OpenAI-style chat completions endpoint.
type LLMSizer struct {
	URL        string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

func NewLLMSizer(url, model, apiKey string, timeout time.Duration) *LLMSizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMSizer{URL: url, Model: model, APIKey: apiKey, HTTPClient: &http.Client{Timeout: timeout}}
}

func userPrompt(cash, price float64, symbol string) string {
	base := strings.SplitN(symbol, "/", 2)[0]
	return fmt.Sprintf("I have $%.2f available cash and the current price of %s is $%.2f. "+
		"The broker charges a %.2f%% fee per crypto trade. What is the optimal position size in %s "+
		"to buy if I want to risk at most 1%% of my cash and keep the order size under $100? "+
		"Also recommend a take profit %% between %.1f and %.0f and a stop loss %% of at most %.0f. "+
		"Reply as: qty, take_profit_percent, stop_loss_percent. If you don't know, use 1 for both.",
		cash, symbol, price, risk.TakerFee*100, base, risk.MinPercent, risk.AutoTPMax, risk.AutoSLMax)
}

func (s *LLMSizer) Suggest(ctx context.Context, cash, price float64, symbol string) (Suggestion, error) {
	if s.APIKey == "" {
		return Suggestion{}, fmt.Errorf("llm sizer: no api key: %w", types.ErrServiceUnavailable)
	}
	payload := map[string]any{
		"model": s.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt(cash, price, symbol)},
		},
		"max_tokens": 24,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Suggestion{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(buf))
	if err != nil {
		return Suggestion{}, fmt.Errorf("llm sizer: %w: %v", types.ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("llm sizer: %w: %v", types.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Suggestion{}, fmt.Errorf("llm sizer: %w: %v", types.ErrServiceUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return Suggestion{}, fmt.Errorf("llm sizer: %w: %s", types.ErrServiceUnavailable, resp.Status)
	}
	answer, ok := ExtractAnswer(body)
	if !ok {
		return Suggestion{}, fmt.Errorf("llm sizer: no answer in response: %w", types.ErrServiceUnavailable)
	}
	sug, ok := ParseAnswer(answer)
	if !ok {
		return Suggestion{}, fmt.Errorf("llm sizer: unusable answer %q: %w", answer, types.ErrServiceUnavailable)
	}
	return sug, nil
}

// ExtractAnswer pulls the reply text from either the Llama envelope
// (completion_message.content.text) or the OpenAI one
// (choices.0.message.content).
func ExtractAnswer(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	for _, path := range []string{"completion_message.content.text", "choices.0.message.content"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String {
			if s := strings.TrimSpace(r.String()); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

var firstNumber = regexp.MustCompile(`([0-9]*\.?[0-9]+)`)

// ParseAnswer reads "qty, tp, sl". When the three numbers are not all
// positive, the first number is taken as qty with 1%/1%.
func ParseAnswer(answer string) (Suggestion, bool) {
	parts := strings.Split(answer, ",")
	if len(parts) >= 3 {
		vals := make([]float64, 3)
		good := true
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			if err != nil || v <= 0 {
				good = false
				break
			}
			vals[i] = v
		}
		if good {
			return Suggestion{
				Qty:           vals[0],
				TakeProfitPct: risk.ClampAutoTP(vals[1]),
				StopLossPct:   risk.ClampAutoSL(vals[2]),
			}, true
		}
	}
	if m := firstNumber.FindString(answer); m != "" {
		if q, err := strconv.ParseFloat(m, 64); err == nil && q > 0 {
			return Suggestion{Qty: q, TakeProfitPct: risk.DefaultPercent, StopLossPct: risk.DefaultPercent}, true
		}
	}
	return Suggestion{}, false
}
