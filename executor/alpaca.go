package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evdnx/gotsma/types"
	"github.com/shopspring/decimal"
)

// AlpacaPaperURL is the paper-trading REST endpoint.
const AlpacaPaperURL = "https://paper-api.alpaca.markets"

// AlpacaBroker talks to the Alpaca trading REST API.
type AlpacaBroker struct {
	baseURL    *url.URL
	httpClient *http.Client
	keyID      string
	secret     string
}

// NewAlpacaBroker builds a client for baseURL (AlpacaPaperURL when empty).
// A timeout <= 0 falls back to 15s.
func NewAlpacaBroker(baseURL, keyID, secret string, timeout time.Duration) (*AlpacaBroker, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = AlpacaPaperURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse alpaca url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &AlpacaBroker{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		keyID:      keyID,
		secret:     secret,
	}, nil
}

// SetHTTPClient replaces the HTTP client (tests).
func (a *AlpacaBroker) SetHTTPClient(c *http.Client) { a.httpClient = c }

type alpacaPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

type alpacaAccount struct {
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Status         string          `json:"status"`
}

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type alpacaOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type alpacaAsset struct {
	Symbol   string `json:"symbol"`
	Tradable bool   `json:"tradable"`
	Status   string `json:"status"`
}

func (a *AlpacaBroker) Positions(ctx context.Context) ([]types.Position, error) {
	var raw []alpacaPosition
	if err := a.doRequest(ctx, http.MethodGet, "/v2/positions", nil, &raw); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:  p.CurrentPrice.InexactFloat64(),
			MarketValue:   p.MarketValue.InexactFloat64(),
			UnrealizedPL:  p.UnrealizedPL.InexactFloat64(),
		})
	}
	return out, nil
}

func (a *AlpacaBroker) Account(ctx context.Context) (types.Account, error) {
	var raw alpacaAccount
	if err := a.doRequest(ctx, http.MethodGet, "/v2/account", nil, &raw); err != nil {
		return types.Account{}, fmt.Errorf("get account: %w", err)
	}
	return types.Account{
		Cash:           raw.Cash.InexactFloat64(),
		BuyingPower:    raw.BuyingPower.InexactFloat64(),
		PortfolioValue: raw.PortfolioValue.InexactFloat64(),
		Status:         raw.Status,
	}, nil
}

func (a *AlpacaBroker) Submit(ctx context.Context, o types.Order) (string, error) {
	tif := o.TimeInForce
	if tif == "" {
		tif = "gtc"
	}
	req := alpacaOrderRequest{
		Symbol:        o.Symbol,
		Qty:           decimal.NewFromFloat(o.Qty).String(),
		Side:          strings.ToLower(string(o.Side)),
		Type:          "market",
		TimeInForce:   tif,
		ClientOrderID: o.ClientOrderID,
	}
	var resp alpacaOrder
	if err := a.doRequest(ctx, http.MethodPost, "/v2/orders", req, &resp); err != nil {
		return "", classifyOrderError("submit "+req.Side, err)
	}
	return resp.ID, nil
}

func (a *AlpacaBroker) AssetStatus(ctx context.Context, symbol string) (types.AssetStatus, error) {
	var raw alpacaAsset
	path := "/v2/assets/" + url.PathEscape(types.BrokerSymbol(symbol))
	if err := a.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return types.AssetStatus{}, fmt.Errorf("get asset %s: %w", symbol, err)
	}
	return types.AssetStatus{Symbol: raw.Symbol, Tradable: raw.Tradable, Status: raw.Status}, nil
}

// httpError is a non-2xx response with its body.
type httpError struct {
	Status string
	Body   string
}

func (e *httpError) Error() string {
	if e.Body == "" {
		return "alpaca returned " + e.Status
	}
	return fmt.Sprintf("alpaca returned %s: %s", e.Status, e.Body)
}

func classifyOrderError(op string, err error) error {
	var he *httpError
	if !errors.As(err, &he) {
		return &types.OrderError{Op: op, Err: fmt.Errorf("%w: %v", types.ErrOrderRejected, err)}
	}
	cause := types.ErrOrderRejected
	if strings.Contains(strings.ToLower(he.Body), "insufficient balance") {
		cause = types.ErrInsufficientBalance
	}
	return &types.OrderError{Op: op, Err: cause, Payload: he.Body}
}

func (a *AlpacaBroker) doRequest(ctx context.Context, method, path string, payload, out any) error {
	endpoint := a.baseURL.JoinPath(path)
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call alpaca: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{Status: resp.Status, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode alpaca response: %w", err)
	}
	return nil
}
