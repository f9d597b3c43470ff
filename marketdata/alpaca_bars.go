package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evdnx/gotsma/types"
)

// AlpacaDataURL is the market-data REST endpoint.
const AlpacaDataURL = "https://data.alpaca.markets"

// AlpacaBars reads crypto bars from the Alpaca v1beta3 data API.
type AlpacaBars struct {
	baseURL    *url.URL
	httpClient *http.Client
	keyID      string
	secret     string
}

func NewAlpacaBars(baseURL, keyID, secret string, timeout time.Duration) (*AlpacaBars, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = AlpacaDataURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse alpaca data url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AlpacaBars{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		keyID:      keyID,
		secret:     secret,
	}, nil
}

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

type alpacaBarsResponse struct {
	Bars map[string][]alpacaBar `json:"bars"`
}

// Bars returns up to limit bars. An empty answer is ErrDataUnavailable.
func (a *AlpacaBars) Bars(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	endpoint := a.baseURL.JoinPath("/v1beta3/crypto/us/bars")
	q := endpoint.Query()
	q.Set("symbols", symbol)
	q.Set("timeframe", string(tf))
	q.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build bars request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secret)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w: %v", types.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch bars: %w: %s: %s", types.ErrDataUnavailable,
			resp.Status, strings.TrimSpace(string(data)))
	}
	var body alpacaBarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	raw := body.Bars[symbol]
	if len(raw) == 0 {
		return nil, fmt.Errorf("no bars for %s: %w", symbol, types.ErrDataUnavailable)
	}
	out := make([]types.Bar, 0, len(raw))
	for _, b := range raw {
		out = append(out, types.Bar{Time: b.T, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V})
	}
	return out, nil
}
