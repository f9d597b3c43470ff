package marketdata

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/evdnx/gotsma/logger"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// FinnhubURL is the trade stream endpoint.
const FinnhubURL = "wss://ws.finnhub.io"

const (
	defaultReconnectDelay = 5 * time.Second
	defaultReadTimeout    = 90 * time.Second
)

// FinnhubSymbol maps "BTC/USD" to the Coinbase feed symbol "COINBASE:BTC-USD".
func FinnhubSymbol(symbol string) string {
	return "COINBASE:" + strings.ReplaceAll(symbol, "/", "-")
}

// LiveFeed streams trade prices into a PriceCell and reconnects after a
// fixed delay whenever the connection drops.
type LiveFeed struct {
	URL            string
	Token          string
	Symbol         string
	Cell           *PriceCell
	Log            logger.Logger
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	// OnPrice, if set, observes every accepted price.
	OnPrice func(float64)
}

func NewLiveFeed(token, symbol string, cell *PriceCell, log logger.Logger) *LiveFeed {
	return &LiveFeed{
		URL:            FinnhubURL,
		Token:          token,
		Symbol:         symbol,
		Cell:           cell,
		Log:            log,
		ReconnectDelay: defaultReconnectDelay,
		ReadTimeout:    defaultReadTimeout,
	}
}

// Run connects and reads until ctx is cancelled.
func (f *LiveFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.Log.Warn("live_feed_disconnected", logger.Err(err), logger.Duration("retry_in", f.ReconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.ReconnectDelay):
		}
	}
}

func (f *LiveFeed) dialURL() (string, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return "", err
	}
	if f.Token != "" {
		q := u.Query()
		q.Set("token", f.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (f *LiveFeed) session(ctx context.Context) error {
	target, err := f.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})

	sub := map[string]string{"type": "subscribe", "symbol": FinnhubSymbol(f.Symbol)}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.Log.Info("live_feed_connected", logger.String("symbol", sub["symbol"]))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		if p, ok := ParseTradePrice(msg); ok {
			if f.Cell.Set(p) && f.OnPrice != nil {
				f.OnPrice(p)
			}
		}
	}
}

// ParseTradePrice extracts the first trade price from a Finnhub message
// ({"type":"trade","data":[{"p":...}]}). Pings and other types are ignored.
func ParseTradePrice(msg []byte) (float64, bool) {
	if !gjson.ValidBytes(msg) {
		return 0, false
	}
	if gjson.GetBytes(msg, "type").String() != "trade" {
		return 0, false
	}
	p := gjson.GetBytes(msg, "data.0.p")
	if !p.Exists() || p.Type != gjson.Number {
		return 0, false
	}
	return p.Float(), true
}

var errNoToken = errors.New("live feed token is empty")

// Validate reports configuration problems before Run is started.
func (f *LiveFeed) Validate() error {
	if f.Token == "" {
		return errNoToken
	}
	return nil
}
