// Package store persists the trade log, the per-symbol TP/SL cache and the
// closed-position history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/evdnx/gotsma/types"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// EntryTolerance is the relative entry-price distance within which a cached
// TP/SL still belongs to the current position.
const EntryTolerance = 0.01

// TPSL is a cached TP/SL pair for a symbol.
type TPSL struct {
	Symbol        string
	EntryPrice    float64
	TakeProfitPct float64
	StopLossPct   float64
	UpdatedAt     time.Time
}

// WithinTolerance reports whether cached was written for entry.
func WithinTolerance(cachedEntry, entry float64) bool {
	if entry <= 0 {
		return false
	}
	return math.Abs(cachedEntry-entry)/entry < EntryTolerance
}

// SQLiteStore is safe for concurrent use; writes are serialized.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, multierr.Append(fmt.Errorf("set WAL mode: %w", err), db.Close())
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate: %w", err), db.Close())
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT,
			qty         REAL,
			price       REAL,
			entry_price REAL,
			pnl         REAL,
			pnl_pct     REAL,
			reason      TEXT,
			order_id    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_symbol ON trade_events(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS tpsl_cache (
			symbol      TEXT PRIMARY KEY,
			entry_price REAL NOT NULL,
			take_profit REAL NOT NULL,
			stop_loss   REAL NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS closed_positions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol      TEXT NOT NULL,
			entry_price REAL,
			exit_price  REAL,
			qty         REAL,
			pnl         REAL,
			reason      TEXT,
			exit_time   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_symbol ON closed_positions(symbol, exit_time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return multierr.Append(err, s.db.Close())
}

// Record appends a trade event.
func (s *SQLiteStore) Record(ctx context.Context, ev types.TradeEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_events (timestamp, kind, symbol, side, qty, price, entry_price, pnl, pnl_pct, reason, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.UnixMilli(), string(ev.Kind), ev.Symbol, string(ev.Side), ev.Qty, ev.Price,
		ev.EntryPrice, ev.PnL, ev.PnLPct, ev.Reason, ev.OrderID)
	if err != nil {
		return fmt.Errorf("record trade event: %w", err)
	}
	return nil
}

// Events returns the newest trade events for symbol, newest first.
func (s *SQLiteStore) Events(ctx context.Context, symbol string, limit int) ([]types.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, kind, symbol, side, qty, price, entry_price, pnl, pnl_pct, reason, order_id
		 FROM trade_events WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.TradeEvent
	for rows.Next() {
		var ev types.TradeEvent
		var ts int64
		var kind, side string
		if err := rows.Scan(&ts, &kind, &ev.Symbol, &side, &ev.Qty, &ev.Price, &ev.EntryPrice,
			&ev.PnL, &ev.PnLPct, &ev.Reason, &ev.OrderID); err != nil {
			return nil, err
		}
		ev.Time = time.UnixMilli(ts)
		ev.Kind = types.TradeEventKind(kind)
		ev.Side = types.Side(side)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveTPSL stores the TP/SL used for a position opened at entry.
func (s *SQLiteStore) SaveTPSL(ctx context.Context, v TPSL) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tpsl_cache (symbol, entry_price, take_profit, stop_loss, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET entry_price = excluded.entry_price,
		   take_profit = excluded.take_profit, stop_loss = excluded.stop_loss,
		   updated_at = excluded.updated_at`,
		v.Symbol, v.EntryPrice, v.TakeProfitPct, v.StopLossPct, v.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save tp/sl: %w", err)
	}
	return nil
}

// LoadTPSL returns the cached TP/SL for symbol when it was written for an
// entry within EntryTolerance of entry. A stale entry is deleted and
// ok=false is returned.
func (s *SQLiteStore) LoadTPSL(ctx context.Context, symbol string, entry float64) (TPSL, bool, error) {
	v := TPSL{Symbol: symbol}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT entry_price, take_profit, stop_loss, updated_at FROM tpsl_cache WHERE symbol = ?`, symbol,
	).Scan(&v.EntryPrice, &v.TakeProfitPct, &v.StopLossPct, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return TPSL{}, false, nil
	}
	if err != nil {
		return TPSL{}, false, fmt.Errorf("load tp/sl: %w", err)
	}
	v.UpdatedAt = time.UnixMilli(updated)
	if !WithinTolerance(v.EntryPrice, entry) {
		return TPSL{}, false, s.ClearTPSL(ctx, symbol)
	}
	return v, true, nil
}

func (s *SQLiteStore) ClearTPSL(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tpsl_cache WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("clear tp/sl: %w", err)
	}
	return nil
}

// RecordClosed appends to the closed-position history.
func (s *SQLiteStore) RecordClosed(ctx context.Context, c types.ClosedPosition) error {
	if c.ExitTime.IsZero() {
		c.ExitTime = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO closed_positions (symbol, entry_price, exit_price, qty, pnl, reason, exit_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Symbol, c.EntryPrice, c.ExitPrice, c.Qty, c.PnL, c.Reason, c.ExitTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("record closed position: %w", err)
	}
	return nil
}

// RecentClosed returns up to n closed positions for symbol, newest first.
func (s *SQLiteStore) RecentClosed(ctx context.Context, symbol string, n int) ([]types.ClosedPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, entry_price, exit_price, qty, pnl, reason, exit_time
		 FROM closed_positions WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("recent closed: %w", err)
	}
	defer rows.Close()
	var out []types.ClosedPosition
	for rows.Next() {
		var c types.ClosedPosition
		var ts int64
		if err := rows.Scan(&c.Symbol, &c.EntryPrice, &c.ExitPrice, &c.Qty, &c.PnL, &c.Reason, &ts); err != nil {
			return nil, err
		}
		c.ExitTime = time.UnixMilli(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}
