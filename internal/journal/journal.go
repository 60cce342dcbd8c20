// Package journal appends buy and sell records to a SQLite file for
// after-hours review.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT    NOT NULL,
	side          TEXT    NOT NULL,
	symbol        TEXT    NOT NULL,
	name          TEXT    NOT NULL DEFAULT '',
	strategy      TEXT    NOT NULL DEFAULT '',
	level         INTEGER NOT NULL DEFAULT 0,
	price         TEXT    NOT NULL,
	qty           INTEGER NOT NULL,
	flow          TEXT    NOT NULL DEFAULT '0',
	leader        TEXT    NOT NULL DEFAULT '',
	change_rate   REAL    NOT NULL DEFAULT 0,
	reason        TEXT    NOT NULL DEFAULT '',
	reason_kind   TEXT    NOT NULL DEFAULT '',
	avg_price     TEXT    NOT NULL DEFAULT '0',
	realized      REAL    NOT NULL DEFAULT 0,
	hold_minutes  INTEGER NOT NULL DEFAULT 0,
	max_price     TEXT    NOT NULL DEFAULT '0',
	min_price     TEXT    NOT NULL DEFAULT '0',
	entry_flow    TEXT    NOT NULL DEFAULT '0',
	max_flow      TEXT    NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
`

type BuyRecord struct {
	Time       time.Time
	Symbol     string
	Name       string
	Strategy   string
	Level      int
	Price      decimal.Decimal
	Qty        int64
	Flow       decimal.Decimal
	Leader     string
	ChangeRate float64
}

type SellRecord struct {
	Time        time.Time
	Symbol      string
	Name        string
	Strategy    string
	Reason      string
	ReasonKind  string
	AvgPrice    decimal.Decimal
	Price       decimal.Decimal
	Qty         int64
	Realized    float64
	HoldMinutes int
	MaxPrice    decimal.Decimal
	MinPrice    decimal.Decimal
	EntryFlow   decimal.Decimal
	MaxFlow     decimal.Decimal
	ExitFlow    decimal.Decimal
}

// Summary aggregates the sells since a point in time.
type Summary struct {
	Sells       int
	Wins        int
	AvgRealized float64
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordBuy(ctx context.Context, r BuyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (ts, side, symbol, name, strategy, level, price, qty, flow, leader, change_rate)
		VALUES (?, 'buy', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stamp(r.Time), r.Symbol, r.Name, r.Strategy, r.Level,
		r.Price.String(), r.Qty, r.Flow.String(), r.Leader, r.ChangeRate)
	if err != nil {
		return fmt.Errorf("journal buy %s: %w", r.Symbol, err)
	}
	return nil
}

func (s *Store) RecordSell(ctx context.Context, r SellRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (ts, side, symbol, name, strategy, price, qty, flow, reason, reason_kind,
			avg_price, realized, hold_minutes, max_price, min_price, entry_flow, max_flow)
		VALUES (?, 'sell', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stamp(r.Time), r.Symbol, r.Name, r.Strategy, r.Price.String(), r.Qty, r.ExitFlow.String(),
		r.Reason, r.ReasonKind, r.AvgPrice.String(), r.Realized, r.HoldMinutes,
		r.MaxPrice.String(), r.MinPrice.String(), r.EntryFlow.String(), r.MaxFlow.String())
	if err != nil {
		return fmt.Errorf("journal sell %s: %w", r.Symbol, err)
	}
	return nil
}

// SummarySince reports realized results of sells at or after since.
func (s *Store) SummarySince(ctx context.Context, since time.Time) (Summary, error) {
	var (
		sum Summary
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN realized > 0 THEN 1 ELSE 0 END), 0), AVG(realized)
		FROM trades WHERE side = 'sell' AND ts >= ?`, stamp(since)).Scan(&sum.Sells, &sum.Wins, &avg)
	if err != nil {
		return Summary{}, fmt.Errorf("journal summary: %w", err)
	}
	sum.AvgRealized = avg.Float64
	return sum, nil
}

// stamp keeps timestamps lexically sortable.
func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
