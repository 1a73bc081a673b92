package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PolyBot/internal/domain/models"
)

// ClickHouseTradeStore persists closed trades and daily summaries.
type ClickHouseTradeStore struct {
	db       *sql.DB
	database string
}

// NewClickHouseTradeStore wraps an open connection pool.
func NewClickHouseTradeStore(db *sql.DB, database string) *ClickHouseTradeStore {
	if database == "" {
		database = "polybot"
	}
	return &ClickHouseTradeStore{db: db, database: database}
}

func (s *ClickHouseTradeStore) tradesTable() string  { return s.database + ".trades" }
func (s *ClickHouseTradeStore) summaryTable() string { return s.database + ".daily_summaries" }

// Init ensures the database and tables exist.
func (s *ClickHouseTradeStore) Init(ctx context.Context) error {
	stmts := []string{
		"CREATE DATABASE IF NOT EXISTS " + s.database,
		`CREATE TABLE IF NOT EXISTS ` + s.tradesTable() + ` (
			id String,
			position_id String,
			asset LowCardinality(String),
			timeframe LowCardinality(String),
			market_slug String,
			direction LowCardinality(String),
			entry_price Float64,
			exit_price Float64,
			size_usdc Float64,
			fees_usdc Float64,
			pnl_usdc Float64,
			exit_reason LowCardinality(String),
			opened_at DateTime64(3),
			closed_at DateTime64(3),
			hold_secs Int64,
			confidence Float64,
			win UInt8
		) ENGINE = MergeTree ORDER BY (asset, timeframe, closed_at)`,
		`CREATE TABLE IF NOT EXISTS ` + s.summaryTable() + ` (
			date Date,
			trades Int64,
			wins Int64,
			losses Int64,
			pnl_usdc Float64,
			fees_usdc Float64,
			volume_usdc Float64
		) ENGINE = ReplacingMergeTree ORDER BY date`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("trade store init: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseTradeStore) InsertTrade(ctx context.Context, t *models.Trade) error {
	win := uint8(0)
	if t.Win {
		win = 1
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.tradesTable()+
			" (id, position_id, asset, timeframe, market_slug, direction, entry_price, exit_price, size_usdc, fees_usdc, pnl_usdc, exit_reason, opened_at, closed_at, hold_secs, confidence, win)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.PositionID, string(t.Asset), string(t.Timeframe), t.MarketSlug, string(t.Direction),
		t.EntryPrice, t.ExitPrice, t.SizeUSDC, t.FeesUSDC, t.PnLUSDC, string(t.ExitReason),
		time.UnixMilli(t.OpenedAt).UTC(), time.UnixMilli(t.ClosedAt).UTC(), t.HoldSecs, t.Confidence, win,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) UpsertDailySummary(ctx context.Context, d *models.DailySummary) error {
	date, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return fmt.Errorf("daily summary date %q: %w", d.Date, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+s.summaryTable()+
			" (date, trades, wins, losses, pnl_usdc, fees_usdc, volume_usdc) VALUES (?, ?, ?, ?, ?, ?, ?)",
		date, d.Trades, d.Wins, d.Losses, d.PnLUSDC, d.FeesUSDC, d.VolumeUSDC,
	)
	if err != nil {
		return fmt.Errorf("upsert daily summary %s: %w", d.Date, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) QueryTrades(ctx context.Context, asset models.Asset, from, to time.Time, limit int) ([]models.Trade, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, position_id, asset, timeframe, market_slug, direction, entry_price, exit_price, size_usdc, fees_usdc, pnl_usdc, exit_reason, hold_secs, confidence, win, toUnixTimestamp64Milli(opened_at), toUnixTimestamp64Milli(closed_at)"+
			" FROM "+s.tradesTable()+
			" WHERE asset = ? AND closed_at >= ? AND closed_at <= ? ORDER BY closed_at DESC LIMIT ?",
		string(asset), from.UTC(), to.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var asset, tf, dir, reason string
		var win uint8
		if err := rows.Scan(&t.ID, &t.PositionID, &asset, &tf, &t.MarketSlug, &dir,
			&t.EntryPrice, &t.ExitPrice, &t.SizeUSDC, &t.FeesUSDC, &t.PnLUSDC, &reason,
			&t.HoldSecs, &t.Confidence, &win, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Asset = models.Asset(asset)
		t.Timeframe = models.Timeframe(tf)
		t.Direction = models.Direction(dir)
		t.ExitReason = models.ExitReason(reason)
		t.Win = win == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ClickHouseTradeStore) Close() error { return nil }
