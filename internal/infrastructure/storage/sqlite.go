package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davik/stock_day_trader/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT,
			market TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			profit_pct REAL NOT NULL,
			result TEXT NOT NULL,
			reason TEXT,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_market_closed_at ON closed_trades(market, closed_at);`,
		`CREATE TABLE IF NOT EXISTS strategy_params (
			market TEXT PRIMARY KEY,
			target_pct REAL NOT NULL,
			stop_pct REAL NOT NULL,
			trail_activate_pct REAL NOT NULL,
			trail_pct REAL NOT NULL,
			add_on_ceiling_pct REAL NOT NULL,
			min_score REAL NOT NULL,
			max_daily_change_pct REAL NOT NULL,
			risk_loss_pct REAL NOT NULL,
			risk_profit_pct REAL NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS api_tokens (
			key TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// TradeRepository Implementation

func (s *SQLiteStore) SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	query := `INSERT INTO closed_trades (id, symbol, name, market, quantity, entry_price, exit_price, profit_pct, result, reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, trade.Name, trade.Market, trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.ProfitPct, trade.Result, trade.Reason,
		trade.OpenedAt, trade.ClosedAt)
	return err
}

func (s *SQLiteStore) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	query := `SELECT id, symbol, name, market, quantity, entry_price, exit_price, profit_pct, result, reason, opened_at, closed_at
			  FROM closed_trades ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func (s *SQLiteStore) ListClosedTradesSince(ctx context.Context, market domain.Market, since time.Time) ([]*domain.ClosedTrade, error) {
	query := `SELECT id, symbol, name, market, quantity, entry_price, exit_price, profit_pct, result, reason, opened_at, closed_at
			  FROM closed_trades WHERE market = ? AND closed_at >= ? ORDER BY closed_at ASC`
	rows, err := s.db.QueryContext(ctx, query, market, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func scanClosedTrades(rows *sql.Rows) ([]*domain.ClosedTrade, error) {
	var trades []*domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &t.Market, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &t.ProfitPct, &t.Result, &t.Reason,
			&t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// StrategyRepository Implementation

func (s *SQLiteStore) GetStrategy(ctx context.Context, market domain.Market) (*domain.StrategyParams, error) {
	query := `SELECT target_pct, stop_pct, trail_activate_pct, trail_pct, add_on_ceiling_pct, min_score, max_daily_change_pct, risk_loss_pct, risk_profit_pct, updated_at
			  FROM strategy_params WHERE market = ?`
	row := s.db.QueryRowContext(ctx, query, market)

	var p domain.StrategyParams
	err := row.Scan(&p.TargetPct, &p.StopPct, &p.TrailActivatePct, &p.TrailPct,
		&p.AddOnCeilingPct, &p.MinScore, &p.MaxDailyChangePct, &p.RiskLossPct,
		&p.RiskProfitPct, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) SaveStrategy(ctx context.Context, market domain.Market, params *domain.StrategyParams) error {
	query := `INSERT INTO strategy_params (market, target_pct, stop_pct, trail_activate_pct, trail_pct, add_on_ceiling_pct, min_score, max_daily_change_pct, risk_loss_pct, risk_profit_pct, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(market) DO UPDATE SET
			  target_pct=excluded.target_pct,
			  stop_pct=excluded.stop_pct,
			  trail_activate_pct=excluded.trail_activate_pct,
			  trail_pct=excluded.trail_pct,
			  add_on_ceiling_pct=excluded.add_on_ceiling_pct,
			  min_score=excluded.min_score,
			  max_daily_change_pct=excluded.max_daily_change_pct,
			  risk_loss_pct=excluded.risk_loss_pct,
			  risk_profit_pct=excluded.risk_profit_pct,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		market, params.TargetPct, params.StopPct, params.TrailActivatePct, params.TrailPct,
		params.AddOnCeilingPct, params.MinScore, params.MaxDailyChangePct,
		params.RiskLossPct, params.RiskProfitPct, params.UpdatedAt)
	return err
}

// Token cache. Access tokens are rate-limited at issuance, so they survive
// restarts here.

func (s *SQLiteStore) GetToken(ctx context.Context, key string) (string, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, expires_at FROM api_tokens WHERE key = ?`, key)
	var token string
	var expiresAt time.Time
	err := row.Scan(&token, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *SQLiteStore) SaveToken(ctx context.Context, key, token string, expiresAt time.Time) error {
	query := `INSERT INTO api_tokens (key, token, expires_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET token=excluded.token, expires_at=excluded.expires_at`
	_, err := s.db.ExecContext(ctx, query, key, token, expiresAt)
	return err
}
