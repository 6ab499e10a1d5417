package domain

import (
	"context"
	"encoding/json"
	"time"
)

// StrategyParams are the reloadable per-market trading parameters. They are
// tuned between sessions and must never be hardcoded in decision paths.
type StrategyParams struct {
	TargetPct         float64 // take-profit distance from average cost, percent
	StopPct           float64 // stop-loss distance, percent (positive number)
	TrailActivatePct  float64 // unrealized P&L that arms the trailing stop
	TrailPct          float64 // retrace from high-water mark that fires the exit
	AddOnCeilingPct   float64 // max P&L at which adding to a position is allowed
	MinScore          float64 // advisory score floor for entries
	MaxDailyChangePct float64 // daily-change ceiling for entries
	RiskLossPct       float64 // advisory risk check runs below this P&L
	RiskProfitPct     float64 // ...or above this P&L
	UpdatedAt         time.Time
}

// TradeRepository stores the append-only closed-trade history.
type TradeRepository interface {
	SaveClosedTrade(ctx context.Context, trade *ClosedTrade) error
	ListClosedTrades(ctx context.Context, limit int) ([]*ClosedTrade, error)
	ListClosedTradesSince(ctx context.Context, market Market, since time.Time) ([]*ClosedTrade, error)
}

// StrategyRepository persists per-market strategy parameters between sessions.
// GetStrategy returns (nil, nil) when no tuned parameters are stored yet.
type StrategyRepository interface {
	GetStrategy(ctx context.Context, market Market) (*StrategyParams, error)
	SaveStrategy(ctx context.Context, market Market, params *StrategyParams) error
}

// Notifier pushes text to the human operator. Implementations are
// fire-and-forget: unavailability must never block trading logic.
type Notifier interface {
	Notify(text string)
}

// RiskQuery is the context handed to the advisory collaborator when asking
// for a verdict on an open position.
type RiskQuery struct {
	Symbol       string
	Name         string
	Market       Market
	CurrentPrice float64
	AverageCost  float64
	PnLPct       float64
}

// TuneRequest asks the advisory collaborator for next-session parameters
// based on today's performance.
type TuneRequest struct {
	Market     Market
	TradeCount int
	WinRate    float64
	AvgPnLPct  float64
	Current    StrategyParams
}

// Advisor is the advisory collaborator. Responses are raw JSON on purpose:
// the shape is not trusted and is validated at the usecase boundary.
// Risk checks go out as one batch per pass; the response is keyed by symbol.
type Advisor interface {
	AssessRiskBatch(ctx context.Context, qs []RiskQuery) (json.RawMessage, error)
	AssessOvernight(ctx context.Context, q *RiskQuery) (json.RawMessage, error)
	TuneStrategy(ctx context.Context, req *TuneRequest) (json.RawMessage, error)
}

// QuoteStream manages realtime tick subscriptions for tracked symbols.
// Failures are logged by callers and never block a trading decision; REST
// quotes cover unsubscribed or stale symbols.
type QuoteStream interface {
	Subscribe(symbol string, market Market) error
	Unsubscribe(symbol string) error
}

// Candidate is one entry signal produced by the scanning collaborator.
// Advice carries the raw advisory payload (score, suggested target/stop);
// malformed payloads are skipped, not propagated.
type Candidate struct {
	Symbol       string
	Name         string
	Market       Market
	ExchangeCode string
	Price        float64
	Advice       json.RawMessage
}

// CandidateSource scans a market for entry candidates within a budget.
type CandidateSource interface {
	SelectCandidates(ctx context.Context, market Market, budget float64, count int) ([]Candidate, error)
}
