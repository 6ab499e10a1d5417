package domain

import "time"

type Market string

const (
	MarketDomestic Market = "KR"
	MarketForeign  Market = "US"
)

// Currency returns the settlement currency for the market.
func (m Market) Currency() string {
	if m == MarketForeign {
		return "USD"
	}
	return "KRW"
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position represents one open holding tracked by the ledger.
type Position struct {
	Symbol        string
	Name          string
	Market        Market
	ExchangeCode  string // foreign venue code (NASD/NYSE/AMEX), empty for domestic
	Quantity      int64
	AverageCost   float64
	TargetPrice   float64
	StopLossPrice float64

	// Trailing stop state. HighWaterMark starts at cost basis and only rises.
	HighWaterMark  float64
	TrailingActive bool

	// OvernightHold exempts the position from forced end-of-day liquidation.
	OvernightHold bool

	OpenedAt time.Time
	OrderRef string // client order id of the opening fill
}

// PnLPct returns unrealized P&L in percent against average cost.
func (p *Position) PnLPct(currentPrice float64) float64 {
	if p.AverageCost <= 0 {
		return 0
	}
	return (currentPrice - p.AverageCost) / p.AverageCost * 100
}

// CostValue is the capital committed to the position.
func (p *Position) CostValue() float64 {
	return float64(p.Quantity) * p.AverageCost
}

type TradeResult string

const (
	ResultWin    TradeResult = "WIN"
	ResultLoss   TradeResult = "LOSS"
	ResultManual TradeResult = "MANUAL"
	ResultAIExit TradeResult = "AI_EXIT"
)

// ClosedTrade is an append-only history entry, written once when a position
// is fully closed and never mutated afterwards.
type ClosedTrade struct {
	ID         string
	Symbol     string
	Name       string
	Market     Market
	Quantity   int64
	EntryPrice float64
	ExitPrice  float64
	ProfitPct  float64
	Result     TradeResult
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}
