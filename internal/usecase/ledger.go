package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/davik/stock_day_trader/internal/domain"
)

type ledgerKey struct {
	symbol string
	market domain.Market
}

// Ledger is the in-memory position repository. It exclusively owns all
// Position objects; every mutation goes through one of its methods so the
// invariants (positive quantity, weighted-average cost, monotonic high-water
// mark) hold no matter which component drives the change.
type Ledger struct {
	mu        sync.RWMutex
	positions map[ledgerKey]*domain.Position
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[ledgerKey]*domain.Position)}
}

// Open registers a new position. The high-water mark starts at cost basis.
func (l *Ledger) Open(pos *domain.Position) error {
	if pos.Quantity <= 0 {
		return fmt.Errorf("ledger: open %s: quantity must be positive, got %d", pos.Symbol, pos.Quantity)
	}
	if pos.AverageCost <= 0 {
		return fmt.Errorf("ledger: open %s: average cost must be positive, got %f", pos.Symbol, pos.AverageCost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey{pos.Symbol, pos.Market}
	if _, exists := l.positions[k]; exists {
		return fmt.Errorf("ledger: position already open for %s/%s", pos.Symbol, pos.Market)
	}

	p := *pos
	if p.HighWaterMark < p.AverageCost {
		p.HighWaterMark = p.AverageCost
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	l.positions[k] = &p
	return nil
}

// AddFill merges an add-on fill into an existing position using the
// fill-quantity-weighted mean, and recomputes target/stop from the new
// average. Returns a copy of the updated position.
func (l *Ledger) AddFill(symbol string, market domain.Market, addQty int64, addPrice, targetPct, stopPct float64) (*domain.Position, error) {
	if addQty <= 0 || addPrice <= 0 {
		return nil, fmt.Errorf("ledger: add fill %s: invalid qty %d or price %f", symbol, addQty, addPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[ledgerKey{symbol, market}]
	if !ok {
		return nil, fmt.Errorf("ledger: no open position for %s/%s", symbol, market)
	}

	oldQty := pos.Quantity
	newQty := oldQty + addQty
	pos.AverageCost = (float64(oldQty)*pos.AverageCost + float64(addQty)*addPrice) / float64(newQty)
	pos.Quantity = newQty
	pos.TargetPrice = pos.AverageCost * (1 + targetPct/100)
	pos.StopLossPrice = pos.AverageCost * (1 - stopPct/100)
	if pos.HighWaterMark < pos.AverageCost {
		pos.HighWaterMark = pos.AverageCost
	}

	cp := *pos
	return &cp, nil
}

// Close removes the position and returns it. The caller records the closed
// trade; the ledger itself never writes history.
func (l *Ledger) Close(symbol string, market domain.Market) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey{symbol, market}
	pos, ok := l.positions[k]
	if !ok {
		return nil, fmt.Errorf("ledger: no open position for %s/%s", symbol, market)
	}
	delete(l.positions, k)
	return pos, nil
}

// Get returns a copy; mutations must go through Update.
func (l *Ledger) Get(symbol string, market domain.Market) (*domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[ledgerKey{symbol, market}]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// Update applies fn to the stored position under the lock. The high-water
// mark is clamped afterwards so no caller can lower it.
func (l *Ledger) Update(symbol string, market domain.Market, fn func(*domain.Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[ledgerKey{symbol, market}]
	if !ok {
		return false
	}
	prevHWM := pos.HighWaterMark
	fn(pos)
	if pos.HighWaterMark < prevHWM {
		pos.HighWaterMark = prevHWM
	}
	return true
}

// List returns copies of all open positions in the market.
func (l *Ledger) List(market domain.Market) []*domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.Position
	for k, pos := range l.positions {
		if k.market == market {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out
}

func (l *Ledger) Count(market domain.Market) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for k := range l.positions {
		if k.market == market {
			n++
		}
	}
	return n
}

// HoldingsValue is the capital committed to the market: sum of
// quantity * average cost over open positions.
func (l *Ledger) HoldingsValue(market domain.Market) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for k, pos := range l.positions {
		if k.market == market {
			total += pos.CostValue()
		}
	}
	return total
}
