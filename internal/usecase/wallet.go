package usecase

import (
	"context"
	"sync"

	"github.com/davik/stock_day_trader/internal/domain"
)

// Wallet mirrors buying power per market. The authoritative numbers come
// from the gateway on Refresh; the local cash mirror is decremented
// synchronously on every accepted order so a batch of entries in the same
// tick cannot double-spend cash before the next balance poll.
type Wallet struct {
	broker domain.BrokerGateway

	mu          sync.Mutex
	cash        map[domain.Market]float64
	equity      map[domain.Market]float64
	manualSlots map[domain.Market]int
}

func NewWallet(broker domain.BrokerGateway) *Wallet {
	return &Wallet{
		broker:      broker,
		cash:        make(map[domain.Market]float64),
		equity:      make(map[domain.Market]float64),
		manualSlots: make(map[domain.Market]int),
	}
}

// Refresh pulls the authoritative balance for one market.
func (w *Wallet) Refresh(ctx context.Context, market domain.Market) error {
	bal, err := w.broker.GetBalance(ctx, market)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.cash[market] = bal.Cash
	// Some balance endpoints omit holdings value; never report equity
	// below cash on hand.
	if bal.TotalEquity < bal.Cash {
		w.equity[market] = bal.Cash
	} else {
		w.equity[market] = bal.TotalEquity
	}
	return nil
}

func (w *Wallet) Cash(market domain.Market) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cash[market]
}

func (w *Wallet) Equity(market domain.Market) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.equity[market]
}

// Spend decrements the local cash mirror after an accepted order.
func (w *Wallet) Spend(market domain.Market, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.cash[market] - amount
	if c < 0 {
		c = 0
	}
	w.cash[market] = c
}

// SetManualSlots overrides the tiered slot rule for a market.
// count <= 0 clears the override.
func (w *Wallet) SetManualSlots(market domain.Market, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if count <= 0 {
		delete(w.manualSlots, market)
		return
	}
	w.manualSlots[market] = count
}

func (w *Wallet) ManualSlots(market domain.Market) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.manualSlots[market]
	return n, ok
}
