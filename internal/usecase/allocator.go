package usecase

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/metrics"
)

// Allocator computes how much budget the next slot in a market may use.
// Slot policy: equal equity split while multiple slots remain, full
// buying-power sweep on the last slot (no diversification benefit left
// in withholding cash).
//
// RefreshAndReconcile is called once per signal batch; the budget methods
// then read the wallet mirror without touching the gateway, so the cash
// decrement from one accepted order is visible to the next candidate in
// the same batch.
type Allocator struct {
	wallet     *Wallet
	ledger     *Ledger
	reconciler *Reconciler
	cfg        map[domain.Market]*config.MarketConfig
	log        *zap.Logger
}

func NewAllocator(wallet *Wallet, ledger *Ledger, reconciler *Reconciler, cfg map[domain.Market]*config.MarketConfig, log *zap.Logger) *Allocator {
	return &Allocator{wallet: wallet, ledger: ledger, reconciler: reconciler, cfg: cfg, log: log}
}

// MaxSlots resolves the concurrent position cap: a manual override wins,
// otherwise the configured equity tiers decide.
func (a *Allocator) MaxSlots(market domain.Market, equity float64) int {
	if n, ok := a.wallet.ManualSlots(market); ok {
		return n
	}
	slots := 1
	for _, tier := range a.cfg[market].SlotTiers {
		if equity >= tier.MinEquity {
			slots = tier.MaxSlots
		}
	}
	return slots
}

// MinNotional is the smallest order the market accepts; budgets below it
// mean "skip scanning this tick", not an error.
func (a *Allocator) MinNotional(market domain.Market) float64 {
	return a.cfg[market].MinOrderNotional
}

// RefreshAndReconcile pulls the authoritative balance and verifies the
// ledger against the gateway-implied holdings value.
func (a *Allocator) RefreshAndReconcile(ctx context.Context, market domain.Market) error {
	if err := a.wallet.Refresh(ctx, market); err != nil {
		return err
	}

	cash := a.wallet.Cash(market)
	equity := a.wallet.Equity(market)
	metrics.SetEquity(market.Currency(), equity)

	// Self-healing: if the balance says we hold more stock than the
	// ledger knows about, a fill was missed or we restarted with stale
	// state. Resync before committing more capital.
	implied := equity - cash
	tracked := a.ledger.HoldingsValue(market)
	if math.Abs(implied-tracked) > a.cfg[market].ReconcileTolerance {
		a.log.Warn("equity mismatch, triggering portfolio resync",
			zap.String("market", string(market)),
			zap.Float64("implied_holdings", implied),
			zap.Float64("ledger_holdings", tracked))
		if err := a.reconciler.ResyncMarket(ctx, market); err != nil {
			a.log.Error("portfolio resync failed", zap.Error(err))
		}
	}
	return nil
}

// BudgetForNextSlot returns the budget for one new slot from the current
// wallet mirror. Returns 0 when all slots are taken.
func (a *Allocator) BudgetForNextSlot(market domain.Market) float64 {
	cash := a.wallet.Cash(market)
	equity := a.wallet.Equity(market)

	maxSlots := a.MaxSlots(market, equity)
	remaining := maxSlots - a.ledger.Count(market)
	if remaining <= 0 {
		return 0
	}

	if remaining == 1 {
		// Last slot sweep: commit all remaining buying power.
		a.log.Info("last slot allocation, using full buying power",
			zap.String("market", string(market)), zap.Float64("budget", cash))
		return cash
	}

	budget := equity / float64(maxSlots)
	if budget > cash {
		budget = cash
	}
	return budget
}

// AddOnBudget sizes an add-on fill for an already-held symbol: a standard
// equal split of equity, capped at cash. Slot limits do not apply because
// the slot is already occupied.
func (a *Allocator) AddOnBudget(market domain.Market) float64 {
	cash := a.wallet.Cash(market)
	equity := a.wallet.Equity(market)
	budget := equity / float64(a.MaxSlots(market, equity))
	if budget > cash {
		budget = cash
	}
	return budget
}
