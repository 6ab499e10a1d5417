package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
)

// Reconciler repairs drift between the in-memory ledger and the broker's
// view of the account: fills missed during a restart, manual trades made
// outside the bot, settled-out lines the ledger still carries.
type Reconciler struct {
	broker     domain.BrokerGateway
	ledger     *Ledger
	strategies *StrategyStore
	stream     domain.QuoteStream
	log        *zap.Logger
}

func NewReconciler(broker domain.BrokerGateway, ledger *Ledger, strategies *StrategyStore, stream domain.QuoteStream, log *zap.Logger) *Reconciler {
	return &Reconciler{broker: broker, ledger: ledger, strategies: strategies, stream: stream, log: log}
}

// Resync reconciles both markets. Used at boot before any trading decision.
func (r *Reconciler) Resync(ctx context.Context) error {
	for _, market := range []domain.Market{domain.MarketDomestic, domain.MarketForeign} {
		if err := r.ResyncMarket(ctx, market); err != nil {
			return err
		}
	}
	return nil
}

// ResyncMarket adopts broker holdings the ledger does not know about and
// drops ledger entries the broker explicitly reports as zero quantity.
// Positions merely absent from the response are kept: a truncated holdings
// payload must not erase tracked state.
func (r *Reconciler) ResyncMarket(ctx context.Context, market domain.Market) error {
	holdings, err := r.broker.GetHoldings(ctx, market)
	if err != nil {
		return err
	}

	params := r.strategies.Load(ctx, market)
	reported := make(map[string]int64, len(holdings))

	for _, h := range holdings {
		reported[h.Symbol] = h.Quantity
		if h.Quantity <= 0 {
			continue
		}
		if _, ok := r.ledger.Get(h.Symbol, market); ok {
			continue
		}

		pos := &domain.Position{
			Symbol:        h.Symbol,
			Name:          h.Name,
			Market:        market,
			ExchangeCode:  h.ExchangeCode,
			Quantity:      h.Quantity,
			AverageCost:   h.AverageCost,
			TargetPrice:   h.AverageCost * (1 + params.TargetPct/100),
			StopLossPrice: h.AverageCost * (1 - params.StopPct/100),
			OpenedAt:      time.Now(),
		}
		if err := r.ledger.Open(pos); err != nil {
			r.log.Error("resync: adopting holding failed",
				zap.String("symbol", h.Symbol), zap.Error(err))
			continue
		}
		if err := r.stream.Subscribe(h.Symbol, market); err != nil {
			r.log.Warn("resync: tick subscription failed",
				zap.String("symbol", h.Symbol), zap.Error(err))
		}
		r.log.Info("resync: adopted untracked holding",
			zap.String("symbol", h.Symbol),
			zap.String("market", string(market)),
			zap.Int64("qty", h.Quantity),
			zap.Float64("avg_cost", h.AverageCost))
	}

	for _, pos := range r.ledger.List(market) {
		qty, ok := reported[pos.Symbol]
		if ok && qty <= 0 {
			if _, err := r.ledger.Close(pos.Symbol, market); err == nil {
				if err := r.stream.Unsubscribe(pos.Symbol); err != nil {
					r.log.Warn("resync: tick unsubscribe failed",
						zap.String("symbol", pos.Symbol), zap.Error(err))
				}
				r.log.Info("resync: dropped settled-out position",
					zap.String("symbol", pos.Symbol),
					zap.String("market", string(market)))
			}
		}
	}
	return nil
}
