package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/metrics"
)

// Liquidator force-closes everything at end of session. Each sweep cancels
// outstanding orders first (a resting buy that fills mid-sweep would undo
// the liquidation), waits for cancels to settle, then sells whatever the
// broker still reports, skipping positions approved to hold overnight.
type Liquidator struct {
	broker      domain.BrokerGateway
	ledger      *Ledger
	trader      *TradeService
	executor    *Executor
	settlePause time.Duration
	log         *zap.Logger
}

func NewLiquidator(broker domain.BrokerGateway, ledger *Ledger, trader *TradeService, executor *Executor, settlePause time.Duration, log *zap.Logger) *Liquidator {
	return &Liquidator{
		broker:      broker,
		ledger:      ledger,
		trader:      trader,
		executor:    executor,
		settlePause: settlePause,
		log:         log,
	}
}

// Liquidate runs one sweep and returns how many holdings still remain to be
// sold. Zero means the sweep is complete; the scheduler retries otherwise.
func (l *Liquidator) Liquidate(ctx context.Context, market domain.Market) (int, error) {
	metrics.LiquidationRetries.WithLabelValues(string(market)).Inc()

	if err := l.CancelOutstanding(ctx, market); err != nil {
		return 0, err
	}
	if err := sleepCtx(ctx, l.settlePause); err != nil {
		return 0, err
	}

	holdings, err := l.broker.GetHoldings(ctx, market)
	if err != nil {
		return 0, err
	}

	remaining := 0
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		pos, tracked := l.ledger.Get(h.Symbol, market)
		if tracked && pos.OvernightHold {
			l.log.Info("liquidation skipping overnight hold", zap.String("symbol", h.Symbol))
			continue
		}

		quote, err := l.broker.GetRealtimePrice(ctx, h.Symbol, market, h.ExchangeCode)
		if err != nil {
			if domain.IsMarketClosed(err) {
				return remaining + 1, err
			}
			l.log.Warn("liquidation quote unavailable", zap.String("symbol", h.Symbol), zap.Error(err))
			remaining++
			continue
		}

		if err := l.sellHolding(ctx, market, &h, pos, tracked, quote.Price); err != nil {
			if domain.IsMarketClosed(err) {
				return remaining + 1, err
			}
			l.log.Error("liquidation sell failed", zap.String("symbol", h.Symbol), zap.Error(err))
			remaining++
		}
	}
	return remaining, nil
}

func (l *Liquidator) sellHolding(ctx context.Context, market domain.Market, h *domain.HoldingSnapshot, pos *domain.Position, tracked bool, price float64) error {
	if tracked {
		// Sell the broker-reported quantity, not the ledger's: a partial
		// fill in between must not strand shares.
		sellPos := *pos
		sellPos.Quantity = h.Quantity
		return l.trader.ExitPosition(ctx, &sellPos, price, domain.ResultManual, "end-of-session liquidation", true)
	}

	// Untracked line (manual trade or leftover). Sell it, nothing to record.
	untracked := &domain.Position{
		Symbol:       h.Symbol,
		Name:         h.Name,
		Market:       market,
		ExchangeCode: h.ExchangeCode,
		Quantity:     h.Quantity,
		AverageCost:  h.AverageCost,
	}
	_, err := l.executor.Sell(ctx, untracked, price, true)
	return err
}

// CancelOutstanding pulls every resting order in the market. Also used on
// its own cadence during the trading window to clear stale unfilled limits.
func (l *Liquidator) CancelOutstanding(ctx context.Context, market domain.Market) error {
	orders, err := l.broker.GetOutstandingOrders(ctx, market)
	if err != nil {
		return err
	}
	for i := range orders {
		if err := l.broker.CancelOrder(ctx, &orders[i]); err != nil {
			l.log.Warn("cancel failed",
				zap.String("order_id", orders[i].OrderID),
				zap.String("symbol", orders[i].Symbol),
				zap.Error(err))
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
