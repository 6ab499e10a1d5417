package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
)

// Monitor watches open positions during the trading window. Exits follow a
// two-state rule per position: below the trailing activation threshold the
// fixed stop-loss protects the downside; once unrealized P&L arms the
// trailing stop, the position rides the trend and exits on a retrace from
// its high-water mark.
type Monitor struct {
	ledger     *Ledger
	trader     *TradeService
	broker     domain.BrokerGateway
	strategies *StrategyStore
	advisor    domain.Advisor
	notifier   domain.Notifier
	cfg        map[domain.Market]*config.MarketConfig
	log        *zap.Logger
}

func NewMonitor(
	ledger *Ledger,
	trader *TradeService,
	broker domain.BrokerGateway,
	strategies *StrategyStore,
	advisor domain.Advisor,
	notifier domain.Notifier,
	cfg map[domain.Market]*config.MarketConfig,
	log *zap.Logger,
) *Monitor {
	return &Monitor{
		ledger:     ledger,
		trader:     trader,
		broker:     broker,
		strategies: strategies,
		advisor:    advisor,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// Tick runs one monitoring pass over the market's open positions. Quote
// failures skip the position until the next tick; a market-closed response
// propagates so the session can stop.
func (m *Monitor) Tick(ctx context.Context, market domain.Market) error {
	params := m.strategies.Load(ctx, market)

	for _, pos := range m.ledger.List(market) {
		quote, err := m.broker.GetRealtimePrice(ctx, pos.Symbol, market, pos.ExchangeCode)
		if err != nil {
			if domain.IsMarketClosed(err) {
				return err
			}
			m.log.Warn("quote unavailable", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if err := m.evaluate(ctx, pos, quote.Price, &params); err != nil {
			if domain.IsMarketClosed(err) {
				return err
			}
			m.log.Error("exit attempt failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, pos *domain.Position, price float64, params *domain.StrategyParams) error {
	if !pos.TrailingActive {
		if price <= pos.StopLossPrice {
			return m.trader.ExitPosition(ctx, pos, price, domain.ResultLoss,
				fmt.Sprintf("stop loss hit at %.2f (stop %.2f)", price, pos.StopLossPrice), false)
		}
		if pos.PnLPct(price) >= params.TrailActivatePct {
			m.ledger.Update(pos.Symbol, pos.Market, func(p *domain.Position) {
				p.TrailingActive = true
				p.HighWaterMark = price
			})
			m.log.Info("trailing stop armed",
				zap.String("symbol", pos.Symbol),
				zap.Float64("price", price),
				zap.Float64("pnl_pct", pos.PnLPct(price)))
		}
		return nil
	}

	// Trailing active: ratchet the mark up, exit on the retrace.
	hwm := pos.HighWaterMark
	if price > hwm {
		hwm = price
		m.ledger.Update(pos.Symbol, pos.Market, func(p *domain.Position) {
			p.HighWaterMark = price
		})
	}
	floor := hwm * (1 - params.TrailPct/100)
	if price <= floor {
		return m.trader.ExitPosition(ctx, pos, price, domain.ResultWin,
			fmt.Sprintf("trailing stop: retraced to %.2f from high %.2f", price, hwm), false)
	}
	return nil
}

// RiskCheck asks the advisory collaborator about positions whose P&L has
// moved past either attention threshold. All flagged positions go out in a
// single batch query; runs on its own cadence, not every tick, so advisory
// latency never slows price monitoring. A symbol missing from the response
// holds by default.
func (m *Monitor) RiskCheck(ctx context.Context, market domain.Market) {
	params := m.strategies.Load(ctx, market)

	var queries []domain.RiskQuery
	prices := make(map[string]float64)
	for _, pos := range m.ledger.List(market) {
		quote, err := m.broker.GetRealtimePrice(ctx, pos.Symbol, market, pos.ExchangeCode)
		if err != nil {
			continue
		}
		pnl := pos.PnLPct(quote.Price)
		if pnl > -params.RiskLossPct && pnl < params.RiskProfitPct {
			continue
		}
		queries = append(queries, domain.RiskQuery{
			Symbol:       pos.Symbol,
			Name:         pos.Name,
			Market:       market,
			CurrentPrice: quote.Price,
			AverageCost:  pos.AverageCost,
			PnLPct:       pnl,
		})
		prices[pos.Symbol] = quote.Price
	}
	if len(queries) == 0 {
		return
	}

	raw, err := m.advisor.AssessRiskBatch(ctx, queries)
	if err != nil {
		m.log.Warn("risk assessment failed", zap.String("market", string(market)), zap.Error(err))
		return
	}
	verdicts := ParseBatchRiskVerdicts(raw)

	for _, q := range queries {
		verdict, ok := verdicts[q.Symbol]
		if !ok {
			m.log.Warn("risk verdict missing or malformed, holding", zap.String("symbol", q.Symbol))
			continue
		}
		if verdict.Decision != "SELL" && verdict.Decision != "LIQUIDATE" {
			continue
		}
		pos, ok := m.ledger.Get(q.Symbol, market)
		if !ok {
			continue
		}

		reason := fmt.Sprintf("risk check: %s", verdict.Reason)
		if err := m.trader.ExitPosition(ctx, pos, prices[q.Symbol], domain.ResultAIExit, reason, false); err != nil {
			m.log.Error("risk exit failed", zap.String("symbol", q.Symbol), zap.Error(err))
		}
	}
}

// ReviewOvernight runs once before liquidation and marks positions worth
// carrying into the next session. Positions at a loss deeper than the
// configured cap are never held; everything else is put to the advisory
// collaborator and held only on an explicit HOLD.
func (m *Monitor) ReviewOvernight(ctx context.Context, market domain.Market) {
	maxLoss := m.cfg[market].OvernightMaxLossPct

	for _, pos := range m.ledger.List(market) {
		quote, err := m.broker.GetRealtimePrice(ctx, pos.Symbol, market, pos.ExchangeCode)
		if err != nil {
			continue
		}
		pnl := pos.PnLPct(quote.Price)
		if pnl <= -maxLoss {
			m.log.Info("overnight hold refused, loss too deep",
				zap.String("symbol", pos.Symbol), zap.Float64("pnl_pct", pnl))
			continue
		}

		raw, err := m.advisor.AssessOvernight(ctx, &domain.RiskQuery{
			Symbol:       pos.Symbol,
			Name:         pos.Name,
			Market:       market,
			CurrentPrice: quote.Price,
			AverageCost:  pos.AverageCost,
			PnLPct:       pnl,
		})
		if err != nil {
			continue
		}
		verdict, ok := ParseRiskVerdict(raw)
		if !ok || verdict.Decision != "HOLD" {
			continue
		}

		m.ledger.Update(pos.Symbol, market, func(p *domain.Position) {
			p.OvernightHold = true
		})
		m.notifier.Notify(fmt.Sprintf("[OVERNIGHT] holding %s %s (%+.2f%%)\n%s",
			market, pos.Symbol, pnl, verdict.Reason))
	}
}
