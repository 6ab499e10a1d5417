package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/metrics"
)

// TradeService drives entries and exits: it turns scanned candidates into
// opened positions and exit triggers into closed-trade records. It is the
// only component that both mutates the ledger and writes trade history, so
// the two can never drift apart.
type TradeService struct {
	ledger     *Ledger
	allocator  *Allocator
	executor   *Executor
	strategies *StrategyStore
	trades     domain.TradeRepository
	advisor    domain.Advisor
	stream     domain.QuoteStream
	notifier   domain.Notifier
	log        *zap.Logger
}

func NewTradeService(
	ledger *Ledger,
	allocator *Allocator,
	executor *Executor,
	strategies *StrategyStore,
	trades domain.TradeRepository,
	advisor domain.Advisor,
	stream domain.QuoteStream,
	notifier domain.Notifier,
	log *zap.Logger,
) *TradeService {
	return &TradeService{
		ledger:     ledger,
		allocator:  allocator,
		executor:   executor,
		strategies: strategies,
		trades:     trades,
		advisor:    advisor,
		stream:     stream,
		notifier:   notifier,
		log:        log,
	}
}

// ProcessSignals evaluates scanned candidates and opens or extends positions.
// Per-candidate failures are logged and skipped; only a market-closed
// response propagates, because the whole session must stop on it.
func (t *TradeService) ProcessSignals(ctx context.Context, market domain.Market, candidates []domain.Candidate) error {
	// One balance refresh per batch: later candidates see the cash already
	// committed by earlier ones through the wallet mirror.
	if err := t.allocator.RefreshAndReconcile(ctx, market); err != nil {
		return err
	}
	params := t.strategies.Load(ctx, market)

	for _, cand := range candidates {
		advice, ok := ParseEntryAdvice(cand.Advice)
		if !ok {
			t.log.Warn("skipping candidate with malformed advice", zap.String("symbol", cand.Symbol))
			continue
		}
		if !strings.EqualFold(advice.Action, "BUY") || advice.Score < params.MinScore {
			t.log.Debug("candidate filtered",
				zap.String("symbol", cand.Symbol),
				zap.String("action", advice.Action),
				zap.Float64("score", advice.Score))
			continue
		}

		var err error
		if _, held := t.ledger.Get(cand.Symbol, market); held {
			err = t.addOn(ctx, market, &cand, &params)
		} else {
			err = t.openNew(ctx, market, &cand, advice, &params)
		}
		if err != nil {
			if domain.IsMarketClosed(err) {
				return err
			}
			t.log.Error("candidate entry failed", zap.String("symbol", cand.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (t *TradeService) openNew(ctx context.Context, market domain.Market, cand *domain.Candidate, advice *EntryAdvice, params *domain.StrategyParams) error {
	budget := t.allocator.BudgetForNextSlot(market)
	if budget <= 0 {
		t.log.Debug("no slot available", zap.String("market", string(market)))
		return nil
	}
	if budget < t.allocator.MinNotional(market) {
		t.log.Debug("budget below minimum order size",
			zap.String("market", string(market)), zap.Float64("budget", budget))
		return nil
	}

	fill, err := t.executor.Buy(ctx, cand.Symbol, market, cand.ExchangeCode, budget, cand.Price)
	if err != nil {
		if err == ErrZeroQuantity {
			t.log.Debug("budget too small for one share", zap.String("symbol", cand.Symbol))
			return nil
		}
		if domain.IsInsufficientFunds(err) {
			t.log.Warn("entry skipped, insufficient funds", zap.String("symbol", cand.Symbol))
			return nil
		}
		return err
	}

	targetPct := params.TargetPct
	if advice.TargetPct != nil {
		targetPct = *advice.TargetPct
	}
	stopPct := params.StopPct
	if advice.StopPct != nil {
		stopPct = t.strategies.ClampStop(market, *advice.StopPct)
	}

	pos := &domain.Position{
		Symbol:        cand.Symbol,
		Name:          cand.Name,
		Market:        market,
		ExchangeCode:  cand.ExchangeCode,
		Quantity:      fill.Quantity,
		AverageCost:   fill.Price,
		TargetPrice:   fill.Price * (1 + targetPct/100),
		StopLossPrice: fill.Price * (1 - stopPct/100),
		OpenedAt:      time.Now(),
		OrderRef:      fill.OrderID,
	}
	if err := t.ledger.Open(pos); err != nil {
		return err
	}
	metrics.SetOpenPositions(string(market), t.ledger.Count(market))
	if err := t.stream.Subscribe(cand.Symbol, market); err != nil {
		t.log.Warn("tick subscription failed, relying on REST quotes",
			zap.String("symbol", cand.Symbol), zap.Error(err))
	}

	t.notifier.Notify(fmt.Sprintf("[ENTRY] %s %s x%d @ %.2f (score %.0f)\ntarget %.2f / stop %.2f\n%s",
		market, cand.Symbol, fill.Quantity, fill.Price, advice.Score, pos.TargetPrice, pos.StopLossPrice, advice.Reason))
	return nil
}

// addOn extends an existing position when the signal repeats, capped by the
// P&L ceiling: averaging up into an already-extended move is how day trades
// turn into bag holds.
func (t *TradeService) addOn(ctx context.Context, market domain.Market, cand *domain.Candidate, params *domain.StrategyParams) error {
	pos, ok := t.ledger.Get(cand.Symbol, market)
	if !ok {
		return nil
	}
	pnl := pos.PnLPct(cand.Price)
	if pnl > params.AddOnCeilingPct {
		t.log.Debug("add-on skipped, position already extended",
			zap.String("symbol", cand.Symbol), zap.Float64("pnl_pct", pnl))
		return nil
	}

	budget := t.allocator.AddOnBudget(market)
	if budget < t.allocator.MinNotional(market) {
		return nil
	}

	fill, err := t.executor.Buy(ctx, cand.Symbol, market, pos.ExchangeCode, budget, cand.Price)
	if err != nil {
		if err == ErrZeroQuantity || domain.IsInsufficientFunds(err) {
			return nil
		}
		return err
	}

	updated, err := t.ledger.AddFill(cand.Symbol, market, fill.Quantity, fill.Price, params.TargetPct, params.StopPct)
	if err != nil {
		return err
	}
	t.notifier.Notify(fmt.Sprintf("[ADD-ON] %s %s +%d @ %.2f, now x%d @ avg %.2f",
		market, cand.Symbol, fill.Quantity, fill.Price, updated.Quantity, updated.AverageCost))
	return nil
}

// ExitPosition sells the full position and, on acceptance, removes it from
// the ledger and appends the closed-trade record. A rejected sell leaves the
// position untouched for the next tick.
func (t *TradeService) ExitPosition(ctx context.Context, pos *domain.Position, refPrice float64, result domain.TradeResult, reason string, liquidation bool) error {
	fill, err := t.executor.Sell(ctx, pos, refPrice, liquidation)
	if err != nil {
		return err
	}

	closed, err := t.ledger.Close(pos.Symbol, pos.Market)
	if err != nil {
		return err
	}
	metrics.SetOpenPositions(string(pos.Market), t.ledger.Count(pos.Market))
	if err := t.stream.Unsubscribe(pos.Symbol); err != nil {
		t.log.Warn("tick unsubscribe failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}

	t.recordClose(ctx, closed, fill.Price, result, reason)
	return nil
}

func (t *TradeService) recordClose(ctx context.Context, pos *domain.Position, exitPrice float64, result domain.TradeResult, reason string) {
	profitPct := pos.PnLPct(exitPrice)
	trade := &domain.ClosedTrade{
		ID:         uuid.NewString(),
		Symbol:     pos.Symbol,
		Name:       pos.Name,
		Market:     pos.Market,
		Quantity:   pos.Quantity,
		EntryPrice: pos.AverageCost,
		ExitPrice:  exitPrice,
		ProfitPct:  profitPct,
		Result:     result,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now(),
	}
	if err := t.trades.SaveClosedTrade(ctx, trade); err != nil {
		t.log.Error("saving closed trade failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	metrics.PositionsClosed.WithLabelValues(string(pos.Market), string(result)).Inc()

	t.notifier.Notify(fmt.Sprintf("[EXIT/%s] %s %s x%d @ %.2f (%+.2f%%)\n%s",
		result, pos.Market, pos.Symbol, pos.Quantity, exitPrice, profitPct, reason))
	t.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("market", string(pos.Market)),
		zap.String("result", string(result)),
		zap.Float64("profit_pct", profitPct))
}

// sessionStats summarizes today's closed trades for one market.
type sessionStats struct {
	Count   int
	Wins    int
	WinRate float64
	AvgPnL  float64
}

func (t *TradeService) statsSince(ctx context.Context, market domain.Market, since time.Time) (*sessionStats, []*domain.ClosedTrade, error) {
	trades, err := t.trades.ListClosedTradesSince(ctx, market, since)
	if err != nil {
		return nil, nil, err
	}
	stats := &sessionStats{Count: len(trades)}
	if stats.Count == 0 {
		return stats, trades, nil
	}
	var total float64
	for _, tr := range trades {
		total += tr.ProfitPct
		if tr.ProfitPct > 0 {
			stats.Wins++
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(stats.Count) * 100
	stats.AvgPnL = total / float64(stats.Count)
	return stats, trades, nil
}

// DailyReport sends the end-of-session summary for one market.
func (t *TradeService) DailyReport(ctx context.Context, market domain.Market, since time.Time) error {
	stats, trades, err := t.statsSince(ctx, market, since)
	if err != nil {
		return err
	}
	if stats.Count == 0 {
		t.notifier.Notify(fmt.Sprintf("[REPORT] %s session: no trades", market))
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[REPORT] %s session: %d trades, %d wins (%.0f%%), avg %+.2f%%\n",
		market, stats.Count, stats.Wins, stats.WinRate, stats.AvgPnL)
	for _, tr := range trades {
		fmt.Fprintf(&b, "%s %s x%d %+.2f%% (%s)\n", tr.Result, tr.Symbol, tr.Quantity, tr.ProfitPct, tr.Reason)
	}
	t.notifier.Notify(b.String())
	return nil
}

// TuneStrategy asks the advisory collaborator for next-session parameters
// based on today's results and persists the clamped suggestion.
func (t *TradeService) TuneStrategy(ctx context.Context, market domain.Market, since time.Time) error {
	stats, _, err := t.statsSince(ctx, market, since)
	if err != nil {
		return err
	}
	if stats.Count == 0 {
		t.log.Info("skipping strategy tuning, no trades today", zap.String("market", string(market)))
		return nil
	}

	current := t.strategies.Load(ctx, market)
	raw, err := t.advisor.TuneStrategy(ctx, &domain.TuneRequest{
		Market:     market,
		TradeCount: stats.Count,
		WinRate:    stats.WinRate,
		AvgPnLPct:  stats.AvgPnL,
		Current:    current,
	})
	if err != nil {
		return err
	}
	res, ok := ParseTuneResult(raw)
	if !ok {
		t.log.Warn("tuning response malformed, keeping current parameters", zap.String("market", string(market)))
		return nil
	}

	saved, err := t.strategies.SaveTuned(ctx, market, res)
	if err != nil {
		return err
	}
	t.notifier.Notify(fmt.Sprintf("[TUNE] %s next session: target %.2f%% / stop %.2f%%\n%s",
		market, saved.TargetPct, saved.StopPct, res.Reason))
	return nil
}
