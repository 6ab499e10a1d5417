package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/metrics"
)

// Scheduler drives one market through its daily session: scan window, trade
// window, forced liquidation, then the post-close report. Each market runs
// its own Scheduler because the two sessions overlap nothing, not even a
// calendar day (the foreign session crosses midnight).
//
// Tick is called about once per second from the main loop. All work happens
// inline in the tick; a slow broker call delays the next tick rather than
// stacking goroutines.
type Scheduler struct {
	market     domain.Market
	cfg        *config.MarketConfig
	trader     *TradeService
	monitor    *Monitor
	liquidator *Liquidator
	allocator  *Allocator
	candidates domain.CandidateSource
	strategies *StrategyStore
	notifier   domain.Notifier
	log        *zap.Logger

	scanInterval    time.Duration
	riskInterval    time.Duration
	cleanupInterval time.Duration
	retryInterval   time.Duration
	extraCandidates int

	paused *atomic.Bool
	clock  func() time.Time

	mu           sync.Mutex
	state        domain.SessionState
	wasInSession bool
	sessionStart time.Time
}

// SchedulerDeps bundles the collaborators for one market's scheduler.
type SchedulerDeps struct {
	Trader     *TradeService
	Monitor    *Monitor
	Liquidator *Liquidator
	Allocator  *Allocator
	Candidates domain.CandidateSource
	Strategies *StrategyStore
	Notifier   domain.Notifier
	Log        *zap.Logger
}

func NewScheduler(market domain.Market, cfg *config.Config, marketCfg *config.MarketConfig, deps SchedulerDeps, paused *atomic.Bool) *Scheduler {
	return &Scheduler{
		market:          market,
		cfg:             marketCfg,
		trader:          deps.Trader,
		monitor:         deps.Monitor,
		liquidator:      deps.Liquidator,
		allocator:       deps.Allocator,
		candidates:      deps.Candidates,
		strategies:      deps.Strategies,
		notifier:        deps.Notifier,
		log:             deps.Log,
		scanInterval:    time.Duration(cfg.Scan.IntervalMin) * time.Minute,
		riskInterval:    time.Duration(cfg.RiskCheckIntervalMin) * time.Minute,
		cleanupInterval: time.Duration(cfg.OrderCleanupIntervalSec) * time.Second,
		retryInterval:   time.Duration(cfg.Liquidation.RetrySec) * time.Second,
		extraCandidates: cfg.Scan.ExtraCandidate,
		paused:          paused,
		clock:           time.Now,
		state:           domain.SessionState{Phase: domain.PhaseIdle},
	}
}

// SetClock replaces the time source. Test hook.
func (s *Scheduler) SetClock(clock func() time.Time) { s.clock = clock }

// State returns a snapshot of the session state machine.
func (s *Scheduler) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tradingDay resolves which weekday the current session belongs to. For a
// session that crosses midnight, ticks after midnight still belong to the
// previous day's session.
func (s *Scheduler) tradingDay(now time.Time) time.Weekday {
	tod := config.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	if s.cfg.SessionEnd.Before(s.cfg.Open) && !s.cfg.SessionEnd.Before(tod) {
		return now.AddDate(0, 0, -1).Weekday()
	}
	return now.Weekday()
}

// Tick advances the session state machine by one step.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.paused.Load() {
		return
	}

	now := s.clock()
	tod := config.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}

	if wd := s.tradingDay(now); wd == time.Saturday || wd == time.Sunday {
		s.setPhase(domain.PhaseIdle)
		return
	}

	inSession := config.InRange(s.cfg.Open, s.cfg.SessionEnd, tod)

	s.mu.Lock()
	if inSession && !s.wasInSession {
		// New session: clear flags, including yesterday's circuit breaker.
		s.state = domain.SessionState{Phase: domain.PhaseIdle}
		s.sessionStart = now
		s.strategies.Reload(s.market)
		s.log.Info("session opened", zap.String("market", string(s.market)))
	}
	s.wasInSession = inSession
	tripped := s.state.CircuitBreakerTripped
	s.mu.Unlock()

	if !inSession {
		s.setPhase(domain.PhaseIdle)
		return
	}
	if tripped {
		s.setPhase(domain.PhaseClosed)
		return
	}

	switch {
	case config.InRange(s.cfg.Close, s.cfg.SessionEnd, tod):
		s.tickClosed(ctx, now)
	case config.InRange(s.cfg.LiquidateAt, s.cfg.Close, tod):
		s.tickLiquidation(ctx, now)
	case config.InRange(s.cfg.TradeStart, s.cfg.LiquidateAt, tod):
		s.tickTrading(ctx, now, tod)
	case config.InRange(s.cfg.ScanStart, s.cfg.ScanEnd, tod):
		s.setPhase(domain.PhaseScanning)
		s.tickScan(ctx, now)
	default:
		s.setPhase(domain.PhaseIdle)
	}
}

func (s *Scheduler) setPhase(phase domain.SessionPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != phase {
		s.log.Info("phase change",
			zap.String("market", string(s.market)),
			zap.String("from", string(s.state.Phase)),
			zap.String("to", string(phase)))
		s.state.Phase = phase
	}
}

func (s *Scheduler) tickScan(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := s.state.LastScanAt.IsZero() || now.Sub(s.state.LastScanAt) >= s.scanInterval
	if due {
		s.state.LastScanAt = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	if err := s.allocator.RefreshAndReconcile(ctx, s.market); err != nil {
		if domain.IsMarketClosed(err) {
			s.TripBreaker(err.Error())
			return
		}
		s.log.Error("scan budget check failed", zap.String("market", string(s.market)), zap.Error(err))
		return
	}
	budget := s.allocator.BudgetForNextSlot(s.market)
	if budget < s.allocator.MinNotional(s.market) {
		s.log.Debug("scan skipped, no budget", zap.String("market", string(s.market)))
		return
	}

	count := s.allocator.MaxSlots(s.market, s.allocator.wallet.Equity(s.market)) + s.extraCandidates
	cands, err := s.candidates.SelectCandidates(ctx, s.market, budget, count)
	if err != nil {
		s.log.Error("candidate selection failed", zap.String("market", string(s.market)), zap.Error(err))
		return
	}
	if len(cands) == 0 {
		return
	}

	if err := s.trader.ProcessSignals(ctx, s.market, cands); err != nil {
		if domain.IsMarketClosed(err) {
			s.TripBreaker(err.Error())
			return
		}
		s.log.Error("processing signals failed", zap.String("market", string(s.market)), zap.Error(err))
	}
}

func (s *Scheduler) tickTrading(ctx context.Context, now time.Time, tod config.TimeOfDay) {
	s.setPhase(domain.PhaseTrading)

	if err := s.monitor.Tick(ctx, s.market); err != nil {
		if domain.IsMarketClosed(err) {
			s.TripBreaker(err.Error())
		}
		return
	}

	s.mu.Lock()
	cleanupDue := s.state.LastOrderCleanupAt.IsZero() || now.Sub(s.state.LastOrderCleanupAt) >= s.cleanupInterval
	if cleanupDue {
		s.state.LastOrderCleanupAt = now
	}
	riskDue := s.state.LastRiskCheckAt.IsZero() || now.Sub(s.state.LastRiskCheckAt) >= s.riskInterval
	if riskDue {
		s.state.LastRiskCheckAt = now
	}
	s.mu.Unlock()

	if cleanupDue {
		if err := s.liquidator.CancelOutstanding(ctx, s.market); err != nil {
			s.log.Warn("order cleanup failed", zap.String("market", string(s.market)), zap.Error(err))
		}
	}
	if riskDue {
		s.monitor.RiskCheck(ctx, s.market)
	}

	// The scan window overlaps the trade window; keep scanning while it lasts.
	if config.InRange(s.cfg.ScanStart, s.cfg.ScanEnd, tod) {
		s.tickScan(ctx, now)
	}
}

func (s *Scheduler) tickLiquidation(ctx context.Context, now time.Time) {
	s.setPhase(domain.PhaseLiquidating)

	s.mu.Lock()
	review := !s.state.OvernightReviewed
	if review {
		s.state.OvernightReviewed = true
	}
	confirmed := s.state.LiquidationConfirmed
	due := s.state.LastLiquidationTryAt.IsZero() || now.Sub(s.state.LastLiquidationTryAt) >= s.retryInterval
	if due && !confirmed {
		s.state.LastLiquidationTryAt = now
	}
	s.mu.Unlock()

	if review {
		s.monitor.ReviewOvernight(ctx, s.market)
	}
	if confirmed || !due {
		return
	}

	remaining, err := s.liquidator.Liquidate(ctx, s.market)
	if err != nil {
		if domain.IsMarketClosed(err) {
			s.TripBreaker(err.Error())
			return
		}
		s.log.Error("liquidation sweep failed", zap.String("market", string(s.market)), zap.Error(err))
		return
	}
	if remaining == 0 {
		s.mu.Lock()
		s.state.LiquidationConfirmed = true
		s.mu.Unlock()
		s.log.Info("liquidation confirmed", zap.String("market", string(s.market)))
	} else {
		s.log.Warn("liquidation incomplete, will retry",
			zap.String("market", string(s.market)), zap.Int("remaining", remaining))
	}
}

func (s *Scheduler) tickClosed(ctx context.Context, now time.Time) {
	s.setPhase(domain.PhaseClosed)

	s.mu.Lock()
	if !s.state.LiquidationConfirmed && !s.state.LiquidationIncomplete {
		s.state.LiquidationIncomplete = true
		s.mu.Unlock()
		s.notifier.Notify(fmt.Sprintf("[WARN] %s session closed with unliquidated holdings, manual check required", s.market))
		s.mu.Lock()
	}
	report := !s.state.ReportSent
	if report {
		s.state.ReportSent = true
	}
	since := s.sessionStart
	s.mu.Unlock()

	if !report {
		return
	}

	if err := s.trader.DailyReport(ctx, s.market, since); err != nil {
		s.log.Error("daily report failed", zap.String("market", string(s.market)), zap.Error(err))
	}
	if err := s.trader.TuneStrategy(ctx, s.market, since); err != nil {
		s.log.Error("strategy tuning failed", zap.String("market", string(s.market)), zap.Error(err))
	}
}

// TripBreaker aborts the rest of the session. Tripped once per session,
// cleared on the next session open. The holiday closure signature is the
// usual cause.
func (s *Scheduler) TripBreaker(reason string) {
	s.mu.Lock()
	already := s.state.CircuitBreakerTripped
	s.state.CircuitBreakerTripped = true
	s.state.Phase = domain.PhaseClosed
	s.mu.Unlock()
	if already {
		return
	}
	metrics.CircuitBreakerTrips.WithLabelValues(string(s.market)).Inc()
	s.log.Warn("circuit breaker tripped",
		zap.String("market", string(s.market)), zap.String("reason", reason))
	s.notifier.Notify(fmt.Sprintf("[BREAKER] %s session aborted: %s", s.market, reason))
}
