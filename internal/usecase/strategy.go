package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
)

// Tuned parameters are clamped into these bands before being saved, no
// matter what the optimizer suggests.
const (
	tuneMinTargetPct = 2.0
	tuneMaxTargetPct = 10.0
	tuneMaxStopPct   = 5.0
)

// StrategyStore serves per-market strategy parameters: config-file defaults
// overlaid with whatever the post-session optimizer persisted. The stop-loss
// percentage is always clamped to the configured hard floor so an advisory
// suggestion can never tighten it into noise-trigger territory.
type StrategyStore struct {
	repo domain.StrategyRepository
	cfg  map[domain.Market]*config.MarketConfig
	log  *zap.Logger

	mu     sync.RWMutex
	cached map[domain.Market]*domain.StrategyParams
}

func NewStrategyStore(repo domain.StrategyRepository, cfg map[domain.Market]*config.MarketConfig, log *zap.Logger) *StrategyStore {
	return &StrategyStore{
		repo:   repo,
		cfg:    cfg,
		log:    log,
		cached: make(map[domain.Market]*domain.StrategyParams),
	}
}

func (s *StrategyStore) defaults(market domain.Market) domain.StrategyParams {
	c := s.cfg[market].Strategy
	return domain.StrategyParams{
		TargetPct:         c.TargetPct,
		StopPct:           c.StopPct,
		TrailActivatePct:  c.TrailActivatePct,
		TrailPct:          c.TrailPct,
		AddOnCeilingPct:   c.AddOnCeilingPct,
		MinScore:          c.MinScore,
		MaxDailyChangePct: c.MaxDailyChangePct,
		RiskLossPct:       c.RiskLossPct,
		RiskProfitPct:     c.RiskProfitPct,
	}
}

// ClampStop enforces the hard floor on a stop-loss percentage.
func (s *StrategyStore) ClampStop(market domain.Market, pct float64) float64 {
	if pct < 0 {
		pct = -pct
	}
	if floor := s.cfg[market].Strategy.StopFloorPct; pct < floor {
		return floor
	}
	return pct
}

// Load returns the effective parameters for the market. Repository errors
// fall back to config defaults; trading never stalls on the config store.
func (s *StrategyStore) Load(ctx context.Context, market domain.Market) domain.StrategyParams {
	s.mu.RLock()
	if p, ok := s.cached[market]; ok {
		s.mu.RUnlock()
		return *p
	}
	s.mu.RUnlock()

	params := s.defaults(market)
	stored, err := s.repo.GetStrategy(ctx, market)
	if err != nil {
		s.log.Warn("strategy load failed, using defaults", zap.String("market", string(market)), zap.Error(err))
	} else if stored != nil {
		if stored.TargetPct > 0 {
			params.TargetPct = stored.TargetPct
		}
		if stored.StopPct > 0 {
			params.StopPct = stored.StopPct
		}
		params.UpdatedAt = stored.UpdatedAt
	}
	params.StopPct = s.ClampStop(market, params.StopPct)

	s.mu.Lock()
	s.cached[market] = &params
	s.mu.Unlock()
	return params
}

// Reload drops the cache so the next Load re-reads the repository.
// Called at session rollover.
func (s *StrategyStore) Reload(market domain.Market) {
	s.mu.Lock()
	delete(s.cached, market)
	s.mu.Unlock()
}

// SaveTuned persists optimizer output for the next session, clamped to the
// sane bands and the stop floor.
func (s *StrategyStore) SaveTuned(ctx context.Context, market domain.Market, res *TuneResult) (domain.StrategyParams, error) {
	params := s.Load(ctx, market)

	target := res.TargetPct
	if target < tuneMinTargetPct {
		target = tuneMinTargetPct
	}
	if target > tuneMaxTargetPct {
		target = tuneMaxTargetPct
	}
	stop := s.ClampStop(market, res.StopPct)
	if stop > tuneMaxStopPct {
		stop = tuneMaxStopPct
	}

	params.TargetPct = target
	params.StopPct = stop
	params.UpdatedAt = time.Now()

	if err := s.repo.SaveStrategy(ctx, market, &params); err != nil {
		return params, err
	}
	s.Reload(market)
	return params, nil
}
