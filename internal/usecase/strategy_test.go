package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
)

func TestStrategyStoreDefaultsWhenUnset(t *testing.T) {
	store := NewStrategyStore(&mockStrategyRepo{}, testMarketCfg(), zap.NewNop())

	params := store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 3.0, params.TargetPct, 1e-9)
	require.InDelta(t, 2.0, params.StopPct, 1e-9)
	require.InDelta(t, 60.0, params.MinScore, 1e-9)
}

func TestStrategyStoreStoredOverridesDefaults(t *testing.T) {
	repo := &mockStrategyRepo{Stored: map[domain.Market]*domain.StrategyParams{
		domain.MarketForeign: {TargetPct: 4.5, StopPct: 2.5},
	}}
	store := NewStrategyStore(repo, testMarketCfg(), zap.NewNop())

	params := store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 4.5, params.TargetPct, 1e-9)
	require.InDelta(t, 2.5, params.StopPct, 1e-9)
	// Non-tuned fields keep the config defaults.
	require.InDelta(t, 2.0, params.TrailActivatePct, 1e-9)
}

func TestStrategyStoreRepoErrorFallsBack(t *testing.T) {
	repo := &mockStrategyRepo{GetErr: context.DeadlineExceeded}
	store := NewStrategyStore(repo, testMarketCfg(), zap.NewNop())

	params := store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 3.0, params.TargetPct, 1e-9, "repo failure must not stall trading")
}

func TestStrategyStoreStopFloor(t *testing.T) {
	repo := &mockStrategyRepo{Stored: map[domain.Market]*domain.StrategyParams{
		domain.MarketForeign: {TargetPct: 3.0, StopPct: 0.5},
	}}
	store := NewStrategyStore(repo, testMarketCfg(), zap.NewNop())

	params := store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 1.5, params.StopPct, 1e-9, "stored stop below the floor is clamped")

	require.InDelta(t, 1.5, store.ClampStop(domain.MarketForeign, 1.0), 1e-9)
	require.InDelta(t, 1.5, store.ClampStop(domain.MarketForeign, -1.0), 1e-9, "negative distances are normalized")
	require.InDelta(t, 2.5, store.ClampStop(domain.MarketForeign, 2.5), 1e-9)
}

func TestStrategyStoreReloadDropsCache(t *testing.T) {
	repo := &mockStrategyRepo{}
	store := NewStrategyStore(repo, testMarketCfg(), zap.NewNop())

	params := store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 3.0, params.TargetPct, 1e-9)

	// Tuned values land in the repo; the cache hides them until Reload.
	repo.Stored = map[domain.Market]*domain.StrategyParams{
		domain.MarketForeign: {TargetPct: 5.0, StopPct: 2.0},
	}
	params = store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 3.0, params.TargetPct, 1e-9)

	store.Reload(domain.MarketForeign)
	params = store.Load(context.Background(), domain.MarketForeign)
	require.InDelta(t, 5.0, params.TargetPct, 1e-9)
}

func TestStrategyStoreSaveTunedClamps(t *testing.T) {
	repo := &mockStrategyRepo{}
	store := NewStrategyStore(repo, testMarketCfg(), zap.NewNop())

	saved, err := store.SaveTuned(context.Background(), domain.MarketForeign, &TuneResult{TargetPct: 1.0, StopPct: 8.0})
	require.NoError(t, err)
	require.InDelta(t, 2.0, saved.TargetPct, 1e-9, "target clamped to the band floor")
	require.InDelta(t, 5.0, saved.StopPct, 1e-9, "stop clamped to the band ceiling")
	require.False(t, saved.UpdatedAt.IsZero())
}
