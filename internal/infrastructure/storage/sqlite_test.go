package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davik/stock_day_trader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClosedTradeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	opened := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	trades := []*domain.ClosedTrade{
		{ID: "t1", Symbol: "AAPL", Market: domain.MarketForeign, Quantity: 10,
			EntryPrice: 100, ExitPrice: 105, ProfitPct: 5.0, Result: domain.ResultWin,
			Reason: "target reached", OpenedAt: opened, ClosedAt: opened.Add(2 * time.Hour)},
		{ID: "t2", Symbol: "TSLA", Market: domain.MarketForeign, Quantity: 5,
			EntryPrice: 200, ExitPrice: 196, ProfitPct: -2.0, Result: domain.ResultLoss,
			OpenedAt: opened, ClosedAt: opened.Add(3 * time.Hour)},
		{ID: "t3", Symbol: "005930", Market: domain.MarketDomestic, Quantity: 3,
			EntryPrice: 70000, ExitPrice: 71000, ProfitPct: 1.43, Result: domain.ResultManual,
			OpenedAt: opened, ClosedAt: opened.Add(4 * time.Hour)},
	}
	for _, tr := range trades {
		require.NoError(t, store.SaveClosedTrade(ctx, tr))
	}

	// Newest first, limited.
	listed, err := store.ListClosedTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "t3", listed[0].ID)
	require.Equal(t, "t2", listed[1].ID)

	// Filtered by market and window, oldest first.
	since, err := store.ListClosedTradesSince(ctx, domain.MarketForeign, opened.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, since, 2)
	require.Equal(t, "t1", since[0].ID)
	require.Equal(t, domain.ResultWin, since[0].Result)
	require.InDelta(t, 5.0, since[0].ProfitPct, 1e-9)

	since, err = store.ListClosedTradesSince(ctx, domain.MarketForeign, opened.Add(150*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, "t2", since[0].ID)
}

func TestStrategyUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No row yet: nil, nil means "use defaults".
	params, err := store.GetStrategy(ctx, domain.MarketForeign)
	require.NoError(t, err)
	require.Nil(t, params)

	saved := &domain.StrategyParams{
		TargetPct: 3.0, StopPct: 2.0, TrailActivatePct: 2.0, TrailPct: 1.0,
		AddOnCeilingPct: 3.0, MinScore: 60, MaxDailyChangePct: 15,
		RiskLossPct: 2.0, RiskProfitPct: 3.0,
		UpdatedAt: time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveStrategy(ctx, domain.MarketForeign, saved))

	params, err = store.GetStrategy(ctx, domain.MarketForeign)
	require.NoError(t, err)
	require.NotNil(t, params)
	require.InDelta(t, 3.0, params.TargetPct, 1e-9)

	// Second save for the same market overwrites in place.
	saved.TargetPct = 4.5
	require.NoError(t, store.SaveStrategy(ctx, domain.MarketForeign, saved))
	params, err = store.GetStrategy(ctx, domain.MarketForeign)
	require.NoError(t, err)
	require.InDelta(t, 4.5, params.TargetPct, 1e-9)

	// Markets do not share rows.
	params, err = store.GetStrategy(ctx, domain.MarketDomestic)
	require.NoError(t, err)
	require.Nil(t, params)
}

func TestTokenCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token, expires, err := store.GetToken(ctx, "kis")
	require.NoError(t, err)
	require.Empty(t, token)
	require.True(t, expires.IsZero())

	until := time.Now().Add(23 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SaveToken(ctx, "kis", "abc123", until))

	token, expires, err = store.GetToken(ctx, "kis")
	require.NoError(t, err)
	require.Equal(t, "abc123", token)
	require.True(t, expires.Equal(until))

	// Re-issuing replaces the cached token.
	require.NoError(t, store.SaveToken(ctx, "kis", "def456", until.Add(time.Hour)))
	token, _, err = store.GetToken(ctx, "kis")
	require.NoError(t, err)
	require.Equal(t, "def456", token)
}
