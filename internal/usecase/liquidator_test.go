package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davik/stock_day_trader/internal/domain"
)

func TestLiquidateCancelsBeforeSelling(t *testing.T) {
	rig := newTestRig()
	openForeign(t, rig, "AAPL", 10, 100)
	rig.broker.Holdings[domain.MarketForeign] = []domain.HoldingSnapshot{
		{Symbol: "AAPL", Market: domain.MarketForeign, ExchangeCode: "NASD", Quantity: 10, AverageCost: 100},
	}
	rig.broker.Outstanding[domain.MarketForeign] = []domain.OutstandingOrder{
		{OrderID: "PENDING1", Symbol: "AAPL", Market: domain.MarketForeign, RemainingQty: 5},
	}
	rig.broker.Quotes["AAPL"] = 101

	remaining, err := rig.liquidator.Liquidate(context.Background(), domain.MarketForeign)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	// Resting orders are pulled before any sell goes out.
	require.Equal(t, []string{"PENDING1"}, rig.broker.Canceled)
	require.Len(t, rig.broker.Placed, 1)
	require.Equal(t, domain.SideSell, rig.broker.Placed[0].Side)
	require.InDelta(t, 101*0.95, rig.broker.Placed[0].Price, 1e-9, "liquidation sells at the deep discount")

	_, ok := rig.ledger.Get("AAPL", domain.MarketForeign)
	require.False(t, ok)
	require.Len(t, rig.trades.Saved, 1)
	require.Equal(t, domain.ResultManual, rig.trades.Saved[0].Result)
}

func TestLiquidateSkipsOvernightHolds(t *testing.T) {
	rig := newTestRig()
	openForeign(t, rig, "AAPL", 10, 100)
	rig.ledger.Update("AAPL", domain.MarketForeign, func(p *domain.Position) {
		p.OvernightHold = true
	})
	rig.broker.Holdings[domain.MarketForeign] = []domain.HoldingSnapshot{
		{Symbol: "AAPL", Market: domain.MarketForeign, Quantity: 10, AverageCost: 100},
	}
	rig.broker.Quotes["AAPL"] = 101

	remaining, err := rig.liquidator.Liquidate(context.Background(), domain.MarketForeign)
	require.NoError(t, err)
	require.Equal(t, 0, remaining, "overnight holds do not count as unsold")
	require.Empty(t, rig.broker.Placed)

	pos, ok := rig.ledger.Get("AAPL", domain.MarketForeign)
	require.True(t, ok)
	require.Equal(t, int64(10), pos.Quantity)
}

func TestLiquidateSellsUntrackedHoldings(t *testing.T) {
	rig := newTestRig()
	// Manual trade outside the bot: no ledger entry, no trade record, but
	// the shares still get sold.
	rig.broker.Holdings[domain.MarketForeign] = []domain.HoldingSnapshot{
		{Symbol: "GME", Market: domain.MarketForeign, ExchangeCode: "NYSE", Quantity: 3, AverageCost: 20},
	}
	rig.broker.Quotes["GME"] = 25

	remaining, err := rig.liquidator.Liquidate(context.Background(), domain.MarketForeign)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
	require.Len(t, rig.broker.Placed, 1)
	require.Empty(t, rig.trades.Saved)
}

func TestLiquidateCountsFailedSells(t *testing.T) {
	rig := newTestRig()
	openForeign(t, rig, "AAPL", 10, 100)
	rig.broker.Holdings[domain.MarketForeign] = []domain.HoldingSnapshot{
		{Symbol: "AAPL", Market: domain.MarketForeign, ExchangeCode: "NASD", Quantity: 10, AverageCost: 100},
	}
	rig.broker.Quotes["AAPL"] = 101
	rig.broker.PlaceErrs = []error{domain.NewBrokerError(domain.FailureTransient, "", "timeout")}

	remaining, err := rig.liquidator.Liquidate(context.Background(), domain.MarketForeign)
	require.NoError(t, err)
	require.Equal(t, 1, remaining, "failed sell leaves the holding for the next sweep")

	_, ok := rig.ledger.Get("AAPL", domain.MarketForeign)
	require.True(t, ok)
}

func TestLiquidateSellsBrokerQuantity(t *testing.T) {
	rig := newTestRig()
	openForeign(t, rig, "AAPL", 10, 100)
	// Broker reports fewer shares than the ledger (partial manual sell).
	rig.broker.Holdings[domain.MarketForeign] = []domain.HoldingSnapshot{
		{Symbol: "AAPL", Market: domain.MarketForeign, ExchangeCode: "NASD", Quantity: 7, AverageCost: 100},
	}
	rig.broker.Quotes["AAPL"] = 101

	remaining, err := rig.liquidator.Liquidate(context.Background(), domain.MarketForeign)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
	require.Equal(t, int64(7), rig.broker.Placed[0].Quantity, "sell what the broker reports, not the ledger")
}
