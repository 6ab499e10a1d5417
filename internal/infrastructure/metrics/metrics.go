package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_placed_total",
		Help: "Orders accepted by the broker, by market and side.",
	}, []string{"market", "side"})

	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_rejected_total",
		Help: "Orders rejected by the broker, by market and failure kind.",
	}, []string{"market", "kind"})

	PositionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_positions_closed_total",
		Help: "Positions closed, by market and result.",
	}, []string{"market", "result"})

	LiquidationRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_liquidation_retries_total",
		Help: "Liquidation sweep attempts, by market.",
	}, []string{"market"})

	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_circuit_breaker_trips_total",
		Help: "Sessions aborted after a market-closed response.",
	}, []string{"market"})

	AccountEquity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_account_equity",
		Help: "Latest total account equity, by currency.",
	}, []string{"currency"})

	OpenPositions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Open position count, by market.",
	}, []string{"market"})
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrdersRejected,
		PositionsClosed,
		LiquidationRetries,
		CircuitBreakerTrips,
		AccountEquity,
		OpenPositions,
	)
}

func SetEquity(currency string, value float64) {
	AccountEquity.WithLabelValues(currency).Set(value)
}

func SetOpenPositions(market string, count int) {
	OpenPositions.WithLabelValues(market).Set(float64(count))
}
