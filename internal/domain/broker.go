package domain

import (
	"context"
	"time"
)

// Balance is the authoritative account snapshot for one currency.
type Balance struct {
	Cash        float64 // orderable cash / buying power
	TotalEquity float64 // cash + holdings at last known prices
}

// HoldingSnapshot is a broker-reported holding, used for reconciliation
// and liquidation. Quantity may be zero for settled-out lines.
type HoldingSnapshot struct {
	Symbol       string
	Name         string
	Market       Market
	ExchangeCode string
	Quantity     int64
	AverageCost  float64
}

// OutstandingOrder is an unfilled (or partially filled) order at the broker.
type OutstandingOrder struct {
	OrderID      string
	Symbol       string
	Name         string
	Market       Market
	ExchangeCode string
	RemainingQty int64
}

// Quote is a realtime price observation. Time tells the consumer how stale
// the tick is; streamed ticks older than the freshness window are discarded.
type Quote struct {
	Price float64
	Time  time.Time
}

// OrderRequest describes one buy or sell to submit to the gateway.
// Price == 0 means market order (domestic only; the foreign venue requires
// a limit price on every order).
type OrderRequest struct {
	Symbol       string
	Market       Market
	ExchangeCode string
	Side         Side
	Quantity     int64
	Price        float64
	ClientRef    string
}

// OrderAck is a confirmed acceptance from the gateway.
type OrderAck struct {
	OrderID string
}

// BrokerGateway is the narrow interface to the brokerage API. It is the
// source of truth for cash, holdings and fills; every call must honor the
// context deadline.
type BrokerGateway interface {
	GetBalance(ctx context.Context, market Market) (*Balance, error)
	GetHoldings(ctx context.Context, market Market) ([]HoldingSnapshot, error)
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, order *OutstandingOrder) error
	GetOutstandingOrders(ctx context.Context, market Market) ([]OutstandingOrder, error)
	GetRealtimePrice(ctx context.Context, symbol string, market Market, exchangeCode string) (*Quote, error)
}
