package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
	"github.com/davik/stock_day_trader/internal/infrastructure/metrics"
)

// ErrZeroQuantity means the budget does not cover a single share at the
// computed order price. Callers skip the candidate; it is not a failure.
var ErrZeroQuantity = errors.New("executor: budget too small for one share")

// exchangeVariants maps a foreign exchange code to the alternates tried when
// the venue rejects an order with an exchange mismatch. Symbols migrate
// between listings and the candidate feed is sometimes behind.
var exchangeVariants = map[string][]string{
	"NASD": {"NYSE", "AMEX"},
	"NYSE": {"NASD", "AMEX"},
	"AMEX": {"NASD", "NYSE"},
	"NAS":  {"NYS", "AMS"},
	"NYS":  {"NAS", "AMS"},
	"AMS":  {"NAS", "NYS"},
}

// Executor turns budgets into broker orders. It owns the per-market pricing
// rules: the foreign venue takes limit orders with a safety buffer, the
// domestic venue takes market orders sized against the daily upper limit.
type Executor struct {
	broker domain.BrokerGateway
	wallet *Wallet
	cfg    map[domain.Market]*config.MarketConfig
	log    *zap.Logger
}

func NewExecutor(broker domain.BrokerGateway, wallet *Wallet, cfg map[domain.Market]*config.MarketConfig, log *zap.Logger) *Executor {
	return &Executor{broker: broker, wallet: wallet, cfg: cfg, log: log}
}

// Fill is the outcome of an accepted order.
type Fill struct {
	OrderID  string
	Quantity int64
	Price    float64 // limit price, or reference price for market orders
}

// buyPricing computes the limit price (0 for domestic market orders), the
// price used to size the quantity, and the amount to deduct from the cash
// mirror per share.
func (e *Executor) buyPricing(market domain.Market, refPrice float64) (limit, sizing float64) {
	c := e.cfg[market]
	if market == domain.MarketDomestic {
		// Market order. The venue checks buying power against the daily
		// upper limit, so size against price * upper_limit_factor or the
		// order bounces even though cash covers the reference price.
		return 0, refPrice * c.UpperLimitFactor
	}
	limit = refPrice * (1 + c.BuyBufferPct/100)
	return limit, limit
}

// Buy sizes and submits a buy for budget at refPrice. On an exchange
// mismatch rejection it retries the alternate listings for the symbol
// before giving up. The wallet cash mirror is decremented on acceptance.
func (e *Executor) Buy(ctx context.Context, symbol string, market domain.Market, exchangeCode string, budget, refPrice float64) (*Fill, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("executor: buy %s: invalid reference price %f", symbol, refPrice)
	}
	c := e.cfg[market]
	limit, sizing := e.buyPricing(market, refPrice)

	qty := int64(math.Floor(budget * c.SafetyFactor / sizing))
	if qty <= 0 {
		return nil, ErrZeroQuantity
	}

	req := &domain.OrderRequest{
		Symbol:       symbol,
		Market:       market,
		ExchangeCode: exchangeCode,
		Side:         domain.SideBuy,
		Quantity:     qty,
		Price:        limit,
		ClientRef:    uuid.NewString(),
	}

	ack, err := e.placeWithExchangeRetry(ctx, req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(string(market), failureLabel(err)).Inc()
		return nil, err
	}

	spent := float64(qty) * sizing
	e.wallet.Spend(market, spent)
	metrics.OrdersPlaced.WithLabelValues(string(market), string(domain.SideBuy)).Inc()
	e.log.Info("buy order accepted",
		zap.String("symbol", symbol),
		zap.String("market", string(market)),
		zap.Int64("qty", qty),
		zap.Float64("limit", limit),
		zap.Float64("spent", spent),
		zap.String("order_id", ack.OrderID))

	fillPrice := limit
	if fillPrice == 0 {
		fillPrice = refPrice
	}
	return &Fill{OrderID: ack.OrderID, Quantity: qty, Price: fillPrice}, nil
}

// Sell submits a sell for the full position quantity. Normal exits use the
// standard sell buffer; liquidation sweeps use the deeper discount so the
// order crosses the spread and fills now.
func (e *Executor) Sell(ctx context.Context, pos *domain.Position, refPrice float64, liquidation bool) (*Fill, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("executor: sell %s: invalid reference price %f", pos.Symbol, refPrice)
	}
	c := e.cfg[pos.Market]

	var limit float64
	if pos.Market == domain.MarketDomestic {
		limit = 0 // market order
	} else if liquidation {
		limit = refPrice * (1 - c.LiquidationDiscountPct/100)
	} else {
		limit = refPrice * (1 - c.SellBufferPct/100)
	}

	req := &domain.OrderRequest{
		Symbol:       pos.Symbol,
		Market:       pos.Market,
		ExchangeCode: pos.ExchangeCode,
		Side:         domain.SideSell,
		Quantity:     pos.Quantity,
		Price:        limit,
		ClientRef:    uuid.NewString(),
	}

	ack, err := e.placeWithExchangeRetry(ctx, req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(string(pos.Market), failureLabel(err)).Inc()
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(pos.Market), string(domain.SideSell)).Inc()
	e.log.Info("sell order accepted",
		zap.String("symbol", pos.Symbol),
		zap.String("market", string(pos.Market)),
		zap.Int64("qty", pos.Quantity),
		zap.Float64("limit", limit),
		zap.Bool("liquidation", liquidation),
		zap.String("order_id", ack.OrderID))

	fillPrice := limit
	if fillPrice == 0 {
		fillPrice = refPrice
	}
	return &Fill{OrderID: ack.OrderID, Quantity: pos.Quantity, Price: fillPrice}, nil
}

// placeWithExchangeRetry submits the order, walking the alternate exchange
// codes for the symbol when the venue reports a listing mismatch.
func (e *Executor) placeWithExchangeRetry(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	ack, err := e.broker.PlaceOrder(ctx, req)
	if err == nil {
		return ack, nil
	}
	if !domain.IsExchangeMismatch(err) {
		return nil, err
	}

	for _, alt := range exchangeVariants[req.ExchangeCode] {
		e.log.Warn("exchange mismatch, retrying alternate listing",
			zap.String("symbol", req.Symbol),
			zap.String("tried", req.ExchangeCode),
			zap.String("next", alt))
		retry := *req
		retry.ExchangeCode = alt
		retry.ClientRef = uuid.NewString()
		ack, err = e.broker.PlaceOrder(ctx, &retry)
		if err == nil {
			req.ExchangeCode = alt
			return ack, nil
		}
		if !domain.IsExchangeMismatch(err) {
			return nil, err
		}
	}
	return nil, err
}

func failureLabel(err error) string {
	var be *domain.BrokerError
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	return "transient"
}
