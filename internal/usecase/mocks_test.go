package usecase

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/config"
	"github.com/davik/stock_day_trader/internal/domain"
)

func testMarketCfg() map[domain.Market]*config.MarketConfig {
	strategy := config.StrategyConfig{
		TargetPct:         3.0,
		StopPct:           2.0,
		StopFloorPct:      1.5,
		TrailActivatePct:  2.0,
		TrailPct:          1.0,
		AddOnCeilingPct:   3.0,
		MinScore:          60,
		MaxDailyChangePct: 15,
		RiskLossPct:       2.0,
		RiskProfitPct:     3.0,
	}
	return map[domain.Market]*config.MarketConfig{
		domain.MarketDomestic: {
			MinOrderNotional:       10000,
			ReconcileTolerance:     10000,
			BuyBufferPct:           0.5,
			SellBufferPct:          0.5,
			SafetyFactor:           0.98,
			LiquidationDiscountPct: 5.0,
			UpperLimitFactor:       1.3,
			SlotTiers:              []config.SlotTier{{MinEquity: 0, MaxSlots: 2}, {MinEquity: 400000, MaxSlots: 3}},
			Strategy:               strategy,
			OvernightMaxLossPct:    3.0,
		},
		domain.MarketForeign: {
			MinOrderNotional:       20,
			ReconcileTolerance:     10,
			BuyBufferPct:           1.0,
			SellBufferPct:          1.0,
			SafetyFactor:           0.98,
			LiquidationDiscountPct: 5.0,
			UpperLimitFactor:       1.0,
			SlotTiers:              []config.SlotTier{{MinEquity: 0, MaxSlots: 2}, {MinEquity: 300, MaxSlots: 3}},
			Strategy:               strategy,
			OvernightMaxLossPct:    3.0,
		},
	}
}

// testRig wires the full service graph over mocks. Most tests use a slice
// of it; the scheduler tests use all of it.
type testRig struct {
	broker     *mockBroker
	advisor    *mockAdvisor
	notifier   *mockNotifier
	trades     *mockTradeRepo
	stream     *mockQuoteStream
	ledger     *Ledger
	wallet     *Wallet
	strategies *StrategyStore
	reconciler *Reconciler
	allocator  *Allocator
	executor   *Executor
	trader     *TradeService
	monitor    *Monitor
	liquidator *Liquidator
}

func newTestRig() *testRig {
	log := zap.NewNop()
	cfg := testMarketCfg()
	r := &testRig{
		broker:   newMockBroker(),
		advisor:  &mockAdvisor{},
		notifier: &mockNotifier{},
		trades:   &mockTradeRepo{},
		stream:   &mockQuoteStream{},
		ledger:   NewLedger(),
	}
	r.wallet = NewWallet(r.broker)
	r.strategies = NewStrategyStore(&mockStrategyRepo{}, cfg, log)
	r.reconciler = NewReconciler(r.broker, r.ledger, r.strategies, r.stream, log)
	r.allocator = NewAllocator(r.wallet, r.ledger, r.reconciler, cfg, log)
	r.executor = NewExecutor(r.broker, r.wallet, cfg, log)
	r.trader = NewTradeService(r.ledger, r.allocator, r.executor, r.strategies, r.trades, r.advisor, r.stream, r.notifier, log)
	r.monitor = NewMonitor(r.ledger, r.trader, r.broker, r.strategies, r.advisor, r.notifier, cfg, log)
	r.liquidator = NewLiquidator(r.broker, r.ledger, r.trader, r.executor, 0, log)
	return r
}

// mockBroker is a scripted gateway shared by the usecase tests.
type mockBroker struct {
	mu sync.Mutex

	Balances    map[domain.Market]domain.Balance
	Holdings    map[domain.Market][]domain.HoldingSnapshot
	Outstanding map[domain.Market][]domain.OutstandingOrder
	Quotes      map[string]float64

	// PlaceErrs is consumed one error per PlaceOrder call; nil entries mean
	// success. When exhausted, orders succeed.
	PlaceErrs  []error
	BalanceErr error
	QuoteErr   error

	Placed   []domain.OrderRequest
	Canceled []string

	nextOrderID int
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		Balances:    make(map[domain.Market]domain.Balance),
		Holdings:    make(map[domain.Market][]domain.HoldingSnapshot),
		Outstanding: make(map[domain.Market][]domain.OutstandingOrder),
		Quotes:      make(map[string]float64),
	}
}

func (m *mockBroker) GetBalance(ctx context.Context, market domain.Market) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	bal := m.Balances[market]
	return &bal, nil
}

func (m *mockBroker) GetHoldings(ctx context.Context, market domain.Market) ([]domain.HoldingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HoldingSnapshot(nil), m.Holdings[market]...), nil
}

func (m *mockBroker) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Placed = append(m.Placed, *req)
	if len(m.PlaceErrs) > 0 {
		err := m.PlaceErrs[0]
		m.PlaceErrs = m.PlaceErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.nextOrderID++
	return &domain.OrderAck{OrderID: "ORD" + strconv.Itoa(m.nextOrderID)}, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, order *domain.OutstandingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Canceled = append(m.Canceled, order.OrderID)
	return nil
}

func (m *mockBroker) GetOutstandingOrders(ctx context.Context, market domain.Market) ([]domain.OutstandingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutstandingOrder(nil), m.Outstanding[market]...), nil
}

func (m *mockBroker) GetRealtimePrice(ctx context.Context, symbol string, market domain.Market, exchangeCode string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return nil, m.QuoteErr
	}
	price, ok := m.Quotes[symbol]
	if !ok {
		return nil, domain.NewBrokerError(domain.FailureTransient, "", "no quote")
	}
	return &domain.Quote{Price: price, Time: time.Now()}, nil
}

func (m *mockBroker) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}

// mockAdvisor replays canned raw JSON responses.
type mockAdvisor struct {
	RiskResp      json.RawMessage
	OvernightResp json.RawMessage
	TuneResp      json.RawMessage
	Err           error

	RiskQueries      []domain.RiskQuery
	RiskBatches      int
	OvernightQueries []domain.RiskQuery
	TuneRequests     []domain.TuneRequest
}

func (m *mockAdvisor) AssessRiskBatch(ctx context.Context, qs []domain.RiskQuery) (json.RawMessage, error) {
	m.RiskQueries = append(m.RiskQueries, qs...)
	m.RiskBatches++
	return m.RiskResp, m.Err
}

func (m *mockAdvisor) AssessOvernight(ctx context.Context, q *domain.RiskQuery) (json.RawMessage, error) {
	m.OvernightQueries = append(m.OvernightQueries, *q)
	return m.OvernightResp, m.Err
}

func (m *mockAdvisor) TuneStrategy(ctx context.Context, req *domain.TuneRequest) (json.RawMessage, error) {
	m.TuneRequests = append(m.TuneRequests, *req)
	return m.TuneResp, m.Err
}

// mockQuoteStream records subscription churn.
type mockQuoteStream struct {
	mu           sync.Mutex
	Subscribed   []string
	Unsubscribed []string
	SubErr       error
}

func (m *mockQuoteStream) Subscribe(symbol string, market domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubErr != nil {
		return m.SubErr
	}
	m.Subscribed = append(m.Subscribed, symbol)
	return nil
}

func (m *mockQuoteStream) Unsubscribe(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unsubscribed = append(m.Unsubscribed, symbol)
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	Messages []string
}

func (m *mockNotifier) Notify(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, text)
}

func (m *mockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

type mockTradeRepo struct {
	mu    sync.Mutex
	Saved []*domain.ClosedTrade
}

func (m *mockTradeRepo) SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.Saved = append(m.Saved, &cp)
	return nil
}

func (m *mockTradeRepo) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*domain.ClosedTrade(nil), m.Saved...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockTradeRepo) ListClosedTradesSince(ctx context.Context, market domain.Market, since time.Time) ([]*domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ClosedTrade
	for _, t := range m.Saved {
		if t.Market == market && !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockStrategyRepo struct {
	mu     sync.Mutex
	Stored map[domain.Market]*domain.StrategyParams
	GetErr error
}

func (m *mockStrategyRepo) GetStrategy(ctx context.Context, market domain.Market) (*domain.StrategyParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.Stored == nil {
		return nil, nil
	}
	p, ok := m.Stored[market]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockStrategyRepo) SaveStrategy(ctx context.Context, market domain.Market, params *domain.StrategyParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Stored == nil {
		m.Stored = make(map[domain.Market]*domain.StrategyParams)
	}
	cp := *params
	m.Stored[market] = &cp
	return nil
}

type mockCandidateSource struct {
	Candidates []domain.Candidate
	Err        error
	Calls      int
}

func (m *mockCandidateSource) SelectCandidates(ctx context.Context, market domain.Market, budget float64, count int) ([]domain.Candidate, error) {
	m.Calls++
	return m.Candidates, m.Err
}
