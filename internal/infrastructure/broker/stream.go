package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
)

// Streamed ticks older than this are ignored and the REST quote is used.
const quoteFreshness = 5 * time.Second

// PriceStream layers the realtime websocket feed over the REST gateway.
// GetRealtimePrice serves from the tick cache while it is fresh and falls
// back to REST otherwise; every other gateway call passes straight through.
type PriceStream struct {
	domain.BrokerGateway

	wsURL    string
	approval string
	log      *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	ticks   map[string]domain.Quote
	symbols map[string]string // symbol -> tr_id used at subscribe
}

func NewPriceStream(gateway domain.BrokerGateway, wsURL, approvalKey string, log *zap.Logger) *PriceStream {
	return &PriceStream{
		BrokerGateway: gateway,
		wsURL:         wsURL,
		approval:      approvalKey,
		log:           log,
		ticks:         make(map[string]domain.Quote),
		symbols:       make(map[string]string),
	}
}

// Connect dials the feed and starts the read loop. Safe to call again after
// a drop; Subscribe re-sends the current symbol set.
func (p *PriceStream) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}
	c, _, err := websocket.DefaultDialer.Dial(p.wsURL, nil)
	if err != nil {
		return err
	}
	p.conn = c
	p.closed = false
	go p.readLoop(c)

	for symbol, trID := range p.symbols {
		if err := p.registerLocked(symbol, trID, "1"); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a symbol on the tick feed. Domestic symbols use the
// domestic tr, foreign the delayed overseas tr.
func (p *PriceStream) Subscribe(symbol string, market domain.Market) error {
	trID := "H0STCNT0"
	if market == domain.MarketForeign {
		trID = "HDFSCNT0"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols[symbol] = trID
	if p.conn == nil {
		return nil // subscribed on next Connect
	}
	return p.registerLocked(symbol, trID, "1")
}

// Unsubscribe drops a symbol from the feed. Stale cached ticks expire on
// their own through the freshness window.
func (p *PriceStream) Unsubscribe(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	trID, ok := p.symbols[symbol]
	if !ok {
		return nil
	}
	delete(p.symbols, symbol)
	if p.conn == nil {
		return nil
	}
	return p.registerLocked(symbol, trID, "2")
}

func (p *PriceStream) registerLocked(symbol, trID, trType string) error {
	msg := map[string]any{
		"header": map[string]string{
			"approval_key": p.approval,
			"custtype":     "P",
			"tr_type":      trType,
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trID,
				"tr_key": symbol,
			},
		},
	}
	return p.conn.WriteJSON(msg)
}

// GetRealtimePrice serves the cached tick when fresh, REST otherwise.
func (p *PriceStream) GetRealtimePrice(ctx context.Context, symbol string, market domain.Market, exchangeCode string) (*domain.Quote, error) {
	p.mu.Lock()
	tick, ok := p.ticks[symbol]
	p.mu.Unlock()

	if ok && time.Since(tick.Time) <= quoteFreshness {
		q := tick
		return &q, nil
	}
	return p.BrokerGateway.GetRealtimePrice(ctx, symbol, market, exchangeCode)
}

func (p *PriceStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *PriceStream) readLoop(c *websocket.Conn) {
	defer func() {
		c.Close()
		p.mu.Lock()
		if p.conn == c {
			p.conn = nil
		}
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			go p.reconnectLoop()
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			p.log.Warn("price stream read error", zap.Error(err))
			return
		}
		p.handleMessage(message)
	}
}

// reconnectLoop redials a dropped feed until it comes back or Close is
// called. REST fallback keeps quotes flowing in the meantime.
func (p *PriceStream) reconnectLoop() {
	for {
		p.mu.Lock()
		done := p.closed || p.conn != nil
		p.mu.Unlock()
		if done {
			return
		}
		if err := p.Connect(); err != nil {
			p.log.Warn("price stream reconnect failed", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

// handleMessage parses a realtime frame. Tick frames are pipe-delimited:
// flag|tr_id|count|payload, with the payload fields caret-delimited starting
// with symbol and price. JSON frames (pingpong, subscribe acks) are skipped.
func (p *PriceStream) handleMessage(message []byte) {
	if len(message) == 0 || message[0] == '{' {
		return
	}
	parts := strings.Split(string(message), "|")
	if len(parts) < 4 {
		return
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 3 {
		return
	}

	symbol := fields[0]
	var price float64
	switch parts[1] {
	case "H0STCNT0":
		price = parseFloat(fields[2])
	case "HDFSCNT0":
		// Overseas payload carries the symbol key in field 1 and last
		// price further in.
		if len(fields) < 12 {
			return
		}
		symbol = strings.TrimSpace(fields[1])
		price = parseFloat(fields[11])
	default:
		return
	}
	if price <= 0 {
		return
	}

	p.mu.Lock()
	p.ticks[symbol] = domain.Quote{Price: price, Time: time.Now()}
	p.mu.Unlock()
}
