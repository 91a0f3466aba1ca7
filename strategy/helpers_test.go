package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategy-engine/market"
	"strategy-engine/order"
)

// recordingGateway 记录所有下单请求，可按调用序号注入错误。
type recordingGateway struct {
	mu       sync.Mutex
	placed   []order.Order
	failures map[int]error // 第 n 次下单（从 1 开始）返回的错误
	calls    int
	canceled []string
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{failures: make(map[int]error)}
}

func (g *recordingGateway) failOn(call int, err error) {
	g.mu.Lock()
	g.failures[call] = err
	g.mu.Unlock()
}

func (g *recordingGateway) record(o order.Order) (order.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err, ok := g.failures[g.calls]; ok {
		return order.Order{}, err
	}
	o.ID = fmt.Sprintf("ord-%d", g.calls)
	if o.Type == order.TypeMarket {
		o.Status = order.StatusFilled
	} else {
		o.Status = order.StatusOpen
	}
	g.placed = append(g.placed, o)
	return o, nil
}

func (g *recordingGateway) PlaceMarketOrder(_ context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	return g.record(order.Order{Symbol: symbol, Quantity: qty, Side: side, Type: order.TypeMarket})
}

func (g *recordingGateway) PlaceLimitOrder(_ context.Context, symbol string, qty int, side order.Side, price float64, d order.Duration, s order.Session) (order.Order, error) {
	return g.record(order.Order{Symbol: symbol, Quantity: qty, Side: side, Type: order.TypeLimit, LimitPrice: price, Duration: d, Session: s})
}

func (g *recordingGateway) CancelOrder(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, id)
	return true, nil
}

func (g *recordingGateway) GetPosition(context.Context, string) (*order.Position, error) {
	return nil, nil
}

func (g *recordingGateway) Placed() []order.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := make([]order.Order, len(g.placed))
	copy(res, g.placed)
	return res
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func testDeps(gw *recordingGateway, feed market.Feed) Deps {
	return Deps{
		Gateway: gw,
		Feed:    feed,
		Clock:   fixedClock{t: testNow},
		NewRand: func() *rand.Rand { return rand.New(rand.NewSource(42)) },
	}
}

func quoteFeed(t *testing.T, symbol string, last float64) *market.Service {
	t.Helper()
	svc := market.NewService(nil, time.Minute)
	svc.OnQuote(market.Quote{Symbol: symbol, Last: last, Timestamp: testNow})
	return svc
}

func mustCreate(t *testing.T, deps Deps, typ StrategyType, params map[string]any) Strategy {
	t.Helper()
	s, err := NewStrategyFactory(deps).CreateStrategy(string(typ), "test-id", params)
	require.NoError(t, err)
	return s
}
