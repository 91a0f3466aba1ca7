package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"strategy-engine/config"
	"strategy-engine/gateway"
	"strategy-engine/infrastructure/alert"
	"strategy-engine/infrastructure/monitor"
	"strategy-engine/internal/journal"
	"strategy-engine/market"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// scriptedGateway 按配置返回错误或直接成交
type scriptedGateway struct {
	mu       sync.Mutex
	err      error
	panicMsg string
	seq      int
	placed   []order.Order
	canceled []string
}

func (g *scriptedGateway) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *scriptedGateway) place(symbol string, qty int, side order.Side, typ order.Type, price float64) (order.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.err != nil {
		return order.Order{}, g.err
	}
	g.seq++
	o := order.Order{
		ID:         fmt.Sprintf("ord-%d", g.seq),
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Quantity:   qty,
		LimitPrice: price,
		Status:     order.StatusOpen,
	}
	if typ == order.TypeMarket {
		o.Status = order.StatusFilled
		o.FilledQuantity = qty
	}
	g.placed = append(g.placed, o)
	return o, nil
}

func (g *scriptedGateway) PlaceMarketOrder(_ context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	return g.place(symbol, qty, side, order.TypeMarket, 0)
}

func (g *scriptedGateway) PlaceLimitOrder(_ context.Context, symbol string, qty int, side order.Side, price float64, _ order.Duration, _ order.Session) (order.Order, error) {
	return g.place(symbol, qty, side, order.TypeLimit, price)
}

func (g *scriptedGateway) CancelOrder(_ context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, orderID)
	return true, nil
}

func (g *scriptedGateway) GetPosition(context.Context, string) (*order.Position, error) {
	return nil, nil
}

func (g *scriptedGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

// blockingGateway 在 release 关闭前阻塞下单，并记录最大并发
type blockingGateway struct {
	scriptedGateway
	entered     chan struct{}
	release     chan struct{}
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *blockingGateway) enter() {
	n := g.inFlight.Add(1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	g.inFlight.Add(-1)
}

func (g *blockingGateway) PlaceLimitOrder(ctx context.Context, symbol string, qty int, side order.Side, price float64, d order.Duration, s order.Session) (order.Order, error) {
	g.enter()
	return g.scriptedGateway.PlaceLimitOrder(ctx, symbol, qty, side, price, d, s)
}

func (g *blockingGateway) PlaceMarketOrder(ctx context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	g.enter()
	return g.scriptedGateway.PlaceMarketOrder(ctx, symbol, qty, side)
}

// slowGateway 每次市价下单耗时 delay，并记录最大并发
type slowGateway struct {
	scriptedGateway
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (g *slowGateway) PlaceMarketOrder(ctx context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(g.delay)
	return g.scriptedGateway.PlaceMarketOrder(ctx, symbol, qty, side)
}

func (g *scriptedGateway) sides() []order.Side {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := make([]order.Side, 0, len(g.placed))
	for _, o := range g.placed {
		res = append(res, o.Side)
	}
	return res
}

type fixture struct {
	reg    *Registry
	feed   *market.Service
	alerts *alert.MockChannel
}

func newFixture(t *testing.T, gw gateway.Gateway, cfg Config) *fixture {
	t.Helper()
	return newFixtureWith(t, gw, cfg, Components{})
}

// newFixtureWith 允许注入 Monitor 与 Observer
func newFixtureWith(t *testing.T, gw gateway.Gateway, cfg Config, extra Components) *fixture {
	t.Helper()
	feed := market.NewService(market.NewPublisher(16), time.Minute)
	factory := strategy.NewStrategyFactory(strategy.Deps{
		Gateway: gw,
		Feed:    feed,
		Logger:  zap.NewNop(),
	})
	ch := alert.NewMockChannel("mock")
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Second
	}
	reg, err := New(cfg, Components{
		Factory:      factory,
		Feed:         feed,
		Gateway:      gw,
		AlertManager: alert.NewManager([]alert.Channel{ch}, time.Minute),
		Monitor:      extra.Monitor,
		Observer:     extra.Observer,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return &fixture{reg: reg, feed: feed, alerts: ch}
}

func (f *fixture) quote(last float64) {
	f.feed.OnQuote(market.Quote{Symbol: "AAPL", Bid: last - 0.01, Ask: last + 0.01, Last: last, Timestamp: time.Now()})
}

func (f *fixture) state(t *testing.T, id string) strategy.State {
	t.Helper()
	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	return snap.State
}

func ladderParams() map[string]any {
	return map[string]any{
		"symbol":         "AAPL",
		"side":           "BUY",
		"steps":          3,
		"start_price":    9.0,
		"end_price":      10.0,
		"total_quantity": 30,
	}
}

func highLowParams() map[string]any {
	return map[string]any{
		"symbol":         "AAPL",
		"quantity":       10,
		"low_threshold":  10.0,
		"high_threshold": 20.0,
	}
}

func oscillatingParams() map[string]any {
	return map[string]any{
		"symbol":             "AAPL",
		"quantity":           10,
		"price_range":        1.0,
		"is_percentage":      false,
		"min_trade_interval": 0,
		"max_positions":      3,
	}
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Config{}, Components{})
	assert.Error(t, err)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	f := newFixture(t, &scriptedGateway{}, Config{})

	_, err := f.reg.Register("ladder", map[string]any{"symbol": "AAPL"})
	require.Error(t, err)
	assert.Equal(t, strategy.KindValidation, strategy.KindOf(err))

	_, err = f.reg.Register("martingale", nil)
	assert.Equal(t, strategy.KindValidation, strategy.KindOf(err))
	assert.Empty(t, f.reg.List())
}

func TestRegistry_NotFound(t *testing.T) {
	f := newFixture(t, &scriptedGateway{}, Config{})
	ctx := context.Background()

	_, err := f.reg.Status("missing")
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(err))
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(f.reg.Start(ctx, "missing")))
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(f.reg.Pause("missing")))
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(f.reg.Resume("missing")))
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(f.reg.Stop("missing")))
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(f.reg.Remove("missing")))
	_, err = f.reg.CancelOrders(ctx, "missing")
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(err))
}

func TestRegistry_LadderRunsToCompletion(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)
	assert.Equal(t, strategy.StateInitialized, f.state(t, id))

	require.NoError(t, f.reg.Start(context.Background(), id))

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StateStopped, snap.State)
	assert.Len(t, snap.Orders, 3)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.EndedAt)
	assert.Contains(t, snap.Detail, "steps")

	err = f.reg.Start(context.Background(), id)
	assert.Equal(t, strategy.KindInvalidState, strategy.KindOf(err))
}

func TestRegistry_LadderGatewayFailureMovesToError(t *testing.T) {
	gw := &scriptedGateway{err: gateway.Fatal("place_limit_order", gateway.ErrRejected)}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)

	err = f.reg.Start(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, strategy.KindGateway, strategy.KindOf(err))

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StateError, snap.State)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, strategy.KindGateway, snap.LastError.Kind)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestRegistry_ConcurrentStartReturnsAlreadyRunning(t *testing.T) {
	gw := newBlockingGateway()
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() { first <- f.reg.Start(context.Background(), id) }()
	<-gw.entered

	err = f.reg.Start(context.Background(), id)
	assert.Equal(t, strategy.KindAlreadyRunning, strategy.KindOf(err))
	err = f.reg.Resume(id)
	assert.Equal(t, strategy.KindAlreadyRunning, strategy.KindOf(err))

	close(gw.release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), gw.maxInFlight.Load())
	assert.Equal(t, 3, gw.placedCount())
	assert.Equal(t, strategy.StateStopped, f.state(t, id))
}

func TestRegistry_QuoteDrivenStopObservedBeforeNextQuote(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	err = f.reg.Start(context.Background(), id)
	assert.Equal(t, strategy.KindAlreadyRunning, strategy.KindOf(err))

	f.quote(9.5)
	require.Eventually(t, func() bool { return gw.placedCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.reg.Stop(id))
	f.quote(25)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, gw.placedCount())
	assert.Equal(t, strategy.StateStopped, f.state(t, id))
}

func TestRegistry_PauseResume(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))
	require.NoError(t, f.reg.Pause(id))
	assert.Equal(t, strategy.StatePaused, f.state(t, id))

	f.quote(9.5)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, gw.placedCount())

	err = f.reg.Pause(id)
	assert.Equal(t, strategy.KindInvalidState, strategy.KindOf(err))

	require.NoError(t, f.reg.Resume(id))
	f.quote(9.5)
	require.Eventually(t, func() bool { return gw.placedCount() == 1 }, time.Second, 5*time.Millisecond)

	err = f.reg.Resume(id)
	assert.Equal(t, strategy.KindAlreadyRunning, strategy.KindOf(err))
}

func TestRegistry_RetryableErrorKeepsRunning(t *testing.T) {
	gw := &scriptedGateway{err: gateway.Retryable("place_market_order", gateway.ErrUnavailable)}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	f.quote(9.5)
	require.Eventually(t, func() bool {
		snap, _ := f.reg.Status(id)
		return snap.LastError != nil
	}, time.Second, 5*time.Millisecond)

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StateRunning, snap.State)
	assert.True(t, snap.LastError.Retryable)
	assert.Equal(t, 0, f.alerts.Count())

	gw.setErr(nil)
	f.quote(9.4)
	require.Eventually(t, func() bool { return gw.placedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_FatalErrorMovesToError(t *testing.T) {
	gw := &scriptedGateway{err: gateway.Fatal("place_market_order", gateway.ErrRejected)}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	f.quote(9.5)
	require.Eventually(t, func() bool { return f.state(t, id) == strategy.StateError }, time.Second, 5*time.Millisecond)

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.KindGateway, snap.LastError.Kind)
	assert.False(t, snap.LastError.Retryable)
	require.Equal(t, 1, f.alerts.Count())
	assert.Equal(t, id, f.alerts.GetAlerts()[0].Fields["strategy_id"])

	err = f.reg.Resume(id)
	assert.Equal(t, strategy.KindInvalidState, strategy.KindOf(err))
}

func TestRegistry_PanicBecomesExecutionError(t *testing.T) {
	gw := &scriptedGateway{panicMsg: "broker exploded"}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	f.quote(9.5)
	require.Eventually(t, func() bool { return f.state(t, id) == strategy.StateError }, time.Second, 5*time.Millisecond)

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.KindExecution, snap.LastError.Kind)
	assert.Contains(t, snap.LastError.Message, "broker exploded")
}

func TestRegistry_PollingMode(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{PollInterval: 10 * time.Millisecond})
	f.quote(9.5)

	id, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	require.Eventually(t, func() bool { return gw.placedCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, gw.placedCount())
}

func TestRegistry_TWAPCompletes(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{TickInterval: 20 * time.Millisecond})

	now := time.Now().UTC()
	id, err := f.reg.Register("twap", map[string]any{
		"symbol":         "AAPL",
		"side":           "SELL",
		"total_quantity": 10,
		"intervals":      2,
		"start_time":     now.Add(-3 * time.Second).Format(time.RFC3339),
		"end_time":       now.Add(-time.Second).Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	require.Eventually(t, func() bool { return f.state(t, id) == strategy.StateStopped }, time.Second, 5*time.Millisecond)

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	total := 0
	for _, o := range snap.Orders {
		total += o.Quantity
		assert.Equal(t, order.SideSell, o.Side)
	}
	assert.Equal(t, 10, total)
}

func TestRegistry_RemoveAndList(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})
	ctx := context.Background()

	first, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)
	second, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)
	third, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)

	list := f.reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{first, second, third}, []string{list[0].ID, list[1].ID, list[2].ID})

	require.NoError(t, f.reg.Start(ctx, first))
	err = f.reg.Remove(first)
	assert.Equal(t, strategy.KindInvalidState, strategy.KindOf(err))

	require.NoError(t, f.reg.Stop(first))
	require.NoError(t, f.reg.Remove(first))
	require.NoError(t, f.reg.Remove(third))

	_, err = f.reg.Status(first)
	assert.Equal(t, strategy.KindNotFound, strategy.KindOf(err))
	require.Len(t, f.reg.List(), 1)
	assert.Equal(t, second, f.reg.List()[0].ID)
}

func TestRegistry_CancelOrders(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})
	ctx := context.Background()

	id, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(ctx, id))

	res, err := f.reg.CancelOrders(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Requested)
	assert.Len(t, res.Canceled, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, strategy.StateStopped, f.state(t, id))
}

func TestRegistry_StopAll(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.reg.Register("highlow", highLowParams())
		require.NoError(t, err)
		require.NoError(t, f.reg.Start(ctx, id))
		ids = append(ids, id)
	}
	require.NoError(t, f.reg.Pause(ids[1]))
	idle, err := f.reg.Register("highlow", highLowParams())
	require.NoError(t, err)

	require.NoError(t, f.reg.StopAll())
	for _, id := range ids {
		assert.Equal(t, strategy.StateStopped, f.state(t, id))
	}
	assert.Equal(t, strategy.StateInitialized, f.state(t, idle))
}

func TestRegistry_OrderObserver(t *testing.T) {
	gw := &scriptedGateway{}
	feed := market.NewService(nil, time.Minute)
	var mu sync.Mutex
	var seen []string
	reg, err := New(Config{}, Components{
		Factory: strategy.NewStrategyFactory(strategy.Deps{Gateway: gw, Feed: feed}),
		Feed:    feed,
		Gateway: gw,
		Observer: func(strategyID string, typ strategy.StrategyType, o order.Order) {
			mu.Lock()
			seen = append(seen, string(typ)+":"+o.ID)
			mu.Unlock()
		},
		NewID: func() string { return "fixed-id" },
	})
	require.NoError(t, err)
	defer reg.Close()

	id, err := reg.Register("ladder", ladderParams())
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	require.NoError(t, reg.Start(context.Background(), id))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ladder:ord-1", "ladder:ord-2", "ladder:ord-3"}, seen)
}

func TestRegistry_StatusNotBlockedByInFlightOrder(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		params map[string]any
		quote  float64
	}{
		{name: "highlow", typ: "highlow", params: highLowParams(), quote: 9},
		{name: "oscillating", typ: "oscillating", params: func() map[string]any {
			p := oscillatingParams()
			p["initial_price"] = 10.0
			return p
		}(), quote: 8.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newBlockingGateway()
			f := newFixture(t, gw, Config{})
			defer close(gw.release)

			id, err := f.reg.Register(tt.typ, tt.params)
			require.NoError(t, err)
			require.NoError(t, f.reg.Start(context.Background(), id))
			f.quote(tt.quote)

			select {
			case <-gw.entered:
			case <-time.After(time.Second):
				t.Fatal("order was never placed")
			}

			done := make(chan strategy.Snapshot, 1)
			go func() {
				snap, _ := f.reg.Status(id)
				_ = f.reg.List()
				done <- snap
			}()
			select {
			case snap := <-done:
				assert.Equal(t, strategy.StateRunning, snap.State)
				assert.NotNil(t, snap.Detail)
			case <-time.After(500 * time.Millisecond):
				t.Fatal("status blocked behind an in-flight order")
			}
		})
	}
}

func TestRegistry_FailedOrdersAreJournaled(t *testing.T) {
	gw := &scriptedGateway{err: gateway.Fatal("place_limit_order", gateway.ErrRejected)}
	mon := monitor.New(monitor.DefaultConfig())
	j, err := journal.Open(config.JournalConfig{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()
	f := newFixtureWith(t, gw, Config{}, Components{Monitor: mon, Observer: j.Observer()})

	id, err := f.reg.Register("ladder", ladderParams())
	require.NoError(t, err)
	require.Error(t, f.reg.Start(context.Background(), id))

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 3)
	for _, o := range snap.Orders {
		assert.Equal(t, order.StatusFailed, o.Status)
	}

	entries, err := j.List(context.Background(), journal.Filter{StrategyID: id})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, string(order.StatusFailed), e.Status)
		assert.Contains(t, e.Error, "order rejected")
		assert.Equal(t, "ladder", e.StrategyType)
	}

	expected := `
# HELP strat_order_failures_total 下单失败总数
# TYPE strat_order_failures_total counter
strat_order_failures_total{strategy_type="ladder"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(mon.Registry(), strings.NewReader(expected), "strat_order_failures_total"))
}

func TestRegistry_OscillatingQuoteBurstIsSerialized(t *testing.T) {
	gw := &slowGateway{delay: 5 * time.Millisecond}
	f := newFixture(t, gw, Config{})

	id, err := f.reg.Register("oscillating", oscillatingParams())
	require.NoError(t, err)
	require.NoError(t, f.reg.Start(context.Background(), id))

	// 参考价 100，依次买入 99/98/97，98 时卖出最早的 99 持仓
	for _, p := range []float64{100, 99, 98, 97, 98} {
		f.quote(p)
	}
	require.Eventually(t, func() bool { return gw.placedCount() == 4 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), gw.maxInFlight.Load())
	assert.Equal(t, []order.Side{order.SideBuy, order.SideBuy, order.SideBuy, order.SideSell}, gw.sides())

	snap, err := f.reg.Status(id)
	require.NoError(t, err)
	positions, ok := snap.Detail["positions"].([]order.Position)
	require.True(t, ok)
	require.Len(t, positions, 2)
	assert.Equal(t, 98.0, positions[0].EntryPrice)
	assert.Equal(t, 97.0, positions[1].EntryPrice)
	assert.Equal(t, []string{"ord-2", "ord-3"}, []string{positions[0].OrderID, positions[1].OrderID})
	assert.InDelta(t, -10.0, snap.Detail["realized_pnl"], 1e-9)
	assert.Equal(t, 4, snap.Detail["trades"])
}

func TestRegistry_RemoveAndStartAreExclusive(t *testing.T) {
	gw := &scriptedGateway{}
	f := newFixture(t, gw, Config{})
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		id, err := f.reg.Register("highlow", highLowParams())
		require.NoError(t, err)

		var wg sync.WaitGroup
		var startErr, removeErr error
		wg.Add(2)
		go func() { defer wg.Done(); startErr = f.reg.Start(ctx, id) }()
		go func() { defer wg.Done(); removeErr = f.reg.Remove(id) }()
		wg.Wait()

		_, statusErr := f.reg.Status(id)
		if removeErr == nil {
			require.Error(t, startErr, "iteration %d", i)
			assert.Equal(t, strategy.KindNotFound, strategy.KindOf(startErr))
			assert.Equal(t, strategy.KindNotFound, strategy.KindOf(statusErr))
			continue
		}
		require.NoError(t, startErr, "iteration %d", i)
		assert.Equal(t, strategy.KindInvalidState, strategy.KindOf(removeErr))
		require.NoError(t, statusErr)
		require.NoError(t, f.reg.Stop(id))
		require.NoError(t, f.reg.Remove(id))
	}
	assert.Empty(t, f.reg.List())
}
