package gateway

import (
	"context"
	"time"

	"strategy-engine/order"
)

// ObserveFunc 接收每次网关调用的操作名、耗时与错误
type ObserveFunc func(op string, elapsed time.Duration, err error)

// Instrumented 记录每次网关调用的耗时与结果
type Instrumented struct {
	next    Gateway
	observe ObserveFunc
}

func NewInstrumented(next Gateway, observe ObserveFunc) *Instrumented {
	return &Instrumented{next: next, observe: observe}
}

func (g *Instrumented) record(op string, started time.Time, err error) {
	if g.observe != nil {
		g.observe(op, time.Since(started), err)
	}
}

func (g *Instrumented) PlaceMarketOrder(ctx context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	started := time.Now()
	o, err := g.next.PlaceMarketOrder(ctx, symbol, qty, side)
	g.record("place_market_order", started, err)
	return o, err
}

func (g *Instrumented) PlaceLimitOrder(ctx context.Context, symbol string, qty int, side order.Side, price float64, duration order.Duration, session order.Session) (order.Order, error) {
	started := time.Now()
	o, err := g.next.PlaceLimitOrder(ctx, symbol, qty, side, price, duration, session)
	g.record("place_limit_order", started, err)
	return o, err
}

func (g *Instrumented) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	started := time.Now()
	ok, err := g.next.CancelOrder(ctx, orderID)
	g.record("cancel_order", started, err)
	return ok, err
}

func (g *Instrumented) GetPosition(ctx context.Context, symbol string) (*order.Position, error) {
	started := time.Now()
	pos, err := g.next.GetPosition(ctx, symbol)
	g.record("get_position", started, err)
	return pos, err
}
