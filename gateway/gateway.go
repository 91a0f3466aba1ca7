package gateway

import (
	"context"

	"strategy-engine/order"
)

// Gateway 是券商交易接口。实现需并发安全；重试/退避由实现自行负责，策略层不重试。
type Gateway interface {
	PlaceMarketOrder(ctx context.Context, symbol string, qty int, side order.Side) (order.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol string, qty int, side order.Side, price float64, duration order.Duration, session order.Session) (order.Order, error)
	// CancelOrder 返回 false 表示订单已处于终态，无需撤销。
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	// GetPosition 无持仓时返回 nil。
	GetPosition(ctx context.Context, symbol string) (*order.Position, error)
}
