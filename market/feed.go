package market

import (
	"context"
	"errors"
	"time"
)

var ErrNoQuote = errors.New("no quote available")

// Feed 行情数据源。
type Feed interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	// History 返回 [start, end) 内按 interval 聚合的 Bar，按时间升序。
	History(ctx context.Context, symbol string, interval time.Duration, start, end time.Time) ([]Bar, error)
	Subscribe(symbols ...string) *Subscription
}
