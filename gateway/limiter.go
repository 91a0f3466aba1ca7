package gateway

import (
	"context"
	"sync"
	"time"

	"strategy-engine/order"
)

// RateLimiter 控制请求速率，避免触发券商限流。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter 是一个简单的令牌桶实现。
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 阻塞直到拿到令牌或 ctx 结束。
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		l.last = now
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimited 在每次网关调用前等待令牌。等待被取消时返回可重试错误。
type RateLimited struct {
	next    Gateway
	limiter RateLimiter
}

func NewRateLimited(next Gateway, limiter RateLimiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return Retryable(op, ErrRateLimited)
	}
	return nil
}

func (r *RateLimited) PlaceMarketOrder(ctx context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	if err := r.wait(ctx, "place_market_order"); err != nil {
		return order.Order{}, err
	}
	return r.next.PlaceMarketOrder(ctx, symbol, qty, side)
}

func (r *RateLimited) PlaceLimitOrder(ctx context.Context, symbol string, qty int, side order.Side, price float64, duration order.Duration, session order.Session) (order.Order, error) {
	if err := r.wait(ctx, "place_limit_order"); err != nil {
		return order.Order{}, err
	}
	return r.next.PlaceLimitOrder(ctx, symbol, qty, side, price, duration, session)
}

func (r *RateLimited) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := r.wait(ctx, "cancel_order"); err != nil {
		return false, err
	}
	return r.next.CancelOrder(ctx, orderID)
}

func (r *RateLimited) GetPosition(ctx context.Context, symbol string) (*order.Position, error) {
	if err := r.wait(ctx, "get_position"); err != nil {
		return nil, err
	}
	return r.next.GetPosition(ctx, symbol)
}
