package inventory

import (
	"sync"
	"time"
)

// Tracker 维护单个标的的净仓位、平均成本与已实现盈亏。
type Tracker struct {
	mu       sync.RWMutex
	net      int
	cost     float64
	realized float64
	opened   time.Time
}

// Update 根据成交数量调整仓位，deltaQty 为正表示买入。
func (t *Tracker) Update(deltaQty int, price float64, at time.Time) {
	if deltaQty == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.net == 0 || sameSign(t.net, deltaQty):
		// 同向加仓：加权平均成本
		if t.net == 0 {
			t.opened = at
		}
		totalValue := t.cost*float64(abs(t.net)) + price*float64(abs(deltaQty))
		t.net += deltaQty
		t.cost = totalValue / float64(abs(t.net))
	case abs(deltaQty) <= abs(t.net):
		// 减仓：成本不变，记录已实现盈亏
		closed := abs(deltaQty)
		t.realized += pnl(t.net, t.cost, price, closed)
		t.net += deltaQty
		if t.net == 0 {
			t.cost = 0
			t.opened = time.Time{}
		}
	default:
		// 反手：先平后开
		t.realized += pnl(t.net, t.cost, price, abs(t.net))
		t.net += deltaQty
		t.cost = price
		t.opened = at
	}
}

func (t *Tracker) NetExposure() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

func (t *Tracker) AvgCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

func (t *Tracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

// OpenedAt 返回当前仓位建立时间，空仓时为零值。
func (t *Tracker) OpenedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opened
}

func pnl(net int, cost, price float64, qty int) float64 {
	if net > 0 {
		return (price - cost) * float64(qty)
	}
	return (cost - price) * float64(qty)
}

func sameSign(a, b int) bool {
	return (a > 0) == (b > 0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
