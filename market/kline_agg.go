package market

import (
	"sync"
	"time"
)

// BarAggregator 从报价流生成固定周期的 Bar，周期按 Interval 对齐。
type BarAggregator struct {
	Interval time.Duration
	mu       sync.Mutex
	current  *Bar
}

func NewBarAggregator(interval time.Duration) *BarAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BarAggregator{Interval: interval}
}

// OnTrade 更新当前 Bar；返回新闭合的 Bar 或 nil。
func (a *BarAggregator) OnTrade(price, qty float64, ts time.Time) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := ts.Truncate(a.Interval)
	if a.current == nil || !start.Equal(a.current.Ts) {
		closed := a.current
		a.current = &Bar{
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: qty,
			Ts:     start,
		}
		return closed
	}

	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	a.current.Volume += qty
	return nil
}

// Aggregate 将细粒度 Bar 合并为 interval 周期。输入需按时间升序。
func Aggregate(bars []Bar, interval time.Duration) []Bar {
	if interval <= 0 || len(bars) == 0 {
		return bars
	}
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		start := b.Ts.Truncate(interval)
		n := len(out)
		if n > 0 && out[n-1].Ts.Equal(start) {
			cur := &out[n-1]
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		b.Ts = start
		out = append(out, b)
	}
	return out
}
