package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Service 维护最新报价与历史 Bar，并向订阅者广播。
type Service struct {
	pub         *Publisher
	barInterval time.Duration

	mu     sync.RWMutex
	quotes map[string]Quote
	bars   map[string][]Bar
	aggs   map[string]*BarAggregator
}

func NewService(pub *Publisher, barInterval time.Duration) *Service {
	if pub == nil {
		pub = NewPublisher(0)
	}
	if barInterval <= 0 {
		barInterval = time.Minute
	}
	return &Service{
		pub:         pub,
		barInterval: barInterval,
		quotes:      make(map[string]Quote),
		bars:        make(map[string][]Bar),
		aggs:        make(map[string]*BarAggregator),
	}
}

// OnQuote 更新并广播。
func (s *Service) OnQuote(q Quote) {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	agg, ok := s.aggs[q.Symbol]
	if !ok {
		agg = NewBarAggregator(s.barInterval)
		s.aggs[q.Symbol] = agg
	}
	if closed := agg.OnTrade(q.Last, q.Volume, q.Timestamp); closed != nil {
		s.bars[q.Symbol] = append(s.bars[q.Symbol], *closed)
	}
	s.mu.Unlock()
	s.pub.Publish(q)
}

// LoadBars 导入历史 Bar。
func (s *Service) LoadBars(symbol string, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(s.bars[symbol], bars...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Ts.Before(all[j].Ts) })
	s.bars[symbol] = all
}

func (s *Service) Quote(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return q, nil
}

func (s *Service) History(_ context.Context, symbol string, interval time.Duration, start, end time.Time) ([]Bar, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid history range %s - %s", start, end)
	}
	s.mu.RLock()
	src := s.bars[symbol]
	res := make([]Bar, 0)
	for _, b := range src {
		if !b.Ts.Before(start) && b.Ts.Before(end) {
			res = append(res, b)
		}
	}
	s.mu.RUnlock()
	if interval > s.barInterval {
		res = Aggregate(res, interval)
	}
	return res, nil
}

func (s *Service) Subscribe(symbols ...string) *Subscription {
	return s.pub.Subscribe(symbols...)
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(symbol string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return time.Hour * 24 * 365
	}
	return time.Since(q.Timestamp)
}
