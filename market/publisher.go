package market

import (
	"sync"
	"sync/atomic"
)

// Subscription 一个报价订阅。C 按到达顺序投递，缓冲满时丢弃新报价。
type Subscription struct {
	C <-chan Quote

	id      uint64
	ch      chan Quote
	symbols map[string]struct{}
	pub     *Publisher
	dropped atomic.Int64
	once    sync.Once
}

// Close 取消订阅并关闭 C，可重复调用。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.pub.remove(s.id)
	})
}

// Dropped 返回因缓冲满被丢弃的报价数。
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(symbol string) bool {
	if len(s.symbols) == 0 {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// Publisher 一个轻量报价分发器。
type Publisher struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	onDrop func(symbol string)
}

func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// OnDrop 设置丢弃回调（用于指标）。
func (p *Publisher) OnDrop(fn func(symbol string)) {
	p.mu.Lock()
	p.onDrop = fn
	p.mu.Unlock()
}

// Subscribe 订阅指定标的；不传标的表示订阅全部。
func (p *Publisher) Subscribe(symbols ...string) *Subscription {
	ch := make(chan Quote, p.buffer)
	sub := &Subscription{
		C:       ch,
		ch:      ch,
		symbols: make(map[string]struct{}, len(symbols)),
		pub:     p,
	}
	for _, s := range symbols {
		sub.symbols[s] = struct{}{}
	}

	p.mu.Lock()
	p.nextID++
	sub.id = p.nextID
	p.subs[sub.id] = sub
	p.mu.Unlock()
	return sub
}

// Publish 非阻塞地投递给所有匹配的订阅。
func (p *Publisher) Publish(q Quote) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subs {
		if !sub.wants(q.Symbol) {
			continue
		}
		select {
		case sub.ch <- q:
		default:
			sub.dropped.Add(1)
			if p.onDrop != nil {
				p.onDrop(q.Symbol)
			}
		}
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(sub.ch)
	}
}
