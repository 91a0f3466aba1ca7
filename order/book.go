package order

import (
	"errors"
	"sort"
	"sync"
)

var ErrUnknownOrder = errors.New("unknown order")

// Book 记录订单和状态，状态变更经过 StateMachine 校验。
type Book struct {
	mu     sync.RWMutex
	orders map[string]Order
	seq    map[string]int
	next   int
	sm     *StateMachine
}

func NewBook() *Book {
	return &Book{
		orders: make(map[string]Order),
		seq:    make(map[string]int),
		sm:     NewStateMachine(),
	}
}

// Add 登记新订单。
func (b *Book) Add(o Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[o.ID]; !ok {
		b.seq[o.ID] = b.next
		b.next++
	}
	b.orders[o.ID] = o
}

func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// Transition 修改订单状态，mutate 可同时更新成交字段。
func (b *Book) Transition(id string, to Status, mutate func(*Order)) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if err := b.sm.ValidateTransition(o.Status, to); err != nil {
		return o, err
	}
	o.Status = to
	if mutate != nil {
		mutate(&o)
	}
	b.orders[id] = o
	return o, nil
}

// Active 返回仍可成交的订单，按登记顺序。
func (b *Book) Active(symbol string) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Order, 0)
	for _, o := range b.orders {
		if o.Symbol == symbol && o.Status == StatusOpen {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return b.seq[res[i].ID] < b.seq[res[j].ID] })
	return res
}

// CanCancel 判断订单当前是否可撤。
func (b *Book) CanCancel(id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return false, ErrUnknownOrder
	}
	return b.sm.CanCancel(o.Status), nil
}
