package strategy

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-engine/order"
)

// ErrorRecord 最近一次错误
type ErrorRecord struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// Snapshot 策略状态快照
type Snapshot struct {
	ID        string         `json:"id"`
	Type      StrategyType   `json:"type"`
	Symbol    string         `json:"symbol"`
	State     State          `json:"state"`
	Params    any            `json:"params"`
	Orders    []order.Order  `json:"orders"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	LastError *ErrorRecord   `json:"last_error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// OrderObserver 在策略记录订单时回调（日志/指标/交易日志）。
type OrderObserver func(strategyID string, typ StrategyType, o order.Order)

// Base 所有策略共享的状态机、订单历史与错误记录。
type Base struct {
	id     string
	typ    StrategyType
	symbol string
	params any
	clock  Clock
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	orders    []order.Order
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	lastError *ErrorRecord
	observer  OrderObserver
}

func newBase(id string, typ StrategyType, symbol string, params any, deps Deps) *Base {
	return &Base{
		id:        id,
		typ:       typ,
		symbol:    symbol,
		params:    params,
		clock:     deps.clock(),
		logger:    deps.logger().With(zap.String("strategy_id", id), zap.String("strategy_type", string(typ))),
		state:     StateInitialized,
		createdAt: deps.clock().Now(),
	}
}

func (b *Base) ID() string           { return b.id }
func (b *Base) Type() StrategyType   { return b.typ }
func (b *Base) Symbol() string       { return b.symbol }
func (b *Base) Logger() *zap.Logger  { return b.logger }
func (b *Base) CreatedAt() time.Time { return b.createdAt }

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Transition 校验并切换状态，非法转换不修改任何字段。
func (b *Base) Transition(to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ValidateTransition(b.state, to); err != nil {
		return err
	}
	from := b.state
	b.state = to
	now := b.clock.Now()
	if to == StateRunning && b.startedAt.IsZero() {
		b.startedAt = now
	}
	if to.IsFinal() {
		b.endedAt = now
	}
	b.logger.Info("strategy state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (b *Base) Start() error  { return b.Transition(StateRunning) }
func (b *Base) Pause() error  { return b.Transition(StatePaused) }
func (b *Base) Resume() error { return b.Transition(StateRunning) }
func (b *Base) Stop() error   { return b.Transition(StateStopped) }

// SetOrderObserver 设置订单回调，需在启动前设置。
func (b *Base) SetOrderObserver(fn OrderObserver) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// RecordOrder 追加订单副本到历史。
func (b *Base) RecordOrder(o order.Order) {
	o.StrategyID = b.id
	b.mu.Lock()
	b.orders = append(b.orders, o)
	observer := b.observer
	b.mu.Unlock()

	b.logger.Info("order recorded",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.Int("qty", o.Quantity),
		zap.Float64("price", o.LimitPrice),
		zap.String("status", string(o.Status)))
	if observer != nil {
		observer(b.id, b.typ, o)
	}
}

// RecordFailure 记录一次被网关拒绝的下单尝试，状态为 FAILED。
func (b *Base) RecordFailure(o order.Order, err error) {
	o.Status = order.StatusFailed
	if err != nil {
		o.LastError = err.Error()
	}
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = b.clock.Now()
	}
	b.RecordOrder(o)
}

// Orders 返回订单历史副本
func (b *Base) Orders() []order.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]order.Order, len(b.orders))
	copy(res, b.orders)
	return res
}

// RecordError 记录最近一次错误，不改变状态。
func (b *Base) RecordError(err error) {
	if err == nil {
		return
	}
	rec := &ErrorRecord{
		Kind:      KindOf(err),
		Message:   Message(err),
		Retryable: IsRetryable(err),
		At:        b.clock.Now(),
	}
	b.mu.Lock()
	b.lastError = rec
	b.mu.Unlock()
	b.logger.Warn("strategy error recorded",
		zap.String("kind", string(rec.Kind)),
		zap.Bool("retryable", rec.Retryable),
		zap.Error(err))
}

// LastError 返回最近一次错误
func (b *Base) LastError() *ErrorRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastError == nil {
		return nil
	}
	rec := *b.lastError
	return &rec
}

// Snapshot 返回基础快照，不含策略特有的 Detail。
func (b *Base) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		ID:        b.id,
		Type:      b.typ,
		Symbol:    b.symbol,
		State:     b.state,
		Params:    b.params,
		Orders:    make([]order.Order, len(b.orders)),
		CreatedAt: b.createdAt,
	}
	copy(snap.Orders, b.orders)
	if !b.startedAt.IsZero() {
		t := b.startedAt
		snap.StartedAt = &t
	}
	if !b.endedAt.IsZero() {
		t := b.endedAt
		snap.EndedAt = &t
	}
	if b.lastError != nil {
		rec := *b.lastError
		snap.LastError = &rec
	}
	return snap
}
