package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-engine/gateway"
	"strategy-engine/infrastructure/alert"
	"strategy-engine/infrastructure/logger"
	"strategy-engine/infrastructure/monitor"
	"strategy-engine/market"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// Config 注册表配置
type Config struct {
	TickInterval time.Duration // 定时策略的最大 tick 间隔
	PollInterval time.Duration // >0 时报价驱动策略改为按间隔轮询行情
	StopTimeout  time.Duration // 等待工作协程退出的上限
}

// Components 注册表依赖组件
type Components struct {
	Factory      *strategy.StrategyFactory
	Feed         market.Feed
	Gateway      gateway.Gateway
	Monitor      *monitor.Monitor
	AlertManager *alert.Manager
	Logger       *logger.Logger
	// Observer 交易日志等外部订单回调
	Observer strategy.OrderObserver
	Clock    strategy.Clock
	NewID    func() string
}

// CancelResult 撤单结果
type CancelResult struct {
	Requested int               `json:"requested"`
	Canceled  []string          `json:"canceled"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}

type instance struct {
	strat strategy.Strategy
	seq   uint64

	// executing 拒绝并发的 Start/Resume
	executing atomic.Bool
	// eventMu 串行化事件处理与状态命令
	eventMu sync.Mutex

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Registry 策略实例注册表，每个运行中的实例拥有一个工作协程
type Registry struct {
	config   Config
	factory  *strategy.StrategyFactory
	feed     market.Feed
	gateway  gateway.Gateway
	monitor  *monitor.Monitor
	alertMgr *alert.Manager
	logger   *logger.Logger
	observer strategy.OrderObserver
	clock    strategy.Clock
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	instances map[string]*instance
	seq       uint64
}

// New 创建注册表
func New(cfg Config, components Components) (*Registry, error) {
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if components.Logger == nil {
		components.Logger = logger.NewNop()
	}
	if components.Clock == nil {
		components.Clock = strategy.SystemClock
	}
	if components.NewID == nil {
		components.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		config:    cfg,
		factory:   components.Factory,
		feed:      components.Feed,
		gateway:   components.Gateway,
		monitor:   components.Monitor,
		alertMgr:  components.AlertManager,
		logger:    components.Logger,
		observer:  components.Observer,
		clock:     components.Clock,
		newID:     components.NewID,
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*instance),
	}, nil
}

func validateComponents(c Components) error {
	if c.Factory == nil {
		return errors.New("strategy factory is required")
	}
	if c.Gateway == nil {
		return errors.New("trading gateway is required")
	}
	return nil
}

// Register 校验参数并登记实例（initialized）
func (r *Registry) Register(strategyType string, params map[string]any) (string, error) {
	id := r.newID()
	s, err := r.factory.CreateStrategy(strategyType, id, params)
	if err != nil {
		r.logger.Warn("strategy rejected", zap.String("type", strategyType), zap.Error(err))
		return "", err
	}
	s.SetOrderObserver(r.onOrder)

	r.mu.Lock()
	r.seq++
	r.instances[id] = &instance{strat: s, seq: r.seq}
	r.mu.Unlock()

	r.logger.LogStrategy("registered", id, map[string]interface{}{
		"type":   strategyType,
		"symbol": s.Symbol(),
	})
	r.refreshGauge()
	return id, nil
}

// Start 启动实例。一次性策略同步执行完毕后进入 stopped；其余策略启动工作协程后立即返回。
func (r *Registry) Start(ctx context.Context, id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if !inst.executing.CompareAndSwap(false, true) {
		return strategy.AlreadyRunning(id)
	}
	release := func() { inst.executing.Store(false) }

	s := inst.strat
	if _, ok := s.(strategy.QuoteDriven); ok && r.feed == nil {
		release()
		return strategy.ExecutionFailure(errors.New("market data feed not configured"))
	}

	inst.eventMu.Lock()
	if !r.registered(id, inst) {
		inst.eventMu.Unlock()
		release()
		return strategy.NotFound(id)
	}
	switch st := s.State(); st {
	case strategy.StateRunning:
		inst.eventMu.Unlock()
		release()
		return strategy.AlreadyRunning(id)
	case strategy.StateInitialized:
	default:
		inst.eventMu.Unlock()
		release()
		return strategy.InvalidTransition(st, strategy.StateRunning)
	}
	err = s.Transition(strategy.StateRunning)
	inst.eventMu.Unlock()
	if err != nil {
		release()
		return err
	}
	r.logger.LogStrategy("started", id, map[string]interface{}{"type": string(s.Type())})
	r.refreshGauge()

	switch impl := s.(type) {
	case strategy.OneShot:
		defer release()
		return r.runOnce(ctx, inst, impl)
	case strategy.Scheduled, strategy.QuoteDriven:
		r.spawn(inst)
		release()
		return nil
	default:
		release()
		err := strategy.ExecutionFailure(fmt.Errorf("strategy type %s has no execution model", s.Type()))
		inst.eventMu.Lock()
		r.fail(inst, err)
		inst.eventMu.Unlock()
		return err
	}
}

// Pause 暂停实例，工作协程跳过后续事件
func (r *Registry) Pause(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	inst.eventMu.Lock()
	err = inst.strat.Transition(strategy.StatePaused)
	inst.eventMu.Unlock()
	if err != nil {
		return err
	}
	r.logger.LogStrategy("paused", id, nil)
	r.refreshGauge()
	return nil
}

// Resume 恢复暂停的实例
func (r *Registry) Resume(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if !inst.executing.CompareAndSwap(false, true) {
		return strategy.AlreadyRunning(id)
	}
	defer inst.executing.Store(false)

	inst.eventMu.Lock()
	st := inst.strat.State()
	if st == strategy.StateRunning {
		inst.eventMu.Unlock()
		return strategy.AlreadyRunning(id)
	}
	if st != strategy.StatePaused {
		inst.eventMu.Unlock()
		return strategy.InvalidTransition(st, strategy.StateRunning)
	}
	err = inst.strat.Transition(strategy.StateRunning)
	inst.eventMu.Unlock()
	if err != nil {
		return err
	}
	r.logger.LogStrategy("resumed", id, nil)
	r.refreshGauge()
	return nil
}

// Stop 先切换状态再通知工作协程，返回后不会再处理任何事件
func (r *Registry) Stop(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	inst.eventMu.Lock()
	err = inst.strat.Transition(strategy.StateStopped)
	inst.eventMu.Unlock()
	if err != nil {
		return err
	}
	r.halt(inst)
	r.logger.LogStrategy("stopped", id, map[string]interface{}{"orders": len(inst.strat.Orders())})
	r.refreshGauge()
	return nil
}

// Status 返回实例快照
func (r *Registry) Status(id string) (strategy.Snapshot, error) {
	inst, err := r.get(id)
	if err != nil {
		return strategy.Snapshot{}, err
	}
	return strategy.Describe(inst.strat), nil
}

// List 按创建顺序返回所有实例快照
func (r *Registry) List() []strategy.Snapshot {
	r.mu.RLock()
	insts := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	r.mu.RUnlock()

	sort.Slice(insts, func(i, j int) bool { return insts[i].seq < insts[j].seq })
	out := make([]strategy.Snapshot, 0, len(insts))
	for _, inst := range insts {
		out = append(out, strategy.Describe(inst.strat))
	}
	return out
}

// Remove 删除未运行的实例（initialized、stopped、error）。
// 状态检查与删除在 eventMu 内完成，与 Start 互斥。
func (r *Registry) Remove(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	inst.eventMu.Lock()
	if st := inst.strat.State(); st.IsActive() {
		inst.eventMu.Unlock()
		return &strategy.Error{
			Kind:    strategy.KindInvalidState,
			Message: fmt.Sprintf("strategy %s must be stopped before removal (state: %s)", id, st),
		}
	}
	r.mu.Lock()
	if r.instances[id] != inst {
		r.mu.Unlock()
		inst.eventMu.Unlock()
		return strategy.NotFound(id)
	}
	delete(r.instances, id)
	r.mu.Unlock()
	inst.eventMu.Unlock()

	r.halt(inst)
	r.logger.LogStrategy("removed", id, nil)
	r.refreshGauge()
	return nil
}

// CancelOrders 撤销实例记录的所有活跃订单，不改变实例状态
func (r *Registry) CancelOrders(ctx context.Context, id string) (CancelResult, error) {
	inst, err := r.get(id)
	if err != nil {
		return CancelResult{}, err
	}

	res := CancelResult{Canceled: []string{}, Skipped: []string{}}
	for _, o := range inst.strat.Orders() {
		if !o.IsActive() {
			continue
		}
		res.Requested++
		ok, err := r.gateway.CancelOrder(ctx, o.ID)
		switch {
		case err != nil:
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[o.ID] = err.Error()
		case ok:
			res.Canceled = append(res.Canceled, o.ID)
			r.monitor.RecordOrderCanceled()
		default:
			res.Skipped = append(res.Skipped, o.ID)
		}
	}

	r.logger.LogStrategy("orders_canceled", id, map[string]interface{}{
		"requested": res.Requested,
		"canceled":  len(res.Canceled),
		"failed":    len(res.Failed),
	})
	return res, nil
}

// StopAll 并发停止所有 running/paused 实例，返回合并后的错误
func (r *Registry) StopAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.instances))
	for id, inst := range r.instances {
		if inst.strat.State().IsActive() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.Stop(id); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Close 停止所有实例并释放工作协程
func (r *Registry) Close() error {
	err := r.StopAll()
	r.cancel()
	return err
}

func (r *Registry) get(id string) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, strategy.NotFound(id)
	}
	return inst, nil
}

// registered 判断实例仍在注册表中
func (r *Registry) registered(id string, inst *instance) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[id] == inst
}

// runOnce 同步执行一次性策略
func (r *Registry) runOnce(ctx context.Context, inst *instance, s strategy.OneShot) error {
	r.monitor.RecordTick(string(s.Type()))
	err := guard(func() error { return s.Execute(ctx) })

	inst.eventMu.Lock()
	defer inst.eventMu.Unlock()
	if err != nil {
		r.fail(inst, err)
		return err
	}
	if !s.State().IsFinal() {
		if terr := s.Transition(strategy.StateStopped); terr != nil {
			r.logger.Warn("failed to finish strategy", zap.String("strategy_id", s.ID()), zap.Error(terr))
		}
	}
	r.logger.LogStrategy("completed", s.ID(), map[string]interface{}{"orders": len(s.Orders())})
	r.refreshGauge()
	return nil
}

// spawn 为定时或报价驱动策略启动工作协程
func (r *Registry) spawn(inst *instance) {
	ctx, cancel := context.WithCancel(r.ctx)
	stop := make(chan struct{})
	done := make(chan struct{})

	var sub *market.Subscription
	qd, quoteDriven := inst.strat.(strategy.QuoteDriven)
	if quoteDriven && r.config.PollInterval <= 0 {
		sub = r.feed.Subscribe(inst.strat.Symbol())
	}

	inst.mu.Lock()
	inst.stop, inst.done, inst.cancel = stop, done, cancel
	inst.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		switch {
		case quoteDriven && sub != nil:
			r.runStreaming(ctx, inst, qd, sub, stop)
		case quoteDriven:
			r.runPolling(ctx, inst, qd, stop)
		default:
			r.runScheduled(ctx, inst, inst.strat.(strategy.Scheduled), stop)
		}
	}()
}

// halt 通知工作协程退出并等待，超时后取消其上下文
func (r *Registry) halt(inst *instance) {
	inst.mu.Lock()
	stop, done, cancel := inst.stop, inst.done, inst.cancel
	inst.stop = nil
	inst.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(r.config.StopTimeout):
		r.logger.Warn("timeout waiting for strategy worker to exit",
			zap.String("strategy_id", inst.strat.ID()),
			zap.Duration("timeout", r.config.StopTimeout))
	}
	cancel()
}

func (r *Registry) runScheduled(ctx context.Context, inst *instance, s strategy.Scheduled, stop <-chan struct{}) {
	interval := s.TickInterval()
	if interval <= 0 || interval > r.config.TickInterval {
		interval = r.config.TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() bool {
		finished := false
		if r.process(inst, func() error {
			var err error
			finished, err = s.OnTick(ctx, r.clock.Now())
			return err
		}) {
			return true
		}
		if finished {
			r.finish(inst)
		}
		return finished
	}

	if tick() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if tick() {
				return
			}
		}
	}
}

func (r *Registry) runStreaming(ctx context.Context, inst *instance, s strategy.QuoteDriven, sub *market.Subscription, stop <-chan struct{}) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case q, ok := <-sub.C:
			if !ok {
				r.logger.Warn("quote subscription closed", zap.String("strategy_id", s.ID()))
				return
			}
			if r.process(inst, func() error { return s.OnQuote(ctx, q) }) {
				return
			}
		}
	}
}

func (r *Registry) runPolling(ctx context.Context, inst *instance, s strategy.QuoteDriven, stop <-chan struct{}) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	poll := func() bool {
		return r.process(inst, func() error {
			q, err := r.feed.Quote(ctx, s.Symbol())
			if err != nil {
				return strategy.QuoteUnavailable(err)
			}
			return s.OnQuote(ctx, q)
		})
	}

	if poll() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if poll() {
				return
			}
		}
	}
}

// process 处理单个事件；返回 true 表示工作协程应退出
func (r *Registry) process(inst *instance, fn func() error) bool {
	inst.eventMu.Lock()
	defer inst.eventMu.Unlock()

	switch inst.strat.State() {
	case strategy.StateRunning:
	case strategy.StatePaused:
		return false
	default:
		return true
	}

	r.monitor.RecordTick(string(inst.strat.Type()))
	err := guard(fn)
	if err == nil {
		return false
	}
	if strategy.IsRetryable(err) {
		inst.strat.RecordError(err)
		r.monitor.RecordStrategyError(string(inst.strat.Type()), string(strategy.KindGateway))
		return false
	}
	r.fail(inst, err)
	return true
}

// finish 定时策略全部完成后进入 stopped
func (r *Registry) finish(inst *instance) {
	inst.eventMu.Lock()
	err := inst.strat.Transition(strategy.StateStopped)
	inst.eventMu.Unlock()
	if err != nil {
		return
	}
	r.logger.LogStrategy("completed", inst.strat.ID(), map[string]interface{}{"orders": len(inst.strat.Orders())})
	r.refreshGauge()
}

// fail 记录错误并进入 error 状态，调用方需持有 eventMu
func (r *Registry) fail(inst *instance, err error) {
	s := inst.strat
	kind := strategy.KindOf(err)
	s.RecordError(err)
	r.monitor.RecordStrategyError(string(s.Type()), string(kind))

	if terr := s.Transition(strategy.StateError); terr != nil {
		return
	}
	r.logger.LogError(err, map[string]interface{}{
		"strategy_id":   s.ID(),
		"strategy_type": string(s.Type()),
		"kind":          string(kind),
	})
	if aerr := r.alertMgr.StrategyFailed(s.ID(), string(s.Type()), string(kind), strategy.Message(err)); aerr != nil {
		r.logger.Warn("failed to send alert", zap.Error(aerr))
	}
	r.refreshGauge()
}

func (r *Registry) onOrder(strategyID string, typ strategy.StrategyType, o order.Order) {
	if o.Status == order.StatusFailed {
		r.monitor.RecordOrderFailure(string(typ))
	} else {
		r.monitor.RecordOrderPlaced(string(typ), string(o.Side))
	}
	r.logger.LogOrder("recorded", o.ID, map[string]interface{}{
		"strategy_id": strategyID,
		"symbol":      o.Symbol,
		"side":        string(o.Side),
		"type":        string(o.Type),
		"qty":         o.Quantity,
		"price":       o.LimitPrice,
		"status":      string(o.Status),
	})
	if r.observer != nil {
		r.observer(strategyID, typ, o)
	}
}

func (r *Registry) refreshGauge() {
	if r.monitor == nil {
		return
	}
	r.mu.RLock()
	counts := make(map[string]int)
	for _, inst := range r.instances {
		counts[string(inst.strat.State())]++
	}
	r.mu.RUnlock()
	r.monitor.SetStrategyStates(counts)
}

// guard 将策略中的 panic 转换为 execution_error
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = strategy.ExecutionFailure(fmt.Errorf("panic: %v", p))
		}
	}()
	return fn()
}
