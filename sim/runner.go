package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-engine/gateway"
	"strategy-engine/market"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// ErrNoData 回放区间内没有 Bar。
var ErrNoData = errors.New("no bars in range")

const defaultCapital = 10000

// Config 单次回测配置。
type Config struct {
	Strategy       strategy.StrategyType `json:"strategy" yaml:"strategy"`
	Params         map[string]any        `json:"params" yaml:"params"`
	Symbol         string                `json:"symbol" yaml:"symbol"`
	InitialCapital float64               `json:"initial_capital" yaml:"initial_capital"`
	NoShort        bool                  `json:"no_short" yaml:"no_short"`
	// Start 之前的 Bar 只作为历史数据（VWAP 成交量分布），不回放
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
	Seed  int64     `json:"seed" yaml:"seed"`
}

// Trade 一笔成交
type Trade struct {
	OrderID  string     `json:"order_id"`
	Side     order.Side `json:"side"`
	Quantity int        `json:"quantity"`
	Price    float64    `json:"price"`
	At       time.Time  `json:"at"`
}

// EquityPoint 每根 Bar 收盘时的权益
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// Result 回测结果
type Result struct {
	ID             string                `json:"id"`
	Strategy       strategy.StrategyType `json:"strategy"`
	Symbol         string                `json:"symbol"`
	Start          time.Time             `json:"start"`
	End            time.Time             `json:"end"`
	Bars           int                   `json:"bars"`
	InitialCapital float64               `json:"initial_capital"`
	FinalCapital   float64               `json:"final_capital"`
	Position       int                   `json:"position"`
	RealizedPnL    float64               `json:"realized_pnl"`
	PnL            float64               `json:"pnl"`
	TotalReturn    float64               `json:"total_return"` // 百分比
	State          strategy.State        `json:"state"`
	Error          string                `json:"error,omitempty"`
	Trades         []Trade               `json:"trades"`
	Orders         []order.Order         `json:"orders"`
	Equity         []EquityPoint         `json:"equity"`
	Metrics        Metrics               `json:"metrics"`
	RanAt          time.Time             `json:"ran_at"`
}

// Runner 将历史 Bar 回放给策略，订单由 gateway.Paper 撮合。
type Runner struct {
	logger *zap.Logger

	mu      sync.RWMutex
	history []Result
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger.Named("sim")}
}

// Run 回放一次并记录到历史。策略创建失败或 ctx 取消时返回错误；
// 策略运行期间的不可重试错误记录在 Result.Error 中。
func (r *Runner) Run(ctx context.Context, cfg Config, bars []market.Bar) (Result, error) {
	params, symbol, err := normalize(cfg)
	if err != nil {
		return Result{}, err
	}
	warmup, replay := split(bars, cfg.Start, cfg.End)
	if len(replay) == 0 {
		return Result{}, ErrNoData
	}
	capital := cfg.InitialCapital
	if capital <= 0 {
		capital = defaultCapital
	}

	clock := newSimClock(replay[0].Ts)
	var (
		tradesMu sync.Mutex
		trades   []Trade
	)
	paper, err := gateway.NewPaper(gateway.PaperConfig{
		Symbols: []string{symbol},
		NoShort: cfg.NoShort,
		Now:     clock.Now,
		OnFill: func(o order.Order) {
			tradesMu.Lock()
			trades = append(trades, Trade{OrderID: o.ID, Side: o.Side, Quantity: o.Quantity, Price: o.FilledPrice, At: o.FilledAt})
			tradesMu.Unlock()
		},
	}, r.logger)
	if err != nil {
		return Result{}, err
	}

	interval := barInterval(replay)
	feed := market.NewService(nil, interval)
	if len(warmup) > 0 {
		feed.LoadBars(symbol, warmup)
	}
	seed := cfg.Seed
	factory := strategy.NewStrategyFactory(strategy.Deps{
		Gateway:         paper,
		Feed:            feed,
		Clock:           clock,
		Logger:          r.logger,
		NewRand:         func() *rand.Rand { return rand.New(rand.NewSource(seed)) },
		VWAPBarInterval: interval,
	})

	id := uuid.NewString()
	s, err := factory.CreateStrategy(string(cfg.Strategy), id, params)
	if err != nil {
		return Result{}, err
	}
	if err := s.Transition(strategy.StateRunning); err != nil {
		return Result{}, err
	}

	res := Result{
		ID:             id,
		Strategy:       s.Type(),
		Symbol:         symbol,
		Start:          replay[0].Ts,
		End:            replay[len(replay)-1].Ts,
		Bars:           len(replay),
		InitialCapital: capital,
		RanAt:          time.Now(),
	}
	d := &driver{s: s}
	for _, bar := range replay {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for _, pt := range pricePath(bar, interval) {
			clock.Set(pt.at)
			q := market.Quote{Symbol: symbol, Bid: pt.price, Ask: pt.price, Last: pt.price, Volume: bar.Volume / 4, Timestamp: pt.at}
			paper.OnQuote(q)
			feed.OnQuote(q)
			if ferr := d.step(ctx, q); ferr != nil {
				res.Error = strategy.Message(ferr)
				r.logger.Warn("strategy failed during replay", zap.String("id", id), zap.Error(ferr))
			}
		}
		tradesMu.Lock()
		cash, pos := settle(capital, trades)
		tradesMu.Unlock()
		res.Equity = append(res.Equity, EquityPoint{At: bar.Ts, Equity: cash + float64(pos)*bar.Close})
	}
	if st := s.State(); st == strategy.StateRunning || st == strategy.StatePaused {
		_ = s.Transition(strategy.StateStopped)
	}

	tradesMu.Lock()
	res.Trades = append([]Trade(nil), trades...)
	tradesMu.Unlock()
	last := replay[len(replay)-1].Close
	cash, pos := settle(capital, res.Trades)
	res.Position = pos
	res.FinalCapital = cash + float64(pos)*last
	res.PnL = res.FinalCapital - capital
	res.TotalReturn = res.PnL / capital * 100
	res.RealizedPnL = paper.RealizedPnL(symbol)
	res.State = s.State()
	res.Orders = s.Orders()
	res.Metrics = ComputeMetrics(res.Trades, res.Equity)

	r.logger.Info("backtest finished",
		zap.String("id", id),
		zap.String("strategy", string(res.Strategy)),
		zap.String("symbol", symbol),
		zap.Int("bars", res.Bars),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("pnl", res.PnL),
		zap.Float64("total_return", res.TotalReturn))

	r.mu.Lock()
	r.history = append(r.history, res)
	r.mu.Unlock()
	return res, nil
}

// History 返回全部回测结果（按执行顺序）。
func (r *Runner) History() []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Result, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Runner) Get(id string) (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.history {
		if res.ID == id {
			return res, true
		}
	}
	return Result{}, false
}

func (r *Runner) Clear() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

// driver 按策略的驱动方式推进一步，返回不可重试的错误。
type driver struct {
	s        strategy.Strategy
	executed bool
	finished bool
}

func (d *driver) step(ctx context.Context, q market.Quote) error {
	if d.finished || d.s.State() != strategy.StateRunning {
		return nil
	}
	var err error
	switch st := d.s.(type) {
	case strategy.QuoteDriven:
		err = st.OnQuote(ctx, q)
	case strategy.Scheduled:
		var done bool
		done, err = st.OnTick(ctx, q.Timestamp)
		if done && err == nil {
			d.finished = true
		}
	case strategy.OneShot:
		if d.executed {
			return nil
		}
		d.executed = true
		err = st.Execute(ctx)
	default:
		return fmt.Errorf("strategy %s has no driver", d.s.Type())
	}
	if err == nil {
		return nil
	}
	d.s.RecordError(err)
	if strategy.IsRetryable(err) {
		return nil
	}
	d.finished = true
	_ = d.s.Transition(strategy.StateError)
	return err
}

func normalize(cfg Config) (map[string]any, string, error) {
	if cfg.Strategy == "" {
		return nil, "", strategy.ValidationError("strategy type is required")
	}
	params := make(map[string]any, len(cfg.Params)+1)
	for k, v := range cfg.Params {
		params[k] = v
	}
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		if s, ok := params["symbol"].(string); ok {
			symbol = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	if symbol == "" {
		return nil, "", strategy.ValidationError("symbol is required")
	}
	params["symbol"] = symbol
	return params, symbol, nil
}

// split 按 [start, end] 切分：start 之前为历史，区间内为回放。
func split(bars []market.Bar, start, end time.Time) (warmup, replay []market.Bar) {
	sorted := make([]market.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })
	for _, b := range sorted {
		switch {
		case !start.IsZero() && b.Ts.Before(start):
			warmup = append(warmup, b)
		case !end.IsZero() && b.Ts.After(end):
		default:
			replay = append(replay, b)
		}
	}
	return warmup, replay
}

// barInterval 取相邻 Bar 的最小间隔，默认 1 分钟。
func barInterval(bars []market.Bar) time.Duration {
	var d time.Duration
	for i := 1; i < len(bars); i++ {
		gap := bars[i].Ts.Sub(bars[i-1].Ts)
		if gap > 0 && (d == 0 || gap < d) {
			d = gap
		}
	}
	if d == 0 {
		return time.Minute
	}
	return d
}

type point struct {
	price float64
	at    time.Time
}

// pricePath 阳线按 O-L-H-C、阴线按 O-H-L-C 展开，时间均匀分布在 Bar 内。
func pricePath(b market.Bar, span time.Duration) []point {
	prices := [4]float64{b.Open, b.High, b.Low, b.Close}
	if b.Close >= b.Open {
		prices = [4]float64{b.Open, b.Low, b.High, b.Close}
	}
	step := span / 4
	out := make([]point, 0, 4)
	for i, p := range prices {
		out = append(out, point{price: p, at: b.Ts.Add(time.Duration(i) * step)})
	}
	return out
}

// settle 由成交推算现金与持仓。
func settle(capital float64, trades []Trade) (float64, int) {
	cash, pos := capital, 0
	for _, t := range trades {
		notional := float64(t.Quantity) * t.Price
		if t.Side == order.SideBuy {
			cash -= notional
			pos += t.Quantity
		} else {
			cash += notional
			pos -= t.Quantity
		}
	}
	return cash, pos
}

// simClock 回放时钟，由 Runner 推进。
type simClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newSimClock(t time.Time) *simClock { return &simClock{now: t} }

func (c *simClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *simClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
