package strategy

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-engine/market"
	"strategy-engine/order"
)

// OscillatingParams 区间震荡参数
type OscillatingParams struct {
	Symbol           string         `mapstructure:"symbol" validate:"required"`
	Quantity         int            `mapstructure:"quantity" validate:"gt=0"`
	PriceRange       float64        `mapstructure:"price_range" validate:"gt=0" default:"0.01"`
	IsPercentage     *bool          `mapstructure:"is_percentage" default:"true"`
	MinTradeInterval int            `mapstructure:"min_trade_interval" validate:"gte=0" default:"60"`
	MaxPositions     int            `mapstructure:"max_positions" validate:"gte=1" default:"3"`
	StdDev           float64        `mapstructure:"std_dev" validate:"gte=0"`
	InitialPrice     float64        `mapstructure:"initial_price" validate:"gte=0"`
	Session          order.Session  `mapstructure:"session" validate:"oneof=REGULAR EXTENDED ALL" default:"REGULAR"`
	Duration         order.Duration `mapstructure:"duration" validate:"oneof=DAY GTC EXTO" default:"DAY"`
}

func (p *OscillatingParams) applyDefaults(raw map[string]any) {
	if _, ok := raw["price_range"]; !ok {
		p.PriceRange = 0.01
	}
	if p.IsPercentage == nil {
		v := true
		p.IsPercentage = &v
	}
	if _, ok := raw["min_trade_interval"]; !ok {
		p.MinTradeInterval = 60
	}
	if _, ok := raw["max_positions"]; !ok {
		p.MaxPositions = 3
	}
	if p.Session == "" {
		p.Session = order.SessionRegular
	}
	if p.Duration == "" {
		p.Duration = order.DurationDay
	}
}

func (p OscillatingParams) validate() error {
	if err := checkParams(p); err != nil {
		return err
	}
	if *p.IsPercentage && p.PriceRange >= 1 {
		return ValidationError("price_range must be < 1 when is_percentage is true")
	}
	return nil
}

func (p OscillatingParams) interval() time.Duration {
	return time.Duration(p.MinTradeInterval) * time.Second
}

// Action 决策结果
type Action string

const (
	ActionNone Action = "none"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OscillatingState 决策所需的状态
type OscillatingState struct {
	Reference float64
	Positions []order.Position
	LastTrade time.Time
}

// Thresholds 当前评估使用的买卖阈值
type Thresholds struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
}

// Decide 纯函数：先判断买入，再判断 FIFO 卖出。
func Decide(p OscillatingParams, st OscillatingState, th Thresholds, price float64, now time.Time) Action {
	if !st.LastTrade.IsZero() && now.Sub(st.LastTrade) < p.interval() {
		return ActionNone
	}
	if price <= th.Buy && len(st.Positions) < p.MaxPositions {
		return ActionBuy
	}
	if price >= th.Sell && len(st.Positions) > 0 {
		return ActionSell
	}
	return ActionNone
}

// Oscillating 围绕参考价低买高卖，持仓按 FIFO 逐笔卖出。
// 参考价取 initial_price，未设置时取启动后首个报价；每次成交后重置为成交价。
type Oscillating struct {
	*Base
	params OscillatingParams
	deps   Deps

	mu         sync.Mutex
	rng        *rand.Rand
	state      OscillatingState
	thresholds Thresholds
	realized   float64
	trades     int
}

func newOscillating(id string, raw map[string]any, deps Deps) (*Oscillating, error) {
	var p OscillatingParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	p.applyDefaults(raw)
	if err := p.validate(); err != nil {
		return nil, err
	}
	s := &Oscillating{
		Base:   newBase(id, OscillatingStrategy, p.Symbol, p, deps),
		params: p,
		deps:   deps,
		rng:    deps.rand(),
	}
	if p.InitialPrice > 0 {
		s.state.Reference = p.InitialPrice
		s.thresholds = s.computeThresholds(p.InitialPrice)
	}
	return s, nil
}

func (s *Oscillating) rangeFor(ref float64) float64 {
	if *s.params.IsPercentage {
		return ref * s.params.PriceRange
	}
	return s.params.PriceRange
}

// computeThresholds 每次评估重新计算阈值，买卖各自独立加入高斯扰动，且与参考价至少相距 0.1*range。
func (s *Oscillating) computeThresholds(ref float64) Thresholds {
	r := s.rangeFor(ref)
	th := Thresholds{Buy: ref - r, Sell: ref + r}
	if s.params.StdDev > 0 {
		th.Buy += r * s.rng.NormFloat64() * s.params.StdDev
		th.Sell += r * s.rng.NormFloat64() * s.params.StdDev
		th.Buy = math.Min(th.Buy, ref-0.1*r)
		th.Sell = math.Max(th.Sell, ref+0.1*r)
	}
	return th
}

// OnQuote 处理一次报价。仅由所属 worker 串行调用，下单期间不持有 mu。
func (s *Oscillating) OnQuote(ctx context.Context, q market.Quote) error {
	price := q.Last
	if price <= 0 {
		return nil
	}
	now := q.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
	}

	s.mu.Lock()
	if s.state.Reference == 0 {
		s.state.Reference = price
		s.thresholds = s.computeThresholds(price)
		s.mu.Unlock()
		s.logger.Info("oscillating reference set", zap.Float64("reference", price))
		return nil
	}
	s.thresholds = s.computeThresholds(s.state.Reference)
	th := s.thresholds
	action := Decide(s.params, s.state, th, price, now)
	var oldest order.Position
	if action == ActionSell {
		oldest = s.state.Positions[0]
	}
	s.mu.Unlock()

	switch action {
	case ActionBuy:
		o, err := s.place(ctx, order.SideBuy, s.params.Quantity, price)
		if err != nil {
			return err
		}
		entry := price
		if o.FilledPrice > 0 {
			entry = o.FilledPrice
		}
		s.mu.Lock()
		s.state.Positions = append(s.state.Positions, order.Position{
			Symbol:     s.params.Symbol,
			Quantity:   s.params.Quantity,
			EntryPrice: entry,
			EntryTime:  now,
			OrderID:    o.ID,
		})
		s.afterTrade(price, now)
		held := len(s.state.Positions)
		s.mu.Unlock()
		s.logger.Info("oscillating buy",
			zap.Float64("price", price),
			zap.Float64("buy_threshold", th.Buy),
			zap.Int("positions", held))

	case ActionSell:
		if _, err := s.place(ctx, order.SideSell, oldest.Quantity, price); err != nil {
			return err
		}
		pnl := (price - oldest.EntryPrice) * float64(oldest.Quantity)
		s.mu.Lock()
		s.state.Positions = s.state.Positions[1:]
		s.realized += pnl
		realized := s.realized
		s.afterTrade(price, now)
		held := len(s.state.Positions)
		s.mu.Unlock()
		s.logger.Info("oscillating sell",
			zap.Float64("price", price),
			zap.Float64("entry_price", oldest.EntryPrice),
			zap.Float64("pnl", pnl),
			zap.Float64("realized_pnl", realized),
			zap.Int("positions", held))
	}
	return nil
}

// afterTrade 调用方需持有 mu
func (s *Oscillating) afterTrade(price float64, now time.Time) {
	s.state.Reference = price
	s.state.LastTrade = now
	s.trades++
}

func (s *Oscillating) place(ctx context.Context, side order.Side, qty int, price float64) (order.Order, error) {
	var (
		o   order.Order
		err error
		op  string
	)
	attempt := order.Order{
		Symbol:   s.params.Symbol,
		Side:     side,
		Type:     order.TypeMarket,
		Quantity: qty,
		Duration: order.DurationDay,
		Session:  order.SessionRegular,
	}
	if s.params.Session == order.SessionExtended {
		// 扩展时段不接受市价单
		op = "place_limit_order"
		attempt.Type, attempt.LimitPrice = order.TypeLimit, order.RoundPrice(price)
		attempt.Duration, attempt.Session = s.params.Duration, s.params.Session
		o, err = s.deps.Gateway.PlaceLimitOrder(ctx, s.params.Symbol, qty, side, attempt.LimitPrice, s.params.Duration, s.params.Session)
	} else {
		op = "place_market_order"
		o, err = s.deps.Gateway.PlaceMarketOrder(ctx, s.params.Symbol, qty, side)
	}
	if err != nil {
		s.RecordFailure(attempt, err)
		return o, GatewayFailure(op, err)
	}
	s.RecordOrder(o)
	return o, nil
}

// Positions 返回 FIFO 队列副本
func (s *Oscillating) Positions() []order.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]order.Position, len(s.state.Positions))
	copy(res, s.state.Positions)
	return res
}

func (s *Oscillating) Detail() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := make([]order.Position, len(s.state.Positions))
	copy(positions, s.state.Positions)
	return map[string]any{
		"reference_price": s.state.Reference,
		"thresholds":      s.thresholds,
		"positions":       positions,
		"realized_pnl":    s.realized,
		"trades":          s.trades,
		"last_trade":      s.state.LastTrade,
	}
}
