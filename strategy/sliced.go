package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-engine/order"
)

// SlicedParams TWAP/VWAP 参数
type SlicedParams struct {
	Symbol        string         `mapstructure:"symbol" validate:"required"`
	Side          order.Side     `mapstructure:"side" validate:"required,oneof=BUY SELL"`
	TotalQuantity int            `mapstructure:"total_quantity" validate:"gt=0"`
	StartTime     time.Time      `mapstructure:"start_time"`
	EndTime       time.Time      `mapstructure:"end_time" validate:"required"`
	Intervals     int            `mapstructure:"intervals" validate:"gte=1,lte=1000"`
	OrderType     order.Type     `mapstructure:"order_type" validate:"oneof=MARKET LIMIT" default:"MARKET"`
	LimitOffset   float64        `mapstructure:"limit_offset" validate:"gte=0"`
	LookbackDays  int            `mapstructure:"lookback_days" validate:"gte=1,lte=30" default:"5"`
	Duration      order.Duration `mapstructure:"duration" validate:"oneof=DAY GTC EXTO" default:"DAY"`
	Session       order.Session  `mapstructure:"session" validate:"oneof=REGULAR EXTENDED ALL" default:"REGULAR"`
}

func (p *SlicedParams) applyDefaults(now time.Time) {
	if p.StartTime.IsZero() {
		p.StartTime = now
	}
	if p.OrderType == "" {
		p.OrderType = order.TypeMarket
	}
	if p.LookbackDays == 0 {
		p.LookbackDays = 5
	}
	if p.Duration == "" {
		p.Duration = order.DurationDay
	}
	if p.Session == "" {
		p.Session = order.SessionRegular
	}
}

func (p SlicedParams) validate() error {
	if err := checkParams(p); err != nil {
		return err
	}
	if !p.EndTime.After(p.StartTime) {
		return ValidationError("end_time must be after start_time")
	}
	return nil
}

// Slice 一个子单
type Slice struct {
	Index    int       `json:"index"`
	FireAt   time.Time `json:"fire_at"`
	Weight   float64   `json:"weight"`
	Quantity int       `json:"quantity"`
	Fired    bool      `json:"fired"`
	OrderID  string    `json:"order_id,omitempty"`
}

// TWAPQuantities 均分数量，余数加到最后一个切片。
func TWAPQuantities(total, intervals int) []int {
	qty := make([]int, intervals)
	base := total / intervals
	for i := range qty {
		qty[i] = base
	}
	qty[intervals-1] += total - base*intervals
	return qty
}

// VWAPWeights 将各切片的历史成交量归一化为权重；总量为 0 时退化为均分。
func VWAPWeights(volumes []float64) []float64 {
	n := len(volumes)
	weights := make([]float64, n)
	sum := 0.0
	for _, v := range volumes {
		if v > 0 {
			sum += v
		}
	}
	for i, v := range volumes {
		if sum <= 0 {
			weights[i] = 1 / float64(n)
			continue
		}
		if v > 0 {
			weights[i] = v / sum
		}
	}
	return weights
}

// VWAPQuantities 按权重向下取整分配，余数加到权重最大的切片（并列取最早）。
func VWAPQuantities(total int, weights []float64) []int {
	qty := make([]int, len(weights))
	assigned := 0
	maxIdx := 0
	for i, w := range weights {
		qty[i] = int(math.Floor(float64(total) * w))
		assigned += qty[i]
		if w > weights[maxIdx] {
			maxIdx = i
		}
	}
	qty[maxIdx] += total - assigned
	return qty
}

// Sliced 按时间切片下单（TWAP 均分，VWAP 按历史成交量分布）。
// 幂等以切片序号为准：迟到的切片在下次 tick 立即补发，不会跳过或重复。
type Sliced struct {
	*Base
	params SlicedParams
	deps   Deps

	mu      sync.Mutex
	slices  []Slice
	next    int
	profile string
}

func newSliced(typ StrategyType, id string, raw map[string]any, deps Deps) (*Sliced, error) {
	var p SlicedParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	p.applyDefaults(deps.clock().Now())
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Sliced{
		Base:   newBase(id, typ, p.Symbol, p, deps),
		params: p,
		deps:   deps,
	}, nil
}

func (s *Sliced) sliceLen() time.Duration {
	return s.params.EndTime.Sub(s.params.StartTime) / time.Duration(s.params.Intervals)
}

// TickInterval 取切片长度的一半，最短 10ms。
func (s *Sliced) TickInterval() time.Duration {
	d := s.sliceLen() / 2
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// plan 计算切片计划，不修改实例状态。
func (s *Sliced) plan(ctx context.Context) ([]Slice, string) {
	n := s.params.Intervals
	weights := make([]float64, n)
	var qty []int
	profile := "uniform"
	switch s.Type() {
	case VWAPStrategy:
		var volumes []float64
		volumes, profile = s.volumeProfile(ctx)
		weights = VWAPWeights(volumes)
		qty = VWAPQuantities(s.params.TotalQuantity, weights)
	default:
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		qty = TWAPQuantities(s.params.TotalQuantity, n)
	}

	slices := make([]Slice, n)
	step := s.sliceLen()
	for i := 0; i < n; i++ {
		slices[i] = Slice{
			Index:    i,
			FireAt:   s.params.StartTime.Add(time.Duration(i) * step),
			Weight:   weights[i],
			Quantity: qty[i],
		}
	}
	return slices, profile
}

// volumeProfile 统计过去 lookback_days 天同一时间窗内每个切片的成交量。
func (s *Sliced) volumeProfile(ctx context.Context) ([]float64, string) {
	n := s.params.Intervals
	volumes := make([]float64, n)
	if s.deps.Feed == nil {
		return volumes, "uniform"
	}
	step := s.sliceLen()
	for d := 1; d <= s.params.LookbackDays; d++ {
		offset := time.Duration(d) * 24 * time.Hour
		from := s.params.StartTime.Add(-offset)
		to := s.params.EndTime.Add(-offset)
		bars, err := s.deps.Feed.History(ctx, s.params.Symbol, s.deps.barInterval(), from, to)
		if err != nil {
			s.logger.Warn("vwap history unavailable", zap.Int("days_back", d), zap.Error(err))
			continue
		}
		for _, b := range bars {
			idx := int(b.Ts.Sub(from) / step)
			if idx >= 0 && idx < n {
				volumes[idx] += b.Volume
			}
		}
	}
	total := 0.0
	for _, v := range volumes {
		total += v
	}
	if total <= 0 {
		return volumes, "uniform"
	}
	return volumes, "historical"
}

// OnTick 执行所有已到期且未执行的切片。可重试错误结束本次 tick，下次从同一切片重试。
// 拉取历史与下单期间不持有 mu。
func (s *Sliced) OnTick(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	planned := s.slices != nil
	s.mu.Unlock()
	if !planned {
		slices, profile := s.plan(ctx)
		s.mu.Lock()
		s.slices, s.profile = slices, profile
		s.mu.Unlock()
	}

	for {
		s.mu.Lock()
		if s.next >= len(s.slices) || now.Before(s.slices[s.next].FireAt) {
			done := s.next >= len(s.slices)
			s.mu.Unlock()
			return done, nil
		}
		sl := s.slices[s.next]
		s.mu.Unlock()

		if sl.Quantity > 0 {
			o, err := s.place(ctx, sl.Quantity)
			if err != nil {
				return false, err
			}
			sl.OrderID = o.ID
			s.RecordOrder(o)
			s.logger.Info("slice fired",
				zap.Int("index", sl.Index),
				zap.Int("qty", sl.Quantity),
				zap.Time("fire_at", sl.FireAt))
		}
		sl.Fired = true

		s.mu.Lock()
		s.slices[sl.Index] = sl
		s.next++
		s.mu.Unlock()
	}
}

func (s *Sliced) place(ctx context.Context, qty int) (order.Order, error) {
	attempt := order.Order{
		Symbol:   s.params.Symbol,
		Side:     s.params.Side,
		Type:     s.params.OrderType,
		Quantity: qty,
		Duration: s.params.Duration,
		Session:  s.params.Session,
	}
	if s.params.OrderType == order.TypeMarket {
		o, err := s.deps.Gateway.PlaceMarketOrder(ctx, s.params.Symbol, qty, s.params.Side)
		if err != nil {
			s.RecordFailure(attempt, err)
			return o, GatewayFailure("place_market_order", err)
		}
		return o, nil
	}

	q, err := s.deps.Feed.Quote(ctx, s.params.Symbol)
	if err != nil {
		return order.Order{}, QuoteUnavailable(err)
	}
	price := q.Last + s.params.LimitOffset
	if s.params.Side == order.SideSell {
		price = math.Max(q.Last-s.params.LimitOffset, order.PriceTick)
	}
	attempt.LimitPrice = order.RoundPrice(price)
	o, err := s.deps.Gateway.PlaceLimitOrder(ctx, s.params.Symbol, qty, s.params.Side, attempt.LimitPrice, s.params.Duration, s.params.Session)
	if err != nil {
		s.RecordFailure(attempt, err)
		return o, GatewayFailure("place_limit_order", err)
	}
	return o, nil
}

// Slices 返回切片副本
func (s *Sliced) Slices() []Slice {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Slice, len(s.slices))
	copy(res, s.slices)
	return res
}

func (s *Sliced) Detail() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	slices := make([]Slice, len(s.slices))
	copy(slices, s.slices)
	return map[string]any{
		"slices":  slices,
		"fired":   s.next,
		"profile": s.profile,
	}
}
