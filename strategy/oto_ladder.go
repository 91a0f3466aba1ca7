package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-engine/order"
)

const (
	otoShareFraction = 0.05
	otoDefaultLevels = 10
	otoMaxLevels     = 200
)

// OTOLadderParams OTO 阶梯参数
type OTOLadderParams struct {
	Symbol        string  `mapstructure:"symbol" validate:"required"`
	StartPrice    float64 `mapstructure:"start_price" validate:"gte=0"`
	Step          float64 `mapstructure:"step" validate:"gt=0"`
	InitialShares int     `mapstructure:"initial_shares" validate:"gt=0"`
	PriceTarget   float64 `mapstructure:"price_target" validate:"gte=0"`
	Levels        int     `mapstructure:"levels" validate:"gte=0,lte=200"`
}

func (p OTOLadderParams) validate() error {
	if err := checkParams(p); err != nil {
		return err
	}
	if p.StartPrice > 0 && p.PriceTarget > 0 && p.PriceTarget <= p.StartPrice {
		return ValidationError("price_target must be > start_price")
	}
	return nil
}

// OTOEntry 计划中的一笔订单。TriggerOn 为触发它的前序订单序号，0 表示立即生效。
type OTOEntry struct {
	Seq       int            `json:"seq" yaml:"seq"`
	Level     int            `json:"level" yaml:"level"`
	Price     float64        `json:"price" yaml:"price"`
	Action    order.Side     `json:"action" yaml:"action"`
	Quantity  int            `json:"quantity" yaml:"quantity"`
	TriggerOn int            `json:"trigger_on" yaml:"trigger_on"`
	Duration  order.Duration `json:"duration" yaml:"duration"`
	Session   order.Session  `json:"session" yaml:"session"`
}

// OTOPlan 生成的订单链。
type OTOPlan struct {
	Symbol           string     `json:"symbol" yaml:"symbol"`
	GeneratedAt      time.Time  `json:"generated_at" yaml:"generated_at"`
	CurrentPrice     float64    `json:"current_price" yaml:"current_price"`
	StartPrice       float64    `json:"start_price" yaml:"start_price"`
	Step             float64    `json:"step" yaml:"step"`
	PriceTarget      float64    `json:"price_target,omitempty" yaml:"price_target,omitempty"`
	SharesPerLevel   int        `json:"shares_per_level" yaml:"shares_per_level"`
	CurrentStepLevel int        `json:"current_step_level" yaml:"current_step_level"`
	NextSellPrice    float64    `json:"next_sell_price" yaml:"next_sell_price"`
	Entries          []OTOEntry `json:"entries" yaml:"entries"`
}

// OTOResult 执行结果
type OTOResult struct {
	TargetReached bool     `json:"target_reached"`
	CurrentPrice  float64  `json:"current_price"`
	Plan          *OTOPlan `json:"plan,omitempty"`
	ArtifactPath  string   `json:"artifact_path,omitempty"`
}

// OTOShares 每档数量：initial_shares 的 5%，四舍五入，至少 1 股。
func OTOShares(initial int) int {
	q := int(math.Round(float64(initial) * otoShareFraction))
	if q < 1 {
		q = 1
	}
	return q
}

// BuildOTOPlan 从 start 向上生成 levels 个档位，每档三笔链式订单：
// 卖出 @L，成交后买回 @L-2*step，再成交后卖出 @L+step。
func BuildOTOPlan(p OTOLadderParams, current float64, now time.Time) OTOPlan {
	start := p.StartPrice
	if start <= 0 {
		start = current
	}
	levels := p.Levels
	if levels == 0 {
		levels = otoDefaultLevels
		if p.PriceTarget > start {
			levels = int(math.Floor((p.PriceTarget - start) / p.Step))
			if levels < 1 {
				levels = 1
			}
		}
	}
	if levels > otoMaxLevels {
		levels = otoMaxLevels
	}

	qty := OTOShares(p.InitialShares)
	plan := OTOPlan{
		Symbol:         p.Symbol,
		GeneratedAt:    now,
		CurrentPrice:   current,
		StartPrice:     order.RoundPrice(start),
		Step:           p.Step,
		PriceTarget:    p.PriceTarget,
		SharesPerLevel: qty,
		Entries:        make([]OTOEntry, 0, levels*3),
	}

	plan.CurrentStepLevel = -1
	plan.NextSellPrice = plan.StartPrice
	if current >= start {
		plan.CurrentStepLevel = int(math.Floor((current - start) / p.Step))
		plan.NextSellPrice = order.RoundPrice(start + float64(plan.CurrentStepLevel+1)*p.Step)
	}

	for k := 0; k < levels; k++ {
		level := start + float64(k)*p.Step
		buyBack := math.Max(level-2*p.Step, order.PriceTick)
		seq := 3*k + 1
		plan.Entries = append(plan.Entries,
			otoEntry(seq, k, level, order.SideSell, qty, 0),
			otoEntry(seq+1, k, buyBack, order.SideBuy, qty, seq),
			otoEntry(seq+2, k, level+p.Step, order.SideSell, qty, seq+1),
		)
	}
	return plan
}

func otoEntry(seq, level int, price float64, side order.Side, qty, trigger int) OTOEntry {
	return OTOEntry{
		Seq:       seq,
		Level:     level,
		Price:     order.RoundPrice(price),
		Action:    side,
		Quantity:  qty,
		TriggerOn: trigger,
		Duration:  order.DurationEXTO,
		Session:   order.SessionExtended,
	}
}

// OTOLadder 生成链式订单计划并交给 PlanSink，不直接下单。
type OTOLadder struct {
	*Base
	params OTOLadderParams
	deps   Deps

	mu     sync.Mutex
	result *OTOResult
}

func newOTOLadder(id string, raw map[string]any, deps Deps) (*OTOLadder, error) {
	var p OTOLadderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &OTOLadder{
		Base:   newBase(id, OTOLadderStrategy, p.Symbol, p, deps),
		params: p,
		deps:   deps,
	}, nil
}

// Execute 当前价已达到目标价时直接结束，不生成任何订单。
func (s *OTOLadder) Execute(ctx context.Context) error {
	q, err := s.deps.Feed.Quote(ctx, s.params.Symbol)
	if err != nil {
		return QuoteUnavailable(err)
	}
	current := q.Last
	if current <= 0 {
		return ExecutionFailure(fmt.Errorf("invalid current price %.4f", current))
	}

	if s.params.PriceTarget > 0 && current >= s.params.PriceTarget {
		s.setResult(&OTOResult{TargetReached: true, CurrentPrice: current})
		s.logger.Info("oto target reached, nothing generated",
			zap.Float64("current", current),
			zap.Float64("target", s.params.PriceTarget))
		return nil
	}

	start := s.params.StartPrice
	if start <= 0 {
		start = current
	}
	if s.params.PriceTarget > 0 && s.params.PriceTarget <= start {
		return ValidationError("price_target must be > start_price")
	}

	plan := BuildOTOPlan(s.params, current, s.clock.Now())
	res := &OTOResult{CurrentPrice: current, Plan: &plan}
	if s.deps.PlanSink != nil {
		path, err := s.deps.PlanSink.SavePlan(ctx, plan)
		if err != nil {
			return ExecutionFailure(fmt.Errorf("save oto plan: %w", err))
		}
		res.ArtifactPath = path
	}
	s.setResult(res)
	s.logger.Info("oto plan generated",
		zap.Int("entries", len(plan.Entries)),
		zap.Float64("start_price", plan.StartPrice),
		zap.Int("shares_per_level", plan.SharesPerLevel),
		zap.String("artifact", res.ArtifactPath))
	return nil
}

func (s *OTOLadder) setResult(r *OTOResult) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// Result 执行前返回 nil
func (s *OTOLadder) Result() *OTOResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

func (s *OTOLadder) Detail() map[string]any {
	r := s.Result()
	if r == nil {
		return nil
	}
	return map[string]any{"result": r}
}
