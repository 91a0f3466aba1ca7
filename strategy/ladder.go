package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"strategy-engine/order"
)

// Distribution 阶梯数量分配方式
type Distribution string

const (
	DistributionEqual    Distribution = "equal"
	DistributionWeighted Distribution = "weighted"
)

// LadderParams 阶梯挂单参数
type LadderParams struct {
	Symbol        string         `mapstructure:"symbol" validate:"required"`
	Side          order.Side     `mapstructure:"side" validate:"required,oneof=BUY SELL"`
	Steps         int            `mapstructure:"steps" validate:"gte=1,lte=100"`
	StartPrice    float64        `mapstructure:"start_price" validate:"gt=0"`
	EndPrice      float64        `mapstructure:"end_price" validate:"gt=0"`
	TotalQuantity int            `mapstructure:"total_quantity" validate:"gt=0"`
	Distribution  Distribution   `mapstructure:"distribution" validate:"oneof=equal weighted" default:"equal"`
	Duration      order.Duration `mapstructure:"duration" validate:"oneof=DAY GTC EXTO" default:"DAY"`
	Session       order.Session  `mapstructure:"session" validate:"oneof=REGULAR EXTENDED ALL" default:"REGULAR"`
}

func (p *LadderParams) applyDefaults() {
	if p.Distribution == "" {
		p.Distribution = DistributionEqual
	}
	if p.Duration == "" {
		p.Duration = order.DurationDay
	}
	if p.Session == "" {
		p.Session = order.SessionRegular
	}
}

func (p LadderParams) validate() error {
	if err := checkParams(p); err != nil {
		return err
	}
	switch {
	case p.Side == order.SideBuy && p.StartPrice > p.EndPrice,
		p.Side == order.SideBuy && p.StartPrice == p.EndPrice && p.Steps > 1:
		return ValidationError("buy ladder requires start_price < end_price")
	case p.Side == order.SideSell && p.StartPrice < p.EndPrice,
		p.Side == order.SideSell && p.StartPrice == p.EndPrice && p.Steps > 1:
		return ValidationError("sell ladder requires start_price > end_price")
	}
	if p.TotalQuantity < p.Steps {
		return ValidationError("total_quantity %d must be >= steps %d", p.TotalQuantity, p.Steps)
	}
	return nil
}

// StepStatus 价格档位状态
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepPlaced  StepStatus = "placed"
	StepFilled  StepStatus = "filled"
	StepFailed  StepStatus = "failed"
)

// PriceStep 一个价格档位。Level 0 为 start_price。
type PriceStep struct {
	Level    int        `json:"level" yaml:"level"`
	Price    float64    `json:"price" yaml:"price"`
	Quantity int        `json:"quantity" yaml:"quantity"`
	Status   StepStatus `json:"status" yaml:"status"`
	OrderID  string     `json:"order_id,omitempty" yaml:"order_id,omitempty"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// LadderLevels 计算档位价格与数量，按下单顺序返回（从 end_price 向 start_price）。
//
// 价格: p_i = start + i*(end-start)/(steps-1)，四舍五入到分。
// equal: 每档 total/steps，余数加到 start_price 档。
// weighted: 每档先分 1 股，剩余 total-steps 按线性权重 w_i = steps-i 向下取整分配，余数加到 start_price 档。
func LadderLevels(p LadderParams) []PriceStep {
	n := p.Steps
	qty := make([]int, n)
	switch p.Distribution {
	case DistributionWeighted:
		extra := p.TotalQuantity - n
		weightSum := n * (n + 1) / 2
		assigned := 0
		for i := 0; i < n; i++ {
			qty[i] = 1 + extra*(n-i)/weightSum
			assigned += qty[i]
		}
		qty[0] += p.TotalQuantity - assigned
	default:
		base := p.TotalQuantity / n
		for i := range qty {
			qty[i] = base
		}
		qty[0] += p.TotalQuantity - base*n
	}

	steps := make([]PriceStep, 0, n)
	for i := n - 1; i >= 0; i-- {
		price := p.StartPrice
		if n > 1 {
			price = p.StartPrice + float64(i)*(p.EndPrice-p.StartPrice)/float64(n-1)
		}
		steps = append(steps, PriceStep{
			Level:    i,
			Price:    order.RoundPrice(price),
			Quantity: qty[i],
			Status:   StepPending,
		})
	}
	return steps
}

// Ladder 一次性在多个价格档位挂限价单，不跟踪后续成交。
type Ladder struct {
	*Base
	params LadderParams
	deps   Deps

	mu    sync.Mutex
	steps []PriceStep
}

func newLadder(id string, raw map[string]any, deps Deps) (*Ladder, error) {
	var p LadderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Ladder{
		Base:   newBase(id, LadderStrategy, p.Symbol, p, deps),
		params: p,
		deps:   deps,
		steps:  LadderLevels(p),
	}, nil
}

// Execute 依次下单所有档位。单档失败记为 FAILED 订单并继续；全部失败时返回最后一个网关错误。
func (l *Ladder) Execute(ctx context.Context) error {
	l.mu.Lock()
	steps := make([]PriceStep, len(l.steps))
	copy(steps, l.steps)
	l.mu.Unlock()

	placed := 0
	var lastErr error
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return ExecutionFailure(err)
		}
		st := &steps[i]
		o, err := l.deps.Gateway.PlaceLimitOrder(ctx, l.params.Symbol, st.Quantity, l.params.Side, st.Price, l.params.Duration, l.params.Session)
		if err != nil {
			st.Status = StepFailed
			st.Error = err.Error()
			lastErr = GatewayFailure("place_limit_order", err)
			l.RecordFailure(order.Order{
				Symbol:     l.params.Symbol,
				Side:       l.params.Side,
				Type:       order.TypeLimit,
				Quantity:   st.Quantity,
				LimitPrice: st.Price,
				Duration:   l.params.Duration,
				Session:    l.params.Session,
			}, err)
			l.RecordError(lastErr)
			l.logger.Warn("ladder step failed",
				zap.Int("level", st.Level),
				zap.Float64("price", st.Price),
				zap.Int("qty", st.Quantity),
				zap.Error(err))
		} else {
			placed++
			st.OrderID = o.ID
			st.Status = StepPlaced
			if o.Status == order.StatusFilled {
				st.Status = StepFilled
			}
			l.RecordOrder(o)
		}
		l.mu.Lock()
		l.steps[i] = *st
		l.mu.Unlock()
	}

	if placed == 0 && lastErr != nil {
		return lastErr
	}
	l.logger.Info("ladder executed", zap.Int("placed", placed), zap.Int("steps", len(steps)))
	return nil
}

// Steps 返回档位副本
func (l *Ladder) Steps() []PriceStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]PriceStep, len(l.steps))
	copy(res, l.steps)
	return res
}

func (l *Ladder) Detail() map[string]any {
	return map[string]any{"steps": l.Steps()}
}
