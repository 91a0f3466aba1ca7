package strategy

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"strategy-engine/gateway"
	"strategy-engine/market"
	"strategy-engine/order"
)

// StrategyType 策略类型标签
type StrategyType string

const (
	LadderStrategy      StrategyType = "ladder"
	TWAPStrategy        StrategyType = "twap"
	VWAPStrategy        StrategyType = "vwap"
	OscillatingStrategy StrategyType = "oscillating"
	HighLowStrategy     StrategyType = "highlow"
	OTOLadderStrategy   StrategyType = "oto_ladder"
)

// Types 返回所有已支持的策略类型
func Types() []StrategyType {
	return []StrategyType{LadderStrategy, TWAPStrategy, VWAPStrategy, OscillatingStrategy, HighLowStrategy, OTOLadderStrategy}
}

// Strategy 所有策略实例的公共接口，由 *Base 实现。
type Strategy interface {
	ID() string
	Type() StrategyType
	Symbol() string
	State() State
	Transition(to State) error
	RecordError(err error)
	SetOrderObserver(fn OrderObserver)
	Orders() []order.Order
	Snapshot() Snapshot
}

// OneShot 一次性执行（Ladder、OTO-Ladder）。
type OneShot interface {
	Strategy
	Execute(ctx context.Context) error
}

// Scheduled 定时触发（TWAP/VWAP）。done 为 true 表示全部切片已执行。
type Scheduled interface {
	Strategy
	TickInterval() time.Duration
	OnTick(ctx context.Context, now time.Time) (done bool, err error)
}

// QuoteDriven 报价驱动（Oscillating、HighLow）。
type QuoteDriven interface {
	Strategy
	OnQuote(ctx context.Context, q market.Quote) error
}

// Detailer 提供策略特有的状态明细。
type Detailer interface {
	Detail() map[string]any
}

// Describe 返回包含 Detail 的完整快照。
func Describe(s Strategy) Snapshot {
	snap := s.Snapshot()
	if d, ok := s.(Detailer); ok {
		snap.Detail = d.Detail()
	}
	return snap
}

// PlanSink 持久化 OTO 计划，返回产物位置。
type PlanSink interface {
	SavePlan(ctx context.Context, plan OTOPlan) (string, error)
}

// Deps 策略依赖
type Deps struct {
	Gateway  gateway.Gateway
	Feed     market.Feed
	Clock    Clock
	PlanSink PlanSink
	Logger   *zap.Logger
	// NewRand 为每个实例创建独立随机源；nil 时按时间播种。
	NewRand func() *rand.Rand
	// VWAPBarInterval 拉取历史成交量的 Bar 周期。
	VWAPBarInterval time.Duration
}

func (d Deps) clock() Clock {
	if d.Clock == nil {
		return SystemClock
	}
	return d.Clock
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) rand() *rand.Rand {
	if d.NewRand == nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d.NewRand()
}

func (d Deps) barInterval() time.Duration {
	if d.VWAPBarInterval <= 0 {
		return time.Minute
	}
	return d.VWAPBarInterval
}
