package strategy

import (
	"errors"

	"strategy-engine/order"
)

// StrategyFactory creates strategy instances based on type and raw parameters.
type StrategyFactory struct {
	deps Deps
}

// NewStrategyFactory creates a new StrategyFactory.
func NewStrategyFactory(deps Deps) *StrategyFactory {
	return &StrategyFactory{deps: deps}
}

// CreateStrategy 解码并校验参数，返回处于 initialized 状态的实例。
func (f *StrategyFactory) CreateStrategy(strategyType string, id string, params map[string]any) (Strategy, error) {
	if id == "" {
		return nil, ExecutionFailure(errors.New("strategy id is required"))
	}
	if f.deps.Gateway == nil {
		return nil, ExecutionFailure(errors.New("trading gateway not configured"))
	}
	if params == nil {
		params = map[string]any{}
	}

	switch t := StrategyType(strategyType); t {
	case LadderStrategy:
		return created(newLadder(id, params, f.deps))
	case TWAPStrategy, VWAPStrategy:
		s, err := newSliced(t, id, params, f.deps)
		if err != nil {
			return nil, err
		}
		if s.params.OrderType == order.TypeLimit && f.deps.Feed == nil {
			return nil, ExecutionFailure(errors.New("limit slices need a market data feed"))
		}
		return s, nil
	case OscillatingStrategy:
		return created(newOscillating(id, params, f.deps))
	case HighLowStrategy:
		return created(newHighLow(id, params, f.deps))
	case OTOLadderStrategy:
		if f.deps.Feed == nil {
			return nil, ExecutionFailure(errors.New("oto ladder needs a market data feed"))
		}
		return created(newOTOLadder(id, params, f.deps))
	default:
		return nil, ValidationError("unknown strategy type: %s", strategyType)
	}
}

// created 避免把 nil 指针包装成非 nil 接口。
func created[T Strategy](s T, err error) (Strategy, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
