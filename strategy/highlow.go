package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"strategy-engine/market"
	"strategy-engine/order"
)

// HighLowParams 高抛低吸参数
type HighLowParams struct {
	Symbol        string  `mapstructure:"symbol" validate:"required"`
	Quantity      int     `mapstructure:"quantity" validate:"gt=0"`
	LowThreshold  float64 `mapstructure:"low_threshold" validate:"gt=0"`
	HighThreshold float64 `mapstructure:"high_threshold" validate:"gt=0"`
}

func (p HighLowParams) validate() error {
	if err := checkParams(p); err != nil {
		return err
	}
	if p.LowThreshold >= p.HighThreshold {
		return ValidationError("low_threshold must be < high_threshold")
	}
	return nil
}

// HighLow 价格跌破下限买入、突破上限卖出；同方向不会连续下单。
type HighLow struct {
	*Base
	params HighLowParams
	deps   Deps

	mu         sync.Mutex
	lastAction Action
}

func newHighLow(id string, raw map[string]any, deps Deps) (*HighLow, error) {
	var p HighLowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &HighLow{
		Base:       newBase(id, HighLowStrategy, p.Symbol, p, deps),
		params:     p,
		deps:       deps,
		lastAction: ActionNone,
	}, nil
}

// OnQuote last_action 仅在下单成功后更新。下单期间不持有 mu。
func (h *HighLow) OnQuote(ctx context.Context, q market.Quote) error {
	price := q.Last
	if price <= 0 {
		return nil
	}

	h.mu.Lock()
	last := h.lastAction
	h.mu.Unlock()

	var side order.Side
	var action Action
	switch {
	case price < h.params.LowThreshold && last != ActionBuy:
		side, action = order.SideBuy, ActionBuy
	case price > h.params.HighThreshold && last != ActionSell:
		side, action = order.SideSell, ActionSell
	default:
		return nil
	}

	o, err := h.deps.Gateway.PlaceMarketOrder(ctx, h.params.Symbol, h.params.Quantity, side)
	if err != nil {
		h.RecordFailure(order.Order{
			Symbol:   h.params.Symbol,
			Side:     side,
			Type:     order.TypeMarket,
			Quantity: h.params.Quantity,
			Duration: order.DurationDay,
			Session:  order.SessionRegular,
		}, err)
		return GatewayFailure("place_market_order", err)
	}
	h.RecordOrder(o)

	h.mu.Lock()
	h.lastAction = action
	h.mu.Unlock()
	h.logger.Info("highlow triggered",
		zap.String("action", string(action)),
		zap.Float64("price", price),
		zap.Float64("low", h.params.LowThreshold),
		zap.Float64("high", h.params.HighThreshold))
	return nil
}

// LastAction 返回最近一次成功下单的方向
func (h *HighLow) LastAction() Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAction
}

func (h *HighLow) Detail() map[string]any {
	return map[string]any{"last_action": h.LastAction()}
}
