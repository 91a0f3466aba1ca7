package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"strategy-engine/inventory"
	"strategy-engine/market"
	"strategy-engine/order"
)

// PaperConfig 模拟券商配置。
type PaperConfig struct {
	Symbols     []string // 允许交易的标的，空表示不限制
	NoShort     bool     // 禁止卖出超过持仓
	Constraints map[string]order.SymbolConstraints
	NodeID      int64
	// Now 成交与提交时间，nil 时使用系统时间；回放时注入模拟时钟
	Now func() time.Time
	// OnFill 每笔成交后回调
	OnFill func(order.Order)
}

// Paper 内存模拟券商：市价单按最新价立即成交，限价单挂单，等待报价穿价后成交。
type Paper struct {
	cfg     PaperConfig
	allowed map[string]struct{}
	node    *snowflake.Node
	book    *order.Book
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	last      map[string]float64
	positions map[string]*inventory.Tracker
}

func NewPaper(cfg PaperConfig, logger *zap.Logger) (*Paper, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	allowed := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		allowed[s] = struct{}{}
	}
	return &Paper{
		cfg:       cfg,
		allowed:   allowed,
		node:      node,
		book:      order.NewBook(),
		logger:    logger,
		now:       now,
		last:      make(map[string]float64),
		positions: make(map[string]*inventory.Tracker),
	}, nil
}

// OnQuote 更新最新价，并撮合被穿价的限价单。
func (p *Paper) OnQuote(q market.Quote) {
	p.mu.Lock()
	p.last[q.Symbol] = q.Last
	p.mu.Unlock()

	for _, o := range p.book.Active(q.Symbol) {
		if !crosses(o, q.Last) {
			continue
		}
		p.fill(o.ID, o.LimitPrice)
	}
}

func (p *Paper) PlaceMarketOrder(_ context.Context, symbol string, qty int, side order.Side) (order.Order, error) {
	const op = "place_market_order"
	o := order.Order{Symbol: symbol, Side: side, Type: order.TypeMarket, Quantity: qty, Duration: order.DurationDay, Session: order.SessionRegular}
	if err := p.check(op, o); err != nil {
		return order.Order{}, err
	}
	p.mu.Lock()
	last, ok := p.last[symbol]
	p.mu.Unlock()
	if !ok {
		return order.Order{}, Retryable(op, fmt.Errorf("%w: no quote for %s", ErrUnavailable, symbol))
	}

	o = p.submit(o)
	filled, err := p.fill(o.ID, last)
	if err != nil {
		return order.Order{}, Fatal(op, err)
	}
	return filled, nil
}

func (p *Paper) PlaceLimitOrder(_ context.Context, symbol string, qty int, side order.Side, price float64, duration order.Duration, session order.Session) (order.Order, error) {
	const op = "place_limit_order"
	o := order.Order{
		Symbol:     symbol,
		Side:       side,
		Type:       order.TypeLimit,
		Quantity:   qty,
		LimitPrice: price,
		Duration:   duration,
		Session:    session,
	}
	if err := p.check(op, o); err != nil {
		return order.Order{}, err
	}
	o = p.submit(o)
	open, err := p.book.Transition(o.ID, order.StatusOpen, nil)
	if err != nil {
		return order.Order{}, Fatal(op, err)
	}

	p.mu.Lock()
	last, ok := p.last[symbol]
	p.mu.Unlock()
	if ok && crosses(open, last) {
		filled, err := p.fill(open.ID, price)
		if err != nil {
			return order.Order{}, Fatal(op, err)
		}
		return filled, nil
	}
	return open, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) (bool, error) {
	ok, err := p.book.CanCancel(orderID)
	if err != nil {
		return false, Fatal("cancel_order", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID))
	}
	if !ok {
		return false, nil
	}
	if _, err := p.book.Transition(orderID, order.StatusCanceled, func(o *order.Order) {
		o.CanceledAt = p.now()
	}); err != nil {
		// 与成交竞争失败
		return false, nil
	}
	p.logger.Info("paper order canceled", zap.String("order_id", orderID))
	return true, nil
}

func (p *Paper) GetPosition(_ context.Context, symbol string) (*order.Position, error) {
	p.mu.Lock()
	tr, ok := p.positions[symbol]
	p.mu.Unlock()
	if !ok || tr.NetExposure() == 0 {
		return nil, nil
	}
	return &order.Position{
		Symbol:     symbol,
		Quantity:   tr.NetExposure(),
		EntryPrice: tr.AvgCost(),
		EntryTime:  tr.OpenedAt(),
	}, nil
}

// RealizedPnL 返回标的已实现盈亏
func (p *Paper) RealizedPnL(symbol string) float64 {
	p.mu.Lock()
	tr, ok := p.positions[symbol]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return tr.RealizedPnL()
}

// Order 按 id 查询订单。
func (p *Paper) Order(id string) (order.Order, bool) {
	return p.book.Get(id)
}

func (p *Paper) check(op string, o order.Order) error {
	if err := o.Validate(); err != nil {
		return Fatal(op, fmt.Errorf("%w: %v", ErrRejected, err))
	}
	if len(p.allowed) > 0 {
		if _, ok := p.allowed[o.Symbol]; !ok {
			return Fatal(op, fmt.Errorf("%w: %s", ErrInvalidSymbol, o.Symbol))
		}
	}
	if c, ok := p.cfg.Constraints[o.Symbol]; ok {
		if err := c.Validate(o.LimitPrice, o.Quantity); err != nil {
			return Fatal(op, fmt.Errorf("%w: %v", ErrRejected, err))
		}
	}
	if p.cfg.NoShort && o.Side == order.SideSell {
		held := 0
		p.mu.Lock()
		if tr, ok := p.positions[o.Symbol]; ok {
			held = tr.NetExposure()
		}
		p.mu.Unlock()
		if held < o.Quantity {
			return Fatal(op, fmt.Errorf("%w: hold %d, sell %d", ErrInsufficientPosition, held, o.Quantity))
		}
	}
	return nil
}

func (p *Paper) submit(o order.Order) order.Order {
	o.ID = p.node.Generate().String()
	o.Status = order.StatusPending
	o.SubmittedAt = p.now()
	p.book.Add(o)
	return o
}

func (p *Paper) fill(id string, price float64) (order.Order, error) {
	at := p.now()
	filled, err := p.book.Transition(id, order.StatusFilled, func(o *order.Order) {
		o.FilledQuantity = o.Quantity
		o.FilledPrice = price
		o.FilledAt = at
	})
	if err != nil {
		return filled, err
	}

	delta := filled.Quantity
	if filled.Side == order.SideSell {
		delta = -delta
	}
	p.mu.Lock()
	tr, ok := p.positions[filled.Symbol]
	if !ok {
		tr = &inventory.Tracker{}
		p.positions[filled.Symbol] = tr
	}
	p.mu.Unlock()
	tr.Update(delta, price, at)

	p.logger.Info("paper order filled",
		zap.String("order_id", id),
		zap.String("symbol", filled.Symbol),
		zap.String("side", string(filled.Side)),
		zap.Int("qty", filled.Quantity),
		zap.Float64("price", price))
	if p.cfg.OnFill != nil {
		p.cfg.OnFill(filled)
	}
	return filled, nil
}

func crosses(o order.Order, last float64) bool {
	if o.Type != order.TypeLimit || last <= 0 {
		return false
	}
	if o.Side == order.SideBuy {
		return last <= o.LimitPrice
	}
	return last >= o.LimitPrice
}
