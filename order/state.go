package order

import (
	"errors"
	"fmt"
	"time"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 判断方向是否合法
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite 返回反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type 订单类型
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Duration 订单有效期
type Duration string

const (
	DurationDay Duration = "DAY"
	DurationGTC Duration = "GTC"
	// DurationEXTO 扩展时段有效，直到撤单
	DurationEXTO Duration = "EXTO"
)

// Valid 判断有效期是否合法
func (d Duration) Valid() bool {
	switch d {
	case DurationDay, DurationGTC, DurationEXTO:
		return true
	}
	return false
}

// Session 交易时段
type Session string

const (
	SessionRegular  Session = "REGULAR"
	SessionExtended Session = "EXTENDED"
	SessionAll      Session = "ALL"
)

// Valid 判断时段是否合法
func (s Session) Valid() bool {
	switch s {
	case SessionRegular, SessionExtended, SessionAll:
		return true
	}
	return false
}

// Status represents order lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOpen     Status = "OPEN"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusFailed   Status = "FAILED"
)

var (
	ErrInvalidSide     = errors.New("invalid side")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("limit price must be positive")
)

// Order 是下单后由网关返回的订单快照。策略只保存副本，不修改已提交订单。
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           Type
	Quantity       int
	LimitPrice     float64 // 仅限价单
	Duration       Duration
	Session        Session
	Status         Status
	FilledQuantity int
	FilledPrice    float64
	StrategyID     string
	SubmittedAt    time.Time
	FilledAt       time.Time
	CanceledAt     time.Time
	LastError      string
}

// Validate 检查订单字段约束。
func (o Order) Validate() error {
	if o.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, o.Quantity)
	}
	switch o.Type {
	case TypeMarket:
	case TypeLimit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("%w: %.4f", ErrInvalidPrice, o.LimitPrice)
		}
	default:
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	return nil
}

// IsActive 订单是否仍可能成交
func (o Order) IsActive() bool {
	return o.Status == StatusPending || o.Status == StatusOpen
}

// Position 持仓。Oscillating 策略用它记录待卖出的买入腿，网关用它返回账户持仓。
type Position struct {
	Symbol     string
	Quantity   int
	EntryPrice float64
	EntryTime  time.Time
	OrderID    string
}
