package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceTick 美股报价最小变动单位
const PriceTick = 0.01

// RoundPrice 将价格四舍五入到分。
func RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return f
}

// SymbolConstraints 描述标的的价格步长与数量限制。
type SymbolConstraints struct {
	TickSize float64
	MinQty   int
	MaxQty   int
}

// Validate 检查订单价格/数量是否符合限制。price 为 0 表示市价单，不检查步长。
func (c SymbolConstraints) Validate(price float64, qty int) error {
	if c.TickSize > 0 && price > 0 && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %.4f not aligned to tickSize %.4f", price, c.TickSize)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("qty %d < minQty %d", qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("qty %d > maxQty %d", qty, c.MaxQty)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	return v.Mod(s).IsZero()
}
