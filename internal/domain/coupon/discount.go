package coupon

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// DiscountFor calculates the discount the coupon grants on amount. The result
// is never negative and never exceeds amount.
func (c *Coupon) DiscountFor(amount decimal.Decimal) decimal.Decimal {
	amount = floorAtZero(amount)

	switch c.DiscountType {
	case DiscountPercentage:
		return applyPercentage(c, amount)
	case DiscountFixed:
		return applyFixed(c, amount)
	default:
		return zero
	}
}

func applyPercentage(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	discount := amount.Mul(c.DiscountValue).Div(hundred)
	if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
		discount = *c.MaxDiscount
	}
	return floorAtZero(decimal.Min(discount, amount)).Round(2)
}

func applyFixed(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	return floorAtZero(decimal.Min(c.DiscountValue, amount)).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
