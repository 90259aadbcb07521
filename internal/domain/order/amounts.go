package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amounts is the financial breakdown of an order.
// Total == ItemTotal + ShippingCharge + SalesTax - CouponDiscount.
type Amounts struct {
	ItemTotal      decimal.Decimal
	ShippingCharge decimal.Decimal
	SalesTax       decimal.Decimal
	CouponDiscount decimal.Decimal
	Total          decimal.Decimal
}

// ComputeAmounts derives the breakdown from the order lines, the shipping
// charge and the coupon discount.
func ComputeAmounts(items []Item, shipping, discount decimal.Decimal) Amounts {
	itemTotal, salesTax := lineTotals(items)
	a := Amounts{
		ItemTotal:      itemTotal,
		ShippingCharge: shipping.Round(2),
		SalesTax:       salesTax,
		CouponDiscount: discount.Round(2),
	}
	a.Total = a.expectedTotal()
	return a
}

// Validate checks that every component is non-negative and that Total
// matches the sum of its components.
func (a Amounts) Validate() error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"amounts.itemTotal", a.ItemTotal},
		{"amounts.shippingCharge", a.ShippingCharge},
		{"amounts.salesTax", a.SalesTax},
		{"amounts.couponDiscount", a.CouponDiscount},
		{"amounts.total", a.Total},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return &ValidationError{Field: f.name, Reason: "must not be negative"}
		}
	}
	if want := a.expectedTotal(); !a.Total.Equal(want) {
		return &ValidationError{
			Field:  "amounts.total",
			Reason: fmt.Sprintf("expected %s, got %s", want.StringFixed(2), a.Total.StringFixed(2)),
		}
	}
	return nil
}

// Equal reports whether two breakdowns carry the same values.
func (a Amounts) Equal(b Amounts) bool {
	return a.ItemTotal.Equal(b.ItemTotal) &&
		a.ShippingCharge.Equal(b.ShippingCharge) &&
		a.SalesTax.Equal(b.SalesTax) &&
		a.CouponDiscount.Equal(b.CouponDiscount) &&
		a.Total.Equal(b.Total)
}

func (a Amounts) expectedTotal() decimal.Decimal {
	return a.ItemTotal.Add(a.ShippingCharge).Add(a.SalesTax).Sub(a.CouponDiscount)
}

// lineTotals returns the sum of line prices and the sales tax over them,
// both rounded to two places.
func lineTotals(items []Item) (itemTotal, salesTax decimal.Decimal) {
	itemTotal, salesTax = decimal.Zero, decimal.Zero
	for _, it := range items {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		itemTotal = itemTotal.Add(line)
		salesTax = salesTax.Add(line.Mul(it.TaxRate).Div(hundred))
	}
	return itemTotal.Round(2), salesTax.Round(2)
}

// MinorUnits converts an amount to the smallest currency unit (paise for INR).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
