package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAmounts(t *testing.T) {
	items := []Item{
		{ProductID: "fern", UnitPrice: dec("499.50"), Quantity: 2, TaxRate: decimal.NewFromInt(5)},
		{ProductID: "pot", UnitPrice: dec("250"), Quantity: 1, TaxRate: decimal.NewFromInt(18)},
	}

	got := ComputeAmounts(items, dec("40"), dec("100"))

	assert.True(t, dec("1249").Equal(got.ItemTotal), got.ItemTotal.String())
	// 999 * 5% + 250 * 18% = 49.95 + 45
	assert.True(t, dec("94.95").Equal(got.SalesTax), got.SalesTax.String())
	assert.True(t, dec("40").Equal(got.ShippingCharge))
	assert.True(t, dec("100").Equal(got.CouponDiscount))
	assert.True(t, dec("1283.95").Equal(got.Total), got.Total.String())
	require.NoError(t, got.Validate())
}

func TestAmounts_Validate(t *testing.T) {
	valid := Amounts{
		ItemTotal:      dec("1000"),
		ShippingCharge: dec("40"),
		SalesTax:       dec("50"),
		CouponDiscount: dec("100"),
		Total:          dec("990"),
	}

	tests := []struct {
		name      string
		mutate    func(a *Amounts)
		wantField string
	}{
		{name: "valid", mutate: func(*Amounts) {}},
		{
			name:      "total mismatch",
			mutate:    func(a *Amounts) { a.Total = dec("1090") },
			wantField: "amounts.total",
		},
		{
			name:      "negative shipping",
			mutate:    func(a *Amounts) { a.ShippingCharge = dec("-1") },
			wantField: "amounts.shippingCharge",
		},
		{
			name:      "negative discount",
			mutate:    func(a *Amounts) { a.CouponDiscount = dec("-5") },
			wantField: "amounts.couponDiscount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestAmounts_ValidateMessage(t *testing.T) {
	a := Amounts{ItemTotal: dec("100"), Total: dec("90")}
	err := a.Validate()
	require.Error(t, err)
	assert.Equal(t, "amounts.total: expected 100.00, got 90.00", err.Error())
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"1", 100},
		{"1283.95", 128395},
		{"10.005", 1001},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, MinorUnits(dec(tt.amount)))
		})
	}
}
