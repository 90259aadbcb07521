package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTimestamp(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	base := h.imageBaseURL
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("taxRate", func(e *jx.Encoder) { money(e, p.TaxRate) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(base + p.Image.Thumbnail) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(base + p.Image.Mobile) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(base + p.Image.Tablet) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(base + p.Image.Desktop) })
			})
		})
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range c.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
					e.Field("taxRate", func(e *jx.Encoder) { money(e, it.TaxRate) })
				})
			}
			e.ArrEnd()
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, c.Subtotal()) })
	})
}

func encodeAmounts(e *jx.Encoder, a order.Amounts) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("itemTotal", func(e *jx.Encoder) { money(e, a.ItemTotal) })
		e.Field("shippingCharge", func(e *jx.Encoder) { money(e, a.ShippingCharge) })
		e.Field("salesTax", func(e *jx.Encoder) { money(e, a.SalesTax) })
		e.Field("couponDiscount", func(e *jx.Encoder) { money(e, a.CouponDiscount) })
		e.Field("total", func(e *jx.Encoder) { money(e, a.Total) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
					e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("taxRate", func(e *jx.Encoder) { money(e, it.TaxRate) })
				})
			}
			e.ArrEnd()
		})
		e.Field("address", func(e *jx.Encoder) {
			a := o.Address
			e.Obj(func(e *jx.Encoder) {
				e.Field("fullName", func(e *jx.Encoder) { e.Str(a.FullName) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
				e.Field("email", func(e *jx.Encoder) { e.Str(a.Email) })
				e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
				if a.Line2 != "" {
					e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
				}
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
				e.Field("postalCode", func(e *jx.Encoder) { e.Str(a.PostalCode) })
			})
		})
		e.Field("amounts", func(e *jx.Encoder) { encodeAmounts(e, o.Amounts) })
		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("method", func(e *jx.Encoder) { e.Str(string(o.Payment.Method)) })
				e.Field("confirmed", func(e *jx.Encoder) { e.Bool(o.Payment.Confirmed) })
			})
		})
		e.Field("coupon", func(e *jx.Encoder) {
			if o.Coupon == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(o.Coupon.Code) })
				e.Field("discountType", func(e *jx.Encoder) { e.Str(o.Coupon.DiscountType) })
				e.Field("discountAmount", func(e *jx.Encoder) { money(e, o.Coupon.DiscountAmount) })
			})
		})
		e.Field("orderDate", func(e *jx.Encoder) { timestamp(e, o.OrderDate) })
		e.Field("estimatedDate", func(e *jx.Encoder) { timestamp(e, o.EstimatedDate) })
		e.Field("shippedDate", func(e *jx.Encoder) { optTimestamp(e, o.ShippedDate) })
		e.Field("deliveredDate", func(e *jx.Encoder) { optTimestamp(e, o.DeliveredDate) })
		e.Field("cancelledDate", func(e *jx.Encoder) { optTimestamp(e, o.CancelledDate) })
	})
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func encodePlacement(e *jx.Encoder, p *order.Placement) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, p.Order) })
		e.Field("payment", func(e *jx.Encoder) {
			if p.Intent == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("gatewayOrderId", func(e *jx.Encoder) { e.Str(p.Intent.GatewayOrderID) })
				e.Field("amount", func(e *jx.Encoder) { e.Int64(p.Intent.AmountMinor) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(p.Intent.Currency) })
				e.Field("keyId", func(e *jx.Encoder) { e.Str(p.Intent.KeyID) })
			})
		})
	})
}

func encodeSummary(e *jx.Encoder, s *order.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(s.OrderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(s.Status)) })
		e.Field("total", func(e *jx.Encoder) { money(e, s.Total) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(s.PaymentMethod)) })
		e.Field("paymentConfirmed", func(e *jx.Encoder) { e.Bool(s.PaymentConfirmed) })
		e.Field("duplicate", func(e *jx.Encoder) { e.Bool(s.Duplicate) })
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, c.DiscountValue) })
		e.Field("minPurchase", func(e *jx.Encoder) { money(e, c.MinPurchase) })
		e.Field("maxDiscount", func(e *jx.Encoder) {
			if c.MaxDiscount == nil {
				e.Null()
				return
			}
			money(e, *c.MaxDiscount)
		})
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("expiryDate", func(e *jx.Encoder) { timestamp(e, c.ExpiryDate) })
		e.Field("usageLimit", func(e *jx.Encoder) { optInt(e, c.UsageLimit) })
		e.Field("usageCount", func(e *jx.Encoder) { e.Int(c.UsageCount) })
		e.Field("perUserLimit", func(e *jx.Encoder) { optInt(e, c.PerUserLimit) })
		e.Field("createdBy", func(e *jx.Encoder) { e.Str(c.CreatedBy) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
	})
}

func optInt(e *jx.Encoder, v *int) {
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func encodePreview(e *jx.Encoder, p *coupon.Preview) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(p.Coupon.Code) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(p.Coupon.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, p.Coupon.DiscountValue) })
		e.Field("discountAmount", func(e *jx.Encoder) { money(e, p.DiscountAmount) })
		e.Field("finalAmount", func(e *jx.Encoder) { money(e, p.FinalAmount) })
	})
}

func encodeEstimate(e *jx.Encoder, est *shipping.Estimate) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("shippingCharge", func(e *jx.Encoder) { money(e, est.Charge) })
		e.Field("distanceKm", func(e *jx.Encoder) { e.Float64(est.DistanceKm) })
		e.Field("ratePerKm", func(e *jx.Encoder) { money(e, est.RatePerKm) })
		e.Field("distanceTier", func(e *jx.Encoder) { e.Str(est.Tier) })
		e.Field("durationMinutes", func(e *jx.Encoder) { e.Int(est.DurationMinutes) })
		e.Field("distanceText", func(e *jx.Encoder) { e.Str(est.DistanceText) })
		e.Field("durationText", func(e *jx.Encoder) { e.Str(est.DurationText) })
	})
}

func encodeTokens(e *jx.Encoder, p *auth.TokenPair) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("accessToken", func(e *jx.Encoder) { e.Str(p.AccessToken) })
		e.Field("accessExpiresAt", func(e *jx.Encoder) { timestamp(e, p.AccessExpiresAt) })
		e.Field("refreshToken", func(e *jx.Encoder) { e.Str(p.RefreshToken) })
		e.Field("refreshExpiresAt", func(e *jx.Encoder) { timestamp(e, p.RefreshExpiresAt) })
		e.Field("tokenType", func(e *jx.Encoder) { e.Str("Bearer") })
	})
}
