package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRequest(method PaymentMethod) CreateRequest {
	items := []Item{{ProductID: "p1", Name: "Fern", UnitPrice: dec("500"), Quantity: 2, TaxRate: decimal.NewFromInt(5)}}
	return CreateRequest{
		UserID:        "user-1",
		Items:         items,
		Address:       testAddress(),
		Amounts:       ComputeAmounts(items, dec("40"), decimal.Zero),
		PaymentMethod: method,
	}
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("razorpay creates intent", func(t *testing.T) {
		repo := newMemOrderRepo()
		gw := &mockGateway{}
		m := NewManager(repo, gw, nil, nil, ManagerConfig{})
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }

		res, err := m.Create(ctx, createRequest(PaymentRazorpay))
		require.NoError(t, err)
		require.NotNil(t, res.Intent)

		assert.Equal(t, StatusPending, res.Order.Status)
		assert.Equal(t, "order_gw_"+res.Order.ID, res.Order.Payment.GatewayOrderID)
		assert.False(t, res.Order.Payment.Confirmed)
		assert.True(t, now.Add(DefaultEstimateWindow).Equal(res.Order.EstimatedDate))

		// 1000 + 40 + 50 = 1090 INR
		assert.Equal(t, int64(109000), gw.amount)
		assert.Equal(t, "INR", gw.currency)
		assert.Equal(t, res.Order.ID, gw.receipt)

		stored := repo.stored(res.Order.ID)
		assert.Equal(t, res.Order.Payment.GatewayOrderID, stored.Payment.GatewayOrderID)
	})

	t.Run("cod skips gateway", func(t *testing.T) {
		gw := &mockGateway{}
		m := NewManager(newMemOrderRepo(), gw, nil, nil, ManagerConfig{})

		res, err := m.Create(ctx, createRequest(PaymentCOD))
		require.NoError(t, err)
		assert.Nil(t, res.Intent)
		assert.Equal(t, 0, gw.calls)
	})

	t.Run("gateway failure", func(t *testing.T) {
		m := NewManager(newMemOrderRepo(), &mockGateway{err: errBoom}, nil, nil, ManagerConfig{})

		_, err := m.Create(ctx, createRequest(PaymentRazorpay))
		require.ErrorIs(t, err, ErrPaymentGatewayUnavailable)
	})

	t.Run("online payment without gateway", func(t *testing.T) {
		m := NewManager(newMemOrderRepo(), nil, nil, nil, ManagerConfig{})

		_, err := m.Create(ctx, createRequest(PaymentRazorpay))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "paymentMethod", vErr.Field)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := newMemOrderRepo()
		repo.createErr = errBoom
		m := NewManager(repo, &mockGateway{}, nil, nil, ManagerConfig{})

		_, err := m.Create(ctx, createRequest(PaymentCOD))
		require.ErrorIs(t, err, errBoom)
		assert.Contains(t, err.Error(), "create order")
	})
}

func TestManager_CreateValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *CreateRequest)
		wantField string
	}{
		{
			name:      "missing user",
			mutate:    func(r *CreateRequest) { r.UserID = "" },
			wantField: "userId",
		},
		{
			name:      "no items",
			mutate:    func(r *CreateRequest) { r.Items = nil },
			wantField: "items",
		},
		{
			name:      "zero quantity",
			mutate:    func(r *CreateRequest) { r.Items[0].Quantity = 0 },
			wantField: "items.quantity",
		},
		{
			name:      "missing postal code",
			mutate:    func(r *CreateRequest) { r.Address.PostalCode = " " },
			wantField: "address.postalCode",
		},
		{
			name:      "unknown payment method",
			mutate:    func(r *CreateRequest) { r.PaymentMethod = "paypal" },
			wantField: "paymentMethod",
		},
		{
			name:      "total does not add up",
			mutate:    func(r *CreateRequest) { r.Amounts.Total = r.Amounts.Total.Add(dec("1")) },
			wantField: "amounts.total",
		},
		{
			name: "item total does not match lines",
			mutate: func(r *CreateRequest) {
				r.Amounts.ItemTotal = r.Amounts.ItemTotal.Add(dec("10"))
				r.Amounts.Total = r.Amounts.Total.Add(dec("10"))
			},
			wantField: "amounts.itemTotal",
		},
		{
			name: "discount without coupon",
			mutate: func(r *CreateRequest) {
				r.Amounts.CouponDiscount = dec("10")
				r.Amounts.Total = r.Amounts.Total.Sub(dec("10"))
			},
			wantField: "amounts.couponDiscount",
		},
		{
			name: "coupon discount mismatch",
			mutate: func(r *CreateRequest) {
				r.Coupon = &AppliedCoupon{Code: "SAVE20", DiscountAmount: dec("20")}
				r.Amounts.CouponDiscount = dec("10")
				r.Amounts.Total = r.Amounts.Total.Sub(dec("10"))
			},
			wantField: "amounts.couponDiscount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemOrderRepo()
			m := NewManager(repo, &mockGateway{}, nil, nil, ManagerConfig{})
			req := createRequest(PaymentRazorpay)
			tt.mutate(&req)

			_, err := m.Create(context.Background(), req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Empty(t, repo.orders)
		})
	}
}

func TestManager_Transition(t *testing.T) {
	admin := Actor{UserID: "admin-1", Admin: true}
	at := time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from      Status
		target    string
		actor     Actor
		wantErr   error
		wantField DateField
	}{
		{name: "confirmed to shipped", from: StatusConfirmed, target: "Shipped", actor: admin, wantField: DateShipped},
		{name: "shipped to delivered", from: StatusShipped, target: "delivered", actor: admin, wantField: DateDelivered},
		{name: "confirmed to cancelled", from: StatusConfirmed, target: "Cancelled", actor: admin, wantField: DateCancelled},
		{name: "pending to cancelled", from: StatusPending, target: "Cancelled", actor: admin, wantField: DateCancelled},
		{name: "delivered to shipped", from: StatusDelivered, target: "Shipped", actor: admin, wantErr: ErrTransitionNotAllowed},
		{name: "cancelled to delivered", from: StatusCancelled, target: "Delivered", actor: admin, wantErr: ErrTransitionNotAllowed},
		{name: "pending to confirmed", from: StatusPending, target: "Confirmed", actor: admin, wantErr: ErrTransitionNotAllowed},
		{name: "pending to shipped", from: StatusPending, target: "Shipped", actor: admin, wantErr: ErrTransitionNotAllowed},
		{name: "unknown status", from: StatusConfirmed, target: "Lost", actor: admin, wantErr: ErrUnknownStatus},
		{name: "not admin", from: StatusConfirmed, target: "Shipped", actor: Actor{UserID: "user-1"}, wantErr: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder("o1", "user-1", PaymentCOD)
			o.Status = tt.from
			repo := newMemOrderRepo(o)
			notifier := &recordingNotifier{}
			events := &recordingEvents{}
			m := NewManager(repo, nil, notifier, events, ManagerConfig{})

			got, err := m.Transition(context.Background(), TransitionRequest{
				OrderID: "o1",
				Target:  tt.target,
				Date:    at,
				Actor:   tt.actor,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, repo.stored("o1").Status)
				assert.Zero(t, notifier.count())
				assert.Zero(t, events.count())
				return
			}
			require.NoError(t, err)

			var stamped *time.Time
			switch tt.wantField {
			case DateShipped:
				stamped = got.ShippedDate
			case DateDelivered:
				stamped = got.DeliveredDate
			case DateCancelled:
				stamped = got.CancelledDate
			}
			require.NotNil(t, stamped)
			assert.True(t, at.Equal(*stamped))

			require.Len(t, notifier.sent, 1)
			assert.Equal(t, NotifyOrderStatus, notifier.sent[0].Kind)
			assert.Equal(t, "asha@example.com", notifier.sent[0].To)
			require.Len(t, events.events, 1)
			assert.Equal(t, EventOrderStatusChanged, events.events[0].Type)
			assert.Equal(t, got.Status, events.events[0].Status)
		})
	}
}

func TestManager_TransitionDefaultsDateToNow(t *testing.T) {
	o := pendingOrder("o1", "user-1", PaymentCOD)
	o.Status = StatusConfirmed
	m := NewManager(newMemOrderRepo(o), nil, nil, nil, ManagerConfig{})
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	got, err := m.Transition(context.Background(), TransitionRequest{
		OrderID: "o1",
		Target:  "Shipped",
		Actor:   Actor{Admin: true},
	})
	require.NoError(t, err)
	require.NotNil(t, got.ShippedDate)
	assert.True(t, now.Equal(*got.ShippedDate))
}

func TestManager_TransitionNotFound(t *testing.T) {
	m := NewManager(newMemOrderRepo(), nil, nil, nil, ManagerConfig{})

	_, err := m.Transition(context.Background(), TransitionRequest{
		OrderID: "missing",
		Target:  "Shipped",
		Actor:   Actor{Admin: true},
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_TransitionNotificationFailureIgnored(t *testing.T) {
	o := pendingOrder("o1", "user-1", PaymentCOD)
	o.Status = StatusConfirmed
	m := NewManager(newMemOrderRepo(o), nil, &recordingNotifier{err: errBoom}, &recordingEvents{err: errBoom}, ManagerConfig{})

	got, err := m.Transition(context.Background(), TransitionRequest{
		OrderID: "o1",
		Target:  "Shipped",
		Actor:   Actor{Admin: true},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)
}

func TestManager_Get(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("o1", "user-1", PaymentCOD))
	m := NewManager(repo, nil, nil, nil, ManagerConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "owner", actor: Actor{UserID: "user-1"}},
		{name: "admin", actor: Actor{UserID: "admin-1", Admin: true}},
		{name: "someone else", actor: Actor{UserID: "user-2"}, wantErr: ErrNotFound},
		{name: "anonymous", actor: Actor{}, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Get(ctx, "o1", tt.actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "o1", got.ID)
		})
	}
}

func TestManager_ListConfirmed(t *testing.T) {
	inDay := pendingOrder("o1", "u1", PaymentCOD)
	inDay.Status = StatusConfirmed
	inDay.OrderDate = time.Date(2026, 3, 11, 23, 59, 0, 0, time.UTC)

	nextDay := pendingOrder("o2", "u1", PaymentCOD)
	nextDay.Status = StatusConfirmed
	nextDay.OrderDate = time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	pending := pendingOrder("o3", "u1", PaymentCOD)
	pending.OrderDate = time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	m := NewManager(newMemOrderRepo(inDay, nextDay, pending), nil, nil, nil, ManagerConfig{})
	ref := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	daily, err := m.ListConfirmed(context.Background(), ref, RangeDaily)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "o1", daily[0].ID)

	weekly, err := m.ListConfirmed(context.Background(), ref, RangeWeekly)
	require.NoError(t, err)
	assert.Len(t, weekly, 2)
}
