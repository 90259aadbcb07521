package order

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

type coordinatorFixture struct {
	repo     *memOrderRepo
	carts    *mockCarts
	coupons  *mockRedeemer
	notifier *recordingNotifier
	events   *recordingEvents
	c        *Coordinator
}

func newCoordinatorFixture(orders ...*Order) *coordinatorFixture {
	f := &coordinatorFixture{
		repo:     newMemOrderRepo(orders...),
		carts:    &mockCarts{},
		coupons:  &mockRedeemer{},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	f.c = NewCoordinator(f.repo, f.carts, f.coupons, f.notifier, f.events, nil)
	return f
}

func withCoupon(o *Order, code string) *Order {
	o.Coupon = &AppliedCoupon{Code: code, DiscountAmount: dec("0"), DiscountType: "fixed"}
	return o
}

func TestCoordinator_ConfirmRazorpay(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))

	sum, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", UserID: "user-1", Success: true})
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, sum.Status)
	assert.True(t, sum.PaymentConfirmed)
	assert.False(t, sum.Duplicate)
	assert.True(t, dec("1090").Equal(sum.Total))

	stored := f.repo.stored("o1")
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.True(t, stored.Payment.Confirmed)
	assert.True(t, stored.CouponUsageTracked)

	assert.Equal(t, []string{"user-1"}, f.carts.cleared)
	assert.Equal(t, []string{"SAVE10/user-1"}, f.coupons.calls)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, NotifyOrderConfirmation, f.notifier.sent[0].Kind)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventOrderConfirmed, f.events.events[0].Type)
}

func TestCoordinator_ConfirmCOD(t *testing.T) {
	f := newCoordinatorFixture(pendingOrder("o1", "user-1", PaymentCOD))

	sum, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, sum.Status)
	assert.False(t, sum.PaymentConfirmed)
	assert.Zero(t, f.coupons.count())
	assert.Equal(t, 1, f.carts.clearCount())
}

func TestCoordinator_ConfirmIdempotent(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))
	ctx := context.Background()
	req := ConfirmRequest{OrderID: "o1", UserID: "user-1", Success: true}

	first, err := f.c.Confirm(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.c.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, StatusConfirmed, second.Status)

	assert.Equal(t, 1, f.coupons.count())
	assert.Equal(t, 1, f.carts.clearCount())
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.events.count())
}

func TestCoordinator_ConfirmConcurrent(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))

	const callers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", Success: true})
			if !assert.NoError(t, err) {
				return
			}
			if sum.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, callers-1, duplicates)
	assert.Equal(t, 1, f.coupons.count())
	assert.Equal(t, 1, f.carts.clearCount())
	assert.Equal(t, 1, f.notifier.count())
}

func TestCoordinator_ConfirmLostRace(t *testing.T) {
	f := newCoordinatorFixture(pendingOrder("o1", "user-1", PaymentRazorpay))
	// Another confirmation lands between the read and the guarded write.
	f.repo.beforeConfirm = func() {
		f.repo.mu.Lock()
		f.repo.orders["o1"].Status = StatusConfirmed
		f.repo.mu.Unlock()
		f.repo.beforeConfirm = nil
	}

	sum, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.True(t, sum.Duplicate)
	assert.Zero(t, f.carts.clearCount())
	assert.Zero(t, f.notifier.count())
}

func TestCoordinator_ConfirmErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		req     ConfirmRequest
		wantErr error
	}{
		{
			name:    "payment failed",
			status:  StatusPending,
			req:     ConfirmRequest{OrderID: "o1", Success: false},
			wantErr: ErrVerificationFailed,
		},
		{
			name:    "unknown order",
			status:  StatusPending,
			req:     ConfirmRequest{OrderID: "missing", Success: true},
			wantErr: ErrNotFound,
		},
		{
			name:    "other user",
			status:  StatusPending,
			req:     ConfirmRequest{OrderID: "o1", UserID: "user-2", Success: true},
			wantErr: ErrNotFound,
		},
		{
			name:    "cancelled order",
			status:  StatusCancelled,
			req:     ConfirmRequest{OrderID: "o1", Success: true},
			wantErr: ErrTransitionNotAllowed,
		},
		{
			name:    "shipped order",
			status:  StatusShipped,
			req:     ConfirmRequest{OrderID: "o1", Success: true},
			wantErr: ErrTransitionNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder("o1", "user-1", PaymentRazorpay)
			o.Status = tt.status
			f := newCoordinatorFixture(o)

			_, err := f.c.Confirm(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.status, f.repo.stored("o1").Status)
			assert.Zero(t, f.carts.clearCount())
			assert.Zero(t, f.notifier.count())
		})
	}
}

func TestCoordinator_ConfirmSideEffectFailuresKeepConfirmation(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))
	f.carts.clearErr = errBoom
	f.coupons.err = coupon.ErrInvalid
	f.notifier.err = errBoom
	f.events.err = errBoom

	sum, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, sum.Status)

	stored := f.repo.stored("o1")
	assert.Equal(t, StatusConfirmed, stored.Status)
	// Failed redemption releases the claim so a retry can redeem.
	assert.False(t, stored.CouponUsageTracked)
	assert.Equal(t, 1, f.repo.releaseCalls)
}

func TestCoordinator_DuplicateRetriesUntrackedCoupon(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))
	f.coupons.err = errBoom
	ctx := context.Background()

	_, err := f.c.Confirm(ctx, ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.False(t, f.repo.stored("o1").CouponUsageTracked)

	f.coupons.err = nil
	sum, err := f.c.Confirm(ctx, ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.True(t, sum.Duplicate)
	assert.True(t, f.repo.stored("o1").CouponUsageTracked)
	assert.Equal(t, 2, f.coupons.count())

	_, err = f.c.Confirm(ctx, ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.coupons.count())
	assert.Equal(t, 1, f.carts.clearCount())
}

func TestCoordinator_ClaimFailureSkipsRedeem(t *testing.T) {
	f := newCoordinatorFixture(withCoupon(pendingOrder("o1", "user-1", PaymentRazorpay), "SAVE10"))
	f.repo.claimErr = errBoom

	_, err := f.c.Confirm(context.Background(), ConfirmRequest{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.Zero(t, f.coupons.count())
}
