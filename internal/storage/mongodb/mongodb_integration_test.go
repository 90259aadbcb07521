//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var testDB *mongo.Database

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("testdata/compose.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true), tc.RemoveVolumes(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	err = dc.
		WaitForService("mongo", wait.ForLog("Waiting for connections").WithStartupTimeout(time.Minute)).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Printf("compose up: %v", err)
		return 1
	}

	container, err := dc.ServiceContainer(ctx, "mongo")
	if err != nil {
		log.Printf("mongo container: %v", err)
		return 1
	}
	host, err := container.Host(ctx)
	if err != nil {
		log.Printf("host: %v", err)
		return 1
	}
	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		log.Printf("mapped port: %v", err)
		return 1
	}

	testDB, err = Connect(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "kart_test")
	if err != nil {
		log.Printf("connect: %v", err)
		return 1
	}
	defer func() { _ = testDB.Client().Disconnect(context.Background()) }()

	if err := EnsureIndexes(ctx, testDB); err != nil {
		log.Printf("indexes: %v", err)
		return 1
	}
	// Creating the same indexes again is a no-op.
	if err := EnsureIndexes(ctx, testDB); err != nil {
		log.Printf("indexes rerun: %v", err)
		return 1
	}

	return m.Run()
}

func intp(v int) *int { return &v }

func newCoupon(limit, perUser *int) *coupon.Coupon {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &coupon.Coupon{
		ID:            uuid.NewString(),
		Code:          "IT" + uuid.NewString()[:8],
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinPurchase:   decimal.Zero,
		IsActive:      true,
		ExpiryDate:    now.Add(24 * time.Hour),
		UsageLimit:    limit,
		PerUserLimit:  perUser,
		CreatedBy:     "integration",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCouponRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testDB)

	maxDiscount := decimal.NewFromInt(200)
	c := newCoupon(intp(5), nil)
	c.MaxDiscount = &maxDiscount
	require.NoError(t, repo.Create(ctx, c))
	dup := newCoupon(nil, nil)
	dup.Code = c.Code
	require.ErrorIs(t, repo.Create(ctx, dup), coupon.ErrDuplicateCode)

	got, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	require.NotNil(t, got.MaxDiscount)
	assert.True(t, maxDiscount.Equal(*got.MaxDiscount))
	assert.Nil(t, got.PerUserLimit)

	got.DiscountValue = decimal.NewFromInt(15)
	got.MaxDiscount = nil
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(got.DiscountValue))
	assert.Nil(t, got.MaxDiscount)

	replacement := newCoupon(intp(9), intp(1))
	replacement.Code = c.Code
	require.NoError(t, repo.Upsert(ctx, replacement))
	got, err = repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 9, *got.UsageLimit)

	require.NoError(t, repo.Delete(ctx, c.ID))
	require.ErrorIs(t, repo.Delete(ctx, c.ID), coupon.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, c), coupon.ErrNotFound)
}

func TestCouponRepository_RedeemRace(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testDB)

	c := newCoupon(intp(10), nil)
	require.NoError(t, repo.Create(ctx, c))

	const workers = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		invalid int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Redeem(ctx, coupon.RedeemParams{
				CouponID: c.ID,
				UserID:   fmt.Sprintf("user-%d", i),
				Now:      time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, coupon.ErrInvalid)
			invalid++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, workers-10, invalid)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.UsageCount)
	assert.False(t, got.IsActive)
}

func TestCouponRepository_RedeemPerUserLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testDB)

	c := newCoupon(intp(2), intp(1))
	require.NoError(t, repo.Create(ctx, c))
	params := coupon.RedeemParams{CouponID: c.ID, UserID: "user-1", PerUserLimit: c.PerUserLimit, Now: time.Now()}

	_, err := repo.Redeem(ctx, params)
	require.NoError(t, err)
	_, err = repo.Redeem(ctx, params)
	require.ErrorIs(t, err, coupon.ErrPerUserLimitReached)

	// The rejected attempt gave its global slot back.
	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.True(t, got.IsActive)

	params.UserID = "user-2"
	redeemed, err := repo.Redeem(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, redeemed.UsageCount)
	assert.False(t, redeemed.IsActive)

	used, err := repo.UserUsage(ctx, c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestCouponRepository_RedeemPerUserRace(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testDB)

	c := newCoupon(nil, intp(2))
	require.NoError(t, repo.Create(ctx, c))
	params := coupon.RedeemParams{CouponID: c.ID, UserID: "user-1", PerUserLimit: c.PerUserLimit, Now: time.Now()}

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.Redeem(ctx, params)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, coupon.ErrPerUserLimitReached)
	}
	assert.Equal(t, 2, succeeded)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestCouponRepository_RedeemExpiredAndMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testDB)

	c := newCoupon(nil, nil)
	require.NoError(t, repo.Create(ctx, c))

	_, err := repo.Redeem(ctx, coupon.RedeemParams{CouponID: c.ID, UserID: "u", Now: c.ExpiryDate.Add(time.Second)})
	require.ErrorIs(t, err, coupon.ErrInvalid)

	_, err = repo.Redeem(ctx, coupon.RedeemParams{CouponID: uuid.NewString(), UserID: "u", Now: time.Now()})
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func newOrder(withCoupon bool) *order.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := &order.Order{
		ID:     uuid.NewString(),
		UserID: "user-" + uuid.NewString()[:6],
		Items: []order.Item{{
			ProductID: "snake-plant",
			Name:      "Snake Plant",
			UnitPrice: decimal.NewFromInt(500),
			Quantity:  2,
			TaxRate:   decimal.NewFromInt(5),
		}},
		Address: order.Address{
			FullName: "Asha Rao", Email: "asha@example.com", Line1: "12 MG Road",
			City: "Bengaluru", State: "KA", PostalCode: "560001",
		},
		Amounts: order.Amounts{
			ItemTotal:      decimal.NewFromInt(1000),
			ShippingCharge: decimal.NewFromInt(40),
			SalesTax:       decimal.NewFromInt(50),
			CouponDiscount: decimal.Zero,
			Total:          decimal.NewFromInt(1090),
		},
		Status:        order.StatusPending,
		Payment:       order.Payment{Method: order.PaymentCOD},
		OrderDate:     now,
		EstimatedDate: now.Add(240 * time.Hour),
		UpdatedAt:     now,
	}
	if withCoupon {
		o.Coupon = &order.AppliedCoupon{Code: "SAVE10", DiscountAmount: decimal.NewFromInt(100), DiscountType: "percentage"}
		o.Amounts.CouponDiscount = decimal.NewFromInt(100)
		o.Amounts.Total = decimal.NewFromInt(990)
	}
	return o
}

func TestOrderRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testDB)

	o := newOrder(true)
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.SetGatewayOrderID(ctx, o.ID, "order_gw_1"))

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Address, got.Address)
	require.Len(t, got.Items, 1)
	assert.True(t, o.Items[0].UnitPrice.Equal(got.Items[0].UnitPrice))
	assert.True(t, o.Amounts.Total.Equal(got.Amounts.Total))
	require.NotNil(t, got.Coupon)
	assert.Equal(t, "SAVE10", got.Coupon.Code)
	assert.Equal(t, "order_gw_1", got.Payment.GatewayOrderID)
	assert.True(t, o.OrderDate.Equal(got.OrderDate))
	assert.Nil(t, got.ShippedDate)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
	require.ErrorIs(t, repo.SetGatewayOrderID(ctx, "missing", "x"), order.ErrNotFound)

	list, err := repo.ListByUser(ctx, o.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].ID)
}

func TestOrderRepository_ConfirmRace(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testDB)

	o := newOrder(false)
	require.NoError(t, repo.Create(ctx, o))

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.Confirm(ctx, o.ID, true, time.Now())
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, order.ErrConflict)
	}
	assert.Equal(t, 1, winners)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.True(t, got.Payment.Confirmed)

	_, err = repo.Confirm(ctx, "missing", false, time.Now())
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testDB)

	o := newOrder(false)
	o.Status = order.StatusConfirmed
	require.NoError(t, repo.Create(ctx, o))

	at := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	got, err := repo.UpdateStatus(ctx, order.StatusUpdate{
		OrderID: o.ID, From: order.StatusConfirmed, To: order.StatusShipped, Field: order.DateShipped, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, got.Status)
	require.NotNil(t, got.ShippedDate)
	assert.True(t, at.Equal(*got.ShippedDate))
	assert.Nil(t, got.CancelledDate)

	_, err = repo.UpdateStatus(ctx, order.StatusUpdate{
		OrderID: o.ID, From: order.StatusConfirmed, To: order.StatusCancelled, Field: order.DateCancelled, At: at,
	})
	require.ErrorIs(t, err, order.ErrConflict)
}

func TestOrderRepository_ListByStatusBetween(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testDB)

	base := time.Date(2031, 1, 15, 12, 0, 0, 0, time.UTC)
	inside := newOrder(false)
	inside.Status = order.StatusConfirmed
	inside.OrderDate = base
	outside := newOrder(false)
	outside.Status = order.StatusConfirmed
	outside.OrderDate = base.AddDate(0, 0, 2)
	pending := newOrder(false)
	pending.OrderDate = base
	for _, o := range []*order.Order{inside, outside, pending} {
		require.NoError(t, repo.Create(ctx, o))
	}

	got, err := repo.ListByStatusBetween(ctx, order.StatusConfirmed,
		time.Date(2031, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2031, 1, 15, 23, 59, 59, 999000000, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inside.ID, got[0].ID)
}

func TestOrderRepository_CouponClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testDB)

	o := newOrder(true)
	require.NoError(t, repo.Create(ctx, o))

	var wg sync.WaitGroup
	claims := make([]bool, 8)
	for i := range claims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimCouponUsage(ctx, o.ID)
			assert.NoError(t, err)
			claims[i] = ok
		}()
	}
	wg.Wait()

	won := 0
	for _, ok := range claims {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	require.NoError(t, repo.ReleaseCouponUsage(ctx, o.ID))
	ok, err := repo.ClaimCouponUsage(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.ClaimCouponUsage(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	user := "cart-" + uuid.NewString()

	require.NoError(t, repo.AddItem(ctx, user, cart.Item{ProductID: "b", Quantity: 2, Price: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(18)}))
	require.NoError(t, repo.AddItem(ctx, user, cart.Item{ProductID: "a", Quantity: 1, Price: decimal.NewFromInt(50), TaxRate: decimal.NewFromInt(5)}))
	require.NoError(t, repo.AddItem(ctx, user, cart.Item{ProductID: "b", Quantity: 3, Price: decimal.NewFromInt(999), TaxRate: decimal.NewFromInt(18)}))

	items, err := repo.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ProductID)
	assert.Equal(t, 5, items[0].Quantity)
	assert.True(t, decimal.NewFromInt(100).Equal(items[0].Price))

	require.NoError(t, repo.RemoveItem(ctx, user, "b", 2))
	items, err = repo.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, items[0].Quantity)

	require.NoError(t, repo.RemoveItem(ctx, user, "b", 3))
	require.NoError(t, repo.RemoveItem(ctx, user, "missing", 1))
	items, err = repo.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ProductID)

	require.NoError(t, repo.Clear(ctx, user))
	items, err = repo.Get(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartRepository_ConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	user := "cart-" + uuid.NewString()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AddItem(ctx, user, cart.Item{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(10), TaxRate: decimal.Zero}))
		}()
	}
	wg.Wait()

	items, err := repo.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)

	p := &product.Product{
		ID: "it-" + uuid.NewString()[:8], Name: "Fern", Price: decimal.RequireFromString("249.50"),
		Category: "Indoor Plant", TaxRate: decimal.NewFromInt(5),
		Image: product.Image{Thumbnail: "/t.jpg"},
	}
	require.NoError(t, repo.Upsert(ctx, p))
	p.Price = decimal.RequireFromString("199.00")
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, "/t.jpg", got.Image.Thumbnail)

	many, err := repo.GetByIDs(ctx, []string{p.ID, "nope"})
	require.NoError(t, err)
	require.Len(t, many, 1)

	require.NoError(t, repo.Delete(ctx, p.ID))
	require.ErrorIs(t, repo.Delete(ctx, p.ID), product.ErrNotFound)
	_, err = repo.GetByID(ctx, p.ID)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)

	now := time.Now().UTC().Truncate(time.Millisecond)
	s := &auth.Session{
		ID: uuid.NewString(), UserID: "u1", Admin: true, SecretHash: "hash",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Admin)
	assert.Nil(t, got.RevokedAt)

	revoked, err := repo.Revoke(ctx, s.ID, now)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = repo.Revoke(ctx, s.ID, now)
	require.NoError(t, err)
	assert.False(t, revoked)

	_, err = repo.Revoke(ctx, "missing", now)
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testDB)

	info := &auth.APIKeyInfo{ID: uuid.NewString(), KeyHash: "h-" + uuid.NewString(), Name: "ops", Scopes: []string{auth.ScopeAdmin}}
	require.NoError(t, repo.Upsert(ctx, info))

	got, err := repo.FindByHash(ctx, info.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Name)
	assert.Equal(t, []string{auth.ScopeAdmin}, got.Scopes)

	_, err = repo.FindByHash(ctx, "unknown")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
