package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, discount_value, min_purchase, max_discount,
		is_active, expiry_date, usage_limit, usage_count, per_user_limit,
		created_by, created_at, updated_at`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updateCouponSQL = `UPDATE coupons SET
			code = $2, discount_type = $3, discount_value = $4, min_purchase = $5,
			max_discount = $6, is_active = $7, expiry_date = $8, usage_limit = $9,
			per_user_limit = $10, updated_at = $11
		WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			is_active = EXCLUDED.is_active,
			expiry_date = EXCLUDED.expiry_date,
			usage_limit = EXCLUDED.usage_limit,
			per_user_limit = EXCLUDED.per_user_limit,
			updated_at = EXCLUDED.updated_at`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, code`

	getUserUsageSQL = `SELECT usage_count FROM user_coupon_usage
		WHERE coupon_id = $1 AND user_id = $2`

	// redeemCouponSQL increments the global counter only while the coupon is
	// usable and deactivates it when the limit is reached.
	redeemCouponSQL = `UPDATE coupons SET
			usage_count = usage_count + 1,
			is_active = CASE
				WHEN usage_limit IS NOT NULL AND usage_count + 1 >= usage_limit THEN FALSE
				ELSE is_active
			END,
			updated_at = $2
		WHERE id = $1
			AND is_active
			AND expiry_date >= $2
			AND (usage_limit IS NULL OR usage_count < usage_limit)
		RETURNING ` + couponColumns

	// incrementUserUsageSQL upserts the per-user counter while it stays
	// below $4. A NULL limit never blocks.
	incrementUserUsageSQL = `INSERT INTO user_coupon_usage (coupon_id, user_id, usage_count, last_used_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (coupon_id, user_id) DO UPDATE SET
			usage_count = user_coupon_usage.usage_count + 1,
			last_used_at = EXCLUDED.last_used_at
		WHERE $4::integer IS NULL OR user_coupon_usage.usage_count < $4::integer
		RETURNING usage_count`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a coupon. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL, couponArgs(c)...)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the definition fields of a coupon.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.DiscountType, c.DiscountValue, c.MinPurchase,
		c.MaxDiscount, c.IsActive, c.ExpiryDate, c.UsageLimit,
		c.PerUserLimit, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert inserts a coupon or replaces the definition of the coupon with the
// same code, keeping its id and usage counters.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, couponArgs(c)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Delete removes a coupon and its usage rows.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Get returns a coupon by id.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponSQL, id)
}

// FindByCode returns a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponByCodeSQL, code)
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// UserUsage returns how many times userID redeemed the coupon.
func (r *CouponRepository) UserUsage(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, getUserUsageSQL, couponID, userID).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting coupon usage: %w", err)
	}
	return n, nil
}

// Redeem records one use in a transaction. The guarded update of the coupon
// row takes its lock first, so concurrent redemptions of the same coupon are
// serialized and re-evaluate the guard against the committed counter.
func (r *CouponRepository) Redeem(ctx context.Context, p coupon.RedeemParams) (*coupon.Coupon, error) {
	var redeemed coupon.Coupon
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, redeemCouponSQL, p.CouponID, p.Now)
		if err != nil {
			return fmt.Errorf("incrementing coupon usage: %w", err)
		}
		c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("incrementing coupon usage: %w", err)
			}
			if _, err := getCoupon(ctx, tx, getCouponSQL, p.CouponID); err != nil {
				return err
			}
			return coupon.ErrInvalid
		}

		var used int
		err = tx.QueryRow(ctx, incrementUserUsageSQL, p.CouponID, p.UserID, p.Now, p.PerUserLimit).Scan(&used)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrPerUserLimitReached
			}
			return fmt.Errorf("incrementing user usage: %w", err)
		}

		redeemed = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &redeemed, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getCoupon(ctx context.Context, q querier, query, arg string) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon: %w", err)
	}
	return &c, nil
}

func couponArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, c.Code, c.DiscountType, c.DiscountValue, c.MinPurchase, c.MaxDiscount,
		c.IsActive, c.ExpiryDate, c.UsageLimit, c.UsageCount, c.PerUserLimit,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MinPurchase, &c.MaxDiscount,
		&c.IsActive, &c.ExpiryDate, &c.UsageLimit, &c.UsageCount, &c.PerUserLimit,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
