package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, address,
		item_total, shipping_charge, sales_tax, coupon_discount, total,
		status, payment_method, payment_confirmed, gateway_order_id,
		coupon_code, coupon_discount_amount, coupon_discount_type, coupon_usage_tracked,
		order_date, estimated_date, shipped_date, delivered_date, cancelled_date, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY order_date DESC`

	listOrdersByStatusSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 AND order_date BETWEEN $2 AND $3 ORDER BY order_date`

	setGatewayOrderIDSQL = `UPDATE orders SET gateway_order_id = $2 WHERE id = $1`

	confirmOrderSQL = `UPDATE orders SET
			status = 'Confirmed', payment_confirmed = $2, updated_at = $3
		WHERE id = $1 AND status = 'Pending'
		RETURNING ` + orderColumns

	claimCouponUsageSQL = `UPDATE orders SET coupon_usage_tracked = TRUE
		WHERE id = $1 AND NOT coupon_usage_tracked`

	releaseCouponUsageSQL = `UPDATE orders SET coupon_usage_tracked = FALSE WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// and the address are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

type itemJSON struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	TaxRate   decimal.Decimal `json:"taxRate"`
}

type addressJSON struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items := make([]itemJSON, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemJSON(it)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(addressJSON(o.Address))
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	var (
		couponCode, couponType *string
		couponAmount           *decimal.Decimal
	)
	if c := o.Coupon; c != nil {
		couponCode, couponType, couponAmount = &c.Code, &c.DiscountType, &c.DiscountAmount
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, addrJSON,
		o.Amounts.ItemTotal, o.Amounts.ShippingCharge, o.Amounts.SalesTax, o.Amounts.CouponDiscount, o.Amounts.Total,
		o.Status, o.Payment.Method, o.Payment.Confirmed, o.Payment.GatewayOrderID,
		couponCode, couponAmount, couponType, o.CouponUsageTracked,
		o.OrderDate, o.EstimatedDate, o.ShippedDate, o.DeliveredDate, o.CancelledDate, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return r.one(rows, id)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListByStatusBetween returns orders in status placed within [from, to].
func (r *OrderRepository) ListByStatusBetween(ctx context.Context, status order.Status, from, to time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByStatusSQL, status, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders by status: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// SetGatewayOrderID records the payment gateway order id.
func (r *OrderRepository) SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error {
	tag, err := r.pool.Exec(ctx, setGatewayOrderIDSQL, id, gatewayOrderID)
	if err != nil {
		return fmt.Errorf("setting gateway order id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Confirm moves a Pending order to Confirmed.
func (r *OrderRepository) Confirm(ctx context.Context, id string, paymentConfirmed bool, at time.Time) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, confirmOrderSQL, id, paymentConfirmed, at)
	if err != nil {
		return nil, fmt.Errorf("confirming order %q: %w", id, err)
	}
	return r.guarded(ctx, rows, id)
}

// UpdateStatus applies u while the order is still in u.From.
func (r *OrderRepository) UpdateStatus(ctx context.Context, u order.StatusUpdate) (*order.Order, error) {
	query, err := updateStatusSQL(u.Field)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, u.OrderID, u.To, u.From, u.At)
	if err != nil {
		return nil, fmt.Errorf("updating order %q status: %w", u.OrderID, err)
	}
	return r.guarded(ctx, rows, u.OrderID)
}

// ClaimCouponUsage sets the coupon tracking flag and reports whether this
// call set it.
func (r *OrderRepository) ClaimCouponUsage(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, claimCouponUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("claiming coupon usage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := r.mustExist(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseCouponUsage clears the coupon tracking flag.
func (r *OrderRepository) ReleaseCouponUsage(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, releaseCouponUsageSQL, id); err != nil {
		return fmt.Errorf("releasing coupon usage: %w", err)
	}
	return nil
}

// guarded reads the row returned by a guarded update. No row means either a
// missing order or a failed guard.
func (r *OrderRepository) guarded(ctx context.Context, rows pgx.Rows, id string) (*order.Order, error) {
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reading order %q: %w", id, err)
		}
		if err := r.mustExist(ctx, id); err != nil {
			return nil, err
		}
		return nil, order.ErrConflict
	}
	return &o, nil
}

func (r *OrderRepository) one(rows pgx.Rows, id string) (*order.Order, error) {
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func (r *OrderRepository) mustExist(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return nil
}

// updateStatusSQL builds the guarded status update stamping the column of f.
func updateStatusSQL(f order.DateField) (string, error) {
	var stamp string
	switch f {
	case "":
	case order.DateShipped:
		stamp = ", shipped_date = $4"
	case order.DateDelivered:
		stamp = ", delivered_date = $4"
	case order.DateCancelled:
		stamp = ", cancelled_date = $4"
	default:
		return "", errors.Errorf("unknown date field %q", f)
	}
	return `UPDATE orders SET status = $2, updated_at = $4` + stamp + `
		WHERE id = $1 AND status = $3
		RETURNING ` + orderColumns, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		itemsRaw     []byte
		addressRaw   []byte
		couponCode   *string
		couponAmount *decimal.Decimal
		couponType   *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsRaw, &addressRaw,
		&o.Amounts.ItemTotal, &o.Amounts.ShippingCharge, &o.Amounts.SalesTax, &o.Amounts.CouponDiscount, &o.Amounts.Total,
		&o.Status, &o.Payment.Method, &o.Payment.Confirmed, &o.Payment.GatewayOrderID,
		&couponCode, &couponAmount, &couponType, &o.CouponUsageTracked,
		&o.OrderDate, &o.EstimatedDate, &o.ShippedDate, &o.DeliveredDate, &o.CancelledDate, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	var items []itemJSON
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Items = make([]order.Item, len(items))
	for i, it := range items {
		o.Items[i] = order.Item(it)
	}

	var addr addressJSON
	if err := json.Unmarshal(addressRaw, &addr); err != nil {
		return o, fmt.Errorf("unmarshaling order address: %w", err)
	}
	o.Address = order.Address(addr)

	if couponCode != nil {
		o.Coupon = &order.AppliedCoupon{Code: *couponCode}
		if couponAmount != nil {
			o.Coupon.DiscountAmount = *couponAmount
		}
		if couponType != nil {
			o.Coupon.DiscountType = *couponType
		}
	}
	return o, nil
}
