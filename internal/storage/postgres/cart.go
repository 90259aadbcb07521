package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT product_id, quantity, price, tax_rate
		FROM cart_items WHERE user_id = $1 ORDER BY seq`

	addCartItemSQL = `INSERT INTO cart_items (user_id, product_id, quantity, price, tax_rate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			quantity = cart_items.quantity + EXCLUDED.quantity`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`

	dropDepletedCartItemSQL = `DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2 AND quantity <= $3`

	decrementCartItemSQL = `UPDATE cart_items SET quantity = quantity - $3
		WHERE user_id = $1 AND product_id = $2 AND quantity > $3`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the cart lines in insertion order.
func (r *CartRepository) Get(ctx context.Context, userID string) ([]cart.Item, error) {
	rows, err := r.pool.Query(ctx, getCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.Quantity, &it.Price, &it.TaxRate)
		return it, err
	})
}

// AddItem inserts a line or adds to the quantity of an existing one.
func (r *CartRepository) AddItem(ctx context.Context, userID string, item cart.Item) error {
	_, err := r.pool.Exec(ctx, addCartItemSQL,
		userID, item.ProductID, item.Quantity, item.Price, item.TaxRate,
	)
	if err != nil {
		return fmt.Errorf("adding cart item: %w", err)
	}
	return nil
}

// RemoveItem subtracts quantity from a line, dropping it when nothing is
// left. A non-positive quantity drops the line.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		if _, err := r.pool.Exec(ctx, deleteCartItemSQL, userID, productID); err != nil {
			return fmt.Errorf("removing cart item: %w", err)
		}
		return nil
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, dropDepletedCartItemSQL, userID, productID, quantity); err != nil {
			return fmt.Errorf("removing cart item: %w", err)
		}
		if _, err := tx.Exec(ctx, decrementCartItemSQL, userID, productID, quantity); err != nil {
			return fmt.Errorf("decrementing cart item: %w", err)
		}
		return nil
	})
}

// Clear removes every line of the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	return nil
}
