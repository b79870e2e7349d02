package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmall/storefront/internal/domain/cart"
	"github.com/oakmall/storefront/internal/domain/order"
)

const (
	getOrCreateCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = carts.updated_at
		RETURNING id, user_id, created_at, updated_at`

	listCartItemsSQL = `SELECT ci.product_id, p.name, ci.quantity, p.price, ci.added_at
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.added_at, ci.product_id`

	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING quantity`

	setCartItemQuantitySQL = `UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND product_id = $2`

	removeCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	cartLinesSQL = `SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id`
)

var (
	_ cart.Repository  = (*CartRepository)(nil)
	_ order.CartSource = (*CartRepository)(nil)
)

// CartRepository implements cart.Repository backed by PostgreSQL. It also
// serves as the order service's CartSource for checkout.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOrCreate returns the user's cart with its items, creating an empty
// cart on first use. The ON CONFLICT no-op update lets a single statement
// return the row in both cases.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getOrCreateCartSQL, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create cart for %q: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var item cart.Item
		err := row.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.Price, &item.AddedAt)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart items: %w", err)
	}
	return &c, nil
}

// UpsertItem inserts the line or accumulates quantity onto an existing one.
func (r *CartRepository) UpsertItem(ctx context.Context, cartID int64, productID string, quantity int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, upsertCartItemSQL, cartID, productID, quantity).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("upserting cart item %q: %w", productID, err)
	}
	return total, nil
}

// SetItemQuantity overwrites the line's quantity.
func (r *CartRepository) SetItemQuantity(ctx context.Context, cartID int64, productID string, quantity int) error {
	tag, err := r.pool.Exec(ctx, setCartItemQuantitySQL, cartID, productID, quantity)
	if err != nil {
		return fmt.Errorf("updating cart item %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// RemoveItem deletes the line.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID int64, productID string) error {
	tag, err := r.pool.Exec(ctx, removeCartItemSQL, cartID, productID)
	if err != nil {
		return fmt.Errorf("removing cart item %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear deletes all lines of the cart.
func (r *CartRepository) Clear(ctx context.Context, cartID int64) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %d: %w", cartID, err)
	}
	return nil
}

// Lines implements order.CartSource for checkout.
func (r *CartRepository) Lines(ctx context.Context, userID string) (int64, []order.Line, error) {
	c, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	rows, err := r.pool.Query(ctx, cartLinesSQL, c.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("reading cart lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var line order.Line
		err := row.Scan(&line.ProductID, &line.Quantity)
		return line, err
	})
	if err != nil {
		return 0, nil, fmt.Errorf("scanning cart lines: %w", err)
	}
	return c.ID, lines, nil
}
