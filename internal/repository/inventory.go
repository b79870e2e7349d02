package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/oakmall/storefront/internal/domain/product"
)

// Inventory ledger primitives. Each is a single conditional UPDATE, so the
// availability check and the counter mutation are one atomic statement at
// the storage layer. There is deliberately no read-then-write variant: two
// callers racing for the last units both hit the WHERE clause, and at most
// the permitted number of rows match.
const (
	tryReserveSQL = `UPDATE products
		SET reserved_stock = reserved_stock + $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock - reserved_stock >= $2`

	releaseSQL = `UPDATE products
		SET reserved_stock = reserved_stock - $2, updated_at = now()
		WHERE id = $1 AND reserved_stock >= $2`

	finalizeSQL = `UPDATE products
		SET stock = stock - $2, reserved_stock = reserved_stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2 AND reserved_stock >= $2`

	availableStockSQL = `SELECT stock - reserved_stock FROM products WHERE id = $1`
)

// tryReserve commits qty units of the product to an order iff qty does not
// exceed the available stock at the instant of mutation. On failure the
// current availability is re-read for the error and the surrounding
// transaction is expected to roll back.
func tryReserve(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	tag, err := tx.Exec(ctx, tryReserveSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("reserving %d of %q: %w", qty, productID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	if err := tx.QueryRow(ctx, availableStockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return fmt.Errorf("reading availability of %q: %w", productID, err)
	}
	return &product.InsufficientStockError{
		ProductID: productID,
		Requested: qty,
		Available: available,
	}
}

// release returns qty reserved units to availability. Driving the counter
// negative is a data-integrity bug, reported as an invariant violation and
// never clamped.
func release(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	tag, err := tx.Exec(ctx, releaseSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("releasing %d of %q: %w", qty, productID, err)
	}
	if tag.RowsAffected() != 1 {
		return &product.InvariantViolationError{ProductID: productID, Op: "release", Quantity: qty}
	}
	return nil
}

// finalize converts qty reserved units into a permanent deduction from
// on-hand stock (sale completion). Both counters drop together, leaving
// available stock unchanged.
func finalize(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	tag, err := tx.Exec(ctx, finalizeSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("finalizing %d of %q: %w", qty, productID, err)
	}
	if tag.RowsAffected() != 1 {
		return &product.InvariantViolationError{ProductID: productID, Op: "finalize", Quantity: qty}
	}
	return nil
}
