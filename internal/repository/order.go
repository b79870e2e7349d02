package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmall/storefront/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (order_id, user_id, status,
			shipping_line1, shipping_line2, shipping_city, shipping_state,
			shipping_postal_code, shipping_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase)
		VALUES ($1, $2, $3, $4)`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	orderColumns = `order_id, user_id, status, COALESCE(tracking_number, ''),
		shipping_line1, shipping_line2, shipping_city, shipping_state,
		shipping_postal_code, shipping_country, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT oi.product_id, p.name, oi.quantity, oi.price_at_purchase
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 ORDER BY oi.product_id`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`

	orderLinesSQL = `SELECT product_id, quantity FROM order_items
		WHERE order_id = $1 ORDER BY product_id`

	transitionSQL = `UPDATE orders
		SET status = $3,
		    tracking_number = COALESCE(tracking_number, NULLIF($4, '')),
		    updated_at = now()
		WHERE order_id = $1 AND status = $2`

	touchOrderSQL = `UPDATE orders SET updated_at = now() WHERE order_id = $1`
)

// maxTrackingAttempts bounds regeneration retries on a tracking-number
// unique-constraint collision.
const maxTrackingAttempts = 5

// ErrTrackingExhausted is returned when tracking-number generation keeps
// colliding. With 64 random bits this indicates something badly wrong with
// the randomness source, not bad luck.
var ErrTrackingExhausted = errors.New("tracking number generation retries exhausted")

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// mutating method runs as one transaction, so the order write and its
// stock side effects commit or roll back as a unit.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its items, reserving stock for every line.
// Reservations are acquired in ascending product-ID order so concurrent
// transactions over overlapping product sets cannot deadlock. Any failed
// reservation aborts the whole transaction: no partial order, items, or
// reservations persist.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, clearCartID int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback(ctx)

	addr := o.ShippingAddress
	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Status,
		addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	if err := insertItemsReserving(ctx, tx, o.ID, o.Items); err != nil {
		return err
	}

	if clearCartID != 0 {
		if _, err := tx.Exec(ctx, clearCartSQL, clearCartID); err != nil {
			return fmt.Errorf("clearing cart %d: %w", clearCartID, err)
		}
	}

	return tx.Commit(ctx)
}

// ReplaceItems swaps the order's item set. The order row is locked first,
// then the old reservations are released and the new lines reserved in a
// single ascending pass over the union of old and new product IDs — all in
// one transaction, so a failed reservation rolls everything back and the
// original reservations remain in place.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []order.Item) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin replace items: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the order row: serializes against concurrent replacements and
	// lifecycle transitions, and re-checks editability inside the
	// transaction.
	var status order.Status
	if err := tx.QueryRow(ctx, lockOrderStatusSQL, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("locking order %q: %w", orderID, err)
	}
	if !status.PreFulfillment() {
		return &order.NotEditableError{OrderID: orderID, Status: status}
	}

	oldLines, err := readOrderLines(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, deleteOrderItemsSQL, orderID); err != nil {
		return fmt.Errorf("deleting items of %q: %w", orderID, err)
	}

	// Releasing the whole old set before reserving the new one would lock
	// product rows in old-then-new order, which inverts against Create's
	// ascending order over the same products. Walking the union ascending
	// keeps a single global lock order across all transactions.
	oldQty := make(map[string]int, len(oldLines))
	for _, line := range oldLines {
		oldQty[line.ProductID] = line.Quantity
	}
	newItems := make(map[string]order.Item, len(items))
	for _, item := range items {
		newItems[item.ProductID] = item
	}
	ids := make([]string, 0, len(oldQty)+len(newItems))
	for id := range oldQty {
		ids = append(ids, id)
	}
	for id := range newItems {
		if _, ok := oldQty[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if qty, ok := oldQty[id]; ok {
			if err := release(ctx, tx, id, qty); err != nil {
				return err
			}
		}
		item, ok := newItems[id]
		if !ok {
			continue
		}
		if err := tryReserve(ctx, tx, id, item.Quantity); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			orderID, item.ProductID, item.Quantity, item.PriceAtPurchase,
		); err != nil {
			return fmt.Errorf("inserting item %q of order %q: %w", item.ProductID, orderID, err)
		}
	}

	if _, err := tx.Exec(ctx, touchOrderSQL, orderID); err != nil {
		return fmt.Errorf("touching order %q: %w", orderID, err)
	}

	return tx.Commit(ctx)
}

// Transition performs the guarded status update together with the stock
// side effect of the target status. On a tracking-number collision the
// whole transaction is retried with a freshly generated number.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, from, to order.Status, trackingNumber string) error {
	for attempt := 0; attempt < maxTrackingAttempts; attempt++ {
		err := r.transitionOnce(ctx, orderID, from, to, trackingNumber)
		if err == nil {
			return nil
		}
		if isTrackingCollision(err) && trackingNumber != "" {
			trackingNumber = order.GenerateTrackingNumber()
			continue
		}
		return err
	}
	return ErrTrackingExhausted
}

func (r *OrderRepository) transitionOnce(ctx context.Context, orderID string, from, to order.Status, trackingNumber string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, transitionSQL, orderID, from, to, trackingNumber)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the order vanished or another transition won the race.
		var current order.Status
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE order_id = $1`, orderID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("reading status of %q: %w", orderID, err)
		}
		return errors.Wrapf(order.ErrStatusConflict, "expected %s, found %s", from, current)
	}

	switch to.Effect() {
	case order.EffectRelease, order.EffectFinalize:
		lines, err := readOrderLines(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if to.Effect() == order.EffectRelease {
				err = release(ctx, tx, line.ProductID, line.Quantity)
			} else {
				err = finalize(ctx, tx, line.ProductID, line.Quantity)
			}
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	o.Items, err = r.listItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByUser returns the user's orders with items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}

	for i := range orders {
		orders[i].Items, err = r.listItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of %q: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var item order.Item
		err := row.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtPurchase)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items of %q: %w", orderID, err)
	}
	return items, nil
}

// insertItemsReserving reserves stock and inserts the item rows in
// ascending product-ID order.
func insertItemsReserving(ctx context.Context, tx pgx.Tx, orderID string, items []order.Item) error {
	sorted := make([]order.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, item := range sorted {
		if err := tryReserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			orderID, item.ProductID, item.Quantity, item.PriceAtPurchase,
		); err != nil {
			return fmt.Errorf("inserting item %q of order %q: %w", item.ProductID, orderID, err)
		}
	}
	return nil
}

func readOrderLines(ctx context.Context, tx pgx.Tx, orderID string) ([]order.Line, error) {
	rows, err := tx.Query(ctx, orderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("reading lines of %q: %w", orderID, err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var line order.Line
		err := row.Scan(&line.ProductID, &line.Quantity)
		return line, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning lines of %q: %w", orderID, err)
	}
	return lines, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.TrackingNumber,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Line2, &o.ShippingAddress.City,
		&o.ShippingAddress.State, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// isTrackingCollision reports whether err is a unique-constraint violation
// on the tracking number column.
func isTrackingCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == "23505" &&
		pgErr.ConstraintName == "orders_tracking_number_key"
}
