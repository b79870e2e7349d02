package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a placed customer order. The order ID is immutable after
// creation, the shipping address is a snapshot captured at creation time,
// and the total is always derived from the current line items.
type Order struct {
	ID              string
	UserID          string
	Status          Status
	TrackingNumber  string
	ShippingAddress Address
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TotalPrice sums the line subtotals. It is never stored.
func (o *Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Lines returns the (product, quantity) pairs of the order's items.
func (o *Order) Lines() []Line {
	lines := make([]Line, len(o.Items))
	for i, item := range o.Items {
		lines[i] = Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

// Item is a single order line. PriceAtPurchase is the price snapshot copied
// from the product at the moment of reservation and is immutable thereafter,
// regardless of later catalog price changes.
type Item struct {
	ProductID       string
	ProductName     string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// Subtotal is the line total at the snapshotted price.
func (i Item) Subtotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Line is a (product, quantity) request before pricing.
type Line struct {
	ProductID string
	Quantity  int
}

// Address is the shipping address snapshot stored on the order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Repository defines the transactional persistence operations for orders.
// Each method is a single all-or-nothing transaction: the stock side
// effects it performs either all commit together with the order mutation
// or none do.
type Repository interface {
	// Create persists the order with its items, reserving stock for every
	// line in ascending product-ID order. When clearCartID is non-zero the
	// originating cart's items are deleted in the same transaction. Returns
	// *product.InsufficientStockError if any reservation fails.
	Create(ctx context.Context, o *Order, clearCartID int64) error

	// ReplaceItems swaps the order's item set in one transaction: old
	// reservations released, new lines reserved against the updated
	// availability, items replaced. On failure the transaction rolls back,
	// restoring the old reservations.
	ReplaceItems(ctx context.Context, orderID string, items []Item) error

	// Transition performs a guarded status update (WHERE status = from)
	// with the given stock effect applied to every order item atomically.
	// trackingNumber, when non-empty, is assigned if the order has none;
	// on a tracking collision the update is retried with a fresh number.
	// Returns ErrStatusConflict if the order was concurrently transitioned.
	Transition(ctx context.Context, orderID string, from, to Status, trackingNumber string) error

	Get(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}
