package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrItemNotFound is returned when a cart line for the given product does
// not exist.
var ErrItemNotFound = errors.New("cart item not found")

// InvalidQuantityError indicates a requested staging quantity below one.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be at least 1 for product %s, got %d", e.ProductID, e.Quantity)
}

// Cart is a user's staged item list. It holds no reservations: quantities
// are advisory until checkout converts them into a binding order.
type Cart struct {
	ID        int64
	UserID    string
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalPrice sums the line subtotals at current catalog prices.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// TotalItems sums the staged quantities.
func (c *Cart) TotalItems() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Item is a staged cart line. Price reflects the product's current catalog
// price, not a snapshot.
type Item struct {
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
	AddedAt     time.Time
}

// Subtotal is the line total at the current catalog price.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository defines persistence for carts. Items are keyed by
// (cart, product); a user has at most one cart, created on first use.
type Repository interface {
	// GetOrCreate returns the user's cart, creating an empty one if needed.
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	// UpsertItem inserts the line or adds quantity to an existing line,
	// returning the resulting quantity.
	UpsertItem(ctx context.Context, cartID int64, productID string, quantity int) (int, error)
	// SetItemQuantity overwrites the line's quantity. Returns
	// ErrItemNotFound if the line does not exist.
	SetItemQuantity(ctx context.Context, cartID int64, productID string, quantity int) error
	// RemoveItem deletes the line. Returns ErrItemNotFound if absent.
	RemoveItem(ctx context.Context, cartID int64, productID string) error
	// Clear deletes all lines of the cart.
	Clear(ctx context.Context, cartID int64) error
}
