package product

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// LowStockThreshold is the available-stock level below which a product is
// considered low on stock.
const LowStockThreshold = 10

// Product represents a catalog item available for purchase. Stock and
// ReservedStock are mutated only through the inventory ledger primitives;
// catalog management owns the remaining fields.
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	Stock         int
	ReservedStock int
	Category      string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AvailableStock is the quantity obtainable by a new reservation right now.
func (p Product) AvailableStock() int {
	return p.Stock - p.ReservedStock
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.AvailableStock() > 0
}

// IsLowStock reports whether the product is running out: some units are
// still available, but fewer than LowStockThreshold.
func (p Product) IsLowStock() bool {
	avail := p.AvailableStock()
	return avail > 0 && avail < LowStockThreshold
}

// InsufficientStockError indicates a requested quantity exceeds a product's
// available stock. It carries enough context for the caller to react
// without guessing.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvariantViolationError indicates a stock mutation would drive a counter
// negative. It signals corrupted state, is never retried, and must not be
// clamped away.
type InvariantViolationError struct {
	ProductID string
	Op        string
	Quantity  int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("stock invariant violation: %s of %d units on product %s would drive a counter negative",
		e.Op, e.Quantity, e.ProductID)
}

// Repository defines read operations for the product catalog. Writes to the
// stock counters happen exclusively inside order repository transactions.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
