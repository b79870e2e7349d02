package order

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakmall/storefront/internal/domain/product"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems = errors.New("order must have at least one item")

	// ErrStatusConflict is returned when another transition committed
	// between reading and writing the order's status. The whole operation
	// rolled back and may be retried.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InvalidQuantityError indicates a line item has a quantity below one.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be at least 1 for product %s, got %d", e.ProductID, e.Quantity)
}

// ProductNotFoundError indicates a requested product does not exist or is
// no longer active.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// NotEditableError indicates an item replacement was requested on an order
// past pre-fulfillment.
type NotEditableError struct {
	OrderID string
	Status  Status
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("order %s: items cannot be replaced in status %s", e.OrderID, e.Status)
}

// CartSource supplies the staged lines of a user's cart for checkout.
type CartSource interface {
	// Lines returns the cart ID and its (product, quantity) pairs.
	Lines(ctx context.Context, userID string) (cartID int64, lines []Line, err error)
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	UserID  string
	Lines   []Line
	Address Address
	// cartID, when non-zero, is cleared in the creation transaction.
	cartID int64
}

// Service drives order creation, item replacement, and the lifecycle state
// machine. All stock accounting goes through the repository's transactional
// operations; the service itself never read-modify-writes counters.
type Service struct {
	products   product.Repository
	orders     Repository
	carts      CartSource
	dispatcher Dispatcher
	cache      CacheInvalidator
}

// NewService creates an order Service with the required collaborators.
func NewService(
	products product.Repository,
	orders Repository,
	carts CartSource,
	dispatcher Dispatcher,
	cache CacheInvalidator,
) *Service {
	return &Service{
		products:   products,
		orders:     orders,
		carts:      carts,
		dispatcher: dispatcher,
		cache:      cache,
	}
}

// Create validates the requested lines, snapshots prices, and atomically
// creates the order with its reservations. The whole operation is
// all-or-nothing: if any reservation fails because a concurrent request
// consumed the remaining stock, nothing persists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return nil, err
	}

	products, err := s.fetchProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	// Validation-time availability check. The binding check is the
	// conditional reserve inside the creation transaction; this one exists
	// to reject hopeless requests before any mutation.
	for _, line := range lines {
		p := products[line.ProductID]
		if line.Quantity > p.AvailableStock() {
			return nil, &product.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: p.AvailableStock(),
			}
		}
	}

	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Status:          StatusPending,
		ShippingAddress: req.Address,
		Items:           snapshotItems(lines, products),
	}

	if err := s.orders.Create(ctx, o, req.cartID); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.afterCommit(ctx, Event{
		EventID:     uuid.New().String(),
		EventType:   EventOrderCreated,
		OccurredAt:  time.Now().UTC(),
		OrderID:     o.ID,
		UserContact: o.UserID,
		Status:      o.Status,
	})
	s.warnLowStock(ctx, lines, products)

	return o, nil
}

// CreateFromCart places an order from the user's staged cart and clears the
// cart in the same transaction.
func (s *Service) CreateFromCart(ctx context.Context, userID string, address Address) (*Order, error) {
	cartID, lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}

	return s.Create(ctx, CreateRequest{
		UserID:  userID,
		Lines:   lines,
		Address: address,
		cartID:  cartID,
	})
}

// ReplaceItems wholesale-replaces the order's item set while it is still
// pre-fulfillment. Old reservations are released and the new lines reserved
// in a single transaction, so a failed replacement leaves the original
// items and reservations completely intact.
func (s *Service) ReplaceItems(ctx context.Context, orderID string, newLines []Line) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !o.Status.PreFulfillment() {
		return nil, &NotEditableError{OrderID: orderID, Status: o.Status}
	}

	lines, err := normalizeLines(newLines)
	if err != nil {
		return nil, err
	}

	products, err := s.fetchProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	// No validation-time stock check here: availability only settles once
	// the order's own reservations are released inside the transaction.
	items := snapshotItems(lines, products)
	if err := s.orders.ReplaceItems(ctx, orderID, items); err != nil {
		return nil, errors.Wrap(err, "replace items")
	}
	o.Items = items

	s.afterCommit(ctx, Event{
		EventID:     uuid.New().String(),
		EventType:   EventOrderItemsReplaced,
		OccurredAt:  time.Now().UTC(),
		OrderID:     o.ID,
		UserContact: o.UserID,
		Status:      o.Status,
	})
	s.warnLowStock(ctx, lines, products)

	return o, nil
}

// UpdateStatus moves the order to the requested status, applying the stock
// side effects of the transition atomically with the status write. Entering
// Shipped issues a tracking number if the order has none; once set it never
// changes.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("unknown order status %q", to)
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !o.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{OrderID: orderID, From: o.Status, To: to}
	}

	var tracking string
	if to == StatusShipped && o.TrackingNumber == "" {
		tracking = GenerateTrackingNumber()
	}

	if err := s.orders.Transition(ctx, orderID, o.Status, to, tracking); err != nil {
		return nil, errors.Wrap(err, "transition order")
	}

	prev := o.Status
	// Re-read: the repository may have regenerated the tracking number on a
	// unique-constraint collision.
	updated, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}

	s.afterCommit(ctx, Event{
		EventID:     uuid.New().String(),
		EventType:   EventOrderStatusChanged,
		OccurredAt:  time.Now().UTC(),
		OrderID:     updated.ID,
		UserContact: updated.UserID,
		Status:      updated.Status,
		PrevStatus:  prev,
	})
	if to.Effect() != EffectNone {
		s.cache.InvalidateProductList(ctx)
	}

	return updated, nil
}

// Get returns a single order with its items.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// afterCommit dispatches the event and invalidates caches. Both are
// best-effort: the mutation already committed and must not be failed here.
func (s *Service) afterCommit(ctx context.Context, ev Event) {
	s.dispatcher.Dispatch(ctx, ev)
	s.cache.InvalidateOrderStatus(ctx, ev.OrderID)
	if ev.EventType != EventOrderStatusChanged {
		s.cache.InvalidateProductList(ctx)
	}
}

// warnLowStock logs products that dropped below the low-stock threshold
// after a successful reservation.
func (s *Service) warnLowStock(ctx context.Context, lines []Line, products map[string]product.Product) {
	lg := zctx.From(ctx)
	for _, line := range lines {
		p := products[line.ProductID]
		p.ReservedStock += line.Quantity
		if p.IsLowStock() {
			lg.Warn("product low on stock",
				zap.String("product_id", p.ID),
				zap.String("name", p.Name),
				zap.Int("available", p.AvailableStock()),
			)
		}
	}
}

// fetchProducts batch-loads the products referenced by lines, rejecting
// unknown or inactive products.
func (s *Service) fetchProducts(ctx context.Context, lines []Line) (map[string]product.Product, error) {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		if p.IsActive {
			byID[p.ID] = p
		}
	}
	for _, line := range lines {
		if _, ok := byID[line.ProductID]; !ok {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}
	}
	return byID, nil
}

// normalizeLines validates quantities, merges duplicate product lines, and
// sorts by product ID. The sorted order fixes the reservation acquisition
// order across all concurrent callers, preventing deadlock between
// transactions touching overlapping product sets.
func normalizeLines(in []Line) ([]Line, error) {
	if len(in) == 0 {
		return nil, ErrEmptyItems
	}

	merged := make(map[string]int, len(in))
	for _, line := range in {
		if line.Quantity < 1 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID, Quantity: line.Quantity}
		}
		merged[line.ProductID] += line.Quantity
		// A sum of valid quantities can still wrap around; a wrapped total
		// is negative and must not reach the availability check.
		if merged[line.ProductID] < 1 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID, Quantity: merged[line.ProductID]}
		}
	}

	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// snapshotItems builds order items with the current product prices. lines
// must already be normalized.
func snapshotItems(lines []Line, products map[string]product.Product) []Item {
	items := make([]Item, len(lines))
	for i, line := range lines {
		p := products[line.ProductID]
		items[i] = Item{
			ProductID:       p.ID,
			ProductName:     p.Name,
			Quantity:        line.Quantity,
			PriceAtPurchase: p.Price,
		}
	}
	return items
}
