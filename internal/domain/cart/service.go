package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/oakmall/storefront/internal/domain/product"
)

// Service implements cart staging. Availability checks here are soft: they
// give the user early feedback but reserve nothing, so a cart that passes
// can still be rejected at checkout if stock was consumed meanwhile.
type Service struct {
	carts    Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository) *Service {
	return &Service{carts: carts, products: products}
}

// Get returns the user's cart, creating an empty one on first use.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	return s.carts.GetOrCreate(ctx, userID)
}

// AddItem stages quantity units of a product, accumulating onto an existing
// line. The resulting quantity is checked against available stock as
// advisory feedback.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}

	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	p, err := s.activeProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	staged := 0
	for _, item := range c.Items {
		if item.ProductID == productID {
			staged = item.Quantity
			break
		}
	}
	if staged+quantity > p.AvailableStock() {
		return nil, &product.InsufficientStockError{
			ProductID: productID,
			Requested: staged + quantity,
			Available: p.AvailableStock(),
		}
	}

	if _, err := s.carts.UpsertItem(ctx, c.ID, productID, quantity); err != nil {
		return nil, errors.Wrap(err, "upsert cart item")
	}
	return s.carts.GetOrCreate(ctx, userID)
}

// UpdateItem sets the staged quantity of a product. A quantity of zero or
// less removes the line.
func (s *Service) UpdateItem(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	if quantity <= 0 {
		if err := s.carts.RemoveItem(ctx, c.ID, productID); err != nil {
			return nil, err
		}
		return s.carts.GetOrCreate(ctx, userID)
	}

	p, err := s.activeProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > p.AvailableStock() {
		return nil, &product.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: p.AvailableStock(),
		}
	}

	if err := s.carts.SetItemQuantity(ctx, c.ID, productID, quantity); err != nil {
		return nil, err
	}
	return s.carts.GetOrCreate(ctx, userID)
}

// RemoveItem deletes a staged line.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.RemoveItem(ctx, c.ID, productID); err != nil {
		return nil, err
	}
	return s.carts.GetOrCreate(ctx, userID)
}

// Clear removes every staged line from the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return s.carts.GetOrCreate(ctx, userID)
}

func (s *Service) activeProduct(ctx context.Context, productID string) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, product.ErrNotFound
	}
	return p, nil
}
