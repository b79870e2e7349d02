// Package httpx exposes the storefront services over a thin chi router.
// The acting user is taken from the X-User-ID header: identity is owned by
// an external session provider and trusted here.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/oakmall/storefront/internal/domain/cart"
	"github.com/oakmall/storefront/internal/domain/order"
	"github.com/oakmall/storefront/internal/domain/product"
)

// userHeader carries the acting user's identity.
const userHeader = "X-User-ID"

// Server bundles the HTTP handlers over the domain services.
type Server struct {
	products product.Repository
	carts    *cart.Service
	orders   *order.Service
}

// NewServer creates a Server over the given services.
func NewServer(products product.Repository, carts *cart.Service, orders *order.Service) *Server {
	return &Server{products: products, carts: carts, orders: orders}
}

// Routes registers all endpoints on a fresh chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", s.listProducts)
	r.Get("/products/{id}", s.getProduct)

	r.Get("/cart", s.getCart)
	r.Post("/cart/items", s.addCartItem)
	r.Put("/cart/items/{productID}", s.updateCartItem)
	r.Delete("/cart/items/{productID}", s.removeCartItem)
	r.Delete("/cart", s.clearCart)

	r.Post("/orders", s.createOrder)
	r.Post("/orders/checkout", s.checkout)
	r.Get("/orders", s.listOrders)
	r.Get("/orders/{id}", s.getOrder)
	r.Put("/orders/{id}/items", s.replaceOrderItems)
	r.Post("/orders/{id}/status", s.updateOrderStatus)

	return r
}

func userID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes. Validation errors
// are 4xx with the domain error text; everything else is logged and
// reported as a 500 without internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidQty     *order.InvalidQuantityError
		invalidCartQty *cart.InvalidQuantityError
		insufficient   *product.InsufficientStockError
		notFound       *order.ProductNotFoundError
		transition     *order.InvalidTransitionError
		notEditable    *order.NotEditableError
	)

	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.As(err, &invalidQty),
		errors.As(err, &invalidCartQty):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &insufficient),
		errors.As(err, &transition),
		errors.As(err, &notEditable),
		errors.Is(err, order.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
