package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/oakmall/storefront/internal/domain/order"
)

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a addressPayload) toDomain() order.Address {
	return order.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []orderLineRequest `json:"items"`
	ShippingAddress addressPayload     `json:"shipping_address"`
}

type orderItemResponse struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

type orderResponse struct {
	OrderID         string              `json:"order_id"`
	Status          order.Status        `json:"status"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	Items           []orderItemResponse `json:"items"`
	TotalPrice      decimal.Decimal     `json:"total_price"`
	ShippingAddress addressPayload      `json:"shipping_address"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			Subtotal:        item.Subtotal(),
		}
	}
	addr := o.ShippingAddress
	return orderResponse{
		OrderID:        o.ID,
		Status:         o.Status,
		TrackingNumber: o.TrackingNumber,
		Items:          items,
		TotalPrice:     o.TotalPrice(),
		ShippingAddress: addressPayload{
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toLines(items []orderLineRequest) []order.Line {
	lines := make([]order.Line, len(items))
	for i, item := range items {
		lines[i] = order.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	o, err := s.orders.Create(r.Context(), order.CreateRequest{
		UserID:  userID(r),
		Lines:   toLines(req.Items),
		Address: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShippingAddress addressPayload `json:"shipping_address"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	o, err := s.orders.CreateFromCart(r.Context(), userID(r), req.ShippingAddress.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.ListByUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.UserID != userID(r) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: order.ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) replaceOrderItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []orderLineRequest `json:"items"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	o, err := s.orders.ReplaceItems(r.Context(), chi.URLParam(r, "id"), toLines(req.Items))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	o, err := s.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
