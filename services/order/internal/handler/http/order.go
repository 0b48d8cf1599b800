package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/httputil"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/validator"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/service"
)

// OrderService is the order surface exposed over HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, input service.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateOrderItemRequest is one requested line. Name and price are taken
// from the catalog.
type CreateOrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,sku"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
}

// CreateOrderRequest is the JSON request body for creating an order.
type CreateOrderRequest struct {
	UserID          string                   `json:"user_id" validate:"required,max=100"`
	Items           []CreateOrderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	Currency        string                   `json:"currency" validate:"required,currency"`
	ShippingName    string                   `json:"shipping_name" validate:"required,max=100"`
	ShippingAddress string                   `json:"shipping_address" validate:"required,max=500"`
	ShippingPhone   string                   `json:"shipping_phone" validate:"omitempty,max=30"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateOrderRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]service.CreateOrderItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.CreateOrderItemInput{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:          req.UserID,
		Items:           items,
		Currency:        req.Currency,
		ShippingName:    req.ShippingName,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
