package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/httputil"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/validator"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// LedgerService is the stock ledger surface exposed to operators.
type LedgerService interface {
	ProvisionStock(ctx context.Context, productID string, initial int) (*domain.StockLedgerEntry, error)
	GetStock(ctx context.Context, productID string) (*domain.StockLedgerEntry, error)
	IncreaseStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error)
	DecreaseStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error)
}

// HistoryReader lists recorded stock changes.
type HistoryReader interface {
	List(ctx context.Context, productID string, limit int) ([]domain.StockHistoryEntry, error)
}

// ReservationService is the reservation surface exposed to operators.
type ReservationService interface {
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	CancelReservation(ctx context.Context, reservationID string) error
}

// StockHandler serves the inventory ops API.
type StockHandler struct {
	ledger       LedgerService
	history      HistoryReader
	reservations ReservationService
	logger       *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(ledger LedgerService, history HistoryReader, reservations ReservationService, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		ledger:       ledger,
		history:      history,
		reservations: reservations,
		logger:       logger,
	}
}

// ProvisionStockRequest is the JSON request body for creating a product's ledger row.
type ProvisionStockRequest struct {
	ProductID string `json:"product_id" validate:"required,sku"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// AdjustStockRequest is the JSON request body for increasing or decreasing stock.
type AdjustStockRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

// ProvisionStock handles POST /api/v1/stock
func (h *StockHandler) ProvisionStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ProvisionStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	entry, err := h.ledger.ProvisionStock(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: entry})
}

// GetStock handles GET /api/v1/stock/{productId}
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.GetStock(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entry})
}

// IncreaseStock handles POST /api/v1/stock/{productId}/increase
func (h *StockHandler) IncreaseStock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.IncreaseStock)
}

// DecreaseStock handles POST /api/v1/stock/{productId}/decrease
func (h *StockHandler) DecreaseStock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.DecreaseStock)
}

func (h *StockHandler) adjust(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error),
) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req AdjustStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	entry, err := op(r.Context(), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entry})
}

// ListHistory handles GET /api/v1/stock/{productId}/history?limit=N
func (h *StockHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "limit must be a positive integer"},
			})
			return
		}
		limit = n
	}

	entries, err := h.history.List(r.Context(), chi.URLParam(r, "productId"), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if entries == nil {
		entries = []domain.StockHistoryEntry{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entries})
}

// GetReservation handles GET /api/v1/reservations/{id}
func (h *StockHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// CancelReservation handles POST /api/v1/reservations/{id}/cancel. It
// releases the hold through the same path an expiry signal takes.
func (h *StockHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.reservations.CancelReservation(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
