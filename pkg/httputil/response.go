package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/validator"
)

// Response is the JSON envelope shared by the order, inventory and payment APIs.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// errorCodes maps sentinel errors that reach the handler without an AppError
// wrapper onto a stable response code. Order matters: the first match wins.
var errorCodes = []struct {
	target error
	code   string
}{
	{apperrors.ErrNotFound, "NOT_FOUND"},
	{apperrors.ErrAlreadyExists, "ALREADY_EXISTS"},
	{apperrors.ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{apperrors.ErrInvalidStateTransition, "INVALID_STATE_TRANSITION"},
	{apperrors.ErrConcurrencyExhausted, "CONCURRENCY_EXHAUSTED"},
	{apperrors.ErrConflict, "CONFLICT"},
	{apperrors.ErrInvalidInput, "INVALID_INPUT"},
	{apperrors.ErrPaymentFailed, "PAYMENT_FAILED"},
	{apperrors.ErrServiceUnavail, "SERVICE_UNAVAILABLE"},
}

// retryAfterSeconds is advertised on 503 responses. Ledger contention and an
// open circuit both clear within a few seconds.
const retryAfterSeconds = "1"

// WriteError writes err in the standard error envelope. AppErrors carry their
// own code and status; bare sentinels are mapped through apperrors.HTTPStatus.
// 5xx messages are never echoed to the client. The request-scoped logger from
// RequestLogger is preferred over fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContextOr(r.Context(), fallback)
	requestID := logger.CorrelationIDFromContext(r.Context())

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		WriteJSON(w, appErr.Status, Response{
			Error: &ErrorResponse{Code: appErr.Code, Message: appErr.Message, RequestID: requestID},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := "INTERNAL_ERROR"
	for _, e := range errorCodes {
		if errors.Is(err, e.target) {
			code = e.code
			break
		}
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("class", apperrors.Classify(err).String()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		message = http.StatusText(status)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
	}

	WriteJSON(w, status, Response{
		Error: &ErrorResponse{Code: code, Message: message, RequestID: requestID},
	})
}

// WriteValidationError writes a standardized validation error response.
// It handles ValidationError from the validator package and returns field-level errors.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

// ParseUUID validates that the given string is a valid UUID and returns it.
// If invalid, it writes a 400 Bad Request response with code INVALID_PARAMETER
// and returns uuid.Nil plus false, signaling the caller to return early.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "INVALID_PARAMETER",
				Message: "invalid UUID: " + param,
			},
		})
		return uuid.Nil, false
	}
	return id, true
}
