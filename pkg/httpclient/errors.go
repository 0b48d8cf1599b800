package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/httputil"
)

const maxErrorBody = 64 << 10

// sentinels recovers the local sentinel for an error code written by
// httputil.WriteError on the other side.
var sentinels = map[string]error{
	"NOT_FOUND":                apperrors.ErrNotFound,
	"ALREADY_EXISTS":           apperrors.ErrAlreadyExists,
	"INVALID_INPUT":            apperrors.ErrInvalidInput,
	"VALIDATION_ERROR":         apperrors.ErrInvalidInput,
	"CONFLICT":                 apperrors.ErrConflict,
	"INSUFFICIENT_STOCK":       apperrors.ErrInsufficientStock,
	"INVALID_STATE_TRANSITION": apperrors.ErrInvalidStateTransition,
	"PAYMENT_FAILED":           apperrors.ErrPaymentFailed,
	"CONCURRENCY_EXHAUSTED":    apperrors.ErrConcurrencyExhausted,
	"SERVICE_UNAVAILABLE":      apperrors.ErrServiceUnavail,
}

// ParseResponseError turns a non-2xx response from another service into an
// error that errors.Is and apperrors.Classify understand. It consumes and
// closes the body.
//
// A structured envelope keeps its code and message. Anything else is mapped
// from the status alone, and 5xx responses come back as ErrServiceUnavail so
// consumers treat them as transient.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned %d, read body: %w", service, resp.StatusCode, err)
	}

	var env httputil.Response
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Code != "" {
		return fromEnvelope(resp.StatusCode, env.Error, service)
	}
	return fromStatus(resp.StatusCode, string(body), service)
}

func fromEnvelope(status int, e *httputil.ErrorResponse, service string) error {
	msg := service + ": " + e.Message
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}

	sentinel, ok := sentinels[e.Code]
	if !ok {
		if status >= 500 {
			sentinel = apperrors.ErrServiceUnavail
		} else {
			sentinel = apperrors.ErrInvalidInput
		}
	}
	return &apperrors.AppError{Code: e.Code, Message: msg, Status: status, Err: sentinel}
}

func fromStatus(status int, body, service string) error {
	msg := fmt.Sprintf("%s returned %d", service, status)
	if body != "" {
		msg += ": " + body
	}

	switch {
	case status == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: msg, Status: status, Err: apperrors.ErrNotFound}
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusUnprocessableEntity:
		return apperrors.PaymentFailed(msg)
	case status >= 500:
		return apperrors.ServiceUnavailable(msg)
	default:
		return apperrors.InvalidInput(msg)
	}
}
