package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrPaymentFailed  = errors.New("payment failed")

	// Saga and ledger errors.
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrVersionConflict        = errors.New("version conflict")
	ErrConcurrencyExhausted   = errors.New("concurrency retries exhausted")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error for an unreachable dependency.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// PaymentFailed creates a 422 error for a payment charge failure.
func PaymentFailed(message string) *AppError {
	return &AppError{
		Code:    "PAYMENT_FAILED",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrPaymentFailed,
	}
}

// InsufficientStock creates a 409 error naming the product and the shortfall.
func InsufficientStock(productID string, requested, available int) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productID, requested, available),
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}
}

// InvalidStateTransition creates a 409 error naming both states.
func InvalidStateTransition(from, to string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE_TRANSITION",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Status:  http.StatusConflict,
		Err:     ErrInvalidStateTransition,
	}
}

// ConcurrencyExhausted reports that an optimistic operation lost every attempt.
// The last conflict is kept in the chain for logging.
func ConcurrencyExhausted(operation string, attempts int, last error) error {
	return fmt.Errorf("%s after %d attempts: %w", operation, attempts,
		errors.Join(ErrConcurrencyExhausted, last))
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict),
		errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrServiceUnavail), errors.Is(err, ErrConcurrencyExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Class is the saga error taxonomy used by event consumers to decide between
// acknowledging and redelivering a message.
type Class int

const (
	// ClassTransient covers infrastructure faults and anything unrecognised.
	ClassTransient Class = iota
	// ClassValidation covers bad input and unknown references. Never retried.
	ClassValidation
	// ClassContention covers optimistic-lock conflicts that escaped the
	// in-process retry.
	ClassContention
	// ClassBusiness covers terminal business outcomes that are compensated
	// rather than retried.
	ClassBusiness
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassContention:
		return "contention"
	case ClassBusiness:
		return "business"
	default:
		return "transient"
	}
}

// Retryable reports whether the class warrants redelivery.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassContention
}

// Classify maps err onto the taxonomy. Exhausted optimistic retries are
// transient, not contention. For joined errors any retryable part makes the
// whole retryable, so one failed line of a batch is never acknowledged
// together with the lines that failed terminally.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrConcurrencyExhausted):
		return ClassTransient
	}
	if parts := joinedParts(err); parts != nil {
		return classifyJoined(parts)
	}
	return classifyOne(err)
}

func classifyOne(err error) Class {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, ErrVersionConflict):
		return ClassContention
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrPaymentFailed):
		return ClassBusiness
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound):
		return ClassValidation
	default:
		return ClassTransient
	}
}

// joinedParts follows the single-error chain of err down to the first
// multi-error and returns its parts, or nil if there is none.
func joinedParts(err error) []error {
	for err != nil {
		if m, ok := err.(interface{ Unwrap() []error }); ok {
			return m.Unwrap()
		}
		err = errors.Unwrap(err)
	}
	return nil
}

// classifyJoined prefers transient over contention, then business over
// validation.
func classifyJoined(parts []error) Class {
	seen := make(map[Class]bool, len(parts))
	for _, p := range parts {
		if p != nil {
			seen[Classify(p)] = true
		}
	}
	for _, c := range []Class{ClassTransient, ClassContention, ClassBusiness, ClassValidation} {
		if seen[c] {
			return c
		}
	}
	return ClassTransient
}
