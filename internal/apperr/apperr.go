// Package apperr defines the error kinds shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthFailed        Kind = "auth_failed"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindValidation        Kind = "validation"
	KindInsufficientStock Kind = "insufficient_stock"
	KindPaymentFailed     Kind = "payment_failed"
	KindUpstream          Kind = "upstream"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal"
)

// Error is a classified error. Message is shown to clients; Err is logged only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches a context field returned in the error envelope.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithCode sets the machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal hides err behind a generic message.
func Internal(err error, op string) *Error {
	return &Error{Kind: KindInternal, Message: "An internal error occurred.", Err: fmt.Errorf("%s: %w", op, err)}
}

func AuthFailed(msg string) *Error   { return New(KindAuthFailed, "%s", msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, "%s", msg) }
func Validation(msg string) *Error   { return New(KindValidation, "%s", msg) }
func Conflict(msg string) *Error     { return New(KindConflict, "%s", msg) }
func RateLimited(msg string) *Error  { return New(KindRateLimited, "%s", msg).WithCode("rate_limited") }
func NotFound(entity string) *Error  { return New(KindNotFound, "%s not found.", entity).WithCode("not_found") }
func Upstream(err error, service string) *Error {
	return Wrap(err, KindUpstream, "%s is unavailable.", service)
}

// InvalidTransition reports an event that the current state does not accept.
func InvalidTransition(entity, from, event string) *Error {
	return New(KindConflict, "Cannot %s a %s that is %s.", event, entity, from).
		WithCode("invalid_transition").
		With("status", from)
}

func InsufficientStock(productID string, available int) *Error {
	return New(KindInsufficientStock, "Not enough stock for this product.").
		WithCode("insufficient_stock").
		With("product_id", productID).
		With("available", available)
}

func PaymentFailed(reason string) *Error {
	return New(KindPaymentFailed, "The payment could not be authorized.").
		WithCode("payment_failed").
		With("reason", reason)
}

func UsageExhausted() *Error {
	return New(KindConflict, "This promotion has reached its usage limit.").WithCode("usage_exhausted")
}

func PerCustomerLimit() *Error {
	return New(KindValidation, "This promotion does not apply to your order.").
		WithCode("not_eligible").
		With("reason", "per_customer_limit")
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInsufficientStock, KindPaymentFailed:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Envelope builds the JSON error body for err.
func Envelope(err error) (int, map[string]any) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, map[string]any{"detail": "An internal error occurred."}
	}
	status := HTTPStatus(e.Kind)
	body := map[string]any{"detail": e.Message}
	if status == http.StatusInternalServerError {
		body["detail"] = "An internal error occurred."
		return status, body
	}
	if e.Code != "" {
		body["code"] = e.Code
	}
	for k, v := range e.Fields {
		if k == "detail" || k == "code" {
			continue
		}
		body[k] = v
	}
	return status, body
}
