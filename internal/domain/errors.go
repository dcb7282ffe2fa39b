// Package domain contains the core business entities and interfaces for the
// payment service.
package domain

import "errors"

// Domain errors represent business rule violations and processor failures.
// None of them are retried internally - each is returned to the caller as a
// typed result.
var (
	// ErrInvalidAmount is returned when a payment or refund amount is
	// zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrMissingPaymentID is returned when an operation requires a
	// processor payment id and none is available.
	ErrMissingPaymentID = errors.New("payment id is required")

	// ErrConnection is returned on a transport-level failure talking to
	// the processor.
	ErrConnection = errors.New("processor connection error")

	// ErrProtocol is returned on a non-2xx response or an unparseable
	// response body.
	ErrProtocol = errors.New("processor protocol error")

	// ErrRemoteDeclined is returned when the processor answered with a
	// structured Success=false payload.
	ErrRemoteDeclined = errors.New("processor declined the request")

	// ErrSignatureInvalid is returned when a webhook token does not
	// verify. Order state must never be mutated on this error.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrAmountMismatch is returned when a webhook amount differs from
	// the order total. Order state must never be mutated on this error.
	ErrAmountMismatch = errors.New("webhook amount mismatch")

	// ErrPaymentIDConflict is returned when a webhook carries a payment
	// id different from the one already stored on the order.
	ErrPaymentIDConflict = errors.New("payment id conflict")

	// ErrOrderNotFound is returned when the ledger has no such order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotConfigured is returned when terminal credentials are missing.
	ErrNotConfigured = errors.New("terminal key or secret not configured")

	// ErrOrderNotPaid is returned when a refund is requested for an
	// unpaid order.
	ErrOrderNotPaid = errors.New("order is not paid")

	// ErrSubscriptionNotFound is returned when a renewal order has no
	// linked subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrRebillMissing is returned when a renewal's subscription has no
	// stored card token.
	ErrRebillMissing = errors.New("stored card token not found")
)

// PaymentError wraps a domain error with additional context.
type PaymentError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PaymentError.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given error and message.
func NewPaymentError(err error, message, code string) *PaymentError {
	return &PaymentError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}
