// Package domain contains the core business entities and interfaces for the
// payment service.
package domain

import "strings"

// PaymentStatus is the processor-side lifecycle state of a payment.
type PaymentStatus string

const (
	StatusNew             PaymentStatus = "NEW"
	StatusAuthorized      PaymentStatus = "AUTHORIZED"
	StatusConfirmed       PaymentStatus = "CONFIRMED"
	StatusRejected        PaymentStatus = "REJECTED"
	StatusAuthFail        PaymentStatus = "AUTH_FAIL"
	StatusCanceled        PaymentStatus = "CANCELED"
	StatusReversed        PaymentStatus = "REVERSED"
	StatusDeadlineExpired PaymentStatus = "DEADLINE_EXPIRED"
	StatusRefunded        PaymentStatus = "REFUNDED"
)

// ParsePaymentStatus normalizes a raw processor status string.
func ParsePaymentStatus(raw string) PaymentStatus {
	return PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsFailure reports whether the status is a terminal-failure state that
// clears the payment session so a later checkout attempt can re-initiate.
func (s PaymentStatus) IsFailure() bool {
	switch s {
	case StatusRejected, StatusAuthFail, StatusDeadlineExpired:
		return true
	}
	return false
}

// IsCancellation reports whether the status cancels the order without
// clearing the session.
func (s PaymentStatus) IsCancellation() bool {
	return s == StatusCanceled || s == StatusReversed
}

// OrderStatus is the ledger-side status of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)
