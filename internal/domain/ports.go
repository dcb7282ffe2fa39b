// Package domain contains the core business entities and interfaces for the
// payment service.
package domain

import "context"

// Meta keys stored against orders and subscriptions.
const (
	MetaPaymentID  = "_tbank_payment_id"
	MetaPaymentURL = "_tbank_payment_url"
	MetaConfirmed  = "_tbank_confirmed"
	MetaRebillID   = "_tbank_rebill_id"
)

// OrderLedger is the contract with the external order store. Each write
// operation is assumed atomic from the core's perspective; MarkPaid is a
// compare-and-set so racing entry points collapse to a single mark-paid
// effect.
type OrderLedger interface {
	// GetOrder retrieves a read snapshot of an order.
	// Returns ErrOrderNotFound if the order doesn't exist.
	GetOrder(ctx context.Context, orderID int64) (*OrderSnapshot, error)

	// MarkPaid transitions the order to paid and records the processor
	// transaction id. Returns false when the order was already paid.
	MarkPaid(ctx context.Context, orderID int64, transactionID string) (bool, error)

	// UpdateStatus sets the ledger status, optionally recording a note.
	UpdateStatus(ctx context.Context, orderID int64, status OrderStatus, note string) error

	// AddNote appends a free-form note to the order.
	AddNote(ctx context.Context, orderID int64, note string) error

	// SetMeta, GetMeta and DeleteMeta manage string meta fields on the
	// order. GetMeta returns "" for a missing key.
	SetMeta(ctx context.Context, orderID int64, key, value string) error
	GetMeta(ctx context.Context, orderID int64, key string) (string, error)
	DeleteMeta(ctx context.Context, orderID int64, key string) error

	// LineProducts resolves the products behind the order's line items,
	// used for the auto-completion check.
	LineProducts(ctx context.Context, orderID int64) ([]Product, error)

	// Refunds lists the refund records attached to the order.
	Refunds(ctx context.Context, orderID int64) ([]Refund, error)

	// Subscriptions lists the subscription ids linked to the order,
	// for any order type.
	Subscriptions(ctx context.Context, orderID int64) ([]int64, error)

	// SetSubscriptionMeta and GetSubscriptionMeta manage string meta
	// fields on a subscription record.
	SetSubscriptionMeta(ctx context.Context, subscriptionID int64, key, value string) error
	GetSubscriptionMeta(ctx context.Context, subscriptionID int64, key string) (string, error)
}

// GatewayResult is the provider-agnostic outcome of a successful
// processor call. Fields not returned by a given call are zero.
type GatewayResult struct {
	PaymentID  string
	PaymentURL string
	Status     PaymentStatus
	RebillID   string
}

// ProcessorGateway is the contract with the remote payment processor.
// Every method returns a typed domain error on failure; nothing is
// retried internally.
type ProcessorGateway interface {
	// Init registers a payment for the order, optionally attaching a
	// fiscal receipt. Fails with ErrInvalidAmount on a non-positive
	// order total.
	Init(ctx context.Context, order *OrderSnapshot, receipt *Receipt) (*GatewayResult, error)

	// GetState queries the payment's current status. Fails with
	// ErrMissingPaymentID on an empty payment id.
	GetState(ctx context.Context, paymentID string) (*GatewayResult, error)

	// Refund cancels a confirmed payment, fully or partially. Fails
	// with ErrInvalidAmount on a non-positive amount.
	Refund(ctx context.Context, paymentID string, amountMinorUnits int64, receipt *Receipt) (*GatewayResult, error)

	// Charge debits a stored card for a recurring renewal. No local
	// idempotency check - the caller must not double-charge a renewal.
	Charge(ctx context.Context, rebillID string, amountMinorUnits int64, paymentID string) (*GatewayResult, error)
}

// Logger is a fire-and-forget logging sink. Implementations must never
// panic into the calling path.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}
