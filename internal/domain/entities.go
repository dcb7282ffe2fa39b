// Package domain contains the core business entities and interfaces for the
// payment service. This is the innermost layer - it has no dependencies on
// external frameworks or infrastructure.
package domain

import "github.com/shopspring/decimal"

// OrderSnapshot is a read view of an order in the external ledger.
// Monetary fields are integer minor units (kopecks/cents).
type OrderSnapshot struct {
	ID                      int64
	TotalMinorUnits         int64
	BillingEmail            string
	BillingPhone            string
	IsPaid                  bool
	Status                  OrderStatus
	TransactionID           string
	LineItems               []LineItem
	ShippingMethod          string
	ShippingTotalMinorUnits int64
	ShippingTaxMinorUnits   int64
	// ShippingTaxRatePercent is the rate flagged as shipping-applicable
	// among the order's tax lines; 0 means untaxed shipping.
	ShippingTaxRatePercent int
	// IsSubscription marks orders that originate from a subscription
	// purchase or renewal.
	IsSubscription bool
	CustomerID     int64
}

// LineItem is a product line on an order.
type LineItem struct {
	Name                string
	UnitPriceMinorUnits int64
	Quantity            decimal.Decimal
	// TaxRatePercent is the applicable VAT rate; 0 means untaxed.
	TaxRatePercent int
}

// Product carries the traits of a purchased product needed for
// order auto-completion.
type Product struct {
	Virtual      bool
	Downloadable bool
}

// Refund is a read view of a refund record attached to an order.
type Refund struct {
	ID                      int64
	AmountMinorUnits        int64
	Lines                   []RefundLine
	ShippingTotalMinorUnits int64
	ShippingTaxMinorUnits   int64
}

// RefundLine is a refunded product line. Quantities and totals may be
// negative in the ledger; consumers take absolute values.
type RefundLine struct {
	Name            string
	Quantity        decimal.Decimal
	TotalMinorUnits int64
	TaxMinorUnits   int64
	TaxRatePercent  int
}

// WebhookEvent is a parsed processor notification. It is request-scoped
// and never persisted; its only durable effect is the state transition it
// causes. Fields retains every scalar from the raw JSON body so the token
// can be recomputed over exactly what was signed.
type WebhookEvent struct {
	OrderID          int64
	PaymentID        string
	Status           PaymentStatus
	AmountMinorUnits int64
	RebillID         string
	Fields           map[string]any
}

// ReceiptItem is a single fiscal receipt line. The builder guarantees that
// the item amounts of a finished receipt sum exactly to the authorized
// total.
type ReceiptItem struct {
	Name            string  `json:"Name"`
	Price           int64   `json:"Price"`
	Quantity        float64 `json:"Quantity"`
	Amount          int64   `json:"Amount"`
	PaymentMethod   string  `json:"PaymentMethod"`
	PaymentObject   string  `json:"PaymentObject"`
	Tax             string  `json:"Tax"`
	MeasurementUnit string  `json:"MeasurementUnit,omitempty"`
}

// Receipt is the fiscal receipt envelope embedded in Init and Cancel
// requests.
type Receipt struct {
	EmailCompany string        `json:"EmailCompany,omitempty"`
	Email        string        `json:"Email,omitempty"`
	Phone        string        `json:"Phone,omitempty"`
	Taxation     string        `json:"Taxation"`
	Items        []ReceiptItem `json:"Items"`
	FfdVersion   string        `json:"FfdVersion,omitempty"`
}
