// Package reconcile advances an order's payment status from either input
// channel - a synchronous poll result or an asynchronous webhook event -
// and applies an idempotent, at-most-once transition to the order record.
//
// Both entry points may race for the same order. No in-process lock
// serializes them; safety comes from the ledger's compare-and-set MarkPaid
// plus the check on the order's durable paid/confirmed marker, so the
// mark-paid side effect runs at most once however the race resolves.
package reconcile

import (
	"context"
	"fmt"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/token"
)

// Reconciler applies payment status transitions to the order ledger.
type Reconciler struct {
	ledger       domain.OrderLedger
	logger       domain.Logger
	secret       string
	autoComplete bool
	debug        bool
}

// New creates a reconciler. The secret is the terminal password used to
// verify webhook tokens; autoComplete enables moving fully-virtual paid
// orders straight to completed.
func New(ledger domain.OrderLedger, logger domain.Logger, secret string, autoComplete, debug bool) *Reconciler {
	return &Reconciler{
		ledger:       ledger,
		logger:       logger,
		secret:       secret,
		autoComplete: autoComplete,
		debug:        debug,
	}
}

// FromPoll applies a polled status result to the order. Called
// synchronously after GetState during a checkout attempt.
func (r *Reconciler) FromPoll(ctx context.Context, order *domain.OrderSnapshot, status domain.PaymentStatus, paymentID string) error {
	if r.debug {
		r.logger.Debug(fmt.Sprintf("poll status for order %d: %s", order.ID, status))
	}
	return r.apply(ctx, order, status, paymentID, "")
}

// FromWebhook verifies a processor notification and applies its status to
// the order. The verification chain is: signature, then amount, then
// payment-id conflict - a failure at any step rejects the event without
// mutating order state.
func (r *Reconciler) FromWebhook(ctx context.Context, event *domain.WebhookEvent) error {
	if r.secret == "" {
		return domain.NewPaymentError(domain.ErrNotConfigured,
			"webhook received without a configured secret", "NOT_CONFIGURED")
	}

	order, err := r.ledger.GetOrder(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if !token.Verify(event.Fields, r.secret) {
		r.logger.Warn(fmt.Sprintf("webhook rejected: invalid token for order %d", event.OrderID))
		return domain.NewPaymentError(domain.ErrSignatureInvalid,
			"webhook token verification failed", "SIGNATURE_INVALID")
	}

	if event.AmountMinorUnits != order.TotalMinorUnits {
		r.logger.Warn(fmt.Sprintf(
			"webhook rejected: amount mismatch for order %d. Expected %d, got %d",
			event.OrderID, order.TotalMinorUnits, event.AmountMinorUnits))
		return domain.NewPaymentError(domain.ErrAmountMismatch,
			"webhook amount does not match order total", "AMOUNT_MISMATCH")
	}

	stored := order.TransactionID
	if stored == "" {
		// Before payment completes the session meta is the only place
		// the Init-issued payment id lives.
		if stored, err = r.ledger.GetMeta(ctx, order.ID, domain.MetaPaymentID); err != nil {
			return err
		}
	}
	if stored != "" && stored != event.PaymentID {
		r.logger.Warn(fmt.Sprintf(
			"webhook rejected: payment id mismatch for order %d. Existing %s, got %s",
			event.OrderID, stored, event.PaymentID))
		return domain.NewPaymentError(domain.ErrPaymentIDConflict,
			"webhook payment id conflicts with stored transaction", "PAYMENT_ID_CONFLICT")
	}

	if r.debug {
		r.logger.Debug(fmt.Sprintf("webhook status for order %d: %s", event.OrderID, event.Status))
	}

	return r.apply(ctx, order, event.Status, event.PaymentID, event.RebillID)
}

// apply is the shared transition table.
func (r *Reconciler) apply(ctx context.Context, order *domain.OrderSnapshot, status domain.PaymentStatus, paymentID, rebillID string) error {
	// Idempotency guard: a paid order (or one carrying the durable
	// confirmed marker) treats a repeated success status as a no-op.
	if status == domain.StatusConfirmed || status == domain.StatusAuthorized {
		confirmed, err := r.ledger.GetMeta(ctx, order.ID, domain.MetaConfirmed)
		if err != nil {
			return err
		}
		if order.IsPaid || confirmed != "" {
			if r.debug {
				r.logger.Debug(fmt.Sprintf("idempotent hit for order %d: %s", order.ID, status))
			}
			return nil
		}
	}

	switch {

	case status == domain.StatusConfirmed:
		return r.confirm(ctx, order, paymentID, rebillID)

	case status == domain.StatusAuthorized, status == domain.StatusNew:
		// Hold states: no ledger mutation. An AUTHORIZED payment is
		// completed only by a later CONFIRMED event or poll result.
		return nil

	case status.IsFailure():
		note := fmt.Sprintf("T-Bank payment failed (%s)", status)
		if err := r.ledger.UpdateStatus(ctx, order.ID, domain.OrderFailed, note); err != nil {
			return err
		}
		// Clear the session so a later checkout attempt can re-initiate.
		if err := r.ledger.DeleteMeta(ctx, order.ID, domain.MetaPaymentID); err != nil {
			return err
		}
		return r.ledger.DeleteMeta(ctx, order.ID, domain.MetaPaymentURL)

	case status.IsCancellation():
		note := fmt.Sprintf("T-Bank payment canceled (%s)", status)
		return r.ledger.UpdateStatus(ctx, order.ID, domain.OrderCancelled, note)

	case status == domain.StatusRefunded:
		if order.Status == domain.OrderRefunded {
			return nil
		}
		return r.ledger.UpdateStatus(ctx, order.ID, domain.OrderRefunded, "Refund confirmed by T-Bank.")

	default:
		r.logger.Warn(fmt.Sprintf("unknown T-Bank status for order %d: %s", order.ID, status))
		return nil
	}
}

// confirm runs the CONFIRMED side effects at most once. MarkPaid is a
// compare-and-set in the ledger: when a racing entry point got there
// first it reports false and everything else is skipped.
func (r *Reconciler) confirm(ctx context.Context, order *domain.OrderSnapshot, paymentID, rebillID string) error {
	marked, err := r.ledger.MarkPaid(ctx, order.ID, paymentID)
	if err != nil {
		return err
	}
	if !marked {
		return nil
	}

	if err := r.ledger.AddNote(ctx, order.ID, "Payment confirmed by T-Bank. PaymentId: "+paymentID); err != nil {
		return err
	}

	if err := r.maybeAutoComplete(ctx, order.ID); err != nil {
		return err
	}

	if rebillID != "" {
		if err := r.storeRebillID(ctx, order.ID, rebillID); err != nil {
			return err
		}
	}

	return nil
}

// maybeAutoComplete moves a freshly paid order to completed when every
// line item's product is both virtual and downloadable. Any physical or
// non-downloadable item disqualifies the order.
func (r *Reconciler) maybeAutoComplete(ctx context.Context, orderID int64) error {
	if !r.autoComplete {
		return nil
	}

	products, err := r.ledger.LineProducts(ctx, orderID)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return nil
	}

	for _, product := range products {
		if !(product.Virtual && product.Downloadable) {
			return nil
		}
	}

	return r.ledger.UpdateStatus(ctx, orderID, domain.OrderCompleted, "")
}

// storeRebillID persists a stored-card token against every subscription
// linked to the order, for future renewals.
func (r *Reconciler) storeRebillID(ctx context.Context, orderID int64, rebillID string) error {
	subscriptions, err := r.ledger.Subscriptions(ctx, orderID)
	if err != nil {
		return err
	}

	for _, subID := range subscriptions {
		if err := r.ledger.SetSubscriptionMeta(ctx, subID, domain.MetaRebillID, rebillID); err != nil {
			return err
		}
	}

	return nil
}
