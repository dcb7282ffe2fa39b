// Package payment implements the core business logic for payment
// processing: the checkout flow, refunds and subscription renewals. It
// orchestrates the processor gateway, the receipt builder and the status
// reconciler over the order ledger.
package payment

import (
	"context"
	"fmt"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/config"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/receipt"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/reconcile"
)

// Service implements the payment business logic.
type Service struct {
	ledger     domain.OrderLedger
	gateway    domain.ProcessorGateway
	reconciler *reconcile.Reconciler
	logger     domain.Logger
	cfg        *config.Config
}

// NewService creates a payment service with the required dependencies.
func NewService(
	ledger domain.OrderLedger,
	gateway domain.ProcessorGateway,
	reconciler *reconcile.Reconciler,
	logger domain.Logger,
	cfg *config.Config,
) *Service {
	return &Service{
		ledger:     ledger,
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
	}
}

// CheckoutResult tells the storefront where to send the customer next.
type CheckoutResult struct {
	RedirectURL string
}

// Checkout handles a checkout attempt for an order:
//  1. Already-paid orders short-circuit to the success URL.
//  2. An existing payment session is polled and reconciled first - the
//     stored payment id is never silently superseded.
//  3. Otherwise a fresh payment is initiated and the session stored.
func (s *Service) Checkout(ctx context.Context, orderID int64) (*CheckoutResult, error) {
	if s.cfg.Debug {
		s.logger.Debug(fmt.Sprintf("start payment. Order: %d", orderID))
	}

	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.IsPaid {
		return &CheckoutResult{RedirectURL: s.cfg.Terminal.SuccessURL}, nil
	}

	if s.cfg.Terminal.TerminalKey == "" || s.cfg.Terminal.Secret == "" {
		return nil, domain.NewPaymentError(domain.ErrNotConfigured,
			"terminal credentials are not set", "NOT_CONFIGURED")
	}

	paymentID, err := s.ledger.GetMeta(ctx, orderID, domain.MetaPaymentID)
	if err != nil {
		return nil, err
	}
	paymentURL, err := s.ledger.GetMeta(ctx, orderID, domain.MetaPaymentURL)
	if err != nil {
		return nil, err
	}

	if paymentID != "" {
		result, done, err := s.resumeSession(ctx, order, paymentID, paymentURL)
		if done {
			return result, err
		}
	}

	return s.initiate(ctx, order)
}

// resumeSession polls the stored payment and decides whether the checkout
// attempt is finished (done=true) or should fall through to a fresh Init.
func (s *Service) resumeSession(ctx context.Context, order *domain.OrderSnapshot, paymentID, paymentURL string) (*CheckoutResult, bool, error) {
	state, err := s.gateway.GetState(ctx, paymentID)
	if err != nil {
		// A failed poll is not fatal for checkout: the original
		// session may be gone on the processor side. Log and
		// re-initiate.
		s.logger.Warn(fmt.Sprintf("GetState failed for order %d: %v", order.ID, err))
		return nil, false, nil
	}

	switch {

	case state.Status == domain.StatusConfirmed:
		if err := s.reconciler.FromPoll(ctx, order, state.Status, paymentID); err != nil {
			return nil, true, err
		}
		return &CheckoutResult{RedirectURL: s.cfg.Terminal.SuccessURL}, true, nil

	case state.Status == domain.StatusAuthorized, state.Status == domain.StatusNew:
		if paymentURL != "" {
			return &CheckoutResult{RedirectURL: paymentURL}, true, nil
		}
		return nil, false, nil

	case state.Status.IsFailure(), state.Status.IsCancellation():
		// The previous attempt is dead. Reconcile it (marking the order
		// and clearing the session) and start a fresh payment.
		if err := s.reconciler.FromPoll(ctx, order, state.Status, paymentID); err != nil {
			return nil, true, err
		}
		if s.cfg.Debug {
			s.logger.Debug(fmt.Sprintf("payment failed for order %d, re-initiating. Status: %s", order.ID, state.Status))
		}
		return nil, false, nil
	}

	return nil, false, nil
}

// initiate registers a fresh payment and stores the session identifiers.
func (s *Service) initiate(ctx context.Context, order *domain.OrderSnapshot) (*CheckoutResult, error) {
	var rcpt *domain.Receipt
	if s.cfg.Receipt.Enabled {
		rcpt = receipt.Build(order, s.cfg.Receipt)
	}

	result, err := s.gateway.Init(ctx, order, rcpt)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("payment init failed for order %d: %v", order.ID, err))
		return nil, err
	}

	if result.PaymentID == "" || result.PaymentURL == "" {
		return nil, domain.NewPaymentError(domain.ErrProtocol,
			"init response missing payment id or URL", "INIT_INCOMPLETE")
	}

	if err := s.ledger.SetMeta(ctx, order.ID, domain.MetaPaymentID, result.PaymentID); err != nil {
		return nil, err
	}
	if err := s.ledger.SetMeta(ctx, order.ID, domain.MetaPaymentURL, result.PaymentURL); err != nil {
		return nil, err
	}

	if s.cfg.Debug {
		s.logger.Debug(fmt.Sprintf("payment %s initiated for order %d", result.PaymentID, order.ID))
	}

	return &CheckoutResult{RedirectURL: result.PaymentURL}, nil
}

// Refund sends a full or partial refund for a paid order and records a
// note on success. A refund receipt is attached when receipts are
// enabled and a matching refund record exists in the ledger.
func (s *Service) Refund(ctx context.Context, orderID, amountMinorUnits int64, reason string) error {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if !order.IsPaid {
		return domain.NewPaymentError(domain.ErrOrderNotPaid,
			"cannot refund an unpaid order", "NOT_PAID")
	}
	if amountMinorUnits <= 0 {
		return domain.NewPaymentError(domain.ErrInvalidAmount,
			"refund amount missing", "INVALID_AMOUNT")
	}

	refunds, err := s.ledger.Refunds(ctx, orderID)
	if err != nil {
		return err
	}

	// The refund record for this request may already be in the ledger;
	// leave it out of the already-refunded sum.
	var alreadyRefunded int64
	matched := false
	for _, record := range refunds {
		if !matched && record.AmountMinorUnits == amountMinorUnits {
			matched = true
			continue
		}
		alreadyRefunded += record.AmountMinorUnits
	}
	if amountMinorUnits > order.TotalMinorUnits-alreadyRefunded {
		return domain.NewPaymentError(domain.ErrInvalidAmount,
			"refund amount exceeds the remaining order total", "INVALID_AMOUNT")
	}

	paymentID, err := s.ledger.GetMeta(ctx, orderID, domain.MetaPaymentID)
	if err != nil {
		return err
	}
	if paymentID == "" {
		return domain.NewPaymentError(domain.ErrMissingPaymentID,
			"payment id not found on order", "NO_PAYMENT_ID")
	}

	var rcpt *domain.Receipt
	if s.cfg.Receipt.Enabled {
		if record := matchRefund(refunds, amountMinorUnits); record != nil {
			rcpt = receipt.BuildRefund(order, record, s.cfg.Receipt, amountMinorUnits)
		}
	}

	if _, err := s.gateway.Refund(ctx, paymentID, amountMinorUnits, rcpt); err != nil {
		s.logger.Warn(fmt.Sprintf("refund failed for order %d: %v", orderID, err))
		return err
	}

	note := fmt.Sprintf("Refund confirmed by T-Bank. Amount: %d.", amountMinorUnits)
	if reason != "" {
		note += " Reason: " + reason
	}
	return s.ledger.AddNote(ctx, orderID, note)
}

// matchRefund picks the ledger refund record matching the requested
// amount, falling back to the first record.
func matchRefund(refunds []domain.Refund, amountMinorUnits int64) *domain.Refund {
	if len(refunds) == 0 {
		return nil
	}
	for i := range refunds {
		if refunds[i].AmountMinorUnits == amountMinorUnits {
			return &refunds[i]
		}
	}
	return &refunds[0]
}

// RenewSubscription charges a stored card for a subscription renewal
// order: a fresh Init followed by a Charge against the stored rebill id.
// There is no local idempotency check beyond the paid flag - the external
// scheduler must invoke this once per renewal.
func (s *Service) RenewSubscription(ctx context.Context, renewalOrderID int64) error {
	order, err := s.ledger.GetOrder(ctx, renewalOrderID)
	if err != nil {
		return err
	}

	if order.IsPaid {
		return nil
	}

	subscriptions, err := s.ledger.Subscriptions(ctx, renewalOrderID)
	if err != nil {
		return err
	}
	if len(subscriptions) == 0 {
		if err := s.ledger.UpdateStatus(ctx, renewalOrderID, domain.OrderFailed, "Subscription not found."); err != nil {
			return err
		}
		return domain.NewPaymentError(domain.ErrSubscriptionNotFound,
			"renewal order has no subscription", "NO_SUBSCRIPTION")
	}

	rebillID, err := s.ledger.GetSubscriptionMeta(ctx, subscriptions[0], domain.MetaRebillID)
	if err != nil {
		return err
	}
	if rebillID == "" {
		if err := s.ledger.UpdateStatus(ctx, renewalOrderID, domain.OrderFailed, "RebillId not found."); err != nil {
			return err
		}
		return domain.NewPaymentError(domain.ErrRebillMissing,
			"subscription has no stored card token", "NO_REBILL_ID")
	}

	var rcpt *domain.Receipt
	if s.cfg.Receipt.Enabled {
		rcpt = receipt.Build(order, s.cfg.Receipt)
	}

	initResult, err := s.gateway.Init(ctx, order, rcpt)
	if err != nil || initResult.PaymentID == "" {
		if statusErr := s.ledger.UpdateStatus(ctx, renewalOrderID, domain.OrderFailed,
			"T-Bank recurring payment init failed."); statusErr != nil {
			return statusErr
		}
		if err != nil {
			return err
		}
		return domain.NewPaymentError(domain.ErrProtocol,
			"init response missing payment id", "INIT_INCOMPLETE")
	}

	if err := s.ledger.SetMeta(ctx, renewalOrderID, domain.MetaPaymentID, initResult.PaymentID); err != nil {
		return err
	}

	chargeResult, err := s.gateway.Charge(ctx, rebillID, order.TotalMinorUnits, initResult.PaymentID)
	if err != nil {
		if statusErr := s.ledger.UpdateStatus(ctx, renewalOrderID, domain.OrderFailed,
			"T-Bank recurring payment failed."); statusErr != nil {
			return statusErr
		}
		return err
	}

	paymentID := chargeResult.PaymentID
	if paymentID == "" {
		paymentID = initResult.PaymentID
	}

	// Reuse the CONFIRMED transition: compare-and-set mark-paid, note,
	// auto-completion.
	return s.reconciler.FromPoll(ctx, order, domain.StatusConfirmed, paymentID)
}
