package reconcile

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/platform/ledger"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/platform/logging"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/token"
)

const secret = "secretpw"

func newReconciler(store *ledger.Memory, autoComplete bool) *Reconciler {
	return New(store, logging.Nop(), secret, autoComplete, false)
}

func seedOrder(store *ledger.Memory, id int64, total int64) {
	store.PutOrder(&domain.OrderSnapshot{
		ID:              id,
		TotalMinorUnits: total,
		Status:          domain.OrderPending,
	})
}

func signedEvent(orderID int64, paymentID string, status domain.PaymentStatus, amount int64, rebillID string) *domain.WebhookEvent {
	fields := map[string]any{
		"TerminalKey": "T1",
		"OrderId":     strconv.FormatInt(orderID, 10),
		"PaymentId":   paymentID,
		"Status":      string(status),
		"Amount":      amount,
	}
	if rebillID != "" {
		fields["RebillId"] = rebillID
	}
	fields["Token"] = token.Sign(fields, secret)

	return &domain.WebhookEvent{
		OrderID:          orderID,
		PaymentID:        paymentID,
		Status:           status,
		AmountMinorUnits: amount,
		RebillID:         rebillID,
		Fields:           fields,
	}
}

func TestFromWebhook_ConfirmedMarksPaidOnce(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", domain.StatusConfirmed, 19900, "")

	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Duplicate delivery must be an idempotent no-op.
	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if !order.IsPaid {
		t.Error("order not marked paid")
	}
	if order.TransactionID != "13660" {
		t.Errorf("transaction id = %s, want 13660", order.TransactionID)
	}
	if notes := store.Notes(42); len(notes) != 1 {
		t.Errorf("got %d notes, want exactly 1", len(notes))
	}
}

func TestFromWebhook_InvalidToken(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", domain.StatusConfirmed, 19900, "")
	event.Fields["Token"] = "deadbeef"

	err := r.FromWebhook(context.Background(), event)
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if order.IsPaid || order.Status != domain.OrderPending {
		t.Error("order state mutated on signature failure")
	}
}

func TestFromWebhook_AmountMismatch(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	// Valid token over a wrong amount - still rejected.
	event := signedEvent(42, "13660", domain.StatusConfirmed, 100, "")

	err := r.FromWebhook(context.Background(), event)
	if !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("err = %v, want ErrAmountMismatch", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if order.IsPaid {
		t.Error("order state mutated on amount mismatch")
	}
}

func TestFromWebhook_PaymentIDConflict(t *testing.T) {
	store := ledger.NewMemory()
	store.PutOrder(&domain.OrderSnapshot{
		ID:              42,
		TotalMinorUnits: 19900,
		TransactionID:   "A1",
		Status:          domain.OrderPending,
	})
	r := newReconciler(store, false)

	event := signedEvent(42, "B2", domain.StatusConfirmed, 19900, "")

	err := r.FromWebhook(context.Background(), event)
	if !errors.Is(err, domain.ErrPaymentIDConflict) {
		t.Fatalf("err = %v, want ErrPaymentIDConflict", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if order.IsPaid {
		t.Error("order state mutated on payment id conflict")
	}
}

func TestFromWebhook_UnknownOrder(t *testing.T) {
	r := newReconciler(ledger.NewMemory(), false)

	event := signedEvent(99, "13660", domain.StatusConfirmed, 19900, "")

	if err := r.FromWebhook(context.Background(), event); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestFromWebhook_MissingSecret(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := New(store, logging.Nop(), "", false, false)

	event := signedEvent(42, "13660", domain.StatusConfirmed, 19900, "")

	if err := r.FromWebhook(context.Background(), event); !errors.Is(err, domain.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestFromWebhook_FailureClearsSession(t *testing.T) {
	for _, status := range []domain.PaymentStatus{
		domain.StatusRejected, domain.StatusAuthFail, domain.StatusDeadlineExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := ledger.NewMemory()
			seedOrder(store, 42, 19900)
			store.SetMeta(context.Background(), 42, domain.MetaPaymentID, "13660")
			store.SetMeta(context.Background(), 42, domain.MetaPaymentURL, "https://pay.example/p/13660")
			r := newReconciler(store, false)

			event := signedEvent(42, "13660", status, 19900, "")
			if err := r.FromWebhook(context.Background(), event); err != nil {
				t.Fatalf("FromWebhook: %v", err)
			}

			order, _ := store.GetOrder(context.Background(), 42)
			if order.Status != domain.OrderFailed {
				t.Errorf("status = %s, want failed", order.Status)
			}
			if id, _ := store.GetMeta(context.Background(), 42, domain.MetaPaymentID); id != "" {
				t.Error("payment id meta not cleared")
			}
			if url, _ := store.GetMeta(context.Background(), 42, domain.MetaPaymentURL); url != "" {
				t.Error("payment url meta not cleared")
			}
		})
	}
}

func TestFromWebhook_Cancellation(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.StatusCanceled, domain.StatusReversed} {
		t.Run(string(status), func(t *testing.T) {
			store := ledger.NewMemory()
			seedOrder(store, 42, 19900)
			r := newReconciler(store, false)

			event := signedEvent(42, "13660", status, 19900, "")
			if err := r.FromWebhook(context.Background(), event); err != nil {
				t.Fatalf("FromWebhook: %v", err)
			}

			order, _ := store.GetOrder(context.Background(), 42)
			if order.Status != domain.OrderCancelled {
				t.Errorf("status = %s, want cancelled", order.Status)
			}
		})
	}
}

func TestFromWebhook_RefundedOnce(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", domain.StatusRefunded, 19900, "")

	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if order.Status != domain.OrderRefunded {
		t.Errorf("status = %s, want refunded", order.Status)
	}
	if notes := store.Notes(42); len(notes) != 1 {
		t.Errorf("got %d notes, want 1", len(notes))
	}
}

func TestFromWebhook_AuthorizedIsHoldOnly(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", domain.StatusAuthorized, 19900, "")
	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("FromWebhook: %v", err)
	}

	order, _ := store.GetOrder(context.Background(), 42)
	if order.IsPaid || order.Status != domain.OrderPending {
		t.Error("AUTHORIZED must not mutate the ledger")
	}
}

func TestFromWebhook_StoresRebillID(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	store.PutSubscriptions(42, []int64{7, 8})
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", domain.StatusConfirmed, 19900, "reb-123")
	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Fatalf("FromWebhook: %v", err)
	}

	for _, subID := range []int64{7, 8} {
		got, _ := store.GetSubscriptionMeta(context.Background(), subID, domain.MetaRebillID)
		if got != "reb-123" {
			t.Errorf("subscription %d rebill id = %q, want reb-123", subID, got)
		}
	}
}

func TestFromWebhook_UnknownStatusIgnored(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	event := signedEvent(42, "13660", "FORM_SHOWED", 19900, "")

	if err := r.FromWebhook(context.Background(), event); err != nil {
		t.Errorf("unknown status must be accepted: %v", err)
	}
}

func TestAutoComplete(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		products []domain.Product
		want     domain.OrderStatus
	}{
		{"all virtual downloadable", true,
			[]domain.Product{{Virtual: true, Downloadable: true}}, domain.OrderCompleted},
		{"physical item disqualifies", true,
			[]domain.Product{{Virtual: true, Downloadable: true}, {Virtual: false, Downloadable: true}}, domain.OrderProcessing},
		{"virtual but not downloadable", true,
			[]domain.Product{{Virtual: true, Downloadable: false}}, domain.OrderProcessing},
		{"disabled", false,
			[]domain.Product{{Virtual: true, Downloadable: true}}, domain.OrderProcessing},
		{"no products resolvable", true, nil, domain.OrderProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemory()
			seedOrder(store, 42, 19900)
			store.PutProducts(42, tt.products)
			r := newReconciler(store, tt.enabled)

			event := signedEvent(42, "13660", domain.StatusConfirmed, 19900, "")
			if err := r.FromWebhook(context.Background(), event); err != nil {
				t.Fatalf("FromWebhook: %v", err)
			}

			order, _ := store.GetOrder(context.Background(), 42)
			if order.Status != tt.want {
				t.Errorf("status = %s, want %s", order.Status, tt.want)
			}
		})
	}
}

func TestFromPoll_ConfirmedIdempotent(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	r := newReconciler(store, false)

	order, _ := store.GetOrder(context.Background(), 42)
	if err := r.FromPoll(context.Background(), order, domain.StatusConfirmed, "13660"); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	// Second poll sees the refreshed, already-paid snapshot.
	order, _ = store.GetOrder(context.Background(), 42)
	if err := r.FromPoll(context.Background(), order, domain.StatusConfirmed, "13660"); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if notes := store.Notes(42); len(notes) != 1 {
		t.Errorf("got %d notes, want 1", len(notes))
	}
}

func TestFromPoll_ConfirmedMetaMarkerShortCircuits(t *testing.T) {
	store := ledger.NewMemory()
	seedOrder(store, 42, 19900)
	store.SetMeta(context.Background(), 42, domain.MetaConfirmed, "1")
	r := newReconciler(store, false)

	order, _ := store.GetOrder(context.Background(), 42)
	if err := r.FromPoll(context.Background(), order, domain.StatusConfirmed, "13660"); err != nil {
		t.Fatalf("FromPoll: %v", err)
	}

	refreshed, _ := store.GetOrder(context.Background(), 42)
	if refreshed.IsPaid {
		t.Error("confirmed marker must short-circuit the mark-paid effect")
	}
}
