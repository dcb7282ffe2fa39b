package tbank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/config"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/platform/logging"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/token"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(config.TerminalConfig{
		TerminalKey: "T1",
		Secret:      "secretpw",
		BaseURL:     srv.URL,
		Language:    "ru",
	}, logging.Nop(), false)

	return client, srv
}

func testOrder() *domain.OrderSnapshot {
	return &domain.OrderSnapshot{
		ID:              42,
		TotalMinorUnits: 19900,
		BillingEmail:    "buyer@example.com",
		BillingPhone:    "+79990000000",
		LineItems: []domain.LineItem{
			{Name: "Widget", UnitPriceMinorUnits: 9950, Quantity: decimal.NewFromInt(2)},
		},
	}
}

func TestInit_SignsAndPostsRequest(t *testing.T) {
	var captured map[string]any

	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Init" {
			t.Errorf("path = %s, want /Init", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"Success":true,"PaymentId":13660,"PaymentURL":"https://pay.example/p/13660","Status":"NEW"}`))
	})

	resp, err := client.Init(context.Background(), testOrder(), nil)
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	if resp.PaymentID != "13660" {
		t.Errorf("PaymentID = %s, want 13660", resp.PaymentID)
	}
	if resp.PaymentURL != "https://pay.example/p/13660" {
		t.Errorf("PaymentURL = %s", resp.PaymentURL)
	}

	if captured["OrderId"] != "42" {
		t.Errorf("OrderId = %v, want 42", captured["OrderId"])
	}
	if captured["Description"] != "Widget×2" {
		t.Errorf("Description = %v, want Widget×2", captured["Description"])
	}
	if !token.Verify(captured, "secretpw") {
		t.Error("request token does not verify against the terminal secret")
	}
	data, ok := captured["DATA"].(map[string]any)
	if !ok {
		t.Fatal("DATA object missing from request")
	}
	if data["Email"] != "buyer@example.com" {
		t.Errorf("DATA.Email = %v", data["Email"])
	}
}

func TestInit_RecurringOrder(t *testing.T) {
	var captured map[string]any

	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"Success":true,"PaymentId":"1","PaymentURL":"u"}`))
	})

	order := testOrder()
	order.IsSubscription = true
	order.CustomerID = 7

	if _, err := client.Init(context.Background(), order, nil); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	if captured["Recurrent"] != "Y" {
		t.Errorf("Recurrent = %v, want Y", captured["Recurrent"])
	}
	if captured["CustomerKey"] != "user_7" {
		t.Errorf("CustomerKey = %v, want user_7", captured["CustomerKey"])
	}
	if !token.Verify(captured, "secretpw") {
		t.Error("recurring request token does not verify")
	}
}

func TestInit_AttachesReceipt(t *testing.T) {
	var captured map[string]any

	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"Success":true,"PaymentId":"1","PaymentURL":"u"}`))
	})

	rcpt := &domain.Receipt{
		Taxation: "osn",
		Items:    []domain.ReceiptItem{{Name: "Widget", Price: 19900, Quantity: 1, Amount: 19900, PaymentMethod: "full_payment", PaymentObject: "commodity", Tax: "none"}},
	}

	if _, err := client.Init(context.Background(), testOrder(), rcpt); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	if _, ok := captured["Receipt"]; !ok {
		t.Fatal("Receipt missing from request")
	}
	// The receipt is a nested structure and must not affect the token.
	if !token.Verify(captured, "secretpw") {
		t.Error("token invalid when receipt attached")
	}
}

func TestInit_InvalidAmount(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a non-positive amount")
	})

	order := testOrder()
	order.TotalMinorUnits = 0

	_, err := client.Init(context.Background(), order, nil)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestGetState_MissingPaymentID(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a payment id")
	})

	_, err := client.GetState(context.Background(), "")
	if !errors.Is(err, domain.ErrMissingPaymentID) {
		t.Errorf("err = %v, want ErrMissingPaymentID", err)
	}
}

func TestRefund_InvalidAmount(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a non-positive amount")
	})

	_, err := client.Refund(context.Background(), "13660", -100, nil)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestRequest_RemoteDeclined(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Success":false,"ErrorCode":"99","Message":"Операция отклонена"}`))
	})

	_, err := client.GetState(context.Background(), "13660")
	if !errors.Is(err, domain.ErrRemoteDeclined) {
		t.Fatalf("err = %v, want ErrRemoteDeclined", err)
	}

	var perr *domain.PaymentError
	if !errors.As(err, &perr) {
		t.Fatal("expected a PaymentError")
	}
	if perr.Code != "99" {
		t.Errorf("code = %s, want 99", perr.Code)
	}
	if !strings.Contains(perr.Message, "отклонена") {
		t.Errorf("message = %s, want provider message", perr.Message)
	}
}

func TestRequest_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200 status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"unparseable body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, tt.handler)

			_, err := client.GetState(context.Background(), "13660")
			if !errors.Is(err, domain.ErrProtocol) {
				t.Errorf("err = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestRequest_ConnectionError(t *testing.T) {
	client, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.GetState(context.Background(), "13660")
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}

func TestBuildDescription(t *testing.T) {
	tests := []struct {
		name  string
		order *domain.OrderSnapshot
		want  string
	}{
		{
			"single item",
			&domain.OrderSnapshot{ID: 1, LineItems: []domain.LineItem{
				{Name: "Widget", Quantity: decimal.NewFromInt(1)},
			}},
			"Widget",
		},
		{
			"quantity suffix",
			&domain.OrderSnapshot{ID: 1, LineItems: []domain.LineItem{
				{Name: "Widget", Quantity: decimal.NewFromInt(3)},
				{Name: "Gadget", Quantity: decimal.NewFromInt(1)},
			}},
			"Widget×3, Gadget",
		},
		{
			"empty falls back to order number",
			&domain.OrderSnapshot{ID: 42},
			"Order #42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildDescription(tt.order); got != tt.want {
				t.Errorf("buildDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDescription_Truncates(t *testing.T) {
	order := &domain.OrderSnapshot{ID: 1, LineItems: []domain.LineItem{
		{Name: strings.Repeat("я", 200), Quantity: decimal.NewFromInt(1)},
	}}

	got := buildDescription(order)

	if runes := []rune(got); len(runes) != 140 {
		t.Errorf("len = %d runes, want 140", len(runes))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated description must end with ...")
	}
}
