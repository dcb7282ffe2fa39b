// Package tbank implements the HTTP client for the T-Bank acquiring API.
//
// Every request body is signed with the terminal secret via the token
// codec and sent as JSON; responses are decoded into a single typed
// Response or a domain error.
package tbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/config"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/token"
)

// connectionType identifies this integration to the processor. Sent in the
// unsigned DATA object of every Init request.
const connectionType = "go-woocommerce-modern-1.1.0"

const maxDescriptionRunes = 140

// Client talks to the T-Bank acquiring endpoints (Init, GetState, Cancel,
// Charge).
type Client struct {
	terminalKey string
	secret      string
	baseURL     string
	terminal    config.TerminalConfig
	httpClient  *http.Client
	logger      domain.Logger
	debug       bool
}

// NewClient creates a T-Bank API client for one terminal.
func NewClient(terminal config.TerminalConfig, logger domain.Logger, debug bool) *Client {
	return &Client{
		terminalKey: terminal.TerminalKey,
		secret:      terminal.Secret,
		baseURL:     strings.TrimSuffix(terminal.BaseURL, "/"),
		terminal:    terminal,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: logger,
		debug:  debug,
	}
}

var _ domain.ProcessorGateway = (*Client)(nil)

// Response is the decoded body of any T-Bank API call. Fields not present
// in a given call's response are zero.
type Response struct {
	Success    bool       `json:"Success"`
	ErrorCode  string     `json:"ErrorCode"`
	Message    string     `json:"Message"`
	Details    string     `json:"Details"`
	PaymentID  flexString `json:"PaymentId"`
	PaymentURL string     `json:"PaymentURL"`
	Status     string     `json:"Status"`
	OrderID    flexString `json:"OrderId"`
	RebillID   flexString `json:"RebillId"`
}

// flexString absorbs fields the processor serializes as either a JSON
// string or a JSON number, depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// Init registers a new payment for the order and returns the payment id
// and the hosted payment page URL. A receipt is attached when rcpt is
// non-nil.
func (c *Client) Init(ctx context.Context, order *domain.OrderSnapshot, rcpt *domain.Receipt) (*domain.GatewayResult, error) {
	if order.TotalMinorUnits <= 0 {
		return nil, domain.NewPaymentError(domain.ErrInvalidAmount,
			"order amount must be greater than zero", "INVALID_AMOUNT")
	}

	fields := map[string]any{
		"TerminalKey": c.terminalKey,
		"Amount":      order.TotalMinorUnits,
		"OrderId":     strconv.FormatInt(order.ID, 10),
		"Description": buildDescription(order),
	}

	if c.terminal.NotificationURL != "" {
		fields["NotificationURL"] = c.terminal.NotificationURL
	}
	if c.terminal.SuccessURL != "" {
		fields["SuccessURL"] = c.terminal.SuccessURL
	}
	if c.terminal.FailURL != "" {
		fields["FailURL"] = c.terminal.FailURL
	}
	if c.terminal.Language == "en" {
		fields["Language"] = "en"
	}

	// Nested structures are excluded from the token by the codec.
	fields["DATA"] = map[string]string{
		"Email":           order.BillingEmail,
		"Phone":           order.BillingPhone,
		"Connection_type": connectionType,
	}

	if order.IsSubscription {
		fields["Recurrent"] = "Y"
		fields["CustomerKey"] = "user_" + strconv.FormatInt(order.CustomerID, 10)
	}

	if rcpt != nil {
		fields["Receipt"] = rcpt
		if c.debug {
			if encoded, err := json.Marshal(rcpt); err == nil {
				c.logger.Debug("TBank Init Receipt: " + string(encoded))
			}
		}
	}

	return c.request(ctx, "Init", fields)
}

// GetState queries the current status of a payment.
func (c *Client) GetState(ctx context.Context, paymentID string) (*domain.GatewayResult, error) {
	if paymentID == "" {
		return nil, domain.NewPaymentError(domain.ErrMissingPaymentID,
			"PaymentId is required", "MISSING_PAYMENT_ID")
	}

	fields := map[string]any{
		"TerminalKey": c.terminalKey,
		"PaymentId":   paymentID,
	}

	return c.request(ctx, "GetState", fields)
}

// Refund cancels a confirmed payment, fully or partially. A refund receipt
// is attached when rcpt is non-nil.
func (c *Client) Refund(ctx context.Context, paymentID string, amountMinorUnits int64, rcpt *domain.Receipt) (*domain.GatewayResult, error) {
	if amountMinorUnits <= 0 {
		return nil, domain.NewPaymentError(domain.ErrInvalidAmount,
			"refund amount must be greater than zero", "INVALID_AMOUNT")
	}

	fields := map[string]any{
		"TerminalKey": c.terminalKey,
		"PaymentId":   paymentID,
		"Amount":      amountMinorUnits,
	}

	if rcpt != nil {
		fields["Receipt"] = rcpt
	}

	return c.request(ctx, "Cancel", fields)
}

// Charge debits a stored card for a recurring renewal. The caller owns
// idempotency: nothing here prevents a renewal from being charged twice.
func (c *Client) Charge(ctx context.Context, rebillID string, amountMinorUnits int64, paymentID string) (*domain.GatewayResult, error) {
	fields := map[string]any{
		"TerminalKey": c.terminalKey,
		"RebillId":    rebillID,
		"PaymentId":   paymentID,
		"Amount":      amountMinorUnits,
	}

	return c.request(ctx, "Charge", fields)
}

// request signs the field set, posts it to the endpoint and interprets the
// response. Transport failures, non-200 statuses and unparseable bodies
// are distinct from a structured Success=false decline.
func (c *Client) request(ctx context.Context, endpoint string, fields map[string]any) (*domain.GatewayResult, error) {
	fields["Token"] = token.Sign(fields, c.secret)

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, domain.NewPaymentError(domain.ErrProtocol,
			"failed to marshal request", "MARSHAL_ERROR")
	}

	if c.debug {
		c.logger.Debug("TBank Request [" + endpoint + "]: " + string(body))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPaymentError(domain.ErrConnection,
			"failed to create request", "REQUEST_ERROR")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewPaymentError(domain.ErrConnection,
			"request failed: "+err.Error(), "CONNECTION_ERROR")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewPaymentError(domain.ErrProtocol,
			fmt.Sprintf("HTTP status: %d", resp.StatusCode), "HTTP_ERROR")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewPaymentError(domain.ErrConnection,
			"failed to read response: "+err.Error(), "READ_ERROR")
	}

	if c.debug {
		c.logger.Debug("TBank Response [" + endpoint + "]: " + string(raw))
	}

	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domain.NewPaymentError(domain.ErrProtocol,
			"invalid JSON response", "INVALID_JSON")
	}

	if !decoded.Success {
		message := decoded.Message
		if message == "" {
			message = "unknown T-Bank error"
		}
		return nil, domain.NewPaymentError(domain.ErrRemoteDeclined, message, decoded.ErrorCode)
	}

	return &domain.GatewayResult{
		PaymentID:  decoded.PaymentID.String(),
		PaymentURL: decoded.PaymentURL,
		Status:     domain.ParsePaymentStatus(decoded.Status),
		RebillID:   decoded.RebillID.String(),
	}, nil
}

// buildDescription summarizes the order's line items for the payment form,
// capped at 140 runes.
func buildDescription(order *domain.OrderSnapshot) string {
	parts := make([]string, 0, len(order.LineItems))

	for _, line := range order.LineItems {
		qty := line.Quantity.IntPart()
		if qty > 1 {
			parts = append(parts, fmt.Sprintf("%s×%d", line.Name, qty))
		} else {
			parts = append(parts, line.Name)
		}
	}

	description := strings.TrimSpace(strings.Join(parts, ", "))
	if description == "" {
		return "Order #" + strconv.FormatInt(order.ID, 10)
	}

	runes := []rune(description)
	if len(runes) > maxDescriptionRunes {
		description = string(runes[:maxDescriptionRunes-3]) + "..."
	}

	return description
}
