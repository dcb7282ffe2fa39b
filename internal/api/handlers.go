// Package api contains the HTTP handlers and routing for the payment service.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/payment"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/reconcile"
)

// Handler contains the HTTP handlers for the payment API.
type Handler struct {
	paymentService *payment.Service
	reconciler     *reconcile.Reconciler
	logger         domain.Logger
}

// NewHandler creates a new API handler.
func NewHandler(paymentService *payment.Service, reconciler *reconcile.Reconciler, logger domain.Logger) *Handler {
	return &Handler{
		paymentService: paymentService,
		reconciler:     reconciler,
		logger:         logger,
	}
}

// CheckoutResponse represents the response from the checkout endpoint.
type CheckoutResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url"`
}

// RefundRequest represents the JSON body for the refund endpoint.
type RefundRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// Checkout handles POST /api/v1/payments/:order_id/checkout
// Initiates (or resumes) a payment for the order and returns the URL the
// customer must be redirected to.
func (h *Handler) Checkout(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	result, err := h.paymentService.Checkout(c.Request.Context(), orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{
		Success:     true,
		RedirectURL: result.RedirectURL,
	})
}

// Refund handles POST /api/v1/payments/:order_id/refund
func (h *Handler) Refund(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body: " + err.Error(),
			Code:    "VALIDATION_ERROR",
		})
		return
	}

	if err := h.paymentService.Refund(c.Request.Context(), orderID, req.Amount, req.Reason); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RenewSubscription handles POST /api/v1/subscriptions/:order_id/renew
// Charges the stored card for a subscription renewal order.
func (h *Handler) RenewSubscription(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	if err := h.paymentService.RenewSubscription(c.Request.Context(), orderID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleWebhook handles POST /webhook/tbank
//
// The processor retries a notification until it receives 200 with the
// literal body "OK". The response code tells it why a notification was
// rejected: 400 malformed or amount mismatch, 403 bad signature, 404
// unknown order, 409 payment id conflict, 500 missing configuration.
func (h *Handler) HandleWebhook(c *gin.Context) {
	// The body is kept as a raw field map so the signature is verified
	// over exactly what the processor signed.
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.String(http.StatusBadRequest, "invalid JSON")
		return
	}

	event, err := parseWebhookEvent(fields)
	if err != nil {
		h.logger.Warn("webhook rejected: " + err.Error())
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reconciler.FromWebhook(c.Request.Context(), event); err != nil {
		h.logger.Warn("webhook processing failed: " + err.Error())
		c.String(webhookStatusCode(err), "notification rejected")
		return
	}

	c.String(http.StatusOK, "OK")
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "tbank-payments",
	})
}

// parseWebhookEvent validates the required notification fields and builds
// the domain event. The full field map rides along for token verification.
func parseWebhookEvent(fields map[string]any) (*domain.WebhookEvent, error) {
	orderID, ok := fieldInt64(fields, "OrderId")
	if !ok {
		return nil, errors.New("OrderId is missing or malformed")
	}

	paymentID := fieldString(fields, "PaymentId")
	if paymentID == "" {
		return nil, errors.New("PaymentId is missing")
	}

	status := fieldString(fields, "Status")
	if status == "" {
		return nil, errors.New("Status is missing")
	}

	amount, _ := fieldInt64(fields, "Amount")

	return &domain.WebhookEvent{
		OrderID:          orderID,
		PaymentID:        paymentID,
		Status:           domain.ParsePaymentStatus(status),
		AmountMinorUnits: amount,
		RebillID:         fieldString(fields, "RebillId"),
		Fields:           fields,
	}, nil
}

// fieldString reads a field the processor serializes as either a string
// or a number.
func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func fieldInt64(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// webhookStatusCode maps reconciler errors to the notification protocol.
func webhookStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaymentIDConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConfigured):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// orderIDParam parses the :order_id path segment, writing the 400 itself
// when the segment is not a number.
func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "order_id must be a positive integer",
			Code:    "INVALID_ORDER_ID",
		})
		return 0, false
	}
	return orderID, true
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(c *gin.Context, err error) {
	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) {
		statusCode := http.StatusInternalServerError

		switch {
		case errors.Is(paymentErr.Err, domain.ErrInvalidAmount),
			errors.Is(paymentErr.Err, domain.ErrOrderNotPaid),
			errors.Is(paymentErr.Err, domain.ErrMissingPaymentID):
			statusCode = http.StatusBadRequest
		case errors.Is(paymentErr.Err, domain.ErrSubscriptionNotFound),
			errors.Is(paymentErr.Err, domain.ErrRebillMissing):
			statusCode = http.StatusUnprocessableEntity
		case errors.Is(paymentErr.Err, domain.ErrRemoteDeclined):
			statusCode = http.StatusPaymentRequired
		case errors.Is(paymentErr.Err, domain.ErrConnection),
			errors.Is(paymentErr.Err, domain.ErrProtocol):
			statusCode = http.StatusBadGateway
		}

		c.JSON(statusCode, ErrorResponse{
			Success: false,
			Error:   paymentErr.Message,
			Code:    paymentErr.Code,
		})
		return
	}

	if errors.Is(err, domain.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Success: false,
			Error:   "order not found",
			Code:    "ORDER_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Success: false,
		Error:   "Internal server error",
		Code:    "INTERNAL_ERROR",
	})
}
