// Package receipt builds fiscal receipts for payment and refund requests.
//
// Item amounts are derived from decimal order data, so their raw sum rarely
// lands on the authorized total exactly. Every receipt therefore passes
// through BalanceAmounts, which removes the discrepancy deterministically
// and guarantees the line-item sum equals the total to the minor unit.
package receipt

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/config"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
)

const (
	maxItemNameRunes     = 128
	maxCompanyEmailRunes = 64
)

var (
	oneHundred = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// Build converts an order's line items and shipping into a fiscal receipt
// balanced to the order total.
func Build(order *domain.OrderSnapshot, cfg config.ReceiptConfig) *domain.Receipt {
	method := normalizePaymentMethod(cfg.PaymentMethod)
	object := normalizePaymentObject(cfg.PaymentObject)

	items := make([]domain.ReceiptItem, 0, len(order.LineItems)+1)

	for _, line := range order.LineItems {
		price := grossUnitPrice(line, cfg)
		amount := decimal.NewFromInt(price).Mul(line.Quantity).Round(0).IntPart()

		item := domain.ReceiptItem{
			Name:          truncate(line.Name, maxItemNameRunes),
			Price:         price,
			Quantity:      line.Quantity.Round(2).InexactFloat64(),
			Amount:        amount,
			PaymentMethod: method,
			PaymentObject: object,
			Tax:           formatVAT(line.TaxRatePercent),
		}
		if cfg.FFDVersion == "ffd12" {
			item.MeasurementUnit = "pc"
		}

		items = append(items, item)
	}

	if shippingSum := order.ShippingTotalMinorUnits + order.ShippingTaxMinorUnits; shippingSum > 0 {
		item := domain.ReceiptItem{
			Name:          truncate(order.ShippingMethod, maxItemNameRunes),
			Price:         shippingSum,
			Quantity:      1,
			Amount:        shippingSum,
			PaymentMethod: method,
			PaymentObject: "service",
			Tax:           formatVAT(order.ShippingTaxRatePercent),
		}
		if cfg.FFDVersion == "ffd12" {
			item.MeasurementUnit = "pc"
		}

		items = append(items, item)
	}

	items = BalanceAmounts(items, order.TotalMinorUnits)

	return envelope(items, order, cfg)
}

// BuildRefund mirrors Build but sources quantities and amounts from the
// refund's own line items, falling back to a single synthetic refund line
// when the refund carries nothing itemizable. The result is balanced to
// totalMinorUnits, the amount actually being refunded.
func BuildRefund(order *domain.OrderSnapshot, refund *domain.Refund, cfg config.ReceiptConfig, totalMinorUnits int64) *domain.Receipt {
	method := normalizePaymentMethod(cfg.PaymentMethod)
	object := normalizePaymentObject(cfg.PaymentObject)

	items := make([]domain.ReceiptItem, 0, len(refund.Lines)+1)

	for _, line := range refund.Lines {
		quantity := line.Quantity.Abs()
		total := absInt64(line.TotalMinorUnits)
		tax := absInt64(line.TaxMinorUnits)

		price := decimal.NewFromInt(total + tax).
			Div(decimal.Max(quantity, one)).
			Round(0).
			IntPart()
		amount := decimal.NewFromInt(price).Mul(quantity).Round(0).IntPart()

		items = append(items, domain.ReceiptItem{
			Name:          truncate(line.Name, maxItemNameRunes),
			Price:         price,
			Quantity:      quantity.Round(2).InexactFloat64(),
			Amount:        amount,
			PaymentMethod: method,
			PaymentObject: object,
			Tax:           formatVAT(line.TaxRatePercent),
		})
	}

	shippingSum := absInt64(refund.ShippingTotalMinorUnits) + absInt64(refund.ShippingTaxMinorUnits)
	if shippingSum > 0 {
		items = append(items, domain.ReceiptItem{
			Name:          truncate(order.ShippingMethod, maxItemNameRunes),
			Price:         shippingSum,
			Quantity:      1,
			Amount:        shippingSum,
			PaymentMethod: method,
			PaymentObject: "service",
			Tax:           formatVAT(order.ShippingTaxRatePercent),
		})
	}

	if len(items) == 0 {
		items = append(items, domain.ReceiptItem{
			Name:          "Refund",
			Price:         totalMinorUnits,
			Quantity:      1,
			Amount:        totalMinorUnits,
			PaymentMethod: method,
			PaymentObject: "payment",
			Tax:           "none",
		})
	}

	if cfg.FFDVersion == "ffd12" {
		for i := range items {
			if items[i].MeasurementUnit == "" {
				items[i].MeasurementUnit = "pc"
			}
		}
	}

	items = BalanceAmounts(items, totalMinorUnits)

	return envelope(items, order, cfg)
}

// BalanceAmounts corrects item amounts so they sum exactly to
// totalMinorUnits. The discrepancy is apportioned in proportion to each
// item's contribution using floor division, and any residual left by the
// truncation goes to the item with the largest adjusted amount. Unit
// prices are then recomputed to stay consistent with the corrected
// amounts.
func BalanceAmounts(items []domain.ReceiptItem, totalMinorUnits int64) []domain.ReceiptItem {
	if len(items) == 0 {
		return items
	}

	var sum int64
	for _, item := range items {
		sum += item.Amount
	}

	if sum == totalMinorUnits {
		return items
	}

	diff := totalMinorUnits - sum

	// With nothing to apportion against (fully discounted lines) the
	// first item absorbs the whole difference.
	if sum == 0 {
		items[0].Amount += diff
		quantity := decimal.NewFromFloat(items[0].Quantity)
		items[0].Price = decimal.NewFromInt(items[0].Amount).
			Div(decimal.Max(quantity, one)).
			Round(0).
			IntPart()
		return items
	}

	adjusted := make([]int64, len(items))
	var adjustedSum int64
	for i, item := range items {
		adjusted[i] = item.Amount + floorDiv(diff*item.Amount, sum)
		adjustedSum += adjusted[i]
	}

	if adjustedSum != totalMinorUnits {
		largest := 0
		for i, amount := range adjusted {
			if amount > adjusted[largest] {
				largest = i
			}
		}
		adjusted[largest] += totalMinorUnits - adjustedSum
	}

	for i, amount := range adjusted {
		items[i].Amount = amount
		quantity := decimal.NewFromFloat(items[i].Quantity)
		items[i].Price = decimal.NewFromInt(amount).
			Div(decimal.Max(quantity, one)).
			Round(0).
			IntPart()
	}

	return items
}

// grossUnitPrice returns the unit price in minor units, inclusive of tax.
// When catalog prices are tax-exclusive the applicable rate is added on
// top.
func grossUnitPrice(line domain.LineItem, cfg config.ReceiptConfig) int64 {
	price := decimal.NewFromInt(line.UnitPriceMinorUnits)

	if !cfg.PricesIncludeTax && line.TaxRatePercent > 0 {
		rate := decimal.NewFromInt(int64(line.TaxRatePercent))
		price = price.Mul(oneHundred.Add(rate)).Div(oneHundred)
	}

	return price.Round(0).IntPart()
}

func envelope(items []domain.ReceiptItem, order *domain.OrderSnapshot, cfg config.ReceiptConfig) *domain.Receipt {
	receipt := &domain.Receipt{
		EmailCompany: truncate(cfg.CompanyEmail, maxCompanyEmailRunes),
		Email:        order.BillingEmail,
		Phone:        order.BillingPhone,
		Taxation:     cfg.Taxation,
		Items:        items,
	}

	switch cfg.FFDVersion {
	case "ffd12":
		receipt.FfdVersion = "1.2"
	case "ffd105":
		receipt.FfdVersion = "1.05"
	}

	return receipt
}

// normalizePaymentMethod falls back to full_payment for unset or
// placeholder FFD method tags.
func normalizePaymentMethod(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == "error" {
		return "full_payment"
	}
	return value
}

// normalizePaymentObject falls back to commodity for unset or placeholder
// FFD object tags.
func normalizePaymentObject(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == "error" {
		return "commodity"
	}
	return value
}

// formatVAT maps a rounded integer percentage rate to the processor's tax
// tag.
func formatVAT(ratePercent int) string {
	if ratePercent <= 0 {
		return "none"
	}
	return "vat" + strconv.Itoa(ratePercent)
}

// floorDiv divides rounding toward negative infinity, matching arithmetic
// floor for negative discrepancies.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
