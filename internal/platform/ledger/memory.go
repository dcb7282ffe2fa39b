// Package ledger provides implementations of the domain OrderLedger port.
package ledger

import (
	"context"
	"sync"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
)

// Memory is an in-process OrderLedger. It backs tests and local
// development; production deployments use the Postgres ledger.
type Memory struct {
	mu       sync.Mutex
	orders   map[int64]*domain.OrderSnapshot
	meta     map[int64]map[string]string
	subMeta  map[int64]map[string]string
	notes    map[int64][]string
	products map[int64][]domain.Product
	refunds  map[int64][]domain.Refund
	subs     map[int64][]int64
}

var _ domain.OrderLedger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[int64]*domain.OrderSnapshot),
		meta:     make(map[int64]map[string]string),
		subMeta:  make(map[int64]map[string]string),
		notes:    make(map[int64][]string),
		products: make(map[int64][]domain.Product),
		refunds:  make(map[int64][]domain.Refund),
		subs:     make(map[int64][]int64),
	}
}

// PutOrder stores or replaces an order snapshot.
func (m *Memory) PutOrder(order *domain.OrderSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *order
	m.orders[order.ID] = &copied
}

// PutProducts sets the products behind an order's line items.
func (m *Memory) PutProducts(orderID int64, products []domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[orderID] = products
}

// PutRefunds sets the refund records attached to an order.
func (m *Memory) PutRefunds(orderID int64, refunds []domain.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[orderID] = refunds
}

// PutSubscriptions links subscription ids to an order.
func (m *Memory) PutSubscriptions(orderID int64, subscriptionIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[orderID] = subscriptionIDs
}

// Notes returns the notes recorded against an order.
func (m *Memory) Notes(orderID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[orderID]...)
}

func (m *Memory) GetOrder(_ context.Context, orderID int64) (*domain.OrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	copied := *order
	return &copied, nil
}

func (m *Memory) MarkPaid(_ context.Context, orderID int64, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.IsPaid {
		return false, nil
	}

	order.IsPaid = true
	order.TransactionID = transactionID
	order.Status = domain.OrderProcessing
	return true, nil
}

func (m *Memory) UpdateStatus(_ context.Context, orderID int64, status domain.OrderStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.Status = status
	if note != "" {
		m.notes[orderID] = append(m.notes[orderID], note)
	}
	return nil
}

func (m *Memory) AddNote(_ context.Context, orderID int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return domain.ErrOrderNotFound
	}
	m.notes[orderID] = append(m.notes[orderID], note)
	return nil
}

func (m *Memory) SetMeta(_ context.Context, orderID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meta[orderID] == nil {
		m.meta[orderID] = make(map[string]string)
	}
	m.meta[orderID][key] = value
	return nil
}

func (m *Memory) GetMeta(_ context.Context, orderID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[orderID][key], nil
}

func (m *Memory) DeleteMeta(_ context.Context, orderID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.meta[orderID], key)
	return nil
}

func (m *Memory) LineProducts(_ context.Context, orderID int64) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Product(nil), m.products[orderID]...), nil
}

func (m *Memory) Refunds(_ context.Context, orderID int64) ([]domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Refund(nil), m.refunds[orderID]...), nil
}

func (m *Memory) Subscriptions(_ context.Context, orderID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.subs[orderID]...), nil
}

func (m *Memory) SetSubscriptionMeta(_ context.Context, subscriptionID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subMeta[subscriptionID] == nil {
		m.subMeta[subscriptionID] = make(map[string]string)
	}
	m.subMeta[subscriptionID][key] = value
	return nil
}

func (m *Memory) GetSubscriptionMeta(_ context.Context, subscriptionID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subMeta[subscriptionID][key], nil
}
