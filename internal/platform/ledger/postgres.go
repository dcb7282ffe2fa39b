package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
)

// OrderRecord is the orders table.
type OrderRecord struct {
	ID                      int64  `gorm:"primaryKey"`
	TotalMinorUnits         int64  `gorm:"not null"`
	BillingEmail            string `gorm:"size:255"`
	BillingPhone            string `gorm:"size:64"`
	IsPaid                  bool   `gorm:"not null;default:false"`
	Status                  string `gorm:"size:32;default:'pending'"`
	TransactionID           string `gorm:"size:64"`
	ShippingMethod          string `gorm:"size:255"`
	ShippingTotalMinorUnits int64
	ShippingTaxMinorUnits   int64
	ShippingTaxRatePercent  int
	IsSubscription          bool
	CustomerID              int64 `gorm:"index"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// OrderLineRecord is a product line on an order, denormalized with the
// product traits needed for auto-completion.
type OrderLineRecord struct {
	ID                  int64           `gorm:"primaryKey"`
	OrderID             int64           `gorm:"not null;index"`
	Name                string          `gorm:"size:255"`
	UnitPriceMinorUnits int64           `gorm:"not null"`
	Quantity            decimal.Decimal `gorm:"type:numeric(12,3);not null"`
	TaxRatePercent      int
	Virtual             bool
	Downloadable        bool
}

// OrderMetaRecord is a string meta field on an order.
type OrderMetaRecord struct {
	ID      int64  `gorm:"primaryKey"`
	OrderID int64  `gorm:"not null;uniqueIndex:idx_order_meta_key"`
	Key     string `gorm:"size:64;not null;uniqueIndex:idx_order_meta_key"`
	Value   string `gorm:"size:1024"`
}

// OrderNoteRecord is a free-form note on an order.
type OrderNoteRecord struct {
	ID        int64  `gorm:"primaryKey"`
	OrderID   int64  `gorm:"not null;index"`
	Note      string `gorm:"type:text"`
	CreatedAt time.Time
}

// RefundRecord is a refund attached to an order.
type RefundRecord struct {
	ID                      int64 `gorm:"primaryKey"`
	OrderID                 int64 `gorm:"not null;index"`
	AmountMinorUnits        int64 `gorm:"not null"`
	ShippingTotalMinorUnits int64
	ShippingTaxMinorUnits   int64
	CreatedAt               time.Time
}

// RefundLineRecord is a refunded product line.
type RefundLineRecord struct {
	ID              int64           `gorm:"primaryKey"`
	RefundID        int64           `gorm:"not null;index"`
	Name            string          `gorm:"size:255"`
	Quantity        decimal.Decimal `gorm:"type:numeric(12,3)"`
	TotalMinorUnits int64
	TaxMinorUnits   int64
	TaxRatePercent  int
}

// SubscriptionRecord links a subscription to its parent and renewal orders.
type SubscriptionRecord struct {
	ID        int64 `gorm:"primaryKey"`
	OrderID   int64 `gorm:"not null;index"`
	CreatedAt time.Time
}

// SubscriptionMetaRecord is a string meta field on a subscription.
type SubscriptionMetaRecord struct {
	ID             int64  `gorm:"primaryKey"`
	SubscriptionID int64  `gorm:"not null;uniqueIndex:idx_sub_meta_key"`
	Key            string `gorm:"size:64;not null;uniqueIndex:idx_sub_meta_key"`
	Value          string `gorm:"size:1024"`
}

// Postgres is the production OrderLedger backed by gorm.
type Postgres struct {
	db *gorm.DB
}

var _ domain.OrderLedger = (*Postgres)(nil)

// ConnectPostgres opens the ledger database and migrates the schema.
func ConnectPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = db.AutoMigrate(
		&OrderRecord{},
		&OrderLineRecord{},
		&OrderMetaRecord{},
		&OrderNoteRecord{},
		&RefundRecord{},
		&RefundLineRecord{},
		&SubscriptionRecord{},
		&SubscriptionMetaRecord{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already-open gorm handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetOrder(ctx context.Context, orderID int64) (*domain.OrderSnapshot, error) {
	var record OrderRecord
	result := p.db.WithContext(ctx).First(&record, orderID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, result.Error
	}

	var lines []OrderLineRecord
	if err := p.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&lines).Error; err != nil {
		return nil, err
	}

	snapshot := &domain.OrderSnapshot{
		ID:                      record.ID,
		TotalMinorUnits:         record.TotalMinorUnits,
		BillingEmail:            record.BillingEmail,
		BillingPhone:            record.BillingPhone,
		IsPaid:                  record.IsPaid,
		Status:                  domain.OrderStatus(record.Status),
		TransactionID:           record.TransactionID,
		ShippingMethod:          record.ShippingMethod,
		ShippingTotalMinorUnits: record.ShippingTotalMinorUnits,
		ShippingTaxMinorUnits:   record.ShippingTaxMinorUnits,
		ShippingTaxRatePercent:  record.ShippingTaxRatePercent,
		IsSubscription:          record.IsSubscription,
		CustomerID:              record.CustomerID,
	}
	for _, line := range lines {
		snapshot.LineItems = append(snapshot.LineItems, domain.LineItem{
			Name:                line.Name,
			UnitPriceMinorUnits: line.UnitPriceMinorUnits,
			Quantity:            line.Quantity,
			TaxRatePercent:      line.TaxRatePercent,
		})
	}

	return snapshot, nil
}

// MarkPaid is a single conditional UPDATE so concurrent webhook and poll
// deliveries collapse to one mark-paid effect.
func (p *Postgres) MarkPaid(ctx context.Context, orderID int64, transactionID string) (bool, error) {
	result := p.db.WithContext(ctx).
		Model(&OrderRecord{}).
		Where("id = ? AND is_paid = ?", orderID, false).
		Updates(map[string]any{
			"is_paid":        true,
			"transaction_id": transactionID,
			"status":         string(domain.OrderProcessing),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&OrderRecord{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrOrderNotFound
	}
	return false, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus, note string) error {
	result := p.db.WithContext(ctx).
		Model(&OrderRecord{}).
		Where("id = ?", orderID).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	if note != "" {
		return p.AddNote(ctx, orderID, note)
	}
	return nil
}

func (p *Postgres) AddNote(ctx context.Context, orderID int64, note string) error {
	return p.db.WithContext(ctx).Create(&OrderNoteRecord{
		OrderID: orderID,
		Note:    note,
	}).Error
}

func (p *Postgres) SetMeta(ctx context.Context, orderID int64, key, value string) error {
	record := OrderMetaRecord{OrderID: orderID, Key: key}
	result := p.db.WithContext(ctx).
		Where("order_id = ? AND key = ?", orderID, key).
		Assign(OrderMetaRecord{Value: value}).
		FirstOrCreate(&record)
	return result.Error
}

func (p *Postgres) GetMeta(ctx context.Context, orderID int64, key string) (string, error) {
	var record OrderMetaRecord
	result := p.db.WithContext(ctx).
		Where("order_id = ? AND key = ?", orderID, key).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return record.Value, nil
}

func (p *Postgres) DeleteMeta(ctx context.Context, orderID int64, key string) error {
	return p.db.WithContext(ctx).
		Where("order_id = ? AND key = ?", orderID, key).
		Delete(&OrderMetaRecord{}).Error
}

func (p *Postgres) LineProducts(ctx context.Context, orderID int64) ([]domain.Product, error) {
	var lines []OrderLineRecord
	if err := p.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&lines).Error; err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(lines))
	for _, line := range lines {
		products = append(products, domain.Product{
			Virtual:      line.Virtual,
			Downloadable: line.Downloadable,
		})
	}
	return products, nil
}

func (p *Postgres) Refunds(ctx context.Context, orderID int64) ([]domain.Refund, error) {
	var records []RefundRecord
	if err := p.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	refunds := make([]domain.Refund, 0, len(records))
	for _, record := range records {
		var lines []RefundLineRecord
		if err := p.db.WithContext(ctx).Where("refund_id = ?", record.ID).Order("id").Find(&lines).Error; err != nil {
			return nil, err
		}

		refund := domain.Refund{
			ID:                      record.ID,
			AmountMinorUnits:        record.AmountMinorUnits,
			ShippingTotalMinorUnits: record.ShippingTotalMinorUnits,
			ShippingTaxMinorUnits:   record.ShippingTaxMinorUnits,
		}
		for _, line := range lines {
			refund.Lines = append(refund.Lines, domain.RefundLine{
				Name:            line.Name,
				Quantity:        line.Quantity,
				TotalMinorUnits: line.TotalMinorUnits,
				TaxMinorUnits:   line.TaxMinorUnits,
				TaxRatePercent:  line.TaxRatePercent,
			})
		}
		refunds = append(refunds, refund)
	}

	return refunds, nil
}

func (p *Postgres) Subscriptions(ctx context.Context, orderID int64) ([]int64, error) {
	var records []SubscriptionRecord
	if err := p.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (p *Postgres) SetSubscriptionMeta(ctx context.Context, subscriptionID int64, key, value string) error {
	record := SubscriptionMetaRecord{SubscriptionID: subscriptionID, Key: key}
	result := p.db.WithContext(ctx).
		Where("subscription_id = ? AND key = ?", subscriptionID, key).
		Assign(SubscriptionMetaRecord{Value: value}).
		FirstOrCreate(&record)
	return result.Error
}

func (p *Postgres) GetSubscriptionMeta(ctx context.Context, subscriptionID int64, key string) (string, error) {
	var record SubscriptionMetaRecord
	result := p.db.WithContext(ctx).
		Where("subscription_id = ? AND key = ?", subscriptionID, key).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return record.Value, nil
}
