package models

import (
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for the Batch aggregate root.
type BatchModel struct {
	AggregateModel
	BatchNumber     string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_batches_batch_number"`
	ProductID       *uuid.UUID      `gorm:"type:uuid;index:idx_inventory_batches_product_status,priority:1"`
	VariantID       *uuid.UUID      `gorm:"type:uuid;index:idx_inventory_batches_variant_status,priority:1"`
	Quantity        int64           `gorm:"not null;default:0"`
	Status          string          `gorm:"type:varchar(20);not null;default:'active';index:idx_inventory_batches_product_status,priority:2;index:idx_inventory_batches_variant_status,priority:2"`
	ExpiryDate      *time.Time      `gorm:"index"`
	ManufactureDate *time.Time
	ReceivedDate    time.Time       `gorm:"not null"`
	Supplier        string          `gorm:"type:varchar(200)"`
	CostPerUnit     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Notes           string          `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (BatchModel) TableName() string {
	return "inventory_batches"
}

// ToDomain converts the persistence model to a domain Batch
func (m *BatchModel) ToDomain() *inventory.Batch {
	return &inventory.Batch{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		BatchNumber:       m.BatchNumber,
		ProductID:         m.ProductID,
		VariantID:         m.VariantID,
		Quantity:          m.Quantity,
		Status:            inventory.BatchStatus(m.Status),
		ExpiryDate:        m.ExpiryDate,
		ManufactureDate:   m.ManufactureDate,
		ReceivedDate:      m.ReceivedDate,
		Supplier:          m.Supplier,
		CostPerUnit:       m.CostPerUnit,
		Notes:             m.Notes,
	}
}

// FromDomain populates the persistence model from a domain Batch. Times are stored in UTC.
func (m *BatchModel) FromDomain(b *inventory.Batch) {
	m.FromDomainAggregateRoot(b.BaseAggregateRoot)
	m.BatchNumber = b.BatchNumber
	m.ProductID = b.ProductID
	m.VariantID = b.VariantID
	m.Quantity = b.Quantity
	m.Status = string(b.Status)
	m.ExpiryDate = utcPtr(b.ExpiryDate)
	m.ManufactureDate = utcPtr(b.ManufactureDate)
	m.ReceivedDate = b.ReceivedDate.UTC()
	m.Supplier = b.Supplier
	m.CostPerUnit = b.CostPerUnit
	m.Notes = b.Notes
}

// BatchModelFromDomain creates a new persistence model from a domain Batch
func BatchModelFromDomain(b *inventory.Batch) *BatchModel {
	m := &BatchModel{}
	m.FromDomain(b)
	return m
}
