package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
)

// OrderModel is the persistence model for the Order aggregate root.
type OrderModel struct {
	AggregateModel
	OrderNumber  string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_order_number"`
	Status       string           `gorm:"type:varchar(20);not null;default:'pending';index"`
	HasShortfall bool             `gorm:"not null;default:false"`
	Notes        string           `gorm:"type:text"`
	Items        []OrderItemModel `gorm:"foreignKey:OrderID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel is the persistence model for an order line
type OrderItemModel struct {
	BaseModel
	OrderID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	LineNo            int        `gorm:"not null"`
	ProductID         *uuid.UUID `gorm:"type:uuid"`
	VariantID         *uuid.UUID `gorm:"type:uuid"`
	Quantity          int64      `gorm:"not null"`
	ReservationStatus string     `gorm:"type:varchar(20);not null;default:'pending'"`
	// BatchAllocations is the JSON encoded allocation trace
	BatchAllocations string     `gorm:"type:text;not null;default:'[]'"`
	Shortfall        int64      `gorm:"not null;default:0"`
	ReservationNote  string     `gorm:"type:varchar(255)"`
	ReservedAt       *time.Time
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() (*trade.Order, error) {
	o := &trade.Order{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		OrderNumber:       m.OrderNumber,
		Status:            trade.OrderStatus(m.Status),
		HasShortfall:      m.HasShortfall,
		Notes:             m.Notes,
		Items:             make([]trade.OrderItem, len(m.Items)),
	}
	for idx := range m.Items {
		item, err := m.Items[idx].ToDomain()
		if err != nil {
			return nil, err
		}
		o.Items[idx] = *item
	}
	return o, nil
}

// FromDomain populates the persistence model from a domain Order
func (m *OrderModel) FromDomain(o *trade.Order) error {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.OrderNumber = o.OrderNumber
	m.Status = string(o.Status)
	m.HasShortfall = o.HasShortfall
	m.Notes = o.Notes
	m.Items = make([]OrderItemModel, len(o.Items))
	for idx := range o.Items {
		item, err := OrderItemModelFromDomain(o, idx)
		if err != nil {
			return err
		}
		m.Items[idx] = *item
	}
	return nil
}

// OrderModelFromDomain creates a new persistence model from a domain Order
func OrderModelFromDomain(o *trade.Order) (*OrderModel, error) {
	m := &OrderModel{}
	if err := m.FromDomain(o); err != nil {
		return nil, err
	}
	return m, nil
}

// ToDomain converts the persistence model to a domain OrderItem
func (m *OrderItemModel) ToDomain() (*trade.OrderItem, error) {
	allocations, err := DecodeAllocations(m.BatchAllocations)
	if err != nil {
		return nil, fmt.Errorf("order item %s: %w", m.ID, err)
	}
	item := &trade.OrderItem{
		ID:                m.ID,
		VariantID:         m.VariantID,
		Quantity:          m.Quantity,
		BatchAllocations:  allocations,
		ReservationStatus: trade.ReservationStatus(m.ReservationStatus),
		Shortfall:         m.Shortfall,
		ReservationNote:   m.ReservationNote,
		ReservedAt:        m.ReservedAt,
	}
	if m.ProductID != nil {
		item.Product = trade.ProductRef{ID: *m.ProductID}
	}
	return item, nil
}

// OrderItemModelFromDomain maps the line at index idx of o
func OrderItemModelFromDomain(o *trade.Order, idx int) (*OrderItemModel, error) {
	item := &o.Items[idx]
	allocations, err := EncodeAllocations(item.BatchAllocations)
	if err != nil {
		return nil, err
	}
	m := &OrderItemModel{
		BaseModel: BaseModel{
			ID:        item.ID,
			CreatedAt: o.CreatedAt.UTC(),
			UpdatedAt: o.UpdatedAt.UTC(),
		},
		OrderID:           o.ID,
		LineNo:            idx + 1,
		VariantID:         item.VariantID,
		Quantity:          item.Quantity,
		ReservationStatus: string(item.ReservationStatus),
		BatchAllocations:  allocations,
		Shortfall:         item.Shortfall,
		ReservationNote:   item.ReservationNote,
		ReservedAt:        utcPtr(item.ReservedAt),
	}
	if item.Product.ID != uuid.Nil {
		id := item.Product.ID
		m.ProductID = &id
	}
	if m.ReservationStatus == "" {
		m.ReservationStatus = string(trade.ReservationPending)
	}
	return m, nil
}

// EncodeAllocations serializes an allocation trace; nil encodes as an empty list
func EncodeAllocations(allocations []trade.BatchAllocation) (string, error) {
	if allocations == nil {
		allocations = []trade.BatchAllocation{}
	}
	data, err := json.Marshal(allocations)
	if err != nil {
		return "", fmt.Errorf("encode batch allocations: %w", err)
	}
	return string(data), nil
}

// DecodeAllocations parses an allocation trace column
func DecodeAllocations(raw string) ([]trade.BatchAllocation, error) {
	if raw == "" {
		return nil, nil
	}
	var allocations []trade.BatchAllocation
	if err := json.Unmarshal([]byte(raw), &allocations); err != nil {
		return nil, fmt.Errorf("decode batch allocations: %w", err)
	}
	if len(allocations) == 0 {
		return nil, nil
	}
	return allocations, nil
}
