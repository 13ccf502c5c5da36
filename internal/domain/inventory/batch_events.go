package inventory

import (
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeBatchReceived          = "BatchReceived"
	EventTypeBatchDepleted          = "BatchDepleted"
	EventTypeBatchReactivated       = "BatchReactivated"
	EventTypeBatchExpired           = "BatchExpired"
	EventTypeStockShortfallDetected = "StockShortfallDetected"
)

// BatchStatusChangedEvent is raised when the lifecycle policy moves a batch between statuses.
// Its type is one of BatchDepleted, BatchReactivated or BatchExpired.
type BatchStatusChangedEvent struct {
	shared.BaseDomainEvent
	BatchID     uuid.UUID   `json:"batch_id"`
	BatchNumber string      `json:"batch_number"`
	ProductID   *uuid.UUID  `json:"product_id,omitempty"`
	VariantID   *uuid.UUID  `json:"variant_id,omitempty"`
	From        BatchStatus `json:"from"`
	To          BatchStatus `json:"to"`
	Quantity    int64       `json:"quantity"`
}

// NewBatchStatusChangedEvent maps a transition to its event. ok is false for transitions
// that do not warrant an event (no change, or a manual move to reserved/recalled).
func NewBatchStatusChangedEvent(b *Batch, t Transition) (event *BatchStatusChangedEvent, ok bool) {
	if !t.Changed() {
		return nil, false
	}
	var eventType string
	switch t.To {
	case BatchStatusDepleted:
		eventType = EventTypeBatchDepleted
	case BatchStatusExpired:
		eventType = EventTypeBatchExpired
	case BatchStatusActive:
		if t.From != BatchStatusDepleted {
			return nil, false
		}
		eventType = EventTypeBatchReactivated
	default:
		return nil, false
	}
	return &BatchStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateTypeBatch, b.ID),
		BatchID:         b.ID,
		BatchNumber:     b.BatchNumber,
		ProductID:       b.ProductID,
		VariantID:       b.VariantID,
		From:            t.From,
		To:              t.To,
		Quantity:        b.Quantity,
	}, true
}

// BatchReceivedEvent is raised when a new batch is recorded
type BatchReceivedEvent struct {
	shared.BaseDomainEvent
	BatchID     uuid.UUID  `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	ProductID   *uuid.UUID `json:"product_id,omitempty"`
	VariantID   *uuid.UUID `json:"variant_id,omitempty"`
	Quantity    int64      `json:"quantity"`
}

// NewBatchReceivedEvent creates a BatchReceivedEvent
func NewBatchReceivedEvent(b *Batch) *BatchReceivedEvent {
	return &BatchReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchReceived, AggregateTypeBatch, b.ID),
		BatchID:         b.ID,
		BatchNumber:     b.BatchNumber,
		ProductID:       b.ProductID,
		VariantID:       b.VariantID,
		Quantity:        b.Quantity,
	}
}

// StockShortfallDetectedEvent is raised when an order line could not be fully sourced.
// It is an operator diagnostic; it does not change the order's status.
type StockShortfallDetectedEvent struct {
	shared.BaseDomainEvent
	OrderID        uuid.UUID  `json:"order_id"`
	OrderItemID    uuid.UUID  `json:"order_item_id"`
	ProductID      *uuid.UUID `json:"product_id,omitempty"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Requested      int64      `json:"requested"`
	TotalAllocated int64      `json:"total_allocated"`
	Shortfall      int64      `json:"shortfall"`
	Reason         string     `json:"reason"`
}

// NewStockShortfallDetectedEvent creates a StockShortfallDetectedEvent
func NewStockShortfallDetectedEvent(orderID, itemID uuid.UUID, ref ItemRef, plan AllocationPlan, reason string) *StockShortfallDetectedEvent {
	return &StockShortfallDetectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeStockShortfallDetected, "Order", orderID),
		OrderID:         orderID,
		OrderItemID:     itemID,
		ProductID:       ref.ProductID,
		VariantID:       ref.VariantID,
		Requested:       plan.Requested,
		TotalAllocated:  plan.TotalAllocated,
		Shortfall:       plan.Shortfall,
		Reason:          reason,
	}
}
