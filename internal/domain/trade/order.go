package trade

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypeOrder is the aggregate type name used in domain events
const AggregateTypeOrder = "Order"

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// IsValid checks if the status is a known OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the status can move to target
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusPaid || target == OrderStatusCancelled
	case OrderStatusPaid:
		return target == OrderStatusProcessing || target == OrderStatusCancelled || target == OrderStatusRefunded
	case OrderStatusProcessing:
		return target == OrderStatusCompleted || target == OrderStatusRefunded
	case OrderStatusCompleted:
		return target == OrderStatusRefunded
	case OrderStatusCancelled, OrderStatusRefunded:
		return false
	}
	return false
}

// Operation is the kind of order mutation that produced a change notification
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// ReservationTriggered reports whether a mutation should reserve stock: the order was just
// created, or it moved into paid from a different status. Re-saves never trigger.
func ReservationTriggered(op Operation, order, previous *Order) bool {
	if order == nil {
		return false
	}
	if op == OperationCreate {
		return true
	}
	if order.Status != OrderStatusPaid {
		return false
	}
	return previous == nil || previous.Status != OrderStatusPaid
}

// ReservationStatus tracks the allocation outcome of an order line
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationAllocated ReservationStatus = "allocated"
	ReservationPartial   ReservationStatus = "partial"
	ReservationShortfall ReservationStatus = "shortfall"
	ReservationFailed    ReservationStatus = "failed"
)

// ErrLineAlreadyReserved is returned by line writes whose stored line is already settled
var ErrLineAlreadyReserved = shared.NewDomainError(shared.CodeAlreadyReserved, "order line already reserved")

// IsSettled reports whether the line already went through allocation.
// Pending and failed lines are eligible for another attempt.
func (s ReservationStatus) IsSettled() bool {
	switch s {
	case ReservationAllocated, ReservationPartial, ReservationShortfall:
		return true
	}
	return false
}

// BatchAllocation records which batch covered part of a line
type BatchAllocation struct {
	BatchNumber string `json:"batchNumber"`
	Quantity    int64  `json:"quantity"`
}

// ProductRef is a product reference that arrives either as a bare id or as an embedded
// product object with an "id" field. It always marshals as the bare id.
type ProductRef struct {
	ID uuid.UUID
}

// UnmarshalJSON accepts "uuid", {"id": "uuid", ...} and null
func (r *ProductRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		r.ID = uuid.Nil
		return nil
	}
	if data[0] == '{' {
		var embedded struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &embedded); err != nil {
			return fmt.Errorf("invalid product reference: %w", err)
		}
		return r.parse(embedded.ID)
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err != nil {
		return fmt.Errorf("invalid product reference: %w", err)
	}
	return r.parse(bare)
}

func (r *ProductRef) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		r.ID = uuid.Nil
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid product id %q: %w", s, err)
	}
	r.ID = id
	return nil
}

// MarshalJSON writes the bare id
func (r ProductRef) MarshalJSON() ([]byte, error) {
	if r.ID == uuid.Nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID.String())
}

// OrderItem is an order line
type OrderItem struct {
	ID                uuid.UUID
	Product           ProductRef
	VariantID         *uuid.UUID
	Quantity          int64
	BatchAllocations  []BatchAllocation
	ReservationStatus ReservationStatus
	Shortfall         int64
	ReservationNote   string
	ReservedAt        *time.Time
}

// NewOrderItem creates a pending order line
func NewOrderItem(productID uuid.UUID, variantID *uuid.UUID, quantity int64) (*OrderItem, error) {
	item := &OrderItem{
		ID:                uuid.New(),
		Product:           ProductRef{ID: productID},
		VariantID:         variantID,
		Quantity:          quantity,
		ReservationStatus: ReservationPending,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate checks line data
func (i *OrderItem) Validate() error {
	if i.Product.ID == uuid.Nil {
		return shared.NewValidationError("order item requires a product")
	}
	if i.VariantID != nil && *i.VariantID == uuid.Nil {
		return shared.NewValidationError("order item variant id must not be empty")
	}
	if i.Quantity <= 0 {
		return shared.NewValidationError("order item quantity must be positive, got %d", i.Quantity)
	}
	return nil
}

// StockRef resolves the stock reference of the line: the variant when one is named,
// otherwise the product.
func (i *OrderItem) StockRef() (inventory.ItemRef, error) {
	if err := i.Validate(); err != nil {
		return inventory.ItemRef{}, err
	}
	if i.VariantID != nil && *i.VariantID != uuid.Nil {
		return inventory.VariantRef(*i.VariantID), nil
	}
	return inventory.ProductRef(i.Product.ID), nil
}

// AllocatedQuantity sums the trace
func (i *OrderItem) AllocatedQuantity() int64 {
	var total int64
	for _, a := range i.BatchAllocations {
		total += a.Quantity
	}
	return total
}

// ItemReservation is the outcome recorded on a line
type ItemReservation struct {
	Status      ReservationStatus
	Allocations []BatchAllocation
	Shortfall   int64
	Note        string
	At          time.Time
}

// Apply writes the outcome onto the line
func (i *OrderItem) Apply(r ItemReservation) {
	i.ReservationStatus = r.Status
	i.BatchAllocations = append([]BatchAllocation(nil), r.Allocations...)
	i.Shortfall = r.Shortfall
	i.ReservationNote = r.Note
	at := r.At
	i.ReservedAt = &at
}

// Order is the aggregate whose lifecycle drives stock reservation
type Order struct {
	shared.BaseAggregateRoot
	OrderNumber  string
	Status       OrderStatus
	Items        []OrderItem
	HasShortfall bool
	Notes        string
}

// NewOrder creates a pending order
func NewOrder(orderNumber string, items []OrderItem) (*Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, shared.NewValidationError("order number is required")
	}
	if len(items) == 0 {
		return nil, shared.NewValidationError("order must contain at least one item")
	}
	for idx := range items {
		if err := items[idx].Validate(); err != nil {
			return nil, err
		}
		if items[idx].ID == uuid.Nil {
			items[idx].ID = uuid.New()
		}
		if items[idx].ReservationStatus == "" {
			items[idx].ReservationStatus = ReservationPending
		}
	}

	o := &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrderNumber:       orderNumber,
		Status:            OrderStatusPending,
		Items:             items,
	}
	o.AddDomainEvent(NewOrderCreatedEvent(o))
	return o, nil
}

// TransitionTo moves the order to target. A transition to the current status is a no-op
// re-save and raises no event.
func (o *Order) TransitionTo(target OrderStatus) error {
	if !target.IsValid() {
		return shared.NewValidationError("unknown order status %q", target)
	}
	if o.Status == target {
		return nil
	}
	if !o.Status.CanTransitionTo(target) {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot transition order from %s to %s", o.Status, target))
	}
	previous := o.Status
	o.Status = target
	o.UpdatedAt = time.Now()
	o.AddDomainEvent(NewOrderStatusChangedEvent(o, previous))
	return nil
}

// Item returns the line with id, or nil
func (o *Order) Item(id uuid.UUID) *OrderItem {
	for idx := range o.Items {
		if o.Items[idx].ID == id {
			return &o.Items[idx]
		}
	}
	return nil
}

// RecordReservation applies a line outcome and refreshes the shortfall flag
func (o *Order) RecordReservation(itemID uuid.UUID, r ItemReservation) error {
	item := o.Item(itemID)
	if item == nil {
		return shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("order item %s not found", itemID))
	}
	item.Apply(r)
	o.refreshShortfall()
	return nil
}

func (o *Order) refreshShortfall() {
	o.HasShortfall = false
	for idx := range o.Items {
		if o.Items[idx].Shortfall > 0 {
			o.HasShortfall = true
			return
		}
	}
}

// TotalShortfall sums line shortfalls
func (o *Order) TotalShortfall() int64 {
	var total int64
	for idx := range o.Items {
		total += o.Items[idx].Shortfall
	}
	return total
}

// Clone returns a deep copy without pending events
func (o *Order) Clone() *Order {
	c := *o
	c.ClearDomainEvents()
	c.Items = make([]OrderItem, len(o.Items))
	for idx, item := range o.Items {
		ci := item
		ci.BatchAllocations = append([]BatchAllocation(nil), item.BatchAllocations...)
		if item.VariantID != nil {
			v := *item.VariantID
			ci.VariantID = &v
		}
		if item.ReservedAt != nil {
			at := *item.ReservedAt
			ci.ReservedAt = &at
		}
		c.Items[idx] = ci
	}
	return &c
}
