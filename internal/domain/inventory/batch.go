package inventory

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeBatch is the aggregate type name used in domain events
const AggregateTypeBatch = "InventoryBatch"

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusDepleted BatchStatus = "depleted"
	BatchStatusExpired  BatchStatus = "expired"
	BatchStatusReserved BatchStatus = "reserved"
	BatchStatusRecalled BatchStatus = "recalled"
)

// AllBatchStatuses lists every known status
var AllBatchStatuses = []BatchStatus{
	BatchStatusActive,
	BatchStatusDepleted,
	BatchStatusExpired,
	BatchStatusReserved,
	BatchStatusRecalled,
}

// IsValid reports whether s is a known status
func (s BatchStatus) IsValid() bool {
	for _, known := range AllBatchStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s BatchStatus) String() string {
	return string(s)
}

// ParseBatchStatus converts a string into a BatchStatus
func ParseBatchStatus(s string) (BatchStatus, error) {
	status := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", shared.NewValidationError("unknown batch status %q", s)
	}
	return status, nil
}

// ItemRef identifies what a batch holds: either a product or a product variant, never both.
type ItemRef struct {
	ProductID *uuid.UUID
	VariantID *uuid.UUID
}

// ProductRef references a plain product
func ProductRef(id uuid.UUID) ItemRef {
	return ItemRef{ProductID: &id}
}

// VariantRef references a product variant
func VariantRef(id uuid.UUID) ItemRef {
	return ItemRef{VariantID: &id}
}

// Validate enforces that exactly one of product and variant is set
func (r ItemRef) Validate() error {
	hasProduct := r.ProductID != nil && *r.ProductID != uuid.Nil
	hasVariant := r.VariantID != nil && *r.VariantID != uuid.Nil
	switch {
	case hasProduct && hasVariant:
		return shared.NewValidationError("batch must reference either a product or a variant, not both")
	case !hasProduct && !hasVariant:
		return shared.NewValidationError("batch must reference a product or a variant")
	}
	return nil
}

// IsVariant reports whether the reference points at a variant
func (r ItemRef) IsVariant() bool {
	return r.VariantID != nil && *r.VariantID != uuid.Nil
}

func (r ItemRef) String() string {
	switch {
	case r.IsVariant():
		return "variant:" + r.VariantID.String()
	case r.ProductID != nil:
		return "product:" + r.ProductID.String()
	default:
		return "none"
	}
}

// Batch is a discrete receipt of physical stock with its own quantity and expiry tracking
type Batch struct {
	shared.BaseAggregateRoot
	BatchNumber     string
	ProductID       *uuid.UUID
	VariantID       *uuid.UUID
	Quantity        int64
	Status          BatchStatus
	ExpiryDate      *time.Time
	ManufactureDate *time.Time
	ReceivedDate    time.Time
	Supplier        string
	CostPerUnit     decimal.Decimal
	Notes           string
}

// NewBatch creates an active batch. The result is validated before it is returned.
func NewBatch(batchNumber string, ref ItemRef, quantity int64, receivedDate time.Time) (*Batch, error) {
	b := &Batch{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BatchNumber:       strings.TrimSpace(batchNumber),
		ProductID:         ref.ProductID,
		VariantID:         ref.VariantID,
		Quantity:          quantity,
		Status:            BatchStatusActive,
		ReceivedDate:      receivedDate,
		CostPerUnit:       decimal.Zero,
	}
	if b.ReceivedDate.IsZero() {
		b.ReceivedDate = b.CreatedAt
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Ref returns the product or variant this batch holds
func (b *Batch) Ref() ItemRef {
	return ItemRef{ProductID: b.ProductID, VariantID: b.VariantID}
}

// Validate checks the write invariants of a batch
func (b *Batch) Validate() error {
	if b.BatchNumber == "" {
		return shared.NewValidationError("batch number is required")
	}
	if len(b.BatchNumber) > 64 {
		return shared.NewValidationError("batch number cannot exceed 64 characters")
	}
	if err := b.Ref().Validate(); err != nil {
		return err
	}
	if b.Quantity < 0 {
		return shared.NewValidationError("batch quantity cannot be negative, got %d", b.Quantity)
	}
	if !b.Status.IsValid() {
		return shared.NewValidationError("unknown batch status %q", b.Status)
	}
	if b.CostPerUnit.IsNegative() {
		return shared.NewValidationError("cost per unit cannot be negative")
	}
	if b.ManufactureDate != nil && b.ExpiryDate != nil && b.ExpiryDate.Before(*b.ManufactureDate) {
		return shared.NewValidationError("expiry date cannot precede manufacture date")
	}
	return nil
}

// IsExpiredAt reports whether the expiry date is strictly before now
func (b *Batch) IsExpiredAt(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}

// DaysUntilExpiry returns the floor of whole days left before expiry.
// ok is false when the batch has no expiry date.
func (b *Batch) DaysUntilExpiry(now time.Time) (days int, ok bool) {
	if b.ExpiryDate == nil {
		return 0, false
	}
	remaining := b.ExpiryDate.Sub(now)
	return int(math.Floor(remaining.Hours() / 24)), true
}

// IsAllocatable reports whether the batch may contribute to an allocation at now
func (b *Batch) IsAllocatable(now time.Time) bool {
	return b.Status == BatchStatusActive && b.Quantity > 0 && !b.IsExpiredAt(now)
}

// Clone returns a copy that shares no pointers with b
func (b *Batch) Clone() *Batch {
	c := *b
	c.ProductID = cloneUUID(b.ProductID)
	c.VariantID = cloneUUID(b.VariantID)
	c.ExpiryDate = cloneTime(b.ExpiryDate)
	c.ManufactureDate = cloneTime(b.ManufactureDate)
	c.ClearDomainEvents()
	return &c
}

func (b *Batch) String() string {
	return fmt.Sprintf("%s(%s qty=%d status=%s)", b.BatchNumber, b.Ref(), b.Quantity, b.Status)
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
