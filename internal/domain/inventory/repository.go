package inventory

import (
	"context"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// BatchFilter narrows a batch listing
type BatchFilter struct {
	ProductID *uuid.UUID
	VariantID *uuid.UUID
	Status    *BatchStatus
	shared.Pagination
}

// BatchRepository is the batch store port
type BatchRepository interface {
	// FindByID returns shared.ErrNotFound when the batch does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)

	FindByBatchNumber(ctx context.Context, batchNumber string) (*Batch, error)

	// FindAllocatable returns active batches with quantity > 0 for ref that have not expired
	// at asOf, sorted FEFO (expiry ascending, undated last) and capped at limit.
	FindAllocatable(ctx context.Context, ref ItemRef, asOf time.Time, limit int) ([]*Batch, error)

	// List returns a FEFO-ordered page of batches and the total match count
	List(ctx context.Context, filter BatchFilter) ([]*Batch, int64, error)

	// Create inserts a new batch. Duplicate batch numbers return shared.ErrAlreadyExists.
	Create(ctx context.Context, batch *Batch) error

	// Update persists all fields when the stored version still equals batch.Version,
	// then increments batch.Version. Stale versions return shared.ErrConcurrencyConflict.
	Update(ctx context.Context, batch *Batch) error

	// CompareAndSetQuantity sets quantity and status only if the stored batch is still
	// active with exactly expected units. Otherwise shared.ErrConcurrencyConflict.
	CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, next int64, status BatchStatus) error

	// CompareAndSetStatus moves status from expected to next without touching quantity
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next BatchStatus) error

	// SumActiveQuantity totals the units of active batches for ref
	SumActiveQuantity(ctx context.Context, ref ItemRef) (int64, error)

	// FindExpiredActive returns up to limit batches still marked active whose expiry is before asOf
	FindExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*Batch, error)
}
