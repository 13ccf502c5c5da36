package inventory

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
)

// Allocation is one batch's contribution to a request
type Allocation struct {
	BatchID          uuid.UUID `json:"batch_id"`
	BatchNumber      string    `json:"batch_number"`
	ObservedQuantity int64     `json:"observed_quantity"`
	QuantityDeducted int64     `json:"quantity_deducted"`
	// RemainingQuantity is the batch quantity after the deduction
	RemainingQuantity int64 `json:"remaining_quantity"`
}

// AllocationPlan is the ordered set of deductions for a single request.
// TotalAllocated + Shortfall always equals Requested.
type AllocationPlan struct {
	Requested      int64        `json:"requested"`
	TotalAllocated int64        `json:"total_allocated"`
	Shortfall      int64        `json:"shortfall"`
	Allocations    []Allocation `json:"allocations"`
}

// IsFullyAllocated reports whether the request was covered
func (p AllocationPlan) IsFullyAllocated() bool {
	return p.Shortfall == 0
}

// IsEmpty reports whether no batch contributed
func (p AllocationPlan) IsEmpty() bool {
	return len(p.Allocations) == 0
}

// Allocator turns an ordered candidate list into an allocation plan
type Allocator interface {
	Allocate(candidates []*Batch, requested int64) AllocationPlan
	Name() string
}

// FEFOAllocator allocates First-Expired-First-Out. It trusts the caller's ordering
// (see SortFEFO) and performs no I/O.
type FEFOAllocator struct{}

// NewFEFOAllocator creates a FEFO allocator
func NewFEFOAllocator() *FEFOAllocator {
	return &FEFOAllocator{}
}

// Name returns the strategy name
func (a *FEFOAllocator) Name() string {
	return "fefo"
}

// Allocate walks candidates in order taking min(batch quantity, remaining) from each.
func (a *FEFOAllocator) Allocate(candidates []*Batch, requested int64) AllocationPlan {
	if requested < 0 {
		requested = 0
	}
	plan := AllocationPlan{
		Requested:   requested,
		Allocations: make([]Allocation, 0),
	}

	remaining := requested
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		if b == nil || b.Quantity <= 0 {
			continue
		}
		take := min(b.Quantity, remaining)
		plan.Allocations = append(plan.Allocations, Allocation{
			BatchID:           b.ID,
			BatchNumber:       b.BatchNumber,
			ObservedQuantity:  b.Quantity,
			QuantityDeducted:  take,
			RemainingQuantity: b.Quantity - take,
		})
		plan.TotalAllocated += take
		remaining -= take
	}

	plan.Shortfall = remaining
	return plan
}

var _ Allocator = (*FEFOAllocator)(nil)

// SortFEFO orders batches by expiry ascending with undated batches last, then by
// received date and batch number so the order is fully deterministic.
func SortFEFO(batches []*Batch) {
	slices.SortStableFunc(batches, compareFEFO)
}

func compareFEFO(a, b *Batch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	if c := a.ReceivedDate.Compare(b.ReceivedDate); c != 0 {
		return c
	}
	return cmp.Compare(a.BatchNumber, b.BatchNumber)
}
