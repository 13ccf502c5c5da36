package inventory

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(t *testing.T, number string, qty int64, expiry *time.Time) *Batch {
	t.Helper()
	b, err := NewBatch(number, ProductRef(uuid.New()), qty, time.Time{})
	require.NoError(t, err)
	b.ExpiryDate = expiry
	return b
}

func dateAt(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestFEFOAllocator_Allocate(t *testing.T) {
	allocator := NewFEFOAllocator()

	t.Run("request spans two batches", func(t *testing.T) {
		b1 := testBatch(t, "B1", 5, dateAt(2025, 1, 1))
		b2 := testBatch(t, "B2", 10, dateAt(2025, 2, 1))

		plan := allocator.Allocate([]*Batch{b1, b2}, 12)

		require.Len(t, plan.Allocations, 2)
		assert.Equal(t, "B1", plan.Allocations[0].BatchNumber)
		assert.Equal(t, int64(5), plan.Allocations[0].QuantityDeducted)
		assert.Equal(t, int64(0), plan.Allocations[0].RemainingQuantity)
		assert.Equal(t, "B2", plan.Allocations[1].BatchNumber)
		assert.Equal(t, int64(7), plan.Allocations[1].QuantityDeducted)
		assert.Equal(t, int64(3), plan.Allocations[1].RemainingQuantity)
		assert.Equal(t, int64(12), plan.TotalAllocated)
		assert.Equal(t, int64(0), plan.Shortfall)
		assert.True(t, plan.IsFullyAllocated())
	})

	t.Run("insufficient stock reports shortfall", func(t *testing.T) {
		b1 := testBatch(t, "B1", 5, dateAt(2025, 1, 1))
		b2 := testBatch(t, "B2", 10, dateAt(2025, 2, 1))

		plan := allocator.Allocate([]*Batch{b1, b2}, 20)

		require.Len(t, plan.Allocations, 2)
		assert.Equal(t, int64(15), plan.TotalAllocated)
		assert.Equal(t, int64(5), plan.Shortfall)
		assert.Equal(t, int64(0), plan.Allocations[0].RemainingQuantity)
		assert.Equal(t, int64(0), plan.Allocations[1].RemainingQuantity)
	})

	t.Run("no candidates", func(t *testing.T) {
		plan := allocator.Allocate(nil, 8)

		assert.True(t, plan.IsEmpty())
		assert.Equal(t, int64(0), plan.TotalAllocated)
		assert.Equal(t, int64(8), plan.Shortfall)
	})

	t.Run("zero request yields empty plan", func(t *testing.T) {
		b1 := testBatch(t, "B1", 5, dateAt(2025, 1, 1))

		plan := allocator.Allocate([]*Batch{b1}, 0)

		assert.True(t, plan.IsEmpty())
		assert.Equal(t, int64(0), plan.Shortfall)
		assert.NotNil(t, plan.Allocations)
	})

	t.Run("exact match fully consumes a single batch", func(t *testing.T) {
		b1 := testBatch(t, "B1", 9, dateAt(2025, 3, 1))

		plan := allocator.Allocate([]*Batch{b1}, 9)

		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, int64(0), plan.Allocations[0].RemainingQuantity)
		assert.Equal(t, int64(9), plan.Allocations[0].ObservedQuantity)
		assert.Equal(t, int64(0), plan.Shortfall)
	})

	t.Run("stops once satisfied", func(t *testing.T) {
		b1 := testBatch(t, "B1", 10, dateAt(2025, 1, 1))
		b2 := testBatch(t, "B2", 10, dateAt(2025, 2, 1))

		plan := allocator.Allocate([]*Batch{b1, b2}, 4)

		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, "B1", plan.Allocations[0].BatchNumber)
		assert.Equal(t, int64(6), plan.Allocations[0].RemainingQuantity)
	})

	t.Run("skips empty batches and does not re-sort", func(t *testing.T) {
		late := testBatch(t, "LATE", 3, dateAt(2026, 1, 1))
		empty := testBatch(t, "EMPTY", 0, dateAt(2024, 1, 1))
		early := testBatch(t, "EARLY", 3, dateAt(2025, 1, 1))

		plan := allocator.Allocate([]*Batch{late, empty, early}, 4)

		require.Len(t, plan.Allocations, 2)
		assert.Equal(t, "LATE", plan.Allocations[0].BatchNumber)
		assert.Equal(t, "EARLY", plan.Allocations[1].BatchNumber)
	})

	t.Run("negative request is treated as zero", func(t *testing.T) {
		b1 := testBatch(t, "B1", 5, nil)

		plan := allocator.Allocate([]*Batch{b1}, -3)

		assert.True(t, plan.IsEmpty())
		assert.Equal(t, int64(0), plan.Requested)
		assert.Equal(t, int64(0), plan.Shortfall)
	})
}

func TestFEFOAllocator_Properties(t *testing.T) {
	allocator := NewFEFOAllocator()
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		n := rng.Intn(6)
		batches := make([]*Batch, 0, n)
		for j := 0; j < n; j++ {
			var expiry *time.Time
			if rng.Intn(4) > 0 {
				e := base.Add(time.Duration(rng.Intn(365)) * 24 * time.Hour)
				expiry = &e
			}
			batches = append(batches, testBatch(t, uuid.NewString()[:8], int64(rng.Intn(20)+1), expiry))
		}
		SortFEFO(batches)
		requested := int64(rng.Intn(60))

		plan := allocator.Allocate(batches, requested)

		require.Equal(t, requested, plan.TotalAllocated+plan.Shortfall, "iteration %d", i)
		byID := make(map[uuid.UUID]*Batch, len(batches))
		for _, b := range batches {
			byID[b.ID] = b
		}
		var sum int64
		for k, a := range plan.Allocations {
			src := byID[a.BatchID]
			require.NotNil(t, src)
			assert.GreaterOrEqual(t, a.RemainingQuantity, int64(0))
			assert.LessOrEqual(t, a.QuantityDeducted, src.Quantity)
			assert.Equal(t, src.Quantity, a.QuantityDeducted+a.RemainingQuantity)
			// every batch before the last one touched is exhausted
			if k < len(plan.Allocations)-1 {
				assert.Equal(t, int64(0), a.RemainingQuantity)
			}
			sum += a.QuantityDeducted
		}
		assert.Equal(t, plan.TotalAllocated, sum)
	}
}

func TestSortFEFO(t *testing.T) {
	received := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	noExpiry := testBatch(t, "NONE", 1, nil)
	feb := testBatch(t, "FEB", 1, dateAt(2025, 2, 1))
	janLate := testBatch(t, "JAN-B", 1, dateAt(2025, 1, 1))
	janEarly := testBatch(t, "JAN-A", 1, dateAt(2025, 1, 1))
	for _, b := range []*Batch{noExpiry, feb, janLate, janEarly} {
		b.ReceivedDate = received
	}

	batches := []*Batch{noExpiry, feb, janLate, janEarly}
	SortFEFO(batches)

	got := make([]string, 0, len(batches))
	for _, b := range batches {
		got = append(got, b.BatchNumber)
	}
	assert.Equal(t, []string{"JAN-A", "JAN-B", "FEB", "NONE"}, got)
}
