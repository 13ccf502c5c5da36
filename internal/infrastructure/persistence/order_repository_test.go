package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, number string, quantities ...int64) *trade.Order {
	t.Helper()
	items := make([]trade.OrderItem, len(quantities))
	for i, qty := range quantities {
		item, err := trade.NewOrderItem(uuid.New(), nil, qty)
		require.NoError(t, err)
		items[i] = *item
	}
	order, err := trade.NewOrder(number, items)
	require.NoError(t, err)
	return order
}

func TestGormOrderRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, "SO-1001", 3, 5, 8)
	variantID := uuid.New()
	order.Items[1].VariantID = &variantID
	require.NoError(t, repo.Create(ctx, order))

	t.Run("loads lines in order", func(t *testing.T) {
		got, err := repo.FindByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "SO-1001", got.OrderNumber)
		assert.Equal(t, trade.OrderStatusPending, got.Status)
		assert.Equal(t, 1, got.Version)
		require.Len(t, got.Items, 3)
		for i := range order.Items {
			assert.Equal(t, order.Items[i].ID, got.Items[i].ID)
			assert.Equal(t, order.Items[i].Product.ID, got.Items[i].Product.ID)
			assert.Equal(t, order.Items[i].Quantity, got.Items[i].Quantity)
			assert.Equal(t, trade.ReservationPending, got.Items[i].ReservationStatus)
			assert.Empty(t, got.Items[i].BatchAllocations)
		}
		require.NotNil(t, got.Items[1].VariantID)
		assert.Equal(t, variantID, *got.Items[1].VariantID)
	})

	t.Run("loads by order number", func(t *testing.T) {
		got, err := repo.FindByOrderNumber(ctx, "SO-1001")
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
	})

	t.Run("unknown order is not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("duplicate order number already exists", func(t *testing.T) {
		err := repo.Create(ctx, newTestOrder(t, "SO-1001", 1))
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})
}

func TestGormOrderRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, "SO-2001", 1)
	require.NoError(t, repo.Create(ctx, order))

	require.NoError(t, order.TransitionTo(trade.OrderStatusPaid))
	require.NoError(t, repo.UpdateStatus(ctx, order))
	assert.Equal(t, 2, order.Version)

	got, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.OrderStatusPaid, got.Status)
	assert.Equal(t, 2, got.Version)

	t.Run("stale version conflicts", func(t *testing.T) {
		stale := got.Clone()
		stale.Version = 1
		err := repo.UpdateStatus(ctx, stale)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})

	t.Run("unknown order is not found", func(t *testing.T) {
		ghost := got.Clone()
		ghost.ID = uuid.New()
		err := repo.UpdateStatus(ctx, ghost)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormOrderRepository_SaveItemReservation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, "SO-3001", 12, 4)
	require.NoError(t, repo.Create(ctx, order))

	first := order.Items[0].ID
	require.NoError(t, order.RecordReservation(first, trade.ItemReservation{
		Status: trade.ReservationPartial,
		Allocations: []trade.BatchAllocation{
			{BatchNumber: "B1", Quantity: 5},
			{BatchNumber: "B2", Quantity: 3},
		},
		Shortfall: 4,
		Note:      "insufficient stock",
		At:        time.Now(),
	}))
	require.NoError(t, repo.SaveItemReservation(ctx, order, first))

	got, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.HasShortfall)
	assert.Equal(t, 1, got.Version, "reservation writes leave the order version alone")

	line := got.Item(first)
	require.NotNil(t, line)
	assert.Equal(t, trade.ReservationPartial, line.ReservationStatus)
	assert.Equal(t, []trade.BatchAllocation{{BatchNumber: "B1", Quantity: 5}, {BatchNumber: "B2", Quantity: 3}}, line.BatchAllocations)
	assert.Equal(t, int64(4), line.Shortfall)
	assert.Equal(t, "insufficient stock", line.ReservationNote)
	assert.NotNil(t, line.ReservedAt)

	other := got.Item(order.Items[1].ID)
	require.NotNil(t, other)
	assert.Equal(t, trade.ReservationPending, other.ReservationStatus, "other lines are untouched")

	t.Run("unknown line is not found", func(t *testing.T) {
		err := repo.SaveItemReservation(ctx, order, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("settled line is not overwritten", func(t *testing.T) {
		stale, err := repo.FindByID(ctx, order.ID)
		require.NoError(t, err)
		stale.Items[0].ReservationStatus = trade.ReservationPending
		require.NoError(t, stale.RecordReservation(first, trade.ItemReservation{
			Status:      trade.ReservationAllocated,
			Allocations: []trade.BatchAllocation{{BatchNumber: "B9", Quantity: 12}},
			At:          time.Now(),
		}))

		err = repo.SaveItemReservation(ctx, stale, first)
		assert.ErrorIs(t, err, trade.ErrLineAlreadyReserved)
		assert.NotErrorIs(t, err, shared.ErrConcurrencyConflict)

		got, err := repo.FindByID(ctx, order.ID)
		require.NoError(t, err)
		line := got.Item(first)
		assert.Equal(t, trade.ReservationPartial, line.ReservationStatus)
		assert.Equal(t, []trade.BatchAllocation{{BatchNumber: "B1", Quantity: 5}, {BatchNumber: "B2", Quantity: 3}}, line.BatchAllocations)
	})

	t.Run("failed line can be written again", func(t *testing.T) {
		second := order.Items[1].ID
		require.NoError(t, order.RecordReservation(second, trade.ItemReservation{
			Status: trade.ReservationFailed,
			Note:   "store unavailable",
			At:     time.Now(),
		}))
		require.NoError(t, repo.SaveItemReservation(ctx, order, second))

		require.NoError(t, order.RecordReservation(second, trade.ItemReservation{
			Status:      trade.ReservationAllocated,
			Allocations: []trade.BatchAllocation{{BatchNumber: "B2", Quantity: 4}},
			At:          time.Now(),
		}))
		require.NoError(t, repo.SaveItemReservation(ctx, order, second))

		got, err := repo.FindByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, trade.ReservationAllocated, got.Item(second).ReservationStatus)
	})
}
