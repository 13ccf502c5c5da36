package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxManager_WithinTransaction(t *testing.T) {
	db := setupTestDB(t)
	txm := NewTxManager(db)
	batches := NewGormBatchRepository(db)
	orders := NewGormOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, "SO-TX", 6)
	require.NoError(t, orders.Create(ctx, order))
	itemID := order.Items[0].ID

	t.Run("commits deduction and trace together", func(t *testing.T) {
		b := seedBatch(t, batches, "TX-1", inventory.ProductRef(uuid.New()), 10, nil, time.Now())

		err := txm.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := batches.CompareAndSetQuantity(ctx, b.ID, 10, 4, inventory.BatchStatusActive); err != nil {
				return err
			}
			if err := order.RecordReservation(itemID, trade.ItemReservation{
				Status:      trade.ReservationAllocated,
				Allocations: []trade.BatchAllocation{{BatchNumber: "TX-1", Quantity: 6}},
				At:          time.Now(),
			}); err != nil {
				return err
			}
			return orders.SaveItemReservation(ctx, order, itemID)
		})
		require.NoError(t, err)

		got, err := batches.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Quantity)

		saved, err := orders.FindByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, trade.ReservationAllocated, saved.Items[0].ReservationStatus)
	})

	t.Run("rolls back every write on error", func(t *testing.T) {
		b1 := seedBatch(t, batches, "TX-2", inventory.ProductRef(uuid.New()), 10, nil, time.Now())
		b2 := seedBatch(t, batches, "TX-3", inventory.ProductRef(uuid.New()), 10, nil, time.Now())

		err := txm.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := batches.CompareAndSetQuantity(ctx, b1.ID, 10, 0, inventory.BatchStatusDepleted); err != nil {
				return err
			}
			// stale expectation on the second batch aborts the unit
			return batches.CompareAndSetQuantity(ctx, b2.ID, 7, 0, inventory.BatchStatusDepleted)
		})
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

		got, err := batches.FindByID(ctx, b1.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Quantity)
		assert.Equal(t, inventory.BatchStatusActive, got.Status)
	})

	t.Run("reserving a settled line rolls its deduction back", func(t *testing.T) {
		b := seedBatch(t, batches, "TX-4", inventory.ProductRef(uuid.New()), 10, nil, time.Now())
		stale := newTestOrder(t, "SO-TX-STALE", 6)
		stale.ID = order.ID
		stale.Items[0].ID = itemID

		err := txm.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := batches.CompareAndSetQuantity(ctx, b.ID, 10, 4, inventory.BatchStatusActive); err != nil {
				return err
			}
			if err := stale.RecordReservation(itemID, trade.ItemReservation{
				Status:      trade.ReservationAllocated,
				Allocations: []trade.BatchAllocation{{BatchNumber: "TX-4", Quantity: 6}},
				At:          time.Now(),
			}); err != nil {
				return err
			}
			return orders.SaveItemReservation(ctx, stale, itemID)
		})
		assert.ErrorIs(t, err, trade.ErrLineAlreadyReserved)

		got, err := batches.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Quantity)

		saved, err := orders.FindByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, []trade.BatchAllocation{{BatchNumber: "TX-1", Quantity: 6}}, saved.Items[0].BatchAllocations)
	})

	t.Run("passes caller errors through", func(t *testing.T) {
		boom := errors.New("boom")
		err := txm.WithinTransaction(ctx, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}
