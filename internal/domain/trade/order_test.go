package trade

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, quantities ...int64) *Order {
	t.Helper()
	items := make([]OrderItem, 0, len(quantities))
	for _, q := range quantities {
		item, err := NewOrderItem(uuid.New(), nil, q)
		require.NoError(t, err)
		items = append(items, *item)
	}
	o, err := NewOrder("SO-1001", items)
	require.NoError(t, err)
	return o
}

func TestNewOrder(t *testing.T) {
	t.Run("creates pending order and raises created event", func(t *testing.T) {
		o := newTestOrder(t, 2, 3)

		assert.Equal(t, OrderStatusPending, o.Status)
		require.Len(t, o.GetDomainEvents(), 1)
		assert.Equal(t, EventTypeOrderCreated, o.GetDomainEvents()[0].EventType())
		for _, item := range o.Items {
			assert.Equal(t, ReservationPending, item.ReservationStatus)
		}
	})

	t.Run("requires items", func(t *testing.T) {
		_, err := NewOrder("SO-1", nil)
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("requires order number", func(t *testing.T) {
		item, err := NewOrderItem(uuid.New(), nil, 1)
		require.NoError(t, err)
		_, err = NewOrder(" ", []OrderItem{*item})
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := NewOrderItem(uuid.New(), nil, 0)
		assert.ErrorIs(t, err, shared.ErrValidation)
	})
}

func TestOrder_TransitionTo(t *testing.T) {
	t.Run("pending to paid raises status changed", func(t *testing.T) {
		o := newTestOrder(t, 1)
		o.ClearDomainEvents()

		require.NoError(t, o.TransitionTo(OrderStatusPaid))

		require.Len(t, o.GetDomainEvents(), 1)
		ev, ok := o.GetDomainEvents()[0].(*OrderStatusChangedEvent)
		require.True(t, ok)
		assert.Equal(t, OrderStatusPending, ev.PreviousStatus)
		assert.Equal(t, OrderStatusPaid, ev.Status)
	})

	t.Run("same status is a silent re-save", func(t *testing.T) {
		o := newTestOrder(t, 1)
		o.ClearDomainEvents()

		require.NoError(t, o.TransitionTo(OrderStatusPending))
		assert.Empty(t, o.GetDomainEvents())
	})

	t.Run("invalid transition", func(t *testing.T) {
		o := newTestOrder(t, 1)
		err := o.TransitionTo(OrderStatusCompleted)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("unknown status", func(t *testing.T) {
		o := newTestOrder(t, 1)
		assert.ErrorIs(t, o.TransitionTo("shipped"), shared.ErrValidation)
	})
}

func TestReservationTriggered(t *testing.T) {
	pending := &Order{Status: OrderStatusPending}
	paid := &Order{Status: OrderStatusPaid}
	processing := &Order{Status: OrderStatusProcessing}

	tests := []struct {
		name     string
		op       Operation
		order    *Order
		previous *Order
		want     bool
	}{
		{"create always triggers", OperationCreate, pending, nil, true},
		{"transition into paid", OperationUpdate, paid, pending, true},
		{"paid without previous", OperationUpdate, paid, nil, true},
		{"paid re-save", OperationUpdate, paid, paid, false},
		{"pending re-save", OperationUpdate, pending, pending, false},
		{"paid to processing", OperationUpdate, processing, paid, false},
		{"nil order", OperationCreate, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReservationTriggered(tt.op, tt.order, tt.previous))
		})
	}
}

func TestProductRef_JSON(t *testing.T) {
	id := uuid.New()

	t.Run("bare id", func(t *testing.T) {
		var ref ProductRef
		require.NoError(t, json.Unmarshal([]byte(`"`+id.String()+`"`), &ref))
		assert.Equal(t, id, ref.ID)
	})

	t.Run("embedded object", func(t *testing.T) {
		var ref ProductRef
		payload := `{"id":"` + id.String() + `","title":"Greek yoghurt","enableVariants":true}`
		require.NoError(t, json.Unmarshal([]byte(payload), &ref))
		assert.Equal(t, id, ref.ID)
	})

	t.Run("null", func(t *testing.T) {
		ref := ProductRef{ID: id}
		require.NoError(t, json.Unmarshal([]byte(`null`), &ref))
		assert.Equal(t, uuid.Nil, ref.ID)
	})

	t.Run("malformed", func(t *testing.T) {
		var ref ProductRef
		assert.Error(t, json.Unmarshal([]byte(`"not-a-uuid"`), &ref))
		assert.Error(t, json.Unmarshal([]byte(`42`), &ref))
	})

	t.Run("marshals as bare id", func(t *testing.T) {
		data, err := json.Marshal(ProductRef{ID: id})
		require.NoError(t, err)
		assert.Equal(t, `"`+id.String()+`"`, string(data))
	})
}

func TestOrderItem_StockRef(t *testing.T) {
	productID, variantID := uuid.New(), uuid.New()

	item, err := NewOrderItem(productID, nil, 2)
	require.NoError(t, err)
	ref, err := item.StockRef()
	require.NoError(t, err)
	assert.Equal(t, productID, *ref.ProductID)
	assert.Nil(t, ref.VariantID)

	item, err = NewOrderItem(productID, &variantID, 2)
	require.NoError(t, err)
	ref, err = item.StockRef()
	require.NoError(t, err)
	assert.Equal(t, variantID, *ref.VariantID)
	assert.Nil(t, ref.ProductID)

	broken := OrderItem{Quantity: 1}
	_, err = broken.StockRef()
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestNewOrderItem_RequiresProduct(t *testing.T) {
	variantID := uuid.New()

	_, err := NewOrderItem(uuid.Nil, &variantID, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	empty := uuid.Nil
	_, err = NewOrderItem(uuid.New(), &empty, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewOrderItem(uuid.New(), nil, 1)
	assert.NoError(t, err)
}

func TestOrder_RecordReservation(t *testing.T) {
	o := newTestOrder(t, 5, 4)
	now := time.Now()

	require.NoError(t, o.RecordReservation(o.Items[0].ID, ItemReservation{
		Status:      ReservationAllocated,
		Allocations: []BatchAllocation{{BatchNumber: "B1", Quantity: 5}},
		At:          now,
	}))
	assert.False(t, o.HasShortfall)
	assert.Equal(t, int64(5), o.Items[0].AllocatedQuantity())
	assert.True(t, o.Items[0].ReservationStatus.IsSettled())

	require.NoError(t, o.RecordReservation(o.Items[1].ID, ItemReservation{
		Status:      ReservationPartial,
		Allocations: []BatchAllocation{{BatchNumber: "B1", Quantity: 1}},
		Shortfall:   3,
		At:          now,
	}))
	assert.True(t, o.HasShortfall)
	assert.Equal(t, int64(3), o.TotalShortfall())

	err := o.RecordReservation(uuid.New(), ItemReservation{Status: ReservationAllocated})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOrder_Clone(t *testing.T) {
	o := newTestOrder(t, 5)
	o.Items[0].BatchAllocations = []BatchAllocation{{BatchNumber: "B1", Quantity: 5}}

	c := o.Clone()
	c.Items[0].BatchAllocations[0].Quantity = 1
	c.Status = OrderStatusPaid

	assert.Equal(t, int64(5), o.Items[0].BatchAllocations[0].Quantity)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Empty(t, c.GetDomainEvents())
}
