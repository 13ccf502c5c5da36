package trade

import (
	"context"
	"errors"
	"sync"
	"testing"

	appinventory "github.com/erp/batchalloc/internal/application/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockOrderRepository is a testify mock of trade.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*trade.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, uuid.UUID) *trade.Order); ok {
		return fn(ctx, id), args.Error(1)
	}
	return args.Get(0).(*trade.Order), args.Error(1)
}

func (m *MockOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*trade.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trade.Order), args.Error(1)
}

func (m *MockOrderRepository) Create(ctx context.Context, order *trade.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, order *trade.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *MockOrderRepository) SaveItemReservation(ctx context.Context, order *trade.Order, itemID uuid.UUID) error {
	return m.Called(ctx, order, itemID).Error(0)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MockEventPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType()
	}
	return out
}

// fakeReserver records Reserve calls
type fakeReserver struct {
	mu    sync.Mutex
	calls []reserveCall
	err   error
}

type reserveCall struct {
	order    *trade.Order
	previous *trade.Order
	op       trade.Operation
}

func (f *fakeReserver) Reserve(ctx context.Context, order, previous *trade.Order, op trade.Operation) (*trade.Order, *appinventory.ReservationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reserveCall{order: order, previous: previous, op: op})
	if f.err != nil {
		return order, nil, f.err
	}
	return order, &appinventory.ReservationReport{OrderID: order.ID, Triggered: trade.ReservationTriggered(op, order, previous)}, nil
}

func newPendingOrder(t *testing.T, number string) *trade.Order {
	t.Helper()
	item, err := trade.NewOrderItem(uuid.New(), nil, 2)
	require.NoError(t, err)
	order, err := trade.NewOrder(number, []trade.OrderItem{*item})
	require.NoError(t, err)
	order.ClearDomainEvents()
	return order
}

func TestOrderService_CreateOrder(t *testing.T) {
	t.Run("persists and publishes OrderCreated", func(t *testing.T) {
		repo := new(MockOrderRepository)
		publisher := &MockEventPublisher{}
		svc := NewOrderService(repo, publisher, zap.NewNop())

		var created *trade.Order
		repo.On("Create", mock.Anything, mock.AnythingOfType("*trade.Order")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*trade.Order) }).
			Return(nil)
		repo.On("FindByID", mock.Anything, mock.AnythingOfType("uuid.UUID")).
			Return(func(ctx context.Context, id uuid.UUID) *trade.Order { return created.Clone() }, nil)

		productID := uuid.New()
		resp, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
			OrderNumber: "SO-100",
			Items:       []OrderItemRequest{{Product: trade.ProductRef{ID: productID}, Quantity: 3}},
		})
		require.NoError(t, err)

		assert.Equal(t, "SO-100", resp.OrderNumber)
		assert.Equal(t, "pending", resp.Status)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, productID, resp.Items[0].ProductID)
		assert.Equal(t, "pending", resp.Items[0].ReservationStatus)
		assert.Equal(t, []string{trade.EventTypeOrderCreated}, publisher.types())
		assert.Empty(t, created.GetDomainEvents())
	})

	t.Run("invalid line is rejected before persisting", func(t *testing.T) {
		repo := new(MockOrderRepository)
		svc := NewOrderService(repo, nil, zap.NewNop())

		_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
			OrderNumber: "SO-101",
			Items:       []OrderItemRequest{{Quantity: 3}},
		})
		assert.True(t, errors.Is(err, shared.ErrValidation))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("duplicate order number", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Create", mock.Anything, mock.Anything).Return(shared.ErrAlreadyExists)
		publisher := &MockEventPublisher{}
		svc := NewOrderService(repo, publisher, zap.NewNop())

		_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
			OrderNumber: "SO-102",
			Items:       []OrderItemRequest{{Product: trade.ProductRef{ID: uuid.New()}, Quantity: 1}},
		})
		assert.True(t, errors.Is(err, shared.ErrAlreadyExists))
		assert.Empty(t, publisher.types())
	})
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	t.Run("valid transition publishes OrderStatusChanged", func(t *testing.T) {
		order := newPendingOrder(t, "SO-200")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		repo.On("UpdateStatus", mock.Anything, order).Return(nil)
		publisher := &MockEventPublisher{}
		svc := NewOrderService(repo, publisher, zap.NewNop())

		resp, err := svc.UpdateOrderStatus(context.Background(), order.ID, UpdateOrderStatusRequest{Status: "paid"})
		require.NoError(t, err)
		assert.Equal(t, "paid", resp.Status)
		assert.Equal(t, []string{trade.EventTypeOrderStatusChanged}, publisher.types())
		repo.AssertExpectations(t)
	})

	t.Run("same status is a silent re-save", func(t *testing.T) {
		order := newPendingOrder(t, "SO-201")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		publisher := &MockEventPublisher{}
		svc := NewOrderService(repo, publisher, zap.NewNop())

		_, err := svc.UpdateOrderStatus(context.Background(), order.ID, UpdateOrderStatusRequest{Status: "pending"})
		require.NoError(t, err)
		assert.Empty(t, publisher.types())
		repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	})

	t.Run("invalid transition", func(t *testing.T) {
		order := newPendingOrder(t, "SO-202")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		svc := NewOrderService(repo, nil, zap.NewNop())

		_, err := svc.UpdateOrderStatus(context.Background(), order.ID, UpdateOrderStatusRequest{Status: "completed"})
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
	})

	t.Run("missing order", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, mock.Anything).Return(nil, shared.ErrNotFound)
		svc := NewOrderService(repo, nil, zap.NewNop())

		_, err := svc.UpdateOrderStatus(context.Background(), uuid.New(), UpdateOrderStatusRequest{Status: "paid"})
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})
}

func TestOrderReservationHandler(t *testing.T) {
	t.Run("created event reserves with create operation", func(t *testing.T) {
		order := newPendingOrder(t, "SO-300")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		reserver := &fakeReserver{}
		h := NewOrderReservationHandler(repo, reserver, zap.NewNop())

		require.NoError(t, h.Handle(context.Background(), trade.NewOrderCreatedEvent(order)))

		require.Len(t, reserver.calls, 1)
		assert.Equal(t, trade.OperationCreate, reserver.calls[0].op)
		assert.Nil(t, reserver.calls[0].previous)
	})

	t.Run("status event rebuilds the previous order", func(t *testing.T) {
		order := newPendingOrder(t, "SO-301")
		require.NoError(t, order.TransitionTo(trade.OrderStatusPaid))
		evt := order.GetDomainEvents()[0]
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		reserver := &fakeReserver{}
		h := NewOrderReservationHandler(repo, reserver, zap.NewNop())

		require.NoError(t, h.Handle(context.Background(), evt))

		require.Len(t, reserver.calls, 1)
		call := reserver.calls[0]
		assert.Equal(t, trade.OperationUpdate, call.op)
		require.NotNil(t, call.previous)
		assert.Equal(t, trade.OrderStatusPending, call.previous.Status)
		assert.Equal(t, trade.OrderStatusPaid, call.order.Status)
	})

	t.Run("vanished order is skipped", func(t *testing.T) {
		order := newPendingOrder(t, "SO-302")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(nil, shared.ErrNotFound)
		reserver := &fakeReserver{}
		h := NewOrderReservationHandler(repo, reserver, zap.NewNop())

		require.NoError(t, h.Handle(context.Background(), trade.NewOrderCreatedEvent(order)))
		assert.Empty(t, reserver.calls)
	})

	t.Run("reservation errors propagate", func(t *testing.T) {
		order := newPendingOrder(t, "SO-303")
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, order.ID).Return(order, nil)
		reserver := &fakeReserver{err: shared.ErrStoreUnavailable}
		h := NewOrderReservationHandler(repo, reserver, zap.NewNop())

		err := h.Handle(context.Background(), trade.NewOrderCreatedEvent(order))
		assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
	})

	t.Run("other events are rejected", func(t *testing.T) {
		h := NewOrderReservationHandler(new(MockOrderRepository), &fakeReserver{}, zap.NewNop())
		evt := shared.NewBaseDomainEvent("Unrelated", "Order", uuid.New())
		assert.Error(t, h.Handle(context.Background(), &evt))
		assert.ElementsMatch(t, []string{trade.EventTypeOrderCreated, trade.EventTypeOrderStatusChanged}, h.EventTypes())
	})
}
