package trade

import (
	"context"
	"errors"
	"fmt"

	appinventory "github.com/erp/batchalloc/internal/application/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"go.uber.org/zap"
)

// StockReserver reserves batch stock for an order mutation
type StockReserver interface {
	Reserve(ctx context.Context, order, previous *trade.Order, op trade.Operation) (*trade.Order, *appinventory.ReservationReport, error)
}

// OrderReservationHandler handles OrderCreated and OrderStatusChanged events and
// reserves stock for the order. It rebuilds the (order, previous, operation) triple from
// the event and the stored order.
type OrderReservationHandler struct {
	orderRepo trade.OrderRepository
	reserver  StockReserver
	logger    *zap.Logger
}

// NewOrderReservationHandler creates a new OrderReservationHandler
func NewOrderReservationHandler(orderRepo trade.OrderRepository, reserver StockReserver, logger *zap.Logger) *OrderReservationHandler {
	return &OrderReservationHandler{
		orderRepo: orderRepo,
		reserver:  reserver,
		logger:    logger.Named("order_reservation_handler"),
	}
}

// EventTypes returns the event types this handler is interested in
func (h *OrderReservationHandler) EventTypes() []string {
	return []string{
		trade.EventTypeOrderCreated,
		trade.EventTypeOrderStatusChanged,
	}
}

// Handle processes order events
func (h *OrderReservationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	var (
		op       trade.Operation
		previous *trade.Order
		prevStat trade.OrderStatus
	)
	switch e := event.(type) {
	case *trade.OrderCreatedEvent:
		op = trade.OperationCreate
	case *trade.OrderStatusChangedEvent:
		op = trade.OperationUpdate
		prevStat = e.PreviousStatus
	default:
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}

	order, err := h.orderRepo.FindByID(ctx, event.AggregateID())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.logger.Warn("Order from event not found, skipping reservation",
				zap.String("order_id", event.AggregateID().String()),
				zap.String("event_type", event.EventType()),
			)
			return nil
		}
		return fmt.Errorf("load order %s: %w", event.AggregateID(), err)
	}
	if op == trade.OperationUpdate {
		previous = order.Clone()
		previous.Status = prevStat
	}

	_, report, err := h.reserver.Reserve(ctx, order, previous, op)
	if err != nil {
		return err
	}
	if report != nil && report.Triggered && !report.Duplicate {
		h.logger.Debug("Reservation handled",
			zap.String("order_id", order.ID.String()),
			zap.String("trigger", report.Trigger),
			zap.Int("lines", len(report.Lines)),
		)
	}
	return nil
}

var (
	_ shared.EventHandler = (*OrderReservationHandler)(nil)
	_ StockReserver       = (*appinventory.ReservationService)(nil)
)
