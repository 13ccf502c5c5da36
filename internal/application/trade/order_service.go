package trade

import (
	"context"
	"fmt"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles the order workflow. Stock reservation is not called from here:
// it listens for the events this service publishes after each write.
type OrderService struct {
	orderRepo trade.OrderRepository
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(orderRepo trade.OrderRepository, publisher shared.EventPublisher, logger *zap.Logger) *OrderService {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &OrderService{
		orderRepo: orderRepo,
		publisher: publisher,
		logger:    logger.Named("order_service"),
	}
}

// CreateOrder persists a pending order and publishes OrderCreated
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	items := make([]trade.OrderItem, 0, len(req.Items))
	for i, r := range req.Items {
		item, err := trade.NewOrderItem(r.Product.ID, r.VariantID, r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, *item)
	}

	order, err := trade.NewOrder(req.OrderNumber, items)
	if err != nil {
		return nil, err
	}
	order.Notes = req.Notes

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order %s: %w", order.OrderNumber, err)
	}
	logger.Ctx(ctx, s.logger).Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.Int("items", len(order.Items)),
	)

	s.publishDomainEvents(ctx, order)
	return s.current(ctx, order)
}

// UpdateOrderStatus moves an order to status. Moving into paid triggers reservation of
// lines still pending; staying in the same status is a no-op re-save.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, req UpdateOrderStatusRequest) (*OrderResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := order.Status
	if err := order.TransitionTo(trade.OrderStatus(req.Status)); err != nil {
		return nil, err
	}
	if len(order.GetDomainEvents()) == 0 {
		resp := ToOrderResponse(order)
		return &resp, nil
	}

	if err := s.orderRepo.UpdateStatus(ctx, order); err != nil {
		return nil, fmt.Errorf("update order %s status: %w", order.OrderNumber, err)
	}
	logger.Ctx(ctx, s.logger).Info("Order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(order.Status)),
	)

	s.publishDomainEvents(ctx, order)
	return s.current(ctx, order)
}

// GetOrder returns an order with its reservation outcome
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(order)
	return &resp, nil
}

// GetOrderByNumber returns an order by its number
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*OrderResponse, error) {
	order, err := s.orderRepo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(order)
	return &resp, nil
}

// current re-reads the order so the response carries what event handlers wrote
func (s *OrderService) current(ctx context.Context, order *trade.Order) (*OrderResponse, error) {
	fresh, err := s.orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		logger.Ctx(ctx, s.logger).Warn("Failed to reload order after write",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		fresh = order
	}
	resp := ToOrderResponse(fresh)
	return &resp, nil
}

func (s *OrderService) publishDomainEvents(ctx context.Context, order *trade.Order) {
	events := order.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		logger.Ctx(ctx, s.logger).Error("Failed to publish order events",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	order.ClearDomainEvents()
}
