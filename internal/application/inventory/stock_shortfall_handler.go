package inventory

import (
	"context"
	"fmt"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/erp/batchalloc/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Shortfall kinds, used as the metric attribute
const (
	ShortfallKindPartial    = "partial"
	ShortfallKindOutOfStock = "out_of_stock"
	ShortfallKindContention = "contention"
)

// ShortfallAlertHandler turns StockShortfallDetected events into operator diagnostics.
// Shortfall never changes the order: this handler only logs and counts.
type ShortfallAlertHandler struct {
	logger  *zap.Logger
	metrics *telemetry.AllocationMetrics
}

// NewShortfallAlertHandler creates a new handler for shortfall events
func NewShortfallAlertHandler(logger *zap.Logger, metrics *telemetry.AllocationMetrics) *ShortfallAlertHandler {
	return &ShortfallAlertHandler{
		logger:  logger.Named("shortfall_alert"),
		metrics: metrics,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *ShortfallAlertHandler) EventTypes() []string {
	return []string{inventory.EventTypeStockShortfallDetected}
}

// Handle processes a StockShortfallDetectedEvent
func (h *ShortfallAlertHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	shortfall, ok := event.(*inventory.StockShortfallDetectedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			inventory.EventTypeStockShortfallDetected, event.EventType())
	}

	kind := ShortfallKind(shortfall)
	ref := inventory.ItemRef{ProductID: shortfall.ProductID, VariantID: shortfall.VariantID}
	logger.Ctx(ctx, h.logger).Warn("STOCK SHORTFALL",
		zap.String("kind", kind),
		zap.String("order_id", shortfall.OrderID.String()),
		zap.String("item_id", shortfall.OrderItemID.String()),
		zap.String("stock_ref", ref.String()),
		zap.Int64("requested", shortfall.Requested),
		zap.Int64("allocated", shortfall.TotalAllocated),
		zap.Int64("shortfall", shortfall.Shortfall),
		zap.String("reason", shortfall.Reason),
	)
	h.metrics.RecordShortfall(ctx, kind, shortfall.Shortfall)
	return nil
}

// ShortfallKind classifies a shortfall event
func ShortfallKind(e *inventory.StockShortfallDetectedEvent) string {
	switch {
	case e.Reason == NoteContention:
		return ShortfallKindContention
	case e.TotalAllocated > 0:
		return ShortfallKindPartial
	default:
		return ShortfallKindOutOfStock
	}
}

var _ shared.EventHandler = (*ShortfallAlertHandler)(nil)
