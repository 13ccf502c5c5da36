package persistence

import (
	"context"
	"time"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/erp/batchalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormOrderRepository implements trade.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("line_no ASC")
	})
}

// FindByID loads an order with its lines
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*trade.Order, error) {
	var model models.OrderModel
	if err := preloadItems(conn(ctx, r.db)).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// FindByOrderNumber loads an order by its unique number
func (r *GormOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*trade.Order, error) {
	var model models.OrderModel
	if err := preloadItems(conn(ctx, r.db)).Where("order_number = ?", orderNumber).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// Create inserts the order and its lines atomically
func (r *GormOrderRepository) Create(ctx context.Context, order *trade.Order) error {
	model, err := models.OrderModelFromDomain(order)
	if err != nil {
		return err
	}
	err = conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(model).Error; err != nil {
			return err
		}
		if len(model.Items) == 0 {
			return nil
		}
		return tx.Create(&model.Items).Error
	})
	return translateError(err)
}

// UpdateStatus persists status and notes under an optimistic version check
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, order *trade.Order) error {
	now := time.Now().UTC()
	result := conn(ctx, r.db).Model(&models.OrderModel{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"status":     string(order.Status),
			"notes":      order.Notes,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := conn(ctx, r.db).Model(&models.OrderModel{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
			return translateError(err)
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	order.IncrementVersion()
	order.UpdatedAt = now
	return nil
}

var unsettledReservationStatuses = []string{
	string(trade.ReservationPending),
	string(trade.ReservationFailed),
}

// SaveItemReservation writes one line's reservation outcome and the order's shortfall flag.
// The write only lands while the stored line is still pending or failed; a line another run
// already settled returns trade.ErrLineAlreadyReserved. The order version is left alone so a
// status update racing the reservation does not conflict.
func (r *GormOrderRepository) SaveItemReservation(ctx context.Context, order *trade.Order, itemID uuid.UUID) error {
	item := order.Item(itemID)
	if item == nil {
		return shared.NewDomainError(shared.CodeNotFound, "order item "+itemID.String()+" not found")
	}
	trace, err := models.EncodeAllocations(item.BatchAllocations)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	db := conn(ctx, r.db)
	result := db.Model(&models.OrderItemModel{}).
		Where("id = ? AND order_id = ? AND reservation_status IN ?", itemID, order.ID, unsettledReservationStatuses).
		Updates(map[string]any{
			"reservation_status": string(item.ReservationStatus),
			"batch_allocations":  trace,
			"shortfall":          item.Shortfall,
			"reservation_note":   item.ReservationNote,
			"reserved_at":        item.ReservedAt,
			"updated_at":         now,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.OrderItemModel{}).Where("id = ? AND order_id = ?", itemID, order.ID).Count(&count).Error; err != nil {
			return translateError(err)
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return trade.ErrLineAlreadyReserved
	}

	if err := db.Model(&models.OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"has_shortfall": order.HasShortfall,
			"updated_at":    now,
		}).Error; err != nil {
		return translateError(err)
	}
	return nil
}

var _ trade.OrderRepository = (*GormOrderRepository)(nil)
