package persistence

import (
	"context"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fefoOrder sorts by expiry ascending with undated batches last, then receipt date
const fefoOrder = "expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC"

// GormBatchRepository implements inventory.BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// FindByID finds a batch by its ID
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.Batch, error) {
	var model models.BatchModel
	if err := conn(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByBatchNumber finds a batch by its unique number
func (r *GormBatchRepository) FindByBatchNumber(ctx context.Context, batchNumber string) (*inventory.Batch, error) {
	var model models.BatchModel
	if err := conn(ctx, r.db).Where("batch_number = ?", batchNumber).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindAllocatable returns allocation candidates for ref in FEFO order
func (r *GormBatchRepository) FindAllocatable(ctx context.Context, ref inventory.ItemRef, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var rows []models.BatchModel
	err := scopeRef(conn(ctx, r.db).Model(&models.BatchModel{}), ref).
		Where("status = ? AND quantity > 0", string(inventory.BatchStatusActive)).
		Where("expiry_date IS NULL OR expiry_date >= ?", asOf.UTC()).
		Order(fefoOrder).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	return toBatches(rows), nil
}

// List returns a FEFO-ordered page of batches and the total match count
func (r *GormBatchRepository) List(ctx context.Context, filter inventory.BatchFilter) ([]*inventory.Batch, int64, error) {
	query := conn(ctx, r.db).Model(&models.BatchModel{})
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if filter.VariantID != nil {
		query = query.Where("variant_id = ?", *filter.VariantID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	var rows []models.BatchModel
	if err := query.Order(fefoOrder).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, translateError(err)
	}
	return toBatches(rows), total, nil
}

// Create inserts a new batch
func (r *GormBatchRepository) Create(ctx context.Context, batch *inventory.Batch) error {
	model := models.BatchModelFromDomain(batch)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// Update saves every column under an optimistic version check
func (r *GormBatchRepository) Update(ctx context.Context, batch *inventory.Batch) error {
	model := models.BatchModelFromDomain(batch)
	now := time.Now().UTC()
	result := conn(ctx, r.db).Model(&models.BatchModel{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]any{
			"batch_number":     model.BatchNumber,
			"product_id":       model.ProductID,
			"variant_id":       model.VariantID,
			"quantity":         model.Quantity,
			"status":           model.Status,
			"expiry_date":      model.ExpiryDate,
			"manufacture_date": model.ManufactureDate,
			"received_date":    model.ReceivedDate,
			"supplier":         model.Supplier,
			"cost_per_unit":    model.CostPerUnit,
			"notes":            model.Notes,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, batch.ID)
	}
	batch.IncrementVersion()
	batch.UpdatedAt = now
	return nil
}

// CompareAndSetQuantity is the conditional write behind every allocation deduction
func (r *GormBatchRepository) CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, next int64, status inventory.BatchStatus) error {
	result := conn(ctx, r.db).Model(&models.BatchModel{}).
		Where("id = ? AND quantity = ? AND status = ?", id, expected, string(inventory.BatchStatusActive)).
		Updates(map[string]any{
			"quantity":   next,
			"status":     string(status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// CompareAndSetStatus moves a batch from expected to next status
func (r *GormBatchRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next inventory.BatchStatus) error {
	result := conn(ctx, r.db).Model(&models.BatchModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]any{
			"status":     string(next),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// SumActiveQuantity totals units of active batches for ref
func (r *GormBatchRepository) SumActiveQuantity(ctx context.Context, ref inventory.ItemRef) (int64, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	var total int64
	err := scopeRef(conn(ctx, r.db).Model(&models.BatchModel{}), ref).
		Where("status = ?", string(inventory.BatchStatusActive)).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, translateError(err)
	}
	return total, nil
}

// FindExpiredActive returns batches still marked active after their expiry date
func (r *GormBatchRepository) FindExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	var rows []models.BatchModel
	err := conn(ctx, r.db).
		Where("status = ? AND expiry_date IS NOT NULL AND expiry_date < ?", string(inventory.BatchStatusActive), asOf.UTC()).
		Order("expiry_date ASC, batch_number ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	return toBatches(rows), nil
}

// missOrConflict tells a missing row from a stale version after an update hit nothing
func (r *GormBatchRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := conn(ctx, r.db).Model(&models.BatchModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return translateError(err)
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return shared.ErrConcurrencyConflict
}

func scopeRef(db *gorm.DB, ref inventory.ItemRef) *gorm.DB {
	if ref.IsVariant() {
		return db.Where("variant_id = ?", *ref.VariantID)
	}
	return db.Where("product_id = ?", *ref.ProductID)
}

func toBatches(rows []models.BatchModel) []*inventory.Batch {
	batches := make([]*inventory.Batch, len(rows))
	for i := range rows {
		batches[i] = rows[i].ToDomain()
	}
	return batches
}

var _ inventory.BatchRepository = (*GormBatchRepository)(nil)
