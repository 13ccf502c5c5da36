package persistence

import "github.com/erp/batchalloc/internal/infrastructure/persistence/models"

// AllModels lists every persisted model, in dependency order
func AllModels() []any {
	return []any{
		&models.BatchModel{},
		&models.OrderModel{},
		&models.OrderItemModel{},
	}
}
