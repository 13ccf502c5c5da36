package persistence

import (
	"context"

	"github.com/erp/batchalloc/internal/domain/shared"
	"gorm.io/gorm"
)

type txKey struct{}

// TxManager runs units of work in a gorm transaction. The transaction handle travels in
// the context, so repositories called with that context join it without extra parameters.
// Nested calls reuse the outer transaction through gorm savepoints.
type TxManager struct {
	db *gorm.DB
}

// NewTxManager creates a transaction manager
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := conn(ctx, m.db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return translateError(err)
}

// conn returns the transaction stored in ctx, or db, bound to ctx
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

var _ shared.TransactionManager = (*TxManager)(nil)
