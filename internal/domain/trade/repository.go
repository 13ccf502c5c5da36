package trade

import (
	"context"

	"github.com/google/uuid"
)

// OrderRepository is the order store port
type OrderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)

	// Create inserts the order with its items. Duplicate order numbers return shared.ErrAlreadyExists.
	Create(ctx context.Context, order *Order) error

	// UpdateStatus persists the status when the stored version equals order.Version,
	// then increments it. Stale versions return shared.ErrConcurrencyConflict.
	UpdateStatus(ctx context.Context, order *Order) error

	// SaveItemReservation writes one line's reservation outcome (status, trace, shortfall,
	// note) and the order's shortfall flag. It does not touch other lines.
	SaveItemReservation(ctx context.Context, order *Order, itemID uuid.UUID) error
}
