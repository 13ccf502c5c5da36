package shared

import "context"

// TransactionManager runs fn inside a store transaction. Repositories called with the
// context passed to fn participate in that transaction; a non-nil return rolls it back.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination bounds a list query
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page, normalizing invalid values
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the page size, bounded to [1, 500] with a default of 20
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return 20
	case p.PageSize > 500:
		return 500
	default:
		return p.PageSize
	}
}
