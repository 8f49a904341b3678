package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a thin generic gorm store for insert-only tables.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Create(ctx context.Context, resource *T) error
	// Count counts rows matching the non-zero fields of query.
	Count(ctx context.Context, query *T) (int64, error)
}
