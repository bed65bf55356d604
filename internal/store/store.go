// Package store provides a generic repository used by every persisted entity.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Scanner is satisfied by pgx.Row and pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Filter restricts Find and DeleteWhere to rows whose column equals Value.
type Filter struct {
	Column string
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Repository is the storage contract shared by catalog, roles, grants and instances.
// Implementations report duplicates as shared.ErrConflict and missing rows as shared.ErrNotFound.
type Repository[T any, K comparable] interface {
	Create(ctx context.Context, entity T) (T, error)
	Get(ctx context.Context, key K) (T, error)
	List(ctx context.Context) ([]T, error)
	Find(ctx context.Context, filters ...Filter) ([]T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, key K) (T, error)
	DeleteWhere(ctx context.Context, filters ...Filter) ([]T, error)
}

// Schema describes how an entity maps onto a table.
type Schema[T any, K comparable] struct {
	Table     string
	KeyColumn string
	// Columns lists the non-key columns in the order returned by Values.
	Columns []string
	Key     func(T) K
	WithKey func(T, K) T
	Values  func(T) []any
	// Scan reads the key column followed by Columns.
	Scan func(Scanner) (T, error)
	// Unique lists column groups whose combined values must be unique.
	Unique [][]string
}

func (s Schema[T, K]) value(entity T, column string) (any, error) {
	if column == s.KeyColumn {
		return s.Key(entity), nil
	}
	values := s.Values(entity)
	for i, c := range s.Columns {
		if c == column {
			return values[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no column %q", shared.ErrValidation, s.Table, column)
}

func (s Schema[T, K]) checkFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Column == s.KeyColumn {
			continue
		}
		known := false
		for _, c := range s.Columns {
			if c == f.Column {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: %s has no column %q", shared.ErrValidation, s.Table, f.Column)
		}
	}
	return nil
}

// normalize collapses pointer and integer variants so that values read from
// entities compare equal to filter arguments.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
