package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Repository backed by a single table. Uniqueness relies on the
// table's unique indexes; violations surface as shared.ErrConflict.
type Postgres[T any, K comparable] struct {
	db      DBTX
	schema  Schema[T, K]
	columns string
}

// NewPostgres constructs a Postgres repository for the schema.
func NewPostgres[T any, K comparable](conn DBTX, schema Schema[T, K]) *Postgres[T, K] {
	cols := append([]string{schema.KeyColumn}, schema.Columns...)
	return &Postgres[T, K]{db: conn, schema: schema, columns: strings.Join(cols, ", ")}
}

var _ Repository[struct{}, int64] = (*Postgres[struct{}, int64])(nil)

// Create inserts the entity and returns it with the generated key.
func (p *Postgres[T, K]) Create(ctx context.Context, entity T) (T, error) {
	placeholders := make([]string, len(p.schema.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		p.schema.Table, strings.Join(p.schema.Columns, ", "), strings.Join(placeholders, ", "), p.columns)
	created, err := p.schema.Scan(p.db.QueryRow(ctx, query, p.schema.Values(entity)...))
	if err != nil {
		return created, p.wrap("insert", err)
	}
	return created, nil
}

// Get loads a row by key.
func (p *Postgres[T, K]) Get(ctx context.Context, key K) (T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", p.columns, p.schema.Table, p.schema.KeyColumn)
	entity, err := p.schema.Scan(p.db.QueryRow(ctx, query, key))
	if err != nil {
		return entity, p.wrap("get", err)
	}
	return entity, nil
}

// List returns all rows ordered by key.
func (p *Postgres[T, K]) List(ctx context.Context) ([]T, error) {
	return p.Find(ctx)
}

// Find returns rows matching every filter, ordered by key.
func (p *Postgres[T, K]) Find(ctx context.Context, filters ...Filter) ([]T, error) {
	if err := p.schema.checkFilters(filters); err != nil {
		return nil, err
	}
	where, args := whereClause(filters, 1)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", p.columns, p.schema.Table, where, p.schema.KeyColumn)
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, p.wrap("find", err)
	}
	return p.collect(rows, "find")
}

// Update overwrites all non-key columns of the row identified by the entity key.
func (p *Postgres[T, K]) Update(ctx context.Context, entity T) (T, error) {
	assignments := make([]string, len(p.schema.Columns))
	for i, c := range p.schema.Columns {
		assignments[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args := append(p.schema.Values(entity), p.schema.Key(entity))
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		p.schema.Table, strings.Join(assignments, ", "), p.schema.KeyColumn, len(args), p.columns)
	updated, err := p.schema.Scan(p.db.QueryRow(ctx, query, args...))
	if err != nil {
		return updated, p.wrap("update", err)
	}
	return updated, nil
}

// Delete removes a row by key and returns it.
func (p *Postgres[T, K]) Delete(ctx context.Context, key K) (T, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING %s", p.schema.Table, p.schema.KeyColumn, p.columns)
	removed, err := p.schema.Scan(p.db.QueryRow(ctx, query, key))
	if err != nil {
		return removed, p.wrap("delete", err)
	}
	return removed, nil
}

// DeleteWhere removes every row matching the filters in one statement.
func (p *Postgres[T, K]) DeleteWhere(ctx context.Context, filters ...Filter) ([]T, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: delete from %s requires a filter", shared.ErrValidation, p.schema.Table)
	}
	if err := p.schema.checkFilters(filters); err != nil {
		return nil, err
	}
	where, args := whereClause(filters, 1)
	query := fmt.Sprintf("DELETE FROM %s%s RETURNING %s", p.schema.Table, where, p.columns)
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, p.wrap("delete", err)
	}
	return p.collect(rows, "delete")
}

func (p *Postgres[T, K]) collect(rows pgx.Rows, op string) ([]T, error) {
	defer rows.Close()
	result := make([]T, 0)
	for rows.Next() {
		entity, err := p.schema.Scan(rows)
		if err != nil {
			return nil, p.wrap(op, err)
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, p.wrap(op, err)
	}
	return result, nil
}

func (p *Postgres[T, K]) wrap(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("store: %s %s: %w", op, p.schema.Table, shared.ErrNotFound)
	case db.IsUniqueViolation(err), db.IsRestrictViolation(err):
		return fmt.Errorf("store: %s %s: %w", op, p.schema.Table, shared.ErrConflict)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("store: %s %s: referenced row: %w", op, p.schema.Table, shared.ErrNotFound)
	default:
		return fmt.Errorf("store: %s %s: %w", op, p.schema.Table, err)
	}
}

func whereClause(filters []Filter, start int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		conds[i] = fmt.Sprintf("%s = $%d", f.Column, start+i)
		args[i] = f.Value
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
