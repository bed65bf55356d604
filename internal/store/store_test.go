package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type widget struct {
	ID     int64
	Name   string
	Bucket int64
	Parent *int64
}

var widgetSchema = Schema[widget, int64]{
	Table:     "widgets",
	KeyColumn: "id",
	Columns:   []string{"name", "bucket", "parent_id"},
	Key:       func(w widget) int64 { return w.ID },
	WithKey:   func(w widget, id int64) widget { w.ID = id; return w },
	Values:    func(w widget) []any { return []any{w.Name, w.Bucket, w.Parent} },
	Scan: func(row Scanner) (widget, error) {
		var w widget
		err := row.Scan(&w.ID, &w.Name, &w.Bucket, &w.Parent)
		return w, err
	},
	Unique: [][]string{{"name", "bucket"}},
}

func TestMemoryCreateEnforcesUniqueGroups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(widgetSchema, Sequence())

	first, err := repo.Create(ctx, widget{Name: "a", Bucket: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	_, err = repo.Create(ctx, widget{Name: "a", Bucket: 1})
	require.ErrorIs(t, err, shared.ErrConflict)

	second, err := repo.Create(ctx, widget{Name: "a", Bucket: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestMemoryUpdateKeepsIndexesConsistent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(widgetSchema, Sequence())
	a, _ := repo.Create(ctx, widget{Name: "a", Bucket: 1})
	b, _ := repo.Create(ctx, widget{Name: "b", Bucket: 1})

	b.Name = "a"
	_, err := repo.Update(ctx, b)
	require.ErrorIs(t, err, shared.ErrConflict)

	a.Name = "c"
	_, err = repo.Update(ctx, a)
	require.NoError(t, err)

	b.Name = "a"
	_, err = repo.Update(ctx, b)
	require.NoError(t, err, "old name must be released after rename")

	_, err = repo.Update(ctx, widget{ID: 99, Name: "z"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMemoryFindAndDeleteWhere(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(widgetSchema, Sequence())
	parent := int64(7)
	_, _ = repo.Create(ctx, widget{Name: "a", Bucket: 1})
	_, _ = repo.Create(ctx, widget{Name: "b", Bucket: 1, Parent: &parent})
	_, _ = repo.Create(ctx, widget{Name: "c", Bucket: 2})

	found, err := repo.Find(ctx, Eq("bucket", 1))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].Name)

	byParent, err := repo.Find(ctx, Eq("parent_id", int64(7)))
	require.NoError(t, err)
	require.Len(t, byParent, 1)

	_, err = repo.Find(ctx, Eq("missing", 1))
	require.ErrorIs(t, err, shared.ErrValidation)

	removed, err := repo.DeleteWhere(ctx, Eq("bucket", int64(1)), Eq("name", "b"))
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "b", removed[0].Name)

	_, err = repo.DeleteWhere(ctx)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = repo.Create(ctx, widget{Name: "b", Bucket: 1})
	require.NoError(t, err, "deleted pair can be created again")

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(widgetSchema, Sequence())
	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, widget{Name: "same", Bucket: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, shared.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

type stubRow struct {
	err    error
	values []any
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		case **int64:
			*p = nil
		}
	}
	return nil
}

type stubDB struct {
	row       stubRow
	lastQuery string
	lastArgs  []any
}

func (s *stubDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.lastQuery, s.lastArgs = sql, args
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.lastQuery, s.lastArgs = sql, args
	return nil, errors.New("not supported by stub")
}

func (s *stubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.lastQuery, s.lastArgs = sql, args
	return s.row
}

func TestPostgresCreateBuildsInsert(t *testing.T) {
	conn := &stubDB{row: stubRow{values: []any{int64(5), "a", int64(1), nil}}}
	repo := NewPostgres(conn, widgetSchema)

	created, err := repo.Create(context.Background(), widget{Name: "a", Bucket: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), created.ID)
	assert.Equal(t, "INSERT INTO widgets (name, bucket, parent_id) VALUES ($1, $2, $3) RETURNING id, name, bucket, parent_id", conn.lastQuery)
	assert.Len(t, conn.lastArgs, 3)
}

func TestPostgresMapsConstraintErrors(t *testing.T) {
	conn := &stubDB{row: stubRow{err: &pgconn.PgError{Code: "23505"}}}
	repo := NewPostgres(conn, widgetSchema)
	_, err := repo.Create(context.Background(), widget{Name: "a"})
	require.ErrorIs(t, err, shared.ErrConflict)

	conn.row = stubRow{err: &pgconn.PgError{Code: "23001"}}
	_, err = repo.Update(context.Background(), widget{ID: 1, Name: "a"})
	require.ErrorIs(t, err, shared.ErrConflict)

	conn.row = stubRow{err: &pgconn.PgError{Code: "23503"}}
	_, err = repo.Create(context.Background(), widget{Name: "a"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	conn.row = stubRow{err: pgx.ErrNoRows}
	_, err = repo.Delete(context.Background(), 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, "DELETE FROM widgets WHERE id = $1 RETURNING id, name, bucket, parent_id", conn.lastQuery)
}

func TestPostgresUpdatePlacesKeyLast(t *testing.T) {
	conn := &stubDB{row: stubRow{values: []any{int64(2), "b", int64(3), nil}}}
	repo := NewPostgres(conn, widgetSchema)
	_, err := repo.Update(context.Background(), widget{ID: 2, Name: "b", Bucket: 3})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE widgets SET name = $1, bucket = $2, parent_id = $3 WHERE id = $4 RETURNING id, name, bucket, parent_id", conn.lastQuery)
	assert.Equal(t, int64(2), conn.lastArgs[3])
}

func TestPostgresRejectsUnknownFilterColumns(t *testing.T) {
	repo := NewPostgres(&stubDB{}, widgetSchema)
	_, err := repo.Find(context.Background(), Eq("name; DROP TABLE widgets", 1))
	require.ErrorIs(t, err, shared.ErrValidation)
}
