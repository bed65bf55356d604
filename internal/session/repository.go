package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Repository reads sessions.
type Repository interface {
	ForUser(ctx context.Context, userID int64) ([]Session, error)
	ForAccessToken(ctx context.Context, token string) ([]Session, error)
	ActiveSince(ctx context.Context, now, since time.Time) ([]int64, error)
}

var sessionSchema = store.Schema[Session, string]{
	Table:     "sessions",
	KeyColumn: "id",
	Columns:   []string{"user_id", "access_token", "refresh_token", "expires_at", "last_activity_at", "created_at"},
	Key:       func(s Session) string { return s.ID },
	WithKey:   func(s Session, id string) Session { s.ID = id; return s },
	Values: func(s Session) []any {
		return []any{s.UserID, s.AccessToken, s.RefreshToken, s.ExpiresAt, s.LastActivityAt, s.CreatedAt}
	},
	Scan: func(row store.Scanner) (Session, error) {
		var (
			s    Session
			last pgtype.Timestamptz
		)
		if err := row.Scan(&s.ID, &s.UserID, &s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &last, &s.CreatedAt); err != nil {
			return Session{}, err
		}
		if last.Valid {
			at := last.Time
			s.LastActivityAt = &at
		}
		return s, nil
	},
	Unique: [][]string{{"access_token"}, {"refresh_token"}},
}

// TableRepository serves sessions from a generic table.
type TableRepository struct {
	table store.Repository[Session, string]
}

// NewMemoryRepository returns an in-process session table. Add is used by
// tests and local tooling in place of the authentication flow.
func NewMemoryRepository() *TableRepository {
	return &TableRepository{table: store.NewMemory(sessionSchema, uuid.NewString)}
}

// Add stores a session.
func (r *TableRepository) Add(ctx context.Context, s Session) (Session, error) {
	return r.table.Create(ctx, s)
}

// ForUser returns every session of userID.
func (r *TableRepository) ForUser(ctx context.Context, userID int64) ([]Session, error) {
	return r.table.Find(ctx, store.Eq("user_id", userID))
}

// ForAccessToken returns the session carrying token.
func (r *TableRepository) ForAccessToken(ctx context.Context, token string) ([]Session, error) {
	return r.table.Find(ctx, store.Eq("access_token", token))
}

// ActiveSince returns users with activity at or after since on a session
// still valid at now.
func (r *TableRepository) ActiveSince(ctx context.Context, now, since time.Time) ([]int64, error) {
	rows, err := r.table.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, s := range rows {
		if s.LastActivityAt == nil || s.LastActivityAt.Before(since) || !s.ExpiresAt.After(now) {
			continue
		}
		if _, ok := seen[s.UserID]; ok {
			continue
		}
		seen[s.UserID] = struct{}{}
		ids = append(ids, s.UserID)
	}
	return ids, nil
}

const activeSinceQuery = `SELECT DISTINCT user_id FROM sessions
WHERE last_activity_at >= $1 AND expires_at > $2
ORDER BY user_id`

// PGRepository reads the sessions table written by the authentication service.
type PGRepository struct {
	TableRepository
	db store.DBTX
}

// NewPostgresRepository constructs a PostgreSQL repository.
func NewPostgresRepository(db store.DBTX) *PGRepository {
	return &PGRepository{TableRepository: TableRepository{table: store.NewPostgres(db, sessionSchema)}, db: db}
}

// ActiveSince returns users with activity at or after since on a session
// still valid at now.
func (r *PGRepository) ActiveSince(ctx context.Context, now, since time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, activeSinceQuery,
		pgtype.Timestamptz{Time: since.UTC(), Valid: true},
		pgtype.Timestamptz{Time: now.UTC(), Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("session: active users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("session: active users: %w", err)
	}
	return ids, nil
}

var (
	_ Repository = (*TableRepository)(nil)
	_ Repository = (*PGRepository)(nil)
)
