package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// TimelineQuery adalah parameter query timeline setelah normalisasi.
type TimelineQuery struct {
	FromAt  pgtype.Timestamptz
	ToAt    pgtype.Timestamptz
	ActorID pgtype.Int8
	Entity  pgtype.Text
	Action  pgtype.Text
	Offset  int32
	// Limit nol berarti tanpa batas.
	Limit int32
}

// Repository membaca baris audit_logs.
type Repository interface {
	Timeline(ctx context.Context, q TimelineQuery) ([]TimelineRow, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q := buildQuery(filters)
	q.Offset = int32((page - 1) * pageSize)
	q.Limit = int32(pageSize + 1)
	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export mengambil seluruh data timeline tanpa paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Timeline(ctx, buildQuery(filters))
}

func buildQuery(filters TimelineFilters) TimelineQuery {
	q := TimelineQuery{
		FromAt: toPgTime(filters.From),
		ToAt:   toPgTime(filters.To),
		Entity: optionalText(filters.Entity),
		Action: optionalText(strings.ToUpper(filters.Action)),
	}
	if filters.ActorID > 0 {
		q.ActorID = pgtype.Int8{Int64: filters.ActorID, Valid: true}
	}
	return q
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

const timelineQuery = `SELECT occurred_at, actor_id, action, entity, entity_id, request_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6`

// PGRepository membaca audit_logs dari PostgreSQL.
type PGRepository struct {
	db store.DBTX
}

// NewRepository membuat repository PostgreSQL.
func NewRepository(db store.DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// Timeline menjalankan query timeline.
func (r *PGRepository) Timeline(ctx context.Context, q TimelineQuery) ([]TimelineRow, error) {
	sql := timelineQuery
	args := []any{q.FromAt, q.ToAt, q.ActorID, q.Entity, q.Action, q.Offset}
	if q.Limit > 0 {
		sql += " LIMIT $7"
		args = append(args, q.Limit)
	}
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	return pgx.CollectRows(rows, scanTimelineRow)
}

func scanTimelineRow(row pgx.CollectableRow) (TimelineRow, error) {
	var (
		out       TimelineRow
		at        pgtype.Timestamptz
		actor     pgtype.Int8
		entityID  pgtype.Text
		requestID pgtype.Text
		meta      []byte
	)
	if err := row.Scan(&at, &actor, &out.Action, &out.Entity, &entityID, &requestID, &meta); err != nil {
		return TimelineRow{}, err
	}
	if at.Valid {
		out.At = at.Time
	}
	if actor.Valid {
		out.ActorID = actor.Int64
	}
	out.EntityID = entityID.String
	out.RequestID = requestID.String
	if len(meta) > 0 {
		out.Meta = meta
	}
	return out, nil
}
