package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const defaultWriteTimeout = 5 * time.Second

const insertAuditLog = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, request_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// StoreSink writes one audit_logs row per event. Each insert runs in its own
// goroutine with a bounded timeout; callers continue immediately.
type StoreSink struct {
	db      Execer
	timeout time.Duration
	report  reporter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStoreSink returns a sink writing through db.
func NewStoreSink(db Execer, cfg Config) *StoreSink {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &StoreSink{db: db, timeout: timeout, report: newReporter(SinkStore, cfg)}
}

// Log validates the event and dispatches the insert.
func (s *StoreSink) Log(ev Event) {
	defer s.report.recover(ev)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := validateStored(ev); err != nil {
		s.report.drop("validation", err, ev)
		return
	}
	meta, err := json.Marshal(ev.Data)
	if err != nil {
		s.report.drop("encode", err, ev)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.report.drop("closed", errSinkClosed, ev)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.report.recover(ev)
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, err := s.db.Exec(ctx, insertAuditLog,
			nullableActor(ev.ActorID),
			string(ev.Action),
			ev.Model,
			nullableText(ev.RecordID),
			meta,
			nullableText(ev.RequestID),
			ev.Timestamp,
		)
		if err != nil {
			s.report.drop("insert", err, ev)
		}
	}()
}

// Close rejects new events and waits for in-flight inserts.
func (s *StoreSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateStored(ev Event) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("audit: unsupported action %q", ev.Action)
	}
	if strings.TrimSpace(ev.Model) == "" {
		return errors.New("audit: table name required")
	}
	return nil
}

func nullableActor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
