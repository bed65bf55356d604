// Package audit records permission-relevant mutations. Logging never fails or
// blocks the operation being logged: every sink swallows its own errors and
// reports them on a side channel.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const (
	SinkFile  = "file"
	SinkStore = "store"
)

var errSinkClosed = errors.New("audit: sink closed")

// Logger is what business services depend on.
type Logger interface {
	Log(Event)
}

// Sink is a Logger that owns buffered or in-flight state.
type Sink interface {
	Logger
	// Close flushes pending events best-effort.
	Close(ctx context.Context) error
}

// DropObserver is notified whenever an event could not be recorded.
type DropObserver interface {
	AuditDropped(sink, reason string)
}

// Config selects and configures a sink at process start.
type Config struct {
	Kind         string
	Dir          string
	FilePrefix   string
	FlushDelay   time.Duration
	WriteTimeout time.Duration
	// Logger is the side channel for sink failures; defaults to stderr.
	Logger   *slog.Logger
	Observer DropObserver
}

// NewSink builds the sink named by cfg.Kind. The store sink requires db.
func NewSink(cfg Config, db Execer) (Sink, error) {
	switch cfg.Kind {
	case SinkFile, "":
		return NewFileSink(cfg)
	case SinkStore:
		if db == nil {
			return nil, fmt.Errorf("%w: audit store sink requires a database", shared.ErrValidation)
		}
		return NewStoreSink(db, cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown audit sink %q", shared.ErrValidation, cfg.Kind)
	}
}

type reporter struct {
	sink     string
	logger   *slog.Logger
	observer DropObserver
}

func newReporter(sink string, cfg Config) reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return reporter{sink: sink, logger: logger, observer: cfg.Observer}
}

func (r reporter) drop(reason string, err error, ev Event) {
	r.logger.Error("audit event dropped",
		slog.String("sink", r.sink),
		slog.String("reason", reason),
		slog.String("action", string(ev.Action)),
		slog.String("model", ev.Model),
		slog.String("record_id", ev.RecordID),
		slog.String("request_id", ev.RequestID),
		slog.Any("error", err),
	)
	if r.observer != nil {
		r.observer.AuditDropped(r.sink, reason)
	}
}

// recover must be deferred directly by the sink method it protects.
func (r reporter) recover(ev Event) {
	if rec := recover(); rec != nil {
		r.drop("panic", fmt.Errorf("%v", rec), ev)
	}
}
