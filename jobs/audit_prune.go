package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditPruneJob deletes daily audit files past their retention.
type AuditPruneJob struct {
	Dir           string
	Prefix        string
	RetentionDays int
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	clock         func() time.Time
}

// NewAuditPruneJob wires dependencies for the prune handler.
func NewAuditPruneJob(dir, prefix string, retentionDays int, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{
		Dir:           dir,
		Prefix:        prefix,
		RetentionDays: retentionDays,
		Logger:        logger,
		Metrics:       metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes audit prune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = j.RetentionDays
	}
	logger := logFor(j.Logger, TaskAuditPrune)
	if days <= 0 {
		logger.Info("audit retention disabled")
		return nil
	}

	metrics := metricsOr(j.Metrics)
	tracker := metrics.Track(TaskAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	cutoff := j.now().AddDate(0, 0, -days)
	removed, err := audit.PruneFiles(j.Dir, j.Prefix, cutoff)
	if err != nil {
		logger.Error("prune audit files", slog.Any("error", err))
		return err
	}
	metrics.AddItems(TaskAuditPrune, len(removed))
	logger.Info("pruned audit files", slog.Int("removed", len(removed)), slog.Int("retention_days", days))
	return nil
}

func (j *AuditPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func logFor(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
