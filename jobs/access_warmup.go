package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

// Warmer loads access snapshots into the authorization cache.
type Warmer interface {
	Warm(ctx context.Context, userIDs []int64) error
}

// OnlineLister reports users with a live session.
type OnlineLister interface {
	OnlineUsers(ctx context.Context) ([]int64, error)
}

// AccessWarmupJob preloads permissions for users that are likely to make
// requests soon.
type AccessWarmupJob struct {
	Engine   Warmer
	Sessions OnlineLister
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Timeout  time.Duration
}

// NewAccessWarmupJob wires dependencies for the warmup handler.
func NewAccessWarmupJob(engine Warmer, sessions OnlineLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccessWarmupJob {
	return &AccessWarmupJob{Engine: engine, Sessions: sessions, Logger: logger, Metrics: metrics, Timeout: time.Minute}
}

// Handle processes access warmup tasks.
func (j *AccessWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("access warmup: handler not configured")
	}
	var payload AccessWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	metrics := metricsOr(j.Metrics)
	tracker := metrics.Track(TaskAccessWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := logFor(j.Logger, TaskAccessWarmup)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	users := payload.UserIDs
	if len(users) == 0 {
		if j.Sessions == nil {
			return errors.New("access warmup: sessions not configured")
		}
		online, err := j.Sessions.OnlineUsers(ctx)
		if err != nil {
			logger.Error("list online users", slog.Any("error", err))
			return err
		}
		users = online
	}
	if len(users) == 0 {
		logger.Info("no users to warm")
		return nil
	}

	start := time.Now()
	if err := j.Engine.Warm(ctx, users); err != nil {
		logger.Error("warm access", slog.Any("error", err))
		return err
	}
	metrics.AddItems(TaskAccessWarmup, len(users))
	logger.Info("warmed access", slog.Int("users", len(users)), slog.Duration("duration", time.Since(start)))
	return nil
}
