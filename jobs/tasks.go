package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPrune removes daily audit files older than the retention window.
	TaskAuditPrune = "audit:prune"
	// TaskAccessWarmup preloads authorization snapshots for online users.
	TaskAccessWarmup = "authz:warmup"
)

// AuditPrunePayload describes a prune run. Zero RetentionDays falls back to the
// job's configured retention.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPruneTask constructs an audit prune task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}

// AccessWarmupPayload optionally pins the users to warm. Empty means every
// user currently online.
type AccessWarmupPayload struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// NewAccessWarmupTask constructs an access warmup task.
func NewAccessWarmupTask(userIDs ...int64) (*asynq.Task, error) {
	data, err := json.Marshal(AccessWarmupPayload{UserIDs: userIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessWarmup, data), nil
}
