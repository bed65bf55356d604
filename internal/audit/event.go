package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Action is the constrained audit vocabulary.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
)

// Valid reports whether the action belongs to the vocabulary.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time
	Level     slog.Level
	// ActorID is zero for system actions.
	ActorID   int64
	Action    Action
	Model     string
	RecordID  string
	Data      map[string]any
	RequestID string
}

// NewEvent builds an info-level event stamped with the request id carried by ctx.
func NewEvent(ctx context.Context, actorID int64, action Action, model, recordID string, data map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Level:     slog.LevelInfo,
		ActorID:   actorID,
		Action:    action,
		Model:     model,
		RecordID:  recordID,
		Data:      data,
		RequestID: shared.RequestIDFromContext(ctx),
	}
}
