package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Principal describes the authenticated actor.
type Principal interface {
	GetID() int64
}

// Actor is the Principal carried by requests.
type Actor struct {
	ID int64
}

// GetID returns the actor id; a nil actor is anonymous.
func (a *Actor) GetID() int64 {
	if a == nil {
		return 0
	}
	return a.ID
}

// Mode selects how instance grants take part in a decision.
type Mode string

const (
	// ModeStandalone lets an instance grant allow an action on its record on its own.
	ModeStandalone Mode = "standalone"
	// ModeScoped always requires the role-derived permission; instance grants only scope visibility.
	ModeScoped Mode = "scoped"
)

// ParseMode validates a configured mode. Empty selects ModeStandalone.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeStandalone:
		return ModeStandalone, nil
	case ModeScoped:
		return ModeScoped, nil
	}
	return "", fmt.Errorf("%w: unknown instance mode %q", shared.ErrValidation, raw)
}

// Reason explains a Decision.
type Reason string

const (
	ReasonAdmin           Reason = "admin"
	ReasonRole            Reason = "role"
	ReasonInstance        Reason = "instance"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
)

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	Key     string `json:"key"`
}

// Err returns nil for an allowed decision and the matching sentinel otherwise.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthenticated:
		return shared.ErrUnauthenticated
	default:
		return fmt.Errorf("%w: %s", shared.ErrForbidden, d.Key)
	}
}

// Access is the role-derived snapshot of one user.
type Access struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (a Access) hasRole(name string) bool {
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}

func (a Access) hasPermission(key string) bool {
	for _, p := range a.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// Visibility lists the records of one resource an actor may see.
type Visibility struct {
	All     bool     `json:"all"`
	Records []string `json:"records"`
}
