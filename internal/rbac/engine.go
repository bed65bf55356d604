// Package rbac decides whether an actor may perform an operation on an asset,
// composing role-derived permissions with per-record instance grants.
package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// DefaultAdminRole bypasses every check.
const DefaultAdminRole = "Admin"

const accessLoadTimeout = 10 * time.Second

// DecisionObserver receives every decision made by the engine.
type DecisionObserver interface {
	ObserveDecision(resource, action string, allowed bool, reason string)
}

// Options configures an Engine.
type Options struct {
	Mode      Mode
	AdminRole string
	Cache     *Cache
	Observer  DecisionObserver
	Logger    *slog.Logger
}

// Engine evaluates checks against a Source. It holds no per-user state of its
// own; snapshots live in the optional Cache.
type Engine struct {
	source    Source
	cache     *Cache
	mode      Mode
	adminRole string
	observer  DecisionObserver
	logger    *slog.Logger
	loads     singleflight.Group
}

// NewEngine constructs an Engine.
func NewEngine(source Source, opts Options) *Engine {
	mode := opts.Mode
	if mode == "" {
		mode = ModeStandalone
	}
	admin := strings.TrimSpace(opts.AdminRole)
	if admin == "" {
		admin = DefaultAdminRole
	}
	return &Engine{
		source:    source,
		cache:     opts.Cache,
		mode:      mode,
		adminRole: admin,
		observer:  opts.Observer,
		logger:    opts.Logger,
	}
}

// Mode reports the configured instance mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Check decides whether actor may perform action on resource, optionally on
// the record instanceID. Actions are matched case-insensitively like catalog
// operation names. The error is reserved for data source failures.
func (e *Engine) Check(ctx context.Context, actor Principal, resource, action, instanceID string) (Decision, error) {
	action = catalog.NormalizeOperation(action)
	key := catalog.Key(resource, action)
	decision, err := e.decide(ctx, actor, key, resource, instanceID)
	if err != nil {
		return Decision{}, err
	}
	if e.observer != nil {
		e.observer.ObserveDecision(resource, action, decision.Allowed, string(decision.Reason))
	}
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, actor Principal, key, resource, instanceID string) (Decision, error) {
	userID := principalID(actor)
	if userID <= 0 {
		return Decision{Reason: ReasonUnauthenticated, Key: key}, nil
	}
	access, err := e.access(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if access.hasRole(e.adminRole) {
		return Decision{Allowed: true, Reason: ReasonAdmin, Key: key}, nil
	}
	if instanceID != "" && e.mode == ModeStandalone {
		ok, err := e.source.HasInstanceGrant(ctx, userID, resource, instanceID)
		if err != nil {
			return Decision{}, fmt.Errorf("rbac: instance grant: %w", err)
		}
		if ok {
			return Decision{Allowed: true, Reason: ReasonInstance, Key: key}, nil
		}
	}
	if access.hasPermission(key) {
		return Decision{Allowed: true, Reason: ReasonRole, Key: key}, nil
	}
	return Decision{Reason: ReasonForbidden, Key: key}, nil
}

// Authorize runs Check and folds the decision into an error.
func (e *Engine) Authorize(ctx context.Context, actor Principal, resource, action, instanceID string) error {
	decision, err := e.Check(ctx, actor, resource, action, instanceID)
	if err != nil {
		return err
	}
	return decision.Err()
}

// EffectivePermissions returns the role-derived permission keys of a user.
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, shared.ErrUnauthenticated
	}
	access, err := e.access(ctx, userID)
	if err != nil {
		return nil, err
	}
	return access.Permissions, nil
}

// VisibleRecords lists the records of resource the actor may read. Admins and
// holders of the role-level read permission see every record.
func (e *Engine) VisibleRecords(ctx context.Context, actor Principal, resource string) (Visibility, error) {
	userID := principalID(actor)
	if userID <= 0 {
		return Visibility{}, shared.ErrUnauthenticated
	}
	access, err := e.access(ctx, userID)
	if err != nil {
		return Visibility{}, err
	}
	if access.hasRole(e.adminRole) || access.hasPermission(catalog.Key(resource, "read")) {
		return Visibility{All: true}, nil
	}
	records, err := e.source.InstanceRecords(ctx, userID, resource)
	if err != nil {
		return Visibility{}, fmt.Errorf("rbac: instance records: %w", err)
	}
	return Visibility{Records: records}, nil
}

// Warm loads and caches the access snapshot of each user.
func (e *Engine) Warm(ctx context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if _, err := e.access(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// access coalesces concurrent loads for the same user and consults the cache.
// The shared load outlives any single caller; each caller still stops waiting
// when its own ctx is done.
func (e *Engine) access(ctx context.Context, userID int64) (Access, error) {
	flightKey := strconv.FormatInt(userID, 10)
	resultChan := e.loads.DoChan(flightKey, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accessLoadTimeout)
		defer cancel()
		return e.loadAccess(loadCtx, userID)
	})
	select {
	case <-ctx.Done():
		return Access{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Access{}, res.Err
		}
		return res.Val.(Access), nil
	}
}

func (e *Engine) loadAccess(ctx context.Context, userID int64) (Access, error) {
	var sourceErr error
	loader := func(ctx context.Context) (any, error) {
		access, err := e.source.Access(ctx, userID)
		sourceErr = err
		return access, err
	}
	if e.cache != nil {
		var access Access
		key, err := e.cache.BuildKey(ctx, accessKeyParts(userID)...)
		if err == nil {
			err = e.cache.FetchJSON(ctx, key, &access, loader)
		}
		switch {
		case err == nil:
			return access, nil
		case sourceErr != nil:
			return Access{}, fmt.Errorf("rbac: load access: %w", sourceErr)
		case e.logger != nil:
			e.logger.Warn("rbac: access cache unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	access, err := e.source.Access(ctx, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: load access: %w", err)
	}
	return access, nil
}

// Bump invalidates cached snapshots.
func (e *Engine) Bump(ctx context.Context) error {
	return e.cache.Bump(ctx)
}

func principalID(actor Principal) int64 {
	if actor == nil {
		return 0
	}
	return actor.GetID()
}
