package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Invalidator drops cached access snapshots after a role changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles role business logic.
type Service struct {
	repo        Repository
	audit       audit.Logger
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithInvalidator bumps the access cache after every update or delete.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds Service instance.
func NewService(repo Repository, logger audit.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, audit: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// RoleByName fetches a role by its unique name.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	rows, err := s.repo.Find(ctx, store.Eq("name", strings.TrimSpace(name)))
	if err != nil {
		return Role{}, err
	}
	if len(rows) == 0 {
		return Role{}, fmt.Errorf("roles: %q: %w", name, shared.ErrNotFound)
	}
	return rows[0], nil
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in Input) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	if in.ParentRoleID != nil {
		if _, err := s.repo.Get(ctx, *in.ParentRoleID); err != nil {
			return Role{}, fmt.Errorf("roles: parent %d: %w", *in.ParentRoleID, err)
		}
	}
	now := s.now()
	role, err := s.repo.Create(ctx, Role{
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		ParentRoleID: in.ParentRoleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Role{}, fmt.Errorf("roles: create %q: %w", name, err)
	}
	s.record(ctx, actorID, audit.ActionCreate, role, nil)
	return role, nil
}

// EnsureRole returns the named role, creating it when missing.
func (s *Service) EnsureRole(ctx context.Context, actorID int64, name, description string) (Role, error) {
	role, err := s.RoleByName(ctx, name)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return role, err
	}
	return s.CreateRole(ctx, actorID, Input{Name: name, Description: description})
}

// UpdateRole updates an existing role. A parent that would create a cycle is rejected.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, in Input) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if in.ParentRoleID != nil {
		if err := s.checkParent(ctx, id, *in.ParentRoleID); err != nil {
			return Role{}, err
		}
	}
	previous := role.Name
	role.Name = name
	role.Description = strings.TrimSpace(in.Description)
	role.ParentRoleID = in.ParentRoleID
	role.UpdatedAt = s.now()
	role, err = s.repo.Update(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("roles: update %d: %w", id, err)
	}
	s.record(ctx, actorID, audit.ActionUpdate, role, map[string]any{"previous_name": previous})
	s.invalidate(ctx, role.ID)
	return role, nil
}

// DeleteRole removes a role by ID. Returns shared.ErrNotFound if nothing was deleted.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	role, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.record(ctx, actorID, audit.ActionDelete, role, nil)
	s.invalidate(ctx, role.ID)
	return nil
}

// invalidate drops cached snapshots, which embed role names and permission keys.
func (s *Service) invalidate(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("roles: invalidate access cache", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

// checkParent walks the parent chain from parentID and fails when it reaches id.
func (s *Service) checkParent(ctx context.Context, id, parentID int64) error {
	seen := map[int64]struct{}{}
	current := parentID
	for {
		if current == id {
			return fmt.Errorf("%w: parent %d would form a cycle with role %d", shared.ErrValidation, parentID, id)
		}
		if _, ok := seen[current]; ok {
			return nil
		}
		seen[current] = struct{}{}
		parent, err := s.repo.Get(ctx, current)
		if err != nil {
			return fmt.Errorf("roles: parent %d: %w", current, err)
		}
		if parent.ParentRoleID == nil {
			return nil
		}
		current = *parent.ParentRoleID
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action audit.Action, role Role, extra map[string]any) {
	if s.audit == nil {
		return
	}
	data := map[string]any{"name": role.Name}
	if role.ParentRoleID != nil {
		data["parent_role_id"] = *role.ParentRoleID
	}
	for k, v := range extra {
		data[k] = v
	}
	s.audit.Log(audit.NewEvent(ctx, actorID, action, "roles", strconv.FormatInt(role.ID, 10), data))
}
