package grants

import (
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// Store exposes the three grant relations.
type Store struct {
	rolePermissions *Links
	userRoles       *Links
	userInstances   *Links
}

// Option customises a Store.
type Option func(*options)

type options struct {
	invalidator Invalidator
	logger      *slog.Logger
	roles       Referent
	permissions Referent
	instances   Referent
	now         func() time.Time
}

// WithInvalidator bumps the access cache after every change.
func WithInvalidator(inv Invalidator) Option {
	return func(o *options) { o.invalidator = inv }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReferents verifies that roles, permissions and asset instances exist before linking.
// Users are owned by the authentication service and are not checked.
func WithReferents(roles, permissions, instances Referent) Option {
	return func(o *options) {
		o.roles = roles
		o.permissions = permissions
		o.instances = instances
	}
}

// WithClock overrides the grant timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewStore wires the three relations over repos.
func NewStore(repos Repositories, logger audit.Logger, opts ...Option) *Store {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	build := func(rel Relation, repo Repository, left, right Referent) *Links {
		return &Links{
			rel:         rel,
			repo:        repo,
			left:        left,
			right:       right,
			audit:       logger,
			invalidator: o.invalidator,
			logger:      o.logger,
			now:         o.now,
		}
	}
	return &Store{
		rolePermissions: build(RolePermission, repos.RolePermissions, o.roles, o.permissions),
		userRoles:       build(UserRole, repos.UserRoles, nil, o.roles),
		userInstances:   build(UserAssetInstance, repos.UserInstances, nil, o.instances),
	}
}

// RolePermissions returns the role to permission links.
func (s *Store) RolePermissions() *Links { return s.rolePermissions }

// UserRoles returns the user to role links.
func (s *Store) UserRoles() *Links { return s.userRoles }

// UserInstances returns the user to asset instance links.
func (s *Store) UserInstances() *Links { return s.userInstances }
