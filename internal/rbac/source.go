package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/grants"
	"github.com/odyssey-erp/odyssey-authz/internal/instances"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Source loads the facts a decision depends on.
type Source interface {
	Access(ctx context.Context, userID int64) (Access, error)
	HasInstanceGrant(ctx context.Context, userID int64, resource, recordID string) (bool, error)
	InstanceRecords(ctx context.Context, userID int64, resource string) ([]string, error)
}

// RoleReader resolves roles by id.
type RoleReader interface {
	GetRole(ctx context.Context, id int64) (roles.Role, error)
}

// PermissionReader resolves permission keys and assets.
type PermissionReader interface {
	PermissionKey(ctx context.Context, id int64) (string, error)
	AssetByTable(ctx context.Context, tableName string) (catalog.Asset, error)
}

// InstanceReader resolves asset instances.
type InstanceReader interface {
	Get(ctx context.Context, id int64) (instances.Instance, error)
	LookupByTable(ctx context.Context, tableName, recordID string) (instances.Instance, error)
}

// RepositorySource composes the grant, role, catalog and instance services.
type RepositorySource struct {
	grants    *grants.Store
	roles     RoleReader
	catalog   PermissionReader
	instances InstanceReader
}

// NewRepositorySource constructs a RepositorySource.
func NewRepositorySource(g *grants.Store, r RoleReader, c PermissionReader, i InstanceReader) *RepositorySource {
	return &RepositorySource{grants: g, roles: r, catalog: c, instances: i}
}

// Access unions the permission keys of every role the user holds. Links to
// removed roles or permissions are skipped.
func (s *RepositorySource) Access(ctx context.Context, userID int64) (Access, error) {
	userRoles, err := s.grants.UserRoles().ListForLeft(ctx, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: user roles: %w", err)
	}
	roleNames := make(map[string]struct{}, len(userRoles))
	keys := make(map[string]struct{})
	for _, ur := range userRoles {
		role, err := s.roles.GetRole(ctx, ur.RightID)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return Access{}, fmt.Errorf("rbac: role %d: %w", ur.RightID, err)
		}
		roleNames[role.Name] = struct{}{}
		perms, err := s.grants.RolePermissions().ListForLeft(ctx, role.ID)
		if err != nil {
			return Access{}, fmt.Errorf("rbac: role permissions: %w", err)
		}
		for _, rp := range perms {
			key, err := s.catalog.PermissionKey(ctx, rp.RightID)
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			if err != nil {
				return Access{}, fmt.Errorf("rbac: permission %d: %w", rp.RightID, err)
			}
			keys[key] = struct{}{}
		}
	}
	return Access{Roles: sortedKeys(roleNames), Permissions: sortedKeys(keys)}, nil
}

// HasInstanceGrant reports whether the user holds a grant on (resource, recordID).
func (s *RepositorySource) HasInstanceGrant(ctx context.Context, userID int64, resource, recordID string) (bool, error) {
	inst, err := s.instances.LookupByTable(ctx, resource, recordID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rbac: instance lookup: %w", err)
	}
	return s.grants.UserInstances().Exists(ctx, userID, inst.ID)
}

// InstanceRecords lists record ids of resource the user holds grants for.
func (s *RepositorySource) InstanceRecords(ctx context.Context, userID int64, resource string) ([]string, error) {
	asset, err := s.catalog.AssetByTable(ctx, resource)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	links, err := s.grants.UserInstances().ListForLeft(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: instance grants: %w", err)
	}
	records := make(map[string]struct{}, len(links))
	for _, link := range links {
		inst, err := s.instances.Get(ctx, link.RightID)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if inst.AssetID == asset.ID {
			records[inst.RecordID] = struct{}{}
		}
	}
	return sortedKeys(records), nil
}

const accessQuery = `SELECT r.name, a.table_name || ':' || o.name
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
LEFT JOIN operations o ON o.id = p.operation_id
LEFT JOIN assets a ON a.id = p.asset_id
WHERE ur.user_id = $1`

const instanceGrantQuery = `SELECT EXISTS (
  SELECT 1 FROM user_asset_instances g
  JOIN asset_instances i ON i.id = g.asset_instance_id
  JOIN assets a ON a.id = i.asset_id
  WHERE g.user_id = $1 AND a.table_name = $2 AND i.record_id = $3
)`

const instanceRecordsQuery = `SELECT i.record_id
FROM user_asset_instances g
JOIN asset_instances i ON i.id = g.asset_instance_id
JOIN assets a ON a.id = i.asset_id
WHERE g.user_id = $1 AND a.table_name = $2
ORDER BY i.record_id`

// PostgresSource answers the same questions with one query each.
type PostgresSource struct {
	db store.DBTX
}

// NewPostgresSource constructs a PostgresSource.
func NewPostgresSource(db store.DBTX) *PostgresSource {
	return &PostgresSource{db: db}
}

// Access loads role names and permission keys in one round trip.
func (s *PostgresSource) Access(ctx context.Context, userID int64) (Access, error) {
	rows, err := s.db.Query(ctx, accessQuery, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: access query: %w", err)
	}
	defer rows.Close()
	roleNames := make(map[string]struct{})
	keys := make(map[string]struct{})
	for rows.Next() {
		var (
			role string
			key  pgtype.Text
		)
		if err := rows.Scan(&role, &key); err != nil {
			return Access{}, fmt.Errorf("rbac: scan access: %w", err)
		}
		roleNames[role] = struct{}{}
		if key.Valid {
			keys[key.String] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return Access{}, fmt.Errorf("rbac: access rows: %w", err)
	}
	return Access{Roles: sortedKeys(roleNames), Permissions: sortedKeys(keys)}, nil
}

// HasInstanceGrant reports whether the user holds a grant on (resource, recordID).
func (s *PostgresSource) HasInstanceGrant(ctx context.Context, userID int64, resource, recordID string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, instanceGrantQuery, userID, resource, recordID).Scan(&ok); err != nil {
		return false, fmt.Errorf("rbac: instance grant query: %w", err)
	}
	return ok, nil
}

// InstanceRecords lists record ids of resource the user holds grants for.
func (s *PostgresSource) InstanceRecords(ctx context.Context, userID int64, resource string) ([]string, error) {
	rows, err := s.db.Query(ctx, instanceRecordsQuery, userID, resource)
	if err != nil {
		return nil, fmt.Errorf("rbac: instance records query: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("rbac: instance records: %w", err)
	}
	return records, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	_ Source = (*RepositorySource)(nil)
	_ Source = (*PostgresSource)(nil)
)
