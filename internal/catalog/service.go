package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Service owns the closed vocabulary of operations, assets and permissions.
type Service struct {
	repos Repositories
	audit audit.Logger
	now   func() time.Time

	// refs serialises operation renames with permission creation.
	refs sync.Mutex
}

// NewService constructs a catalog Service.
func NewService(repos Repositories, logger audit.Logger) *Service {
	return &Service{
		repos: repos,
		audit: logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateOperation registers an operation verb. Names are stored lower-cased.
func (s *Service) CreateOperation(ctx context.Context, actorID int64, name, description string) (Operation, error) {
	name, err := s.operationName(name)
	if err != nil {
		return Operation{}, err
	}
	op, err := s.repos.Operations.Create(ctx, Operation{
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return Operation{}, fmt.Errorf("catalog: create operation %q: %w", name, err)
	}
	s.record(ctx, actorID, audit.ActionCreate, "operations", op.ID, map[string]any{"name": op.Name})
	return op, nil
}

// GetOperation fetches an operation by id.
func (s *Service) GetOperation(ctx context.Context, id int64) (Operation, error) {
	return s.repos.Operations.Get(ctx, id)
}

// ListOperations returns every operation.
func (s *Service) ListOperations(ctx context.Context) ([]Operation, error) {
	return s.repos.Operations.List(ctx)
}

// RenameOperation changes an operation name. Names referenced by a permission are immutable.
func (s *Service) RenameOperation(ctx context.Context, actorID, id int64, name string) (Operation, error) {
	name, err := s.operationName(name)
	if err != nil {
		return Operation{}, err
	}
	s.refs.Lock()
	defer s.refs.Unlock()
	op, err := s.repos.Operations.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if op.Name == name {
		return op, nil
	}
	refs, err := s.repos.Permissions.Find(ctx, store.Eq("operation_id", id))
	if err != nil {
		return Operation{}, err
	}
	if len(refs) > 0 {
		return Operation{}, fmt.Errorf("catalog: operation %q is referenced by %d permissions: %w", op.Name, len(refs), shared.ErrConflict)
	}
	previous := op.Name
	op.Name = name
	op, err = s.repos.Operations.Update(ctx, op)
	if err != nil {
		return Operation{}, fmt.Errorf("catalog: rename operation: %w", err)
	}
	s.record(ctx, actorID, audit.ActionUpdate, "operations", op.ID, map[string]any{"from": previous, "to": op.Name})
	return op, nil
}

// CreateAsset registers an asset by table name.
func (s *Service) CreateAsset(ctx context.Context, actorID int64, tableName, description string) (Asset, error) {
	tableName = strings.TrimSpace(tableName)
	if err := validName("table name", tableName); err != nil {
		return Asset{}, err
	}
	asset, err := s.repos.Assets.Create(ctx, Asset{
		TableName:   tableName,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("catalog: create asset %q: %w", tableName, err)
	}
	s.record(ctx, actorID, audit.ActionCreate, "assets", asset.ID, map[string]any{"table_name": asset.TableName})
	return asset, nil
}

// GetAsset fetches an asset by id.
func (s *Service) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return s.repos.Assets.Get(ctx, id)
}

// AssetByTable fetches an asset by table name.
func (s *Service) AssetByTable(ctx context.Context, tableName string) (Asset, error) {
	rows, err := s.repos.Assets.Find(ctx, store.Eq("table_name", strings.TrimSpace(tableName)))
	if err != nil {
		return Asset{}, err
	}
	if len(rows) == 0 {
		return Asset{}, fmt.Errorf("catalog: asset %q: %w", tableName, shared.ErrNotFound)
	}
	return rows[0], nil
}

// ListAssets returns every asset.
func (s *Service) ListAssets(ctx context.Context) ([]Asset, error) {
	return s.repos.Assets.List(ctx)
}

// CreatePermission pairs an operation with an asset. A duplicate pair is a Conflict.
func (s *Service) CreatePermission(ctx context.Context, actorID, operationID, assetID int64) (Permission, error) {
	s.refs.Lock()
	defer s.refs.Unlock()
	op, err := s.repos.Operations.Get(ctx, operationID)
	if err != nil {
		return Permission{}, fmt.Errorf("catalog: operation %d: %w", operationID, err)
	}
	asset, err := s.repos.Assets.Get(ctx, assetID)
	if err != nil {
		return Permission{}, fmt.Errorf("catalog: asset %d: %w", assetID, err)
	}
	perm, err := s.repos.Permissions.Create(ctx, Permission{
		OperationID: op.ID,
		AssetID:     asset.ID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return Permission{}, fmt.Errorf("catalog: create permission %s: %w", Key(asset.TableName, op.Name), err)
	}
	s.record(ctx, actorID, audit.ActionCreate, "permissions", perm.ID, map[string]any{
		"operation_id": op.ID,
		"asset_id":     asset.ID,
		"key":          Key(asset.TableName, op.Name),
	})
	return perm, nil
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repos.Permissions.Get(ctx, id)
}

// ListPermissions returns every permission with its rendered key.
func (s *Service) ListPermissions(ctx context.Context) ([]PermissionView, error) {
	perms, err := s.repos.Permissions.List(ctx)
	if err != nil {
		return nil, err
	}
	ops, err := s.operationNames(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := s.assetTables(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PermissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, PermissionView{Permission: p, Key: Key(tables[p.AssetID], ops[p.OperationID])})
	}
	return views, nil
}

// PermissionKey renders the key of a permission.
func (s *Service) PermissionKey(ctx context.Context, id int64) (string, error) {
	perm, err := s.repos.Permissions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	op, err := s.repos.Operations.Get(ctx, perm.OperationID)
	if err != nil {
		return "", err
	}
	asset, err := s.repos.Assets.Get(ctx, perm.AssetID)
	if err != nil {
		return "", err
	}
	return Key(asset.TableName, op.Name), nil
}

// FindPermission resolves the permission for a resource table and action.
func (s *Service) FindPermission(ctx context.Context, tableName, action string) (Permission, error) {
	asset, err := s.AssetByTable(ctx, tableName)
	if err != nil {
		return Permission{}, err
	}
	ops, err := s.repos.Operations.Find(ctx, store.Eq("name", lowerName(action)))
	if err != nil {
		return Permission{}, err
	}
	if len(ops) == 0 {
		return Permission{}, fmt.Errorf("catalog: operation %q: %w", action, shared.ErrNotFound)
	}
	perms, err := s.repos.Permissions.Find(ctx, store.Eq("operation_id", ops[0].ID), store.Eq("asset_id", asset.ID))
	if err != nil {
		return Permission{}, err
	}
	if len(perms) == 0 {
		return Permission{}, fmt.Errorf("catalog: permission %s: %w", Key(tableName, action), shared.ErrNotFound)
	}
	return perms[0], nil
}

// EnsureOperation returns the named operation, creating it when missing. The
// lookup runs first so a rerun never trips a unique violation inside a
// transaction.
func (s *Service) EnsureOperation(ctx context.Context, actorID int64, name, description string) (Operation, error) {
	normalized, err := s.operationName(name)
	if err != nil {
		return Operation{}, err
	}
	ops, err := s.repos.Operations.Find(ctx, store.Eq("name", normalized))
	if err != nil {
		return Operation{}, err
	}
	if len(ops) > 0 {
		return ops[0], nil
	}
	return s.CreateOperation(ctx, actorID, name, description)
}

// EnsureAsset returns the asset for tableName, creating it when missing.
func (s *Service) EnsureAsset(ctx context.Context, actorID int64, tableName, description string) (Asset, error) {
	asset, err := s.AssetByTable(ctx, tableName)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return asset, err
	}
	return s.CreateAsset(ctx, actorID, tableName, description)
}

// EnsurePermission returns the (operation, asset) permission, creating it when missing.
func (s *Service) EnsurePermission(ctx context.Context, actorID, operationID, assetID int64) (Permission, error) {
	perms, err := s.repos.Permissions.Find(ctx, store.Eq("operation_id", operationID), store.Eq("asset_id", assetID))
	if err != nil {
		return Permission{}, err
	}
	if len(perms) > 0 {
		return perms[0], nil
	}
	return s.CreatePermission(ctx, actorID, operationID, assetID)
}

func (s *Service) operationName(name string) (string, error) {
	name = lowerName(name)
	if err := validName("operation name", name); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Service) operationNames(ctx context.Context) (map[int64]string, error) {
	ops, err := s.repos.Operations.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(ops))
	for _, op := range ops {
		names[op.ID] = op.Name
	}
	return names, nil
}

func (s *Service) assetTables(ctx context.Context) (map[int64]string, error) {
	assets, err := s.repos.Assets.List(ctx)
	if err != nil {
		return nil, err
	}
	tables := make(map[int64]string, len(assets))
	for _, a := range assets {
		tables[a.ID] = a.TableName
	}
	return tables, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action audit.Action, model string, id int64, data map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Log(audit.NewEvent(ctx, actorID, action, model, strconv.FormatInt(id, 10), data))
}

// NormalizeOperation renders an operation name the way the catalog stores it.
func NormalizeOperation(name string) string {
	return lowerName(name)
}

// lowerName builds a Caser per call; Casers are not safe for concurrent use.
func lowerName(name string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(name))
}

func validName(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s required", shared.ErrValidation, field)
	}
	if strings.ContainsAny(value, ": \t\n") {
		return fmt.Errorf("%w: %s %q must not contain separators or whitespace", shared.ErrValidation, field, value)
	}
	return nil
}
