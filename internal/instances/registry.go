package instances

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Assets resolves catalog assets.
type Assets interface {
	GetAsset(ctx context.Context, id int64) (catalog.Asset, error)
	AssetByTable(ctx context.Context, tableName string) (catalog.Asset, error)
}

// Registry records which individual records of an asset can be granted.
type Registry struct {
	repo   Repository
	assets Assets
	audit  audit.Logger
	now    func() time.Time
}

// NewRegistry constructs a Registry.
func NewRegistry(repo Repository, assets Assets, logger audit.Logger) *Registry {
	return &Registry{repo: repo, assets: assets, audit: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register adds (assetID, recordID). A duplicate pair is a Conflict.
func (r *Registry) Register(ctx context.Context, actorID, assetID int64, recordID string) (Instance, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return Instance{}, fmt.Errorf("%w: record id required", shared.ErrValidation)
	}
	asset, err := r.assets.GetAsset(ctx, assetID)
	if err != nil {
		return Instance{}, fmt.Errorf("instances: asset %d: %w", assetID, err)
	}
	inst, err := r.repo.Create(ctx, Instance{AssetID: asset.ID, RecordID: recordID, CreatedAt: r.now()})
	if err != nil {
		return Instance{}, fmt.Errorf("instances: register %s#%s: %w", asset.TableName, recordID, err)
	}
	r.record(ctx, actorID, audit.ActionCreate, inst, asset.TableName)
	return inst, nil
}

// Get fetches an instance by id.
func (r *Registry) Get(ctx context.Context, id int64) (Instance, error) {
	return r.repo.Get(ctx, id)
}

// Lookup finds the instance for (assetID, recordID).
func (r *Registry) Lookup(ctx context.Context, assetID int64, recordID string) (Instance, error) {
	rows, err := r.repo.Find(ctx, store.Eq("asset_id", assetID), store.Eq("record_id", strings.TrimSpace(recordID)))
	if err != nil {
		return Instance{}, err
	}
	if len(rows) == 0 {
		return Instance{}, fmt.Errorf("instances: %d#%s: %w", assetID, recordID, shared.ErrNotFound)
	}
	return rows[0], nil
}

// LookupByTable finds the instance for a record of the asset named tableName.
func (r *Registry) LookupByTable(ctx context.Context, tableName, recordID string) (Instance, error) {
	asset, err := r.assets.AssetByTable(ctx, tableName)
	if err != nil {
		return Instance{}, err
	}
	return r.Lookup(ctx, asset.ID, recordID)
}

// List returns every instance.
func (r *Registry) List(ctx context.Context) ([]Instance, error) {
	return r.repo.List(ctx)
}

// ListForAsset returns the instances of one asset.
func (r *Registry) ListForAsset(ctx context.Context, assetID int64) ([]Instance, error) {
	return r.repo.Find(ctx, store.Eq("asset_id", assetID))
}

// Remove deletes an instance. Grants referencing it are removed by the database cascade.
func (r *Registry) Remove(ctx context.Context, actorID, id int64) error {
	inst, err := r.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	r.record(ctx, actorID, audit.ActionDelete, inst, "")
	return nil
}

// Exists reports whether the instance id is registered; used as a grant referent.
func (r *Registry) Exists(ctx context.Context, id int64) error {
	_, err := r.repo.Get(ctx, id)
	return err
}

func (r *Registry) record(ctx context.Context, actorID int64, action audit.Action, inst Instance, table string) {
	if r.audit == nil {
		return
	}
	data := map[string]any{"asset_id": inst.AssetID, "record_id": inst.RecordID}
	if table != "" {
		data["table_name"] = table
	}
	r.audit.Log(audit.NewEvent(ctx, actorID, action, "asset_instances", strconv.FormatInt(inst.ID, 10), data))
}
