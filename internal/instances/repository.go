package instances

import "github.com/odyssey-erp/odyssey-authz/internal/store"

// Repository persists asset instances.
type Repository = store.Repository[Instance, int64]

var instanceSchema = store.Schema[Instance, int64]{
	Table:     "asset_instances",
	KeyColumn: "id",
	Columns:   []string{"asset_id", "record_id", "created_at"},
	Key:       func(i Instance) int64 { return i.ID },
	WithKey:   func(i Instance, id int64) Instance { i.ID = id; return i },
	Values: func(i Instance) []any {
		return []any{i.AssetID, i.RecordID, i.CreatedAt}
	},
	Scan: func(row store.Scanner) (Instance, error) {
		var i Instance
		err := row.Scan(&i.ID, &i.AssetID, &i.RecordID, &i.CreatedAt)
		return i, err
	},
	Unique: [][]string{{"asset_id", "record_id"}},
}

// NewMemoryRepository returns an in-process instance table.
func NewMemoryRepository() Repository {
	return store.NewMemory(instanceSchema, store.Sequence())
}

// NewPostgresRepository returns an instance table backed by db.
func NewPostgresRepository(db store.DBTX) Repository {
	return store.NewPostgres(db, instanceSchema)
}
