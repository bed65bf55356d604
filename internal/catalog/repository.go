package catalog

import (
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Repositories groups the catalog tables.
type Repositories struct {
	Operations  store.Repository[Operation, int64]
	Assets      store.Repository[Asset, int64]
	Permissions store.Repository[Permission, int64]
}

var operationSchema = store.Schema[Operation, int64]{
	Table:     "operations",
	KeyColumn: "id",
	Columns:   []string{"name", "description", "created_at"},
	Key:       func(o Operation) int64 { return o.ID },
	WithKey:   func(o Operation, id int64) Operation { o.ID = id; return o },
	Values:    func(o Operation) []any { return []any{o.Name, o.Description, o.CreatedAt} },
	Scan: func(row store.Scanner) (Operation, error) {
		var o Operation
		err := row.Scan(&o.ID, &o.Name, &o.Description, &o.CreatedAt)
		return o, err
	},
	Unique: [][]string{{"name"}},
}

var assetSchema = store.Schema[Asset, int64]{
	Table:     "assets",
	KeyColumn: "id",
	Columns:   []string{"table_name", "description", "created_at"},
	Key:       func(a Asset) int64 { return a.ID },
	WithKey:   func(a Asset, id int64) Asset { a.ID = id; return a },
	Values:    func(a Asset) []any { return []any{a.TableName, a.Description, a.CreatedAt} },
	Scan: func(row store.Scanner) (Asset, error) {
		var a Asset
		err := row.Scan(&a.ID, &a.TableName, &a.Description, &a.CreatedAt)
		return a, err
	},
	Unique: [][]string{{"table_name"}},
}

var permissionSchema = store.Schema[Permission, int64]{
	Table:     "permissions",
	KeyColumn: "id",
	Columns:   []string{"operation_id", "asset_id", "created_at"},
	Key:       func(p Permission) int64 { return p.ID },
	WithKey:   func(p Permission, id int64) Permission { p.ID = id; return p },
	Values:    func(p Permission) []any { return []any{p.OperationID, p.AssetID, p.CreatedAt} },
	Scan: func(row store.Scanner) (Permission, error) {
		var p Permission
		err := row.Scan(&p.ID, &p.OperationID, &p.AssetID, &p.CreatedAt)
		return p, err
	},
	Unique: [][]string{{"operation_id", "asset_id"}},
}

// NewMemoryRepositories returns in-process catalog tables.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Operations:  store.NewMemory(operationSchema, store.Sequence()),
		Assets:      store.NewMemory(assetSchema, store.Sequence()),
		Permissions: store.NewMemory(permissionSchema, store.Sequence()),
	}
}

// NewPostgresRepositories returns catalog tables backed by db.
func NewPostgresRepositories(db store.DBTX) Repositories {
	return Repositories{
		Operations:  store.NewPostgres(db, operationSchema),
		Assets:      store.NewPostgres(db, assetSchema),
		Permissions: store.NewPostgres(db, permissionSchema),
	}
}
