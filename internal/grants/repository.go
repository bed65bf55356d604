package grants

import (
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Repository persists grants of one relation.
type Repository = store.Repository[Grant, int64]

func schemaFor(rel Relation) store.Schema[Grant, int64] {
	return store.Schema[Grant, int64]{
		Table:     rel.Table,
		KeyColumn: "id",
		Columns:   []string{rel.LeftColumn, rel.RightColumn, "created_at"},
		Key:       func(g Grant) int64 { return g.ID },
		WithKey:   func(g Grant, id int64) Grant { g.ID = id; return g },
		Values: func(g Grant) []any {
			return []any{g.LeftID, g.RightID, g.CreatedAt}
		},
		Scan: func(row store.Scanner) (Grant, error) {
			var g Grant
			err := row.Scan(&g.ID, &g.LeftID, &g.RightID, &g.CreatedAt)
			return g, err
		},
		Unique: [][]string{{rel.LeftColumn, rel.RightColumn}},
	}
}

// Repositories groups the three link tables.
type Repositories struct {
	RolePermissions Repository
	UserRoles       Repository
	UserInstances   Repository
}

// NewMemoryRepositories returns in-process link tables.
func NewMemoryRepositories() Repositories {
	return Repositories{
		RolePermissions: store.NewMemory(schemaFor(RolePermission), store.Sequence()),
		UserRoles:       store.NewMemory(schemaFor(UserRole), store.Sequence()),
		UserInstances:   store.NewMemory(schemaFor(UserAssetInstance), store.Sequence()),
	}
}

// NewPostgresRepositories returns link tables backed by db.
func NewPostgresRepositories(db store.DBTX) Repositories {
	return Repositories{
		RolePermissions: store.NewPostgres(db, schemaFor(RolePermission)),
		UserRoles:       store.NewPostgres(db, schemaFor(UserRole)),
		UserInstances:   store.NewPostgres(db, schemaFor(UserAssetInstance)),
	}
}
