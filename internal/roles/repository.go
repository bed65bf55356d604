package roles

import (
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Repository provides role persistence.
type Repository = store.Repository[Role, int64]

var roleSchema = store.Schema[Role, int64]{
	Table:     "roles",
	KeyColumn: "id",
	Columns:   []string{"name", "description", "parent_role_id", "created_at", "updated_at"},
	Key:       func(r Role) int64 { return r.ID },
	WithKey:   func(r Role, id int64) Role { r.ID = id; return r },
	Values: func(r Role) []any {
		return []any{r.Name, r.Description, r.ParentRoleID, r.CreatedAt, r.UpdatedAt}
	},
	Scan: func(row store.Scanner) (Role, error) {
		var r Role
		err := row.Scan(&r.ID, &r.Name, &r.Description, &r.ParentRoleID, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	},
	Unique: [][]string{{"name"}},
}

// NewMemoryRepository returns an in-process role table.
func NewMemoryRepository() Repository {
	return store.NewMemory(roleSchema, store.Sequence())
}

// NewPostgresRepository returns a role table backed by db.
func NewPostgresRepository(db store.DBTX) Repository {
	return store.NewPostgres(db, roleSchema)
}
