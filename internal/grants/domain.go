package grants

import "time"

// Relation names a link table and its two foreign key columns.
type Relation struct {
	Table       string
	LeftColumn  string
	RightColumn string
}

var (
	// RolePermission links roles to permissions.
	RolePermission = Relation{Table: "role_permissions", LeftColumn: "role_id", RightColumn: "permission_id"}
	// UserRole links users to roles.
	UserRole = Relation{Table: "user_roles", LeftColumn: "user_id", RightColumn: "role_id"}
	// UserAssetInstance links users to individual asset instances.
	UserAssetInstance = Relation{Table: "user_asset_instances", LeftColumn: "user_id", RightColumn: "asset_instance_id"}
)

// Grant is a single row of a link table.
type Grant struct {
	ID        int64     `json:"id"`
	LeftID    int64     `json:"left_id"`
	RightID   int64     `json:"right_id"`
	CreatedAt time.Time `json:"created_at"`
}
