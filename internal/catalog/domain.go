package catalog

import "time"

// Operation is an action verb applicable to assets.
type Operation struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Asset is a named resource class, conceptually a table.
type Asset struct {
	ID          int64     `json:"id"`
	TableName   string    `json:"table_name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission pairs one operation with one asset.
type Permission struct {
	ID          int64     `json:"id"`
	OperationID int64     `json:"operation_id"`
	AssetID     int64     `json:"asset_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// PermissionView is a permission with its rendered key.
type PermissionView struct {
	Permission
	Key string `json:"key"`
}

// Key renders the checkable key for an asset table and operation name.
func Key(tableName, operation string) string {
	return tableName + ":" + operation
}
