package shared

// Default operations seeded into every deployment.
const (
	OpCreate = "create"
	OpRead   = "read"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Tables owned by the authorization core. Each one is registered as an asset so
// its own endpoints can be guarded with table:operation keys.
const (
	AssetOperations         = "operations"
	AssetAssets             = "assets"
	AssetPermissions        = "permissions"
	AssetRoles              = "roles"
	AssetRolePermissions    = "role_permissions"
	AssetUserRoles          = "user_roles"
	AssetInstances          = "asset_instances"
	AssetUserAssetInstances = "user_asset_instances"
	AssetSessions           = "sessions"
	AssetAuditLogs          = "audit_logs"
)

// CoreOperations lists the default CRUD operations.
func CoreOperations() []string {
	return []string{OpCreate, OpRead, OpUpdate, OpDelete}
}

// CoreAssets lists every table of the authorization core.
func CoreAssets() []string {
	return []string{
		AssetOperations,
		AssetAssets,
		AssetPermissions,
		AssetRoles,
		AssetRolePermissions,
		AssetUserRoles,
		AssetInstances,
		AssetUserAssetInstances,
		AssetSessions,
		AssetAuditLogs,
	}
}
