package roles

import "time"

// Role represents a named permission grouping. ParentRoleID is stored for a
// future hierarchy and is not consulted when computing permissions.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ParentRoleID *int64    `json:"parent_role_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Input carries the editable role fields.
type Input struct {
	Name         string
	Description  string
	ParentRoleID *int64
}
