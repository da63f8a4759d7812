package models

import (
	"time"

	"github.com/google/uuid"
)

// Member represents a user's role assignment within a project, unique per
// (project, user).
type Member struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"` // 'admin', 'editor', 'viewer'
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role constants, totally ordered admin > editor > viewer.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// roleRanks orders roles for comparison. Unknown roles rank below viewer.
var roleRanks = map[string]int{
	RoleAdmin:  3,
	RoleEditor: 2,
	RoleViewer: 1,
}

// RoleRank returns the rank of a role, or 0 for an unknown/absent role.
func RoleRank(role string) int {
	return roleRanks[role]
}

// RoleAtLeast reports whether role meets or exceeds min in the role ordering.
// An empty or unknown role never satisfies any minimum.
func RoleAtLeast(role, min string) bool {
	r := roleRanks[role]
	return r > 0 && r >= roleRanks[min]
}

// IsValidRole checks if the given role is one of admin/editor/viewer.
func IsValidRole(role string) bool {
	_, ok := roleRanks[role]
	return ok
}
