// Package permissions maps roles to permission strings and checks them with
// support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "inventory.*")
//   - "resource.action" - Specific action (e.g., "inventory.read")
package permissions

import (
	"strings"
)

// Known permissions checked by the HTTP layer.
const (
	InventoryRead  = "inventory.read"
	InventoryWrite = "inventory.write"
	InventoryMove  = "inventory.move"
	AlertsRead     = "alerts.read"
	AlertsResolve  = "alerts.resolve"
	ReportsRead    = "reports.read"
	WasteWrite     = "waste.write"
	UsersRead      = "users.read"
	ProfileRead    = "profile.read"
	ProfileWrite   = "profile.write"
	ProfileAll     = "profile.*"
)

var rolePermissions = map[string][]string{
	"admin":    {"*"},
	"end_user": {InventoryRead, ReportsRead, AlertsRead, ProfileAll},
}

// ForRole returns the permissions granted to a role. Unknown roles get none.
func ForRole(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "inventory.*" matches "inventory.read", "inventory.write", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// RoleHas is shorthand for HasPermission(ForRole(role), required).
func RoleHas(role, required string) bool {
	return HasPermission(rolePermissions[role], required)
}
