// Package auth manages dashboard principals, permissions and bearer tokens.
package auth

// Permission defines access levels for dashboard tokens.
type Permission string

const (
	// PermissionViewDashboard allows connecting to the live dashboard and
	// reading profile history and details.
	PermissionViewDashboard Permission = "view_dashboard"

	// PermissionToggleProfiler allows flipping the global profiling flag.
	PermissionToggleProfiler Permission = "toggle_profiler"

	// PermissionAdmin grants full access including token management.
	PermissionAdmin Permission = "admin"
)

// AllPermissions returns all defined permissions.
func AllPermissions() []Permission {
	return []Permission{
		PermissionViewDashboard,
		PermissionToggleProfiler,
		PermissionAdmin,
	}
}

// ParsePermission converts a string to a Permission.
// Returns empty string if the permission is invalid.
func ParsePermission(s string) Permission {
	switch s {
	case "view_dashboard":
		return PermissionViewDashboard
	case "toggle_profiler":
		return PermissionToggleProfiler
	case "admin":
		return PermissionAdmin
	default:
		return ""
	}
}

// HasPermission reports whether the principal holds the given capability.
// Admin implies every other permission.
func HasPermission(principal *Token, perm Permission) bool {
	if principal == nil {
		return false
	}
	for _, p := range principal.Permissions {
		if p == perm || p == PermissionAdmin {
			return true
		}
	}
	return false
}
