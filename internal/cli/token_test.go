package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/profileboard/profileboard/internal/auth"
)

func TestParsePermissions(t *testing.T) {
	perms := parsePermissions("view_dashboard, TOGGLE_PROFILER,bogus")
	assert.Equal(t, []auth.Permission{auth.PermissionViewDashboard, auth.PermissionToggleProfiler}, perms)
}

func TestPermissionList(t *testing.T) {
	assert.Equal(t, "view_dashboard, toggle_profiler, admin", permissionList())
}
