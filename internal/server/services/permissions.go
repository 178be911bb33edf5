package services

import (
	"slices"

	"github.com/dmitrijs2005/userhub/internal/server/models"
)

// Permission names checked by the users.* procedures.
const (
	PermCreate = "create"
	PermRead   = "read"
	PermUpdate = "update"
	PermDelete = "delete"
)

var rolePermissions = map[models.Role][]string{
	models.RoleAdmin:   {PermCreate, PermRead, PermUpdate, PermDelete},
	models.RoleManager: {PermCreate, PermRead, PermUpdate},
	models.RoleUser:    {PermRead},
}

// PermissionsFor returns a copy of the permission list for role. Unknown
// roles get none.
func PermissionsFor(role models.Role) []string {
	return slices.Clone(rolePermissions[role])
}

// HasPermission reports whether role grants perm.
func HasPermission(role models.Role, perm string) bool {
	return slices.Contains(rolePermissions[role], perm)
}
