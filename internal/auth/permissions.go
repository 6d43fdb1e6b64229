package auth

import (
	"fmt"
	"slices"
	"strings"
)

// Resources that permissions may target.
const (
	ResourceUsers       = "users"
	ResourcePosts       = "posts"
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourceDashboard   = "dashboard"
)

// Actions that permissions may grant.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Permissions guarding the administrative surface.
const (
	PermUsersCreate       = "users.create"
	PermUsersRead         = "users.read"
	PermUsersUpdate       = "users.update"
	PermUsersDelete       = "users.delete"
	PermRolesCreate       = "roles.create"
	PermRolesRead         = "roles.read"
	PermRolesUpdate       = "roles.update"
	PermRolesDelete       = "roles.delete"
	PermPermissionsCreate = "permissions.create"
	PermPermissionsRead   = "permissions.read"
	PermPermissionsUpdate = "permissions.update"
	PermPermissionsDelete = "permissions.delete"
)

var (
	Resources = []string{ResourceUsers, ResourcePosts, ResourceRoles, ResourcePermissions, ResourceDashboard}
	Actions   = []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
)

// PermissionName joins resource and action into the canonical name.
func PermissionName(resource, action string) string {
	return resource + "." + action
}

// ParsePermissionName splits and validates a resource.action name.
func ParsePermissionName(name string) (resource, action string, err error) {
	name = strings.TrimSpace(strings.ToLower(name))
	resource, action, ok := strings.Cut(name, ".")
	if !ok || resource == "" || action == "" {
		return "", "", invalidInput(fmt.Sprintf("permission %q must have the form resource.action", name))
	}
	if !slices.Contains(Resources, resource) {
		return "", "", invalidInput(fmt.Sprintf("unknown resource %q", resource))
	}
	if !slices.Contains(Actions, action) {
		return "", "", invalidInput(fmt.Sprintf("unknown action %q", action))
	}
	return resource, action, nil
}

// BuiltinPermissions lists every resource.action pair.
func BuiltinPermissions() []string {
	out := make([]string, 0, len(Resources)*len(Actions))
	for _, r := range Resources {
		for _, a := range Actions {
			out = append(out, PermissionName(r, a))
		}
	}
	return out
}
