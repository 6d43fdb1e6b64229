package auth

import (
	"context"
	"time"
)

// CredentialStore persists users and their single current refresh token.
type CredentialStore interface {
	// CreateUser inserts u together with u.RoleIDs and, when defaultRole
	// names an existing role, that role too, all in one transaction. An
	// unknown role id aborts the whole write.
	CreateUser(ctx context.Context, u NewUser, defaultRole string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByLogin(ctx context.Context, usernameOrEmail string) (User, error)
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
	EmailTaken(ctx context.Context, email, exceptID string) (bool, error)
	ListUsers(ctx context.Context) ([]UserSummary, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error

	// SaveRefreshToken overwrites the stored refresh token. A non-nil
	// loginAt also stamps last_login_at in the same statement.
	SaveRefreshToken(ctx context.Context, userID, token string, loginAt *time.Time) error
	// SwapRefreshToken replaces old with next only while old is still current.
	SwapRefreshToken(ctx context.Context, userID, old, next string) (bool, error)
	ClearRefreshToken(ctx context.Context, userID string) error
	ClearRefreshTokenByValue(ctx context.Context, token string) error
}

// GraphStore persists roles, permissions and the links between them.
type GraphStore interface {
	CreateRole(ctx context.Context, r Role, permissionIDs []string, actorID string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	RoleNameTaken(ctx context.Context, name, exceptID string) (bool, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string, actorID string) error
	GrantPermission(ctx context.Context, roleID, permissionID, actorID string) (Grant, error)

	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionNameTaken(ctx context.Context, name, exceptID string) (bool, error)
	UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (Permission, error)
	DeletePermission(ctx context.Context, id string) error

	AssignRole(ctx context.Context, userID, roleID, actorID string) (Assignment, error)
	UnassignRole(ctx context.Context, userID, roleID string) error
}

// PermissionSource answers resolution queries.
type PermissionSource interface {
	// UserPermissions returns the distinct permission names reachable from
	// the user's roles, or ErrNotFound when the user does not exist.
	UserPermissions(ctx context.Context, userID string) ([]string, error)
	// UserRoles returns the user's roles with their permissions loaded.
	UserRoles(ctx context.Context, userID string) ([]Role, error)
}

// Store is everything the auth subsystem needs from persistence.
type Store interface {
	CredentialStore
	GraphStore
	PermissionSource
}
