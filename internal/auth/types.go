package auth

import "time"

// User is an account able to authenticate against the service.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	RefreshToken string     `json:"-"`
	Avatar       string     `json:"avatar,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	IsActive     bool       `json:"isActive"`
	IsSystem     bool       `json:"isSystem"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Identity is the minimal claim set carried by tokens.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Identity returns the token claim view of the user.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Email: u.Email}
}

// PublicUser is the subset of user fields returned by signup and login.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Public strips credentials and bookkeeping fields.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email}
}

// UserSummary is a user row together with the names of its roles.
type UserSummary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"isActive"`
	IsSystem  bool      `json:"isSystem"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role groups permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Level       int          `json:"level"`
	IsActive    bool         `json:"isActive"`
	IsSystem    bool         `json:"isSystem"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Permission is a single resource.action capability.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"isSystem"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Assignment links a user to a role.
type Assignment struct {
	UserID     string    `json:"userId"`
	RoleID     string    `json:"roleId"`
	AssignedAt time.Time `json:"assignedAt"`
	AssignedBy string    `json:"assignedBy,omitempty"`
}

// Grant links a role to a permission.
type Grant struct {
	RoleID       string    `json:"roleId"`
	PermissionID string    `json:"permissionId"`
	AssignedAt   time.Time `json:"assignedAt"`
	AssignedBy   string    `json:"assignedBy,omitempty"`
}

// ProfileRole is a role as rendered on the profile, with its permissions.
type ProfileRole struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Permissions []ProfilePermission `json:"permissions"`
}

// ProfilePermission is the permission view used for client-side capability checks.
type ProfilePermission struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Profile is what GET /profile returns.
type Profile struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Avatar   string        `json:"avatar,omitempty"`
	Bio      string        `json:"bio,omitempty"`
	Roles    []ProfileRole `json:"roles"`
}

// NewUser carries the fields needed to insert a user.
type NewUser struct {
	ID           string
	Username     string
	Name         string
	Email        string
	PasswordHash string
	RefreshToken string
	IsSystem     bool
	Avatar       string
	Bio          string
	// RoleIDs are linked in the insert transaction, recorded as AssignedBy.
	RoleIDs    []string
	AssignedBy string
}

// UserUpdate is a partial user update; nil fields are left untouched.
type UserUpdate struct {
	Username *string
	Name     *string
	Email    *string
	Password *string
	Avatar   *string
	Bio      *string
	IsActive *bool
}

// RoleUpdate is a partial role update.
type RoleUpdate struct {
	Name        *string
	Description *string
	Level       *int
	IsActive    *bool
}

// PermissionUpdate is a partial permission update. Resource and action move
// together because they determine the name.
type PermissionUpdate struct {
	Resource    *string
	Action      *string
	Description *string
}
