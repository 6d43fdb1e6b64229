package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authix.org/internal/ids"
)

// RBACService implements the administrative surface over users, roles and
// permissions. Every update or delete loads the target first, then applies
// the system guard, then checks uniqueness, so callers always see 404 before
// 403 before 400.
type RBACService struct {
	store    Store
	resolver *Resolver
}

// NewRBACService constructs the admin service.
func NewRBACService(store Store) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	return &RBACService{store: store, resolver: resolver}, nil
}

// CreateUserInput carries the fields accepted by POST /admin/users.
type CreateUserInput struct {
	Name     string
	Username string
	Email    string
	Password string
	Avatar   string
	Bio      string
	// RoleIDs are assigned together with the insert. Nothing else is;
	// admin-created users do not receive the signup default role.
	RoleIDs []string
}

// CreateRoleInput carries the fields accepted by POST /admin/roles.
type CreateRoleInput struct {
	Name          string
	Description   string
	Level         int
	PermissionIDs []string
}

// CreatePermissionInput accepts either a full name or a resource/action pair.
type CreatePermissionInput struct {
	Name        string
	Resource    string
	Action      string
	Description string
}

func (s *RBACService) ListUsers(ctx context.Context) ([]UserSummary, error) {
	return s.store.ListUsers(ctx)
}

func (s *RBACService) CreateUser(ctx context.Context, actorID string, in CreateUserInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Name == "" {
		return User{}, invalidInput("name and username are required")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return User{}, invalidInput("valid email is required")
	}
	if in.Password == "" {
		return User{}, invalidInput("password is required")
	}
	if err := s.ensureUserUnique(ctx, in.Username, in.Email, ""); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, NewUser{
		ID:           ids.New(),
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       strings.TrimSpace(in.Avatar),
		Bio:          strings.TrimSpace(in.Bio),
		RoleIDs:      dedupeStrings(in.RoleIDs),
		AssignedBy:   actorID,
	}, "")
}

// CheckEditable loads the entity named by id and applies the system guard
// for an edit. Update handlers call it before looking at the request body, so
// a missing row is reported ahead of body validation.
func (s *RBACService) CheckEditable(ctx context.Context, entity, id string) error {
	id = strings.TrimSpace(id)
	var isSystem bool
	switch entity {
	case EntityUser:
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return err
		}
		isSystem = u.IsSystem
	case EntityRole:
		r, err := s.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		isSystem = r.IsSystem
	case EntityPermission:
		p, err := s.store.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		isSystem = p.IsSystem
	default:
		return fmt.Errorf("auth: unknown entity %q", entity)
	}
	return guardSystem(entity, isSystem, opEdit)
}

func (s *RBACService) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error) {
	current, err := s.store.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return User{}, err
	}
	if err := guardSystem(EntityUser, current.IsSystem, opEdit); err != nil {
		return User{}, err
	}
	var username, email string
	if upd.Username != nil {
		username = strings.TrimSpace(*upd.Username)
		if username == "" {
			return User{}, invalidInput("username cannot be empty")
		}
		upd.Username = &username
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return User{}, invalidInput("name cannot be empty")
		}
		upd.Name = &name
	}
	if upd.Email != nil {
		email = strings.TrimSpace(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, invalidInput("valid email is required")
		}
		upd.Email = &email
	}
	if err := s.ensureUserUnique(ctx, username, email, current.ID); err != nil {
		return User{}, err
	}
	if upd.Password != nil {
		if *upd.Password == "" {
			return User{}, invalidInput("password cannot be empty")
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, current.ID, upd)
}

func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	current, err := s.store.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	if err := guardSystem(EntityUser, current.IsSystem, opDelete); err != nil {
		return err
	}
	return s.store.DeleteUser(ctx, current.ID)
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole inserts the role and links its permissions atomically.
func (s *RBACService) CreateRole(ctx context.Context, actorID string, in CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, invalidInput("role name is required")
	}
	taken, err := s.store.RoleNameTaken(ctx, name, "")
	if err != nil {
		return Role{}, err
	}
	if taken {
		return Role{}, conflict("Role name already exists")
	}
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Level:       in.Level,
		IsActive:    true,
	}
	return s.store.CreateRole(ctx, role, dedupeStrings(in.PermissionIDs), actorID)
}

func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	current, err := s.store.GetRole(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return Role{}, err
	}
	if err := guardSystem(EntityRole, current.IsSystem, opEdit); err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, invalidInput("role name is required")
		}
		upd.Name = &name
		taken, err := s.store.RoleNameTaken(ctx, name, current.ID)
		if err != nil {
			return Role{}, err
		}
		if taken {
			return Role{}, conflict("Role name already exists")
		}
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateRole(ctx, current.ID, upd)
}

func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	current, err := s.store.GetRole(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return err
	}
	if err := guardSystem(EntityRole, current.IsSystem, opDelete); err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, current.ID)
}

// SetRolePermissions replaces the role's permission set atomically.
func (s *RBACService) SetRolePermissions(ctx context.Context, actorID, roleID string, permissionIDs []string) error {
	current, err := s.store.GetRole(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return err
	}
	if err := guardSystem(EntityRole, current.IsSystem, opEdit); err != nil {
		return err
	}
	return s.store.SetRolePermissions(ctx, current.ID, dedupeStrings(permissionIDs), actorID)
}

// GrantPermission adds a single permission to a role. Granting twice is a no-op.
func (s *RBACService) GrantPermission(ctx context.Context, actorID, roleID, permissionID string) (Grant, error) {
	role, err := s.store.GetRole(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return Grant{}, err
	}
	if err := guardSystem(EntityRole, role.IsSystem, opEdit); err != nil {
		return Grant{}, err
	}
	perm, err := s.store.GetPermission(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return Grant{}, err
	}
	return s.store.GrantPermission(ctx, role.ID, perm.ID, actorID)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) CreatePermission(ctx context.Context, in CreatePermissionInput) (Permission, error) {
	resource, action, err := resolvePermissionName(in)
	if err != nil {
		return Permission{}, err
	}
	name := PermissionName(resource, action)
	taken, err := s.store.PermissionNameTaken(ctx, name, "")
	if err != nil {
		return Permission{}, err
	}
	if taken {
		return Permission{}, conflict("Permission already exists")
	}
	return s.store.CreatePermission(ctx, Permission{
		ID:          ids.New(),
		Name:        name,
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(in.Description),
	})
}

func (s *RBACService) UpdatePermission(ctx context.Context, permissionID string, upd PermissionUpdate) (Permission, error) {
	current, err := s.store.GetPermission(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return Permission{}, err
	}
	if err := guardSystem(EntityPermission, current.IsSystem, opEdit); err != nil {
		return Permission{}, err
	}
	if upd.Resource != nil || upd.Action != nil {
		resource, action := current.Resource, current.Action
		if upd.Resource != nil {
			resource = *upd.Resource
		}
		if upd.Action != nil {
			action = *upd.Action
		}
		resource, action, err = ParsePermissionName(PermissionName(strings.TrimSpace(resource), strings.TrimSpace(action)))
		if err != nil {
			return Permission{}, err
		}
		upd.Resource, upd.Action = &resource, &action
		taken, err := s.store.PermissionNameTaken(ctx, PermissionName(resource, action), current.ID)
		if err != nil {
			return Permission{}, err
		}
		if taken {
			return Permission{}, conflict("Permission already exists")
		}
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdatePermission(ctx, current.ID, upd)
}

func (s *RBACService) DeletePermission(ctx context.Context, permissionID string) error {
	current, err := s.store.GetPermission(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return err
	}
	if err := guardSystem(EntityPermission, current.IsSystem, opDelete); err != nil {
		return err
	}
	return s.store.DeletePermission(ctx, current.ID)
}

// AssignRole gives userID the role. Assigning an already held role is a no-op.
func (s *RBACService) AssignRole(ctx context.Context, actorID, userID, roleID string) (Assignment, error) {
	user, role, err := s.loadAssignment(ctx, userID, roleID)
	if err != nil {
		return Assignment{}, err
	}
	return s.store.AssignRole(ctx, user.ID, role.ID, actorID)
}

func (s *RBACService) UnassignRole(ctx context.Context, userID, roleID string) error {
	user, role, err := s.loadAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	return s.store.UnassignRole(ctx, user.ID, role.ID)
}

// UserPermissions returns the effective permission set of userID, sorted.
func (s *RBACService) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	set, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Names(), nil
}

// Authorize reports whether userID currently holds required.
func (s *RBACService) Authorize(ctx context.Context, userID, required string) (AuthzResult, error) {
	return s.resolver.Authorize(ctx, userID, required)
}

// BootstrapInput describes the operator account created by bootstrap-admin.
type BootstrapInput struct {
	Name     string
	Username string
	Email    string
	Password string
	Roles    []string
}

// BootstrapAdmin creates the system operator account and ensures it holds
// in.Roles. Running it again against an existing username only re-applies
// the roles; the password is left untouched.
func (s *RBACService) BootstrapAdmin(ctx context.Context, in BootstrapInput) (User, bool, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" {
		return User{}, false, invalidInput("username is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = in.Username
	}

	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return User{}, false, err
	}
	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}
	wanted := make([]Role, 0, len(in.Roles))
	for _, name := range dedupeStrings(in.Roles) {
		r, ok := byName[name]
		if !ok {
			return User{}, false, &Error{Kind: ErrNotFound, Message: "Role not found: " + name}
		}
		wanted = append(wanted, r)
	}

	created := false
	user, err := s.store.FindUserByLogin(ctx, in.Username)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if in.Email == "" || !strings.Contains(in.Email, "@") {
			return User{}, false, invalidInput("valid email is required")
		}
		if in.Password == "" {
			return User{}, false, invalidInput("password is required")
		}
		if err := s.ensureUserUnique(ctx, in.Username, in.Email, ""); err != nil {
			return User{}, false, err
		}
		hash, err := HashPassword(in.Password)
		if err != nil {
			return User{}, false, err
		}
		user, err = s.store.CreateUser(ctx, NewUser{
			ID:           ids.New(),
			Username:     in.Username,
			Name:         strings.TrimSpace(in.Name),
			Email:        in.Email,
			PasswordHash: hash,
			IsSystem:     true,
		}, "")
		if err != nil {
			return User{}, false, err
		}
		created = true
	default:
		return User{}, false, err
	}

	for _, r := range wanted {
		if _, err := s.store.AssignRole(ctx, user.ID, r.ID, ""); err != nil {
			return User{}, false, err
		}
	}
	return user, created, nil
}

func (s *RBACService) loadAssignment(ctx context.Context, userID, roleID string) (User, Role, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return User{}, Role{}, invalidInput("userId and roleId are required")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, Role{}, err
	}
	if err := guardSystem(EntityUser, user.IsSystem, opEdit); err != nil {
		return User{}, Role{}, err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return User{}, Role{}, err
	}
	return user, role, nil
}

func (s *RBACService) ensureUserUnique(ctx context.Context, username, email, exceptID string) error {
	if username != "" {
		taken, err := s.store.UsernameTaken(ctx, username, exceptID)
		if err != nil {
			return err
		}
		if taken {
			return conflict("Username already exists")
		}
	}
	if email != "" {
		taken, err := s.store.EmailTaken(ctx, email, exceptID)
		if err != nil {
			return err
		}
		if taken {
			return conflict("Email already exists")
		}
	}
	return nil
}

func resolvePermissionName(in CreatePermissionInput) (string, string, error) {
	name := strings.TrimSpace(in.Name)
	resource := strings.TrimSpace(strings.ToLower(in.Resource))
	action := strings.TrimSpace(strings.ToLower(in.Action))
	if name == "" {
		if resource == "" || action == "" {
			return "", "", invalidInput("name or resource and action are required")
		}
		name = PermissionName(resource, action)
	}
	r, a, err := ParsePermissionName(name)
	if err != nil {
		return "", "", err
	}
	if (resource != "" && resource != r) || (action != "" && action != a) {
		return "", "", invalidInput("name does not match resource and action")
	}
	return r, a, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
