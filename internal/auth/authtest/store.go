// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"authix.org/internal/auth"
)

// Seed ids match migrations/seeds so tests can refer to built-in rows.
const (
	AdminRoleID  = "01J9SEEDR00000000000000001"
	EditorRoleID = "01J9SEEDR00000000000000002"
	UserRoleID   = "01J9SEEDR00000000000000003"
)

type link struct{ a, b string }

// Store keeps users, roles, permissions and links in maps. It mirrors the
// error behaviour of the Postgres store. Writes counts every mutating call.
type Store struct {
	mu sync.Mutex

	users       map[string]auth.User
	roles       map[string]auth.Role
	perms       map[string]auth.Permission
	userRoles   map[link]auth.Assignment
	roleGrants  map[link]auth.Grant
	writes      int
	now         func() time.Time
	createOrder []string

	// UserPermissionsFn replaces the resolver query when set.
	UserPermissionsFn func(ctx context.Context, userID string) ([]string, error)
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:      map[string]auth.User{},
		roles:      map[string]auth.Role{},
		perms:      map[string]auth.Permission{},
		userRoles:  map[link]auth.Assignment{},
		roleGrants: map[link]auth.Grant{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Seeded returns a store holding the built-in permissions, roles and grants.
func Seeded() *Store {
	s := New()
	now := s.now()
	for i, name := range auth.BuiltinPermissions() {
		resource, action, _ := strings.Cut(name, ".")
		id := fmt.Sprintf("01J9SEEDP%017d", i+1)
		s.perms[id] = auth.Permission{
			ID: id, Name: name, Resource: resource, Action: action,
			IsSystem:  resource != auth.ResourcePosts,
			CreatedAt: now, UpdatedAt: now,
		}
	}
	s.roles[AdminRoleID] = auth.Role{ID: AdminRoleID, Name: "admin", Level: 100, IsActive: true, IsSystem: true, CreatedAt: now, UpdatedAt: now}
	s.roles[EditorRoleID] = auth.Role{ID: EditorRoleID, Name: "editor", Level: 50, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.roles[UserRoleID] = auth.Role{ID: UserRoleID, Name: "user", Level: 10, IsActive: true, CreatedAt: now, UpdatedAt: now}

	editor := []string{"posts.create", "posts.read", "posts.update", "posts.delete", "dashboard.read", "users.read"}
	for id, p := range s.perms {
		s.roleGrants[link{AdminRoleID, id}] = auth.Grant{RoleID: AdminRoleID, PermissionID: id, AssignedAt: now}
		if slices.Contains(editor, p.Name) {
			s.roleGrants[link{EditorRoleID, id}] = auth.Grant{RoleID: EditorRoleID, PermissionID: id, AssignedAt: now}
		}
		if p.Name == "posts.read" {
			s.roleGrants[link{UserRoleID, id}] = auth.Grant{RoleID: UserRoleID, PermissionID: id, AssignedAt: now}
		}
	}
	return s
}

// Writes reports how many mutating calls reached the store.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// PermissionID returns the id of the permission called name, or "".
func (s *Store) PermissionID(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.perms {
		if p.Name == name {
			return id
		}
	}
	return ""
}

// RefreshToken exposes the stored refresh token of userID.
func (s *Store) RefreshToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].RefreshToken
}

// SetSystem flips the system flag on a user without counting a write.
func (s *Store) SetSystem(userID string, system bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.IsSystem = system
		s.users[userID] = u
	}
}

// Users

func (s *Store) CreateUser(_ context.Context, nu auth.NewUser, defaultRole string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, roleID := range nu.RoleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return auth.User{}, auth.NotFound(auth.EntityRole)
		}
	}
	for _, u := range s.users {
		if u.Username == nu.Username {
			return auth.User{}, auth.Conflict("Username already exists")
		}
		if u.Email == nu.Email {
			return auth.User{}, auth.Conflict("Email already exists")
		}
	}
	now := s.now()
	u := auth.User{
		ID:           nu.ID,
		Username:     nu.Username,
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		RefreshToken: nu.RefreshToken,
		IsActive:     true,
		IsSystem:     nu.IsSystem,
		Avatar:       nu.Avatar,
		Bio:          nu.Bio,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.createOrder = append(s.createOrder, u.ID)
	if defaultRole != "" {
		for _, r := range s.roles {
			if r.Name == defaultRole {
				s.userRoles[link{u.ID, r.ID}] = auth.Assignment{UserID: u.ID, RoleID: r.ID, AssignedAt: now}
			}
		}
	}
	for _, roleID := range nu.RoleIDs {
		s.userRoles[link{u.ID, roleID}] = auth.Assignment{UserID: u.ID, RoleID: roleID, AssignedAt: now, AssignedBy: nu.AssignedBy}
	}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.NotFound(auth.EntityUser)
	}
	return u, nil
}

func (s *Store) FindUserByLogin(_ context.Context, login string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var byEmail *auth.User
	for _, u := range s.users {
		if u.Username == login {
			return u, nil
		}
		if u.Email == login {
			u := u
			byEmail = &u
		}
	}
	if byEmail != nil {
		return *byEmail, nil
	}
	return auth.User{}, auth.NotFound(auth.EntityUser)
}

func (s *Store) UsernameTaken(_ context.Context, username, exceptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) EmailTaken(_ context.Context, email, exceptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email && u.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListUsers(_ context.Context) ([]auth.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.UserSummary, 0, len(s.users))
	for _, id := range s.createOrder {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		roles := []string{}
		for l := range s.userRoles {
			if l.a == id {
				roles = append(roles, s.roles[l.b].Name)
			}
		}
		sort.Strings(roles)
		out = append(out, auth.UserSummary{
			ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email,
			IsActive: u.IsActive, IsSystem: u.IsSystem, Roles: roles, CreatedAt: u.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.NotFound(auth.EntityUser)
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	if upd.Bio != nil {
		u.Bio = *upd.Bio
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.users[id]; !ok {
		return auth.NotFound(auth.EntityUser)
	}
	delete(s.users, id)
	for l := range s.userRoles {
		if l.a == id {
			delete(s.userRoles, l)
		}
	}
	return nil
}

func (s *Store) SaveRefreshToken(_ context.Context, userID, token string, loginAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	u, ok := s.users[userID]
	if !ok {
		return auth.NotFound(auth.EntityUser)
	}
	u.RefreshToken = token
	if loginAt != nil {
		t := *loginAt
		u.LastLoginAt = &t
	}
	s.users[userID] = u
	return nil
}

func (s *Store) SwapRefreshToken(_ context.Context, userID, old, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	u, ok := s.users[userID]
	if !ok || u.RefreshToken != old {
		return false, nil
	}
	u.RefreshToken = next
	s.users[userID] = u
	return true, nil
}

func (s *Store) ClearRefreshToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if u, ok := s.users[userID]; ok {
		u.RefreshToken = ""
		s.users[userID] = u
	}
	return nil
}

func (s *Store) ClearRefreshTokenByValue(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for id, u := range s.users {
		if u.RefreshToken == token {
			u.RefreshToken = ""
			s.users[id] = u
		}
	}
	return nil
}

// Roles

func (s *Store) CreateRole(_ context.Context, r auth.Role, permissionIDs []string, actorID string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, existing := range s.roles {
		if existing.Name == r.Name {
			return auth.Role{}, auth.Conflict("Role name already exists")
		}
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return auth.Role{}, auth.NotFound(auth.EntityPermission)
		}
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.roles[r.ID] = r
	for _, pid := range permissionIDs {
		s.roleGrants[link{r.ID, pid}] = auth.Grant{RoleID: r.ID, PermissionID: pid, AssignedAt: now, AssignedBy: actorID}
	}
	return s.withPermissions(r), nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.NotFound(auth.EntityRole)
	}
	return s.withPermissions(r), nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, s.withPermissions(r))
	}
	sortRoles(out)
	return out, nil
}

func (s *Store) RoleNameTaken(_ context.Context, name, exceptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name && r.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.NotFound(auth.EntityRole)
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Level != nil {
		r.Level = *upd.Level
	}
	if upd.IsActive != nil {
		r.IsActive = *upd.IsActive
	}
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return s.withPermissions(r), nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.roles[id]; !ok {
		return auth.NotFound(auth.EntityRole)
	}
	delete(s.roles, id)
	for l := range s.userRoles {
		if l.b == id {
			delete(s.userRoles, l)
		}
	}
	for l := range s.roleGrants {
		if l.a == id {
			delete(s.roleGrants, l)
		}
	}
	return nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.roles[roleID]; !ok {
		return auth.NotFound(auth.EntityRole)
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return auth.NotFound(auth.EntityPermission)
		}
	}
	for l := range s.roleGrants {
		if l.a == roleID {
			delete(s.roleGrants, l)
		}
	}
	now := s.now()
	for _, pid := range permissionIDs {
		s.roleGrants[link{roleID, pid}] = auth.Grant{RoleID: roleID, PermissionID: pid, AssignedAt: now, AssignedBy: actorID}
	}
	return nil
}

func (s *Store) GrantPermission(_ context.Context, roleID, permissionID, actorID string) (auth.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.roles[roleID]; !ok {
		return auth.Grant{}, auth.NotFound(auth.EntityRole)
	}
	if _, ok := s.perms[permissionID]; !ok {
		return auth.Grant{}, auth.NotFound(auth.EntityPermission)
	}
	if g, ok := s.roleGrants[link{roleID, permissionID}]; ok {
		return g, nil
	}
	g := auth.Grant{RoleID: roleID, PermissionID: permissionID, AssignedAt: s.now(), AssignedBy: actorID}
	s.roleGrants[link{roleID, permissionID}] = g
	return g, nil
}

// Permissions

func (s *Store) CreatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, existing := range s.perms {
		if existing.Name == p.Name {
			return auth.Permission{}, auth.Conflict("Permission already exists")
		}
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.perms[p.ID] = p
	return p, nil
}

func (s *Store) GetPermission(_ context.Context, id string) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return auth.Permission{}, auth.NotFound(auth.EntityPermission)
	}
	return p, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (s *Store) PermissionNameTaken(_ context.Context, name, exceptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.Name == name && p.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdatePermission(_ context.Context, id string, upd auth.PermissionUpdate) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	p, ok := s.perms[id]
	if !ok {
		return auth.Permission{}, auth.NotFound(auth.EntityPermission)
	}
	if upd.Resource != nil {
		p.Resource = *upd.Resource
	}
	if upd.Action != nil {
		p.Action = *upd.Action
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.Name = auth.PermissionName(p.Resource, p.Action)
	p.UpdatedAt = s.now()
	s.perms[id] = p
	return p, nil
}

func (s *Store) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.perms[id]; !ok {
		return auth.NotFound(auth.EntityPermission)
	}
	delete(s.perms, id)
	for l := range s.roleGrants {
		if l.b == id {
			delete(s.roleGrants, l)
		}
	}
	return nil
}

// Assignments

func (s *Store) AssignRole(_ context.Context, userID, roleID, actorID string) (auth.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.users[userID]; !ok {
		return auth.Assignment{}, auth.NotFound(auth.EntityUser)
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.Assignment{}, auth.NotFound(auth.EntityRole)
	}
	if a, ok := s.userRoles[link{userID, roleID}]; ok {
		return a, nil
	}
	a := auth.Assignment{UserID: userID, RoleID: roleID, AssignedAt: s.now(), AssignedBy: actorID}
	s.userRoles[link{userID, roleID}] = a
	return a, nil
}

func (s *Store) UnassignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if _, ok := s.userRoles[link{userID, roleID}]; !ok {
		return auth.NotFound("Role assignment")
	}
	delete(s.userRoles, link{userID, roleID})
	return nil
}

// Resolution

func (s *Store) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	if s.UserPermissionsFn != nil {
		return s.UserPermissionsFn(ctx, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, auth.NotFound(auth.EntityUser)
	}
	seen := map[string]struct{}{}
	out := []string{}
	for ul := range s.userRoles {
		if ul.a != userID {
			continue
		}
		for gl := range s.roleGrants {
			if gl.a != ul.b {
				continue
			}
			name := s.perms[gl.b].Name
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) UserRoles(_ context.Context, userID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []auth.Role{}
	for l := range s.userRoles {
		if l.a == userID {
			out = append(out, s.withPermissions(s.roles[l.b]))
		}
	}
	sortRoles(out)
	return out, nil
}

// withPermissions must be called with mu held.
func (s *Store) withPermissions(r auth.Role) auth.Role {
	perms := []auth.Permission{}
	for l := range s.roleGrants {
		if l.a == r.ID {
			perms = append(perms, s.perms[l.b])
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	r.Permissions = perms
	return r
}

func sortRoles(roles []auth.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
}
