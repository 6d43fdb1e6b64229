package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"authix.org/internal/auth"
)

const roleColumns = `r.id, r.name, coalesce(r.description, ''), r.level, r.is_active, r.is_system, r.created_at, r.updated_at`

const permissionColumns = `p.id, p.name, p.resource, p.action, coalesce(p.description, ''), p.is_system, p.created_at, p.updated_at`

func scanRole(row scanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Level, &r.IsActive, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row scanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateRole inserts the role and its grants in one transaction. An unknown
// permission id aborts the whole write.
func (s *Store) CreateRole(ctx context.Context, r auth.Role, permissionIDs []string, actorID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	role, err := scanRole(tx.QueryRowContext(ctx, `
		insert into roles as r (id, name, description, level, is_active, is_system)
		values ($1, $2, $3, $4, $5, $6)
		returning `+roleColumns,
		r.ID, r.Name, nullIfEmpty(r.Description), r.Level, r.IsActive, r.IsSystem))
	if err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	if err := insertGrants(ctx, tx, role.ID, permissionIDs, actorID); err != nil {
		return auth.Role{}, err
	}
	perms, err := loadRolePermissions(ctx, tx, []string{role.ID})
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms[role.ID]
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles r where r.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.NotFound(auth.EntityRole)
	}
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := loadRolePermissions(ctx, s.db, []string{role.ID})
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms[role.ID]
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return queryRoles(ctx, s.db, `select `+roleColumns+` from roles r order by r.level desc, r.name asc`)
}

func (s *Store) RoleNameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from roles where name = $1 and id <> $2)`, name, exceptID)
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, v)
		idx++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", nullIfEmpty(*upd.Description))
	}
	if upd.Level != nil {
		add("level", *upd.Level)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx), args...)
		if err != nil {
			return auth.Role{}, mapWriteError(err)
		}
		if err := affectedOne(res, auth.EntityRole); err != nil {
			return auth.Role{}, err
		}
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.EntityRole)
}

// SetRolePermissions replaces the grants of roleID atomically.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string, actorID string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `select id from roles where id = $1 for update`, roleID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.NotFound(auth.EntityRole)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	if err := insertGrants(ctx, tx, roleID, permissionIDs, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// GrantPermission links one permission; an existing link is returned as is.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID, actorID string) (auth.Grant, error) {
	if s.db == nil {
		return auth.Grant{}, errNoDB
	}
	var g auth.Grant
	err := s.db.QueryRowContext(ctx, `
		insert into role_permissions (role_id, permission_id, assigned_by)
		values ($1, $2, $3)
		on conflict (role_id, permission_id) do update set role_id = excluded.role_id
		returning role_id, permission_id, assigned_at, coalesce(assigned_by, '')
	`, roleID, permissionID, nullIfEmpty(actorID)).Scan(&g.RoleID, &g.PermissionID, &g.AssignedAt, &g.AssignedBy)
	if err != nil {
		return auth.Grant{}, mapWriteError(err)
	}
	return g, nil
}

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	perm, err := scanPermission(s.db.QueryRowContext(ctx, `
		insert into permissions as p (id, name, resource, action, description, is_system)
		values ($1, $2, $3, $4, $5, $6)
		returning `+permissionColumns,
		p.ID, p.Name, p.Resource, p.Action, nullIfEmpty(p.Description), p.IsSystem))
	if err != nil {
		return auth.Permission{}, mapWriteError(err)
	}
	return perm, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	perm, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions p where p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.NotFound(auth.EntityPermission)
	}
	return perm, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions p order by p.resource, p.action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) PermissionNameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from permissions where name = $1 and id <> $2)`, name, exceptID)
}

// UpdatePermission keeps name in step with resource and action.
func (s *Store) UpdatePermission(ctx context.Context, id string, upd auth.PermissionUpdate) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, v)
		idx++
	}
	if upd.Resource != nil {
		add("resource", *upd.Resource)
	}
	if upd.Action != nil {
		add("action", *upd.Action)
	}
	if upd.Resource != nil || upd.Action != nil {
		sets = append(sets, "name = resource || '.' || action")
	}
	if upd.Description != nil {
		add("description", nullIfEmpty(*upd.Description))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update permissions set %s where id = $%d`, strings.Join(sets, ", "), idx), args...)
		if err != nil {
			return auth.Permission{}, mapWriteError(err)
		}
		if err := affectedOne(res, auth.EntityPermission); err != nil {
			return auth.Permission{}, err
		}
	}
	return s.GetPermission(ctx, id)
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.EntityPermission)
}

// AssignRole links the user to the role; an existing link is returned as is.
func (s *Store) AssignRole(ctx context.Context, userID, roleID, actorID string) (auth.Assignment, error) {
	if s.db == nil {
		return auth.Assignment{}, errNoDB
	}
	var a auth.Assignment
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by)
		values ($1, $2, $3)
		on conflict (user_id, role_id) do update set user_id = excluded.user_id
		returning user_id, role_id, assigned_at, coalesce(assigned_by, '')
	`, userID, roleID, nullIfEmpty(actorID)).Scan(&a.UserID, &a.RoleID, &a.AssignedAt, &a.AssignedBy)
	if err != nil {
		return auth.Assignment{}, mapWriteError(err)
	}
	return a, nil
}

func (s *Store) UnassignRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	return affectedOne(res, "Role assignment")
}

// UserPermissions resolves the effective permission names of userID in one
// round trip. The left joins keep a single null row for users without roles
// so that an unknown user can be told apart from an unprivileged one.
func (s *Store) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from users u
		left join user_roles ur on ur.user_id = u.id
		left join role_permissions rp on rp.role_id = ur.role_id
		left join permissions p on p.id = rp.permission_id
		where u.id = $1
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := false
	perms := []string{}
	for rows.Next() {
		found = true
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid {
			perms = append(perms, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, auth.NotFound(auth.EntityUser)
	}
	return perms, nil
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return queryRoles(ctx, s.db, `
		select `+roleColumns+`
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.level desc, r.name asc
	`, userID)
}

func queryRoles(ctx context.Context, q querier, query string, args ...any) ([]auth.Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		roles []auth.Role
		ids   []string
	)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(roles) == 0 {
		return []auth.Role{}, nil
	}
	perms, err := loadRolePermissions(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = perms[roles[i].ID]
	}
	return roles, nil
}

// loadRolePermissions returns the permissions of each role keyed by role id.
// Roles without grants map to an empty slice.
func loadRolePermissions(ctx context.Context, q querier, roleIDs []string) (map[string][]auth.Permission, error) {
	out := make(map[string][]auth.Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(roleIDs))
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
		out[id] = []auth.Permission{}
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		select rp.role_id, `+permissionColumns+`
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id in (%s)
		order by p.name
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roleID string
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	return out, rows.Err()
}

func insertGrants(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string, actorID string) error {
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, assigned_by)
			values ($1, $2, $3)
			on conflict (role_id, permission_id) do nothing
		`, roleID, pid, nullIfEmpty(actorID)); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}
