package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authix.org/internal/auth"
)

const userColumns = `id, username, name, email, password_hash, coalesce(refresh_token, ''),
	coalesce(avatar, ''), coalesce(bio, ''), is_active, is_system, last_login_at, created_at, updated_at`

func scanUser(row scanner) (auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.PasswordHash, &u.RefreshToken,
		&u.Avatar, &u.Bio, &u.IsActive, &u.IsSystem, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

// CreateUser inserts the user row, including its first refresh token and
// profile fields, and links the default role plus nu.RoleIDs in the same
// transaction.
func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser, defaultRole string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into users (id, username, name, email, password_hash, refresh_token, is_system, avatar, bio)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+userColumns,
		nu.ID, nu.Username, nu.Name, nu.Email, nu.PasswordHash, nullIfEmpty(nu.RefreshToken), nu.IsSystem,
		nullIfEmpty(nu.Avatar), nullIfEmpty(nu.Bio))
	user, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}

	if defaultRole = strings.TrimSpace(defaultRole); defaultRole != "" {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			select $1, id from roles where name = $2
			on conflict (user_id, role_id) do nothing
		`, user.ID, defaultRole); err != nil {
			return auth.User{}, fmt.Errorf("assign default role: %w", err)
		}
	}
	for _, roleID := range nu.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id, assigned_by)
			values ($1, $2, $3)
			on conflict (user_id, role_id) do nothing
		`, user.ID, roleID, nullIfEmpty(nu.AssignedBy)); err != nil {
			return auth.User{}, mapWriteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.NotFound(auth.EntityUser)
	}
	return user, err
}

// FindUserByLogin matches either the username or the email.
func (s *Store) FindUserByLogin(ctx context.Context, usernameOrEmail string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1 or email = $1
		order by (username = $1) desc
		limit 1
	`, usernameOrEmail))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.NotFound(auth.EntityUser)
	}
	return user, err
}

func (s *Store) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where username = $1 and id <> $2)`, username, exceptID)
}

func (s *Store) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where email = $1 and id <> $2)`, email, exceptID)
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.UserSummary, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.username, u.name, u.email, u.is_active, u.is_system, u.created_at,
			coalesce(string_agg(r.name, ',' order by r.name), '')
		from users u
		left join user_roles ur on ur.user_id = u.id
		left join roles r on r.id = ur.role_id
		group by u.id
		order by u.created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.UserSummary
	for rows.Next() {
		var (
			u     auth.UserSummary
			roles string
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.IsActive, &u.IsSystem, &u.CreatedAt, &roles); err != nil {
			return nil, err
		}
		u.Roles = []string{}
		if roles != "" {
			u.Roles = strings.Split(roles, ",")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
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
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Password != nil {
		add("password_hash", *upd.Password)
	}
	if upd.Avatar != nil {
		add("avatar", nullIfEmpty(*upd.Avatar))
	}
	if upd.Bio != nil {
		add("bio", nullIfEmpty(*upd.Bio))
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.User{}, mapWriteError(err)
		}
		if err := affectedOne(res, auth.EntityUser); err != nil {
			return auth.User{}, err
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.EntityUser)
}

// SaveRefreshToken overwrites the single stored refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, token string, loginAt *time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	var (
		res sql.Result
		err error
	)
	if loginAt != nil {
		res, err = s.db.ExecContext(ctx, `
			update users set refresh_token = $2, last_login_at = $3, updated_at = now()
			where id = $1
		`, userID, token, *loginAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			update users set refresh_token = $2, updated_at = now()
			where id = $1
		`, userID, token)
	}
	if err != nil {
		return err
	}
	return affectedOne(res, auth.EntityUser)
}

// SwapRefreshToken is a compare-and-swap on the stored value.
func (s *Store) SwapRefreshToken(ctx context.Context, userID, old, next string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set refresh_token = $3, updated_at = now()
		where id = $1 and refresh_token = $2
	`, userID, old, next)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *Store) ClearRefreshToken(ctx context.Context, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `update users set refresh_token = null where id = $1 and refresh_token is not null`, userID)
	return err
}

func (s *Store) ClearRefreshTokenByValue(ctx context.Context, token string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `update users set refresh_token = null where refresh_token = $1`, token)
	return err
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
