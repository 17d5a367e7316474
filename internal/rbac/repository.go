package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrapanel/infrapanel/internal/platform/db"
)

const roleColumns = "id, name, is_admin, can_create_resource, created_at, updated_at"

// PGRepository stores roles, users and memberships in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, now: time.Now}
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// FindRoleByName fetches a role by its exact name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// InsertRole stores a new role.
func (r *PGRepository) InsertRole(ctx context.Context, role Role) (Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := r.now().UTC()
	created, err := scanRole(r.pool.QueryRow(ctx, `INSERT INTO roles (id, name, is_admin, can_create_resource, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING `+roleColumns, role.ID, role.Name, role.IsAdmin, role.CanCreateResource, now))
	if db.IsUniqueViolation(err) {
		return Role{}, ErrRoleNameTaken
	}
	return created, err
}

// UpdateRole persists the mutable fields of role.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := scanRole(r.pool.QueryRow(ctx, `UPDATE roles SET name = $2, is_admin = $3, can_create_resource = $4, updated_at = $5
WHERE id = $1 RETURNING `+roleColumns, role.ID, role.Name, role.IsAdmin, role.CanCreateResource, r.now().UTC()))
	if db.IsUniqueViolation(err) {
		return Role{}, ErrRoleNameTaken
	}
	return updated, err
}

// DeleteRole removes a role by ID. Returns ErrNotFound if nothing was deleted.
func (r *PGRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DemoteAdminRole clears is_admin on a role unless it is the last admin-flagged
// one. Admin rows are locked first so two demotions cannot both pass the check.
func (r *PGRepository) DemoteAdminRole(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM roles WHERE is_admin ORDER BY id FOR UPDATE`)
		if err != nil {
			return err
		}
		admins, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return err
		}
		held := false
		for _, adminID := range admins {
			if adminID == id {
				held = true
			}
		}
		if !held {
			return nil
		}
		if len(admins) <= 1 {
			return ErrCannotDeleteLastAdminRole
		}
		_, err = tx.Exec(ctx, `UPDATE roles SET is_admin = FALSE, updated_at = $2 WHERE id = $1`, id, r.now().UTC())
		return err
	})
}

// CountRoles counts every role.
func (r *PGRepository) CountRoles(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM roles`)
}

// CountAdminRoles counts admin-flagged roles.
func (r *PGRepository) CountAdminRoles(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM roles WHERE is_admin`)
}

// CountUsers counts every user.
func (r *PGRepository) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (r *PGRepository) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RoleExists reports whether a role with the id exists.
func (r *PGRepository) RoleExists(ctx context.Context, roleID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&ok)
	return ok, err
}

// RoleIDsForUser returns the ids of the roles the user holds, in assignment
// order. An unknown user yields an empty slice.
func (r *PGRepository) RoleIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

const userColumns = "u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at"

// GetUser fetches a user with roles attached.
func (r *PGRepository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	users, err := r.attachRoles(ctx, []User{u})
	if err != nil {
		return User{}, err
	}
	return users[0], nil
}

// ListUsers returns all users ordered by email.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users u ORDER BY u.email`)
}

// ListUsersByRole returns the users holding roleID.
func (r *PGRepository) ListUsersByRole(ctx context.Context, roleID uuid.UUID) ([]User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users u
WHERE EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role_id = $1)
ORDER BY u.email`, roleID)
}

func (r *PGRepository) listUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.attachRoles(ctx, users)
}

// attachRoles loads the roles of every user in one query.
func (r *PGRepository) attachRoles(ctx context.Context, users []User) ([]User, error) {
	if len(users) == 0 {
		return users, nil
	}
	ids := make([]uuid.UUID, len(users))
	index := make(map[uuid.UUID]int, len(users))
	for i, u := range users {
		ids[i] = u.ID
		index[u.ID] = i
		users[i].Roles = []Role{}
	}
	rows, err := r.pool.Query(ctx, `SELECT ur.user_id, r.id, r.name, r.is_admin, r.can_create_resource, r.created_at, r.updated_at
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = ANY($1)
ORDER BY ur.user_id, ur.position`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID uuid.UUID
		var role Role
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.IsAdmin, &role.CanCreateResource, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		i := index[userID]
		users[i].Roles = append(users[i].Roles, role)
	}
	return users, rows.Err()
}

// SaveUserRoles replaces the user's role list atomically, keeping the order given.
func (r *PGRepository) SaveUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, userID, r.now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("rbac: clear user roles: %w", err)
		}
		batch := &pgx.Batch{}
		for i, roleID := range roleIDs {
			batch.Queue(`INSERT INTO user_roles (user_id, role_id, position) VALUES ($1, $2, $3)`, userID, roleID, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.IsAdmin, &role.CanCreateResource, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}
