package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// grantTable describes where grants of one kind live.
type grantTable struct {
	name           string
	resourceColumn string
	resourceTable  string
}

var grantTables = map[ResourceKind]grantTable{
	KindServer: {name: "permission_servers", resourceColumn: "server_id", resourceTable: "servers"},
	KindVM:     {name: "permission_vms", resourceColumn: "vm_id", resourceTable: "vms"},
}

func tableFor(kind ResourceKind) (grantTable, error) {
	t, ok := grantTables[kind]
	if !ok {
		return grantTable{}, ErrInvalidKind
	}
	return t, nil
}

func (t grantTable) columns() string {
	return "id, role_id, " + t.resourceColumn + ", bitmask, created_at, updated_at"
}

// PGRepository stores grants in PostgreSQL, one table per kind.
type PGRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, now: time.Now}
}

// Create inserts a grant and returns the stored row.
func (r *PGRepository) Create(ctx context.Context, g Grant) (Grant, error) {
	t, err := tableFor(g.Kind)
	if err != nil {
		return Grant{}, err
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	now := r.now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (id, role_id, %s, bitmask, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING %s`, t.name, t.resourceColumn, t.columns())
	return scanGrant(g.Kind, r.pool.QueryRow(ctx, query, g.ID, g.RoleID, g.ResourceID, int64(g.Bitmask), now))
}

// Get fetches a grant by id.
func (r *PGRepository) Get(ctx context.Context, kind ResourceKind, id uuid.UUID) (Grant, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Grant{}, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.columns(), t.name)
	return scanGrant(kind, r.pool.QueryRow(ctx, query, id))
}

// ListByRole lists grants owned by roleID.
func (r *PGRepository) ListByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) ([]Grant, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE role_id = $1 ORDER BY created_at, id`, t.columns(), t.name)
	return r.list(ctx, kind, query, roleID)
}

// ListByRoles lists grants owned by any of roleIDs in a single query.
func (r *PGRepository) ListByRoles(ctx context.Context, kind ResourceKind, roleIDs []uuid.UUID) ([]Grant, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return []Grant{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE role_id = ANY($1) ORDER BY created_at, id`, t.columns(), t.name)
	return r.list(ctx, kind, query, roleIDs)
}

// FindByResourceAndRole returns the oldest grant roleID holds on resourceID.
// A nil resourceID looks up the global grant.
func (r *PGRepository) FindByResourceAndRole(ctx context.Context, kind ResourceKind, resourceID *uuid.UUID, roleID uuid.UUID) (Grant, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Grant{}, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE role_id = $1 AND %s IS NOT DISTINCT FROM $2 ORDER BY created_at, id LIMIT 1`,
		t.columns(), t.name, t.resourceColumn)
	return scanGrant(kind, r.pool.QueryRow(ctx, query, roleID, resourceID))
}

// UpdateBitmask replaces the bitmask of a grant.
func (r *PGRepository) UpdateBitmask(ctx context.Context, kind ResourceKind, id uuid.UUID, mask Bitmask) (Grant, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Grant{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET bitmask = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, t.name, t.columns())
	return scanGrant(kind, r.pool.QueryRow(ctx, query, id, int64(mask), r.now().UTC()))
}

// Delete removes a grant by id.
func (r *PGRepository) Delete(ctx context.Context, kind ResourceKind, id uuid.UUID) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.name), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByRole removes every grant owned by roleID.
func (r *PGRepository) DeleteByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE role_id = $1`, t.name), roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteStale removes grants pointing at resources that no longer exist.
func (r *PGRepository) DeleteStale(ctx context.Context, kind ResourceKind) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s g WHERE g.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s r WHERE r.id = g.%s)`,
		t.name, t.resourceColumn, t.resourceTable, t.resourceColumn)
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) list(ctx context.Context, kind ResourceKind, query string, args ...any) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grants := []Grant{}
	for rows.Next() {
		g, err := scanGrant(kind, rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func scanGrant(kind ResourceKind, row pgx.Row) (Grant, error) {
	var (
		g    Grant
		mask int64
	)
	if err := row.Scan(&g.ID, &g.RoleID, &g.ResourceID, &mask, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, err
	}
	g.Kind = kind
	g.Bitmask = Bitmask(mask)
	return g, nil
}
