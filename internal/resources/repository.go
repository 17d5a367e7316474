package resources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/platform/db"
)

var tables = map[permissions.ResourceKind]string{
	permissions.KindServer: "servers",
	permissions.KindVM:     "vms",
}

func tableFor(kind permissions.ResourceKind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", permissions.ErrInvalidKind
	}
	return t, nil
}

// PairTx is the view of one swap transaction.
type PairTx interface {
	// LockPair loads both rows and locks them until the transaction ends.
	LockPair(ctx context.Context, kind permissions.ResourceKind, a, b uuid.UUID) (Resource, Resource, error)
	// SavePriorities writes the priority of both rows.
	SavePriorities(ctx context.Context, kind permissions.ResourceKind, first, second Resource) error
}

// Repository runs swap transactions and answers existence checks.
type Repository interface {
	InSwapTx(ctx context.Context, fn func(PairTx) error) error
}

// PGRepository stores servers and vms in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, now: time.Now}
}

// ResourceExists reports whether the referenced server or vm exists.
func (r *PGRepository) ResourceExists(ctx context.Context, ref permissions.ResourceRef) (bool, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return false, err
	}
	var ok bool
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), ref.ID).Scan(&ok)
	return ok, err
}

// InSwapTx runs fn in one read-committed transaction.
func (r *PGRepository) InSwapTx(ctx context.Context, fn func(PairTx) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(pairTx{tx: tx, now: r.now})
	})
}

type pairTx struct {
	tx  pgx.Tx
	now func() time.Time
}

// LockPair selects both rows FOR UPDATE, always in id order so that two swaps
// over the same pair cannot deadlock.
func (p pairTx) LockPair(ctx context.Context, kind permissions.ResourceKind, a, b uuid.UUID) (Resource, Resource, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Resource{}, Resource{}, err
	}
	rows, err := p.tx.Query(ctx, fmt.Sprintf(`SELECT id, name, priority FROM %s WHERE id = ANY($1) ORDER BY id FOR UPDATE`, table),
		[]uuid.UUID{a, b})
	if err != nil {
		return Resource{}, Resource{}, err
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Resource, error) {
		res := Resource{Kind: kind}
		err := row.Scan(&res.ID, &res.Name, &res.Priority)
		return res, err
	})
	if err != nil {
		return Resource{}, Resource{}, err
	}
	byID := make(map[uuid.UUID]Resource, len(found))
	for _, res := range found {
		byID[res.ID] = res
	}
	first, ok := byID[a]
	if !ok {
		return Resource{}, Resource{}, ErrNotFound
	}
	second, ok := byID[b]
	if !ok {
		return Resource{}, Resource{}, ErrNotFound
	}
	return first, second, nil
}

// SavePriorities writes both priorities in a single statement.
func (p pairTx) SavePriorities(ctx context.Context, kind permissions.ResourceKind, first, second Resource) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := p.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s AS t SET priority = v.priority, updated_at = $5
FROM (VALUES ($1::uuid, $2::integer), ($3::uuid, $4::integer)) AS v(id, priority)
WHERE t.id = v.id`, table), first.ID, first.Priority, second.ID, second.Priority, p.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 2 {
		return errors.New("resources: priority write touched an unexpected number of rows")
	}
	return nil
}
