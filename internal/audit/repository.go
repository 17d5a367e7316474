package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WindowParams adalah parameter query satu halaman timeline.
type WindowParams struct {
	Filters TimelineFilters
	Offset  int
	Limit   int
}

// Repository menyediakan akses ke audit_logs.
type Repository interface {
	TimelineWindow(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

// PGRepository membaca audit_logs dari PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository timeline.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow mengambil satu jendela baris terbaru lebih dulu.
func (r *PGRepository) TimelineWindow(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	f := params.Filters
	if v := strings.TrimSpace(f.Entity); v != "" {
		add("entity = $%d", v)
	}
	if v := strings.TrimSpace(f.EntityID); v != "" {
		add("entity_id = $%d", v)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		add("action = $%d", v)
	}
	if f.Actor != nil {
		add("user_id = $%d", *f.Actor)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	query := `SELECT id, occurred_at, user_id, action, entity, entity_id, old_value, new_value, metadata FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, params.Limit, params.Offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var userID uuid.UUID
		var oldRaw, newRaw, metaRaw []byte
		if err := rows.Scan(&row.ID, &row.At, &userID, &row.Action, &row.Entity, &row.EntityID, &oldRaw, &newRaw, &metaRaw); err != nil {
			return nil, err
		}
		row.UserID = userID
		if err := decodeJSON(oldRaw, &row.OldValue); err != nil {
			return nil, err
		}
		if err := decodeJSON(newRaw, &row.NewValue); err != nil {
			return nil, err
		}
		if err := decodeJSON(metaRaw, &row.Metadata); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
