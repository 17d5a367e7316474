package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// History menulis event ke tabel audit_logs.
type History struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewHistory membuat History baru.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool, now: time.Now}
}

// Record menyimpan event. Kegagalan dikembalikan ke pemanggil, tidak ditelan.
func (h *History) Record(ctx context.Context, ev Event) error {
	if h == nil || h.pool == nil {
		return errors.New("audit: history not initialised")
	}
	if err := validateEvent(ev); err != nil {
		return err
	}
	oldJSON, newJSON, metaJSON, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = h.now()
	}
	_, err = h.pool.Exec(ctx, `INSERT INTO audit_logs (entity, entity_id, action, user_id, old_value, new_value, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, ev.Entity, ev.EntityID, ev.Action, ev.UserID, oldJSON, newJSON, metaJSON, at)
	if err != nil {
		return fmt.Errorf("audit: insert log: %w", err)
	}
	return nil
}

func validateEvent(ev Event) error {
	if ev.Action == "" || ev.Entity == "" || ev.EntityID == "" {
		return errors.New("audit: event requires action/entity/entity_id")
	}
	return nil
}

func encodeEvent(ev Event) (oldJSON, newJSON, metaJSON []byte, err error) {
	if ev.OldValue != nil {
		if oldJSON, err = json.Marshal(ev.OldValue); err != nil {
			return nil, nil, nil, fmt.Errorf("audit: encode old value: %w", err)
		}
	}
	if ev.NewValue != nil {
		if newJSON, err = json.Marshal(ev.NewValue); err != nil {
			return nil, nil, nil, fmt.Errorf("audit: encode new value: %w", err)
		}
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if metaJSON, err = json.Marshal(ev.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("audit: encode metadata: %w", err)
	}
	return oldJSON, newJSON, metaJSON, nil
}
