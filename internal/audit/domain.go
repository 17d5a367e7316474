package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event adalah satu catatan riwayat perubahan yang dikirim ke audit sink.
type Event struct {
	Entity   string
	EntityID string
	Action   string
	UserID   uuid.UUID
	OldValue any
	NewValue any
	Metadata map[string]any
	At       time.Time
}

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	Entity   string
	EntityID string
	Actor    *uuid.UUID
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	UserID   uuid.UUID      `json:"user_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	OldValue any            `json:"old_value,omitempty"`
	NewValue any            `json:"new_value,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
