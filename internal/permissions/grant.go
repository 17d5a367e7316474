package permissions

import (
	"time"

	"github.com/google/uuid"
)

// Grant states that a role holds Bitmask on one resource, or on every resource
// of Kind when ResourceID is nil.
type Grant struct {
	ID         uuid.UUID    `json:"id"`
	Kind       ResourceKind `json:"kind"`
	RoleID     uuid.UUID    `json:"role_id"`
	ResourceID *uuid.UUID   `json:"resource_id"`
	Bitmask    Bitmask      `json:"bitmask"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// IsGlobal reports whether the grant applies to every resource of its kind.
func (g Grant) IsGlobal() bool {
	return g.ResourceID == nil
}

// Applies reports whether the grant covers the given resource.
func (g Grant) Applies(resourceID uuid.UUID) bool {
	return g.ResourceID == nil || *g.ResourceID == resourceID
}

// CreateGrant describes a grant to be created.
type CreateGrant struct {
	RoleID     uuid.UUID  `json:"role_id" validate:"required"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	Bitmask    Bitmask    `json:"bitmask" validate:"gte=0"`
}
