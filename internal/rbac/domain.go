package rbac

import (
	"time"

	"github.com/google/uuid"
)

// System role names. Roles with these names can never be deleted.
const (
	RoleAdmin = "ADMIN"
	RoleGuest = "GUEST"
)

// Role groups grants and is held by many users.
type Role struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	IsAdmin           bool      `json:"is_admin"`
	CanCreateResource bool      `json:"can_create_resource"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsSystem reports whether the role is ADMIN or GUEST.
func (r Role) IsSystem() bool {
	return r.Name == RoleAdmin || r.Name == RoleGuest
}

// User is a panel account with the roles it holds attached.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Roles     []Role    `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleIDs returns the ids of the user's roles in order.
func (u User) RoleIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(u.Roles))
	for _, r := range u.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// IsAdmin reports whether any held role is admin-flagged.
func (u User) IsAdmin() bool {
	for _, r := range u.Roles {
		if r.IsAdmin {
			return true
		}
	}
	return false
}

// RoleUpdate carries the fields to change on a role. Nil fields are left alone.
type RoleUpdate struct {
	Name              *string `json:"name,omitempty"`
	IsAdmin           *bool   `json:"is_admin,omitempty"`
	CanCreateResource *bool   `json:"can_create_resource,omitempty"`
}

// UserRolesUpdate changes a user's roles either by toggling one role or by
// replacing the full list. The two forms cannot be combined.
type UserRolesUpdate struct {
	AddRoleID    *uuid.UUID  `json:"add_role_id,omitempty"`
	RemoveRoleID *uuid.UUID  `json:"remove_role_id,omitempty"`
	RoleIDs      []uuid.UUID `json:"role_ids,omitempty"`
}

func (u UserRolesUpdate) toggles() bool {
	return u.AddRoleID != nil || u.RemoveRoleID != nil
}

func (u UserRolesUpdate) replaces() bool {
	return u.RoleIDs != nil
}
