package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/platform/httpx"
)

var errEmptyRolesUpdate = httpx.Kind(httpx.ErrValidation, "rbac: no role change requested")

// UpdateUserRoles toggles one role on a user or replaces the full role list.
// A user never ends up without roles: GUEST is assigned when the list would
// become empty, and a user whose only role is GUEST cannot have it removed.
func (s *Service) UpdateUserRoles(ctx context.Context, actor, userID uuid.UUID, upd UserRolesUpdate) (User, error) {
	if upd.toggles() && upd.replaces() {
		return User{}, ErrConflictingUpdate
	}
	if !upd.toggles() && !upd.replaces() {
		return User{}, errEmptyRolesUpdate
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	current := user.RoleIDs()

	var next []uuid.UUID
	if upd.replaces() {
		next, err = s.distinctRoles(ctx, upd.RoleIDs)
	} else {
		next, err = s.toggleRoles(ctx, user, upd)
	}
	if err != nil {
		return User{}, err
	}
	if len(next) == 0 {
		guest, err := s.ensureGuest(ctx)
		if err != nil {
			return User{}, err
		}
		next = []uuid.UUID{guest.ID}
	}

	if err := s.repo.SaveUserRoles(ctx, user.ID, next); err != nil {
		return User{}, fmt.Errorf("rbac: save user roles: %w", err)
	}
	s.invalidate(ctx)
	updated, err := s.repo.GetUser(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	if err := s.record(ctx, actor, "user", user.ID.String(), "update_roles",
		map[string]any{"role_ids": current},
		map[string]any{"role_ids": next}); err != nil {
		return User{}, err
	}
	return updated, nil
}

func (s *Service) toggleRoles(ctx context.Context, user User, upd UserRolesUpdate) ([]uuid.UUID, error) {
	ids := user.RoleIDs()
	if upd.RemoveRoleID != nil {
		ids = withoutRole(ids, *upd.RemoveRoleID)
	}
	if upd.AddRoleID != nil {
		if _, err := s.repo.GetRole(ctx, *upd.AddRoleID); err != nil {
			return nil, err
		}
		if !containsRole(ids, *upd.AddRoleID) {
			ids = append(ids, *upd.AddRoleID)
		}
	}
	// Judged on the result: swapping GUEST for another role in one call is fine.
	if len(ids) == 0 && upd.RemoveRoleID != nil && onlyGuest(user, *upd.RemoveRoleID) {
		return nil, ErrCannotRemoveLastGuestRole
	}
	return ids, nil
}

func onlyGuest(user User, removed uuid.UUID) bool {
	return len(user.Roles) == 1 && user.Roles[0].ID == removed && user.Roles[0].Name == RoleGuest
}

func (s *Service) distinctRoles(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if containsRole(out, id) {
			continue
		}
		if _, err := s.repo.GetRole(ctx, id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func containsRole(ids []uuid.UUID, id uuid.UUID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
