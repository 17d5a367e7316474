package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/infrapanel/infrapanel/internal/permissions"
)

// Bootstrap seeds the system roles. On an empty installation it creates ADMIN
// with full default grants; while no users exist it keeps ADMIN able to create
// resources; it always makes sure GUEST exists. Running it again is a no-op.
func (s *Service) Bootstrap(ctx context.Context) error {
	roles, err := s.repo.CountRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: count roles: %w", err)
	}
	users, err := s.repo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("rbac: count users: %w", err)
	}

	switch {
	case roles == 0 && users == 0:
		admin := Role{Name: RoleAdmin, IsAdmin: true, CanCreateResource: true}
		if _, err := s.ensureSystemRole(ctx, admin, permissions.DefaultAdminMask); err != nil {
			return err
		}
	case users == 0:
		if err := s.fixAdminFlag(ctx); err != nil {
			return err
		}
	}

	if _, err := s.ensureGuest(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Service) fixAdminFlag(ctx context.Context) error {
	admin, err := s.repo.FindRoleByName(ctx, RoleAdmin)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rbac: find admin role: %w", err)
	}
	if admin.CanCreateResource {
		return nil
	}
	admin.CanCreateResource = true
	if _, err := s.repo.UpdateRole(ctx, admin); err != nil {
		return fmt.Errorf("rbac: fix admin role: %w", err)
	}
	s.logger.Info("admin role can create resources again", slog.String("role", admin.Name))
	return nil
}
