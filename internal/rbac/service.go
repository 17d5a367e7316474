package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// Repository persists roles and users.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
	// DemoteAdminRole clears the admin flag, returning ErrCannotDeleteLastAdminRole
	// when no other admin-flagged role would remain.
	DemoteAdminRole(ctx context.Context, id uuid.UUID) error
	CountRoles(ctx context.Context) (int, error)
	CountAdminRoles(ctx context.Context) (int, error)

	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByRole(ctx context.Context, roleID uuid.UUID) ([]User, error)
	SaveUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error
}

// GrantStore is the part of the grant service roles depend on.
type GrantStore interface {
	DeleteByRole(ctx context.Context, roleID uuid.UUID) (int64, error)
	EnsureGlobalDefaults(ctx context.Context, roleID uuid.UUID, mask permissions.Bitmask) error
}

// Service orchestrates role and membership operations.
type Service struct {
	repo   Repository
	grants GrantStore
	audit  shared.AuditSink
	cache  permissions.Invalidator
	logger *slog.Logger
}

// NewService constructs a Service. audit and cache may be nil.
func NewService(repo Repository, grants GrantStore, sink shared.AuditSink, cache permissions.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, grants: grants, audit: sink, cache: cache, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a plain role. It never carries the admin flag.
func (s *Service) CreateRole(ctx context.Context, actor uuid.UUID, name string) (Role, error) {
	return s.createRole(ctx, actor, Role{Name: name})
}

// CreateAdminRole inserts an admin-flagged role, refusing when one already exists.
func (s *Service) CreateAdminRole(ctx context.Context, actor uuid.UUID, name string, canCreateResource bool) (Role, error) {
	admins, err := s.repo.CountAdminRoles(ctx)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: count admin roles: %w", err)
	}
	if admins > 0 {
		return Role{}, ErrAdminRoleAlreadyExists
	}
	return s.createRole(ctx, actor, Role{Name: name, IsAdmin: true, CanCreateResource: canCreateResource})
}

func (s *Service) createRole(ctx context.Context, actor uuid.UUID, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, ErrNameRequired
	}
	created, err := s.repo.InsertRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if err := s.record(ctx, actor, "role", created.ID.String(), "create", nil, created); err != nil {
		return Role{}, err
	}
	return created, nil
}

// UpdateRole applies the non-nil fields of upd over the stored role.
func (s *Service) UpdateRole(ctx context.Context, actor uuid.UUID, id uuid.UUID, upd RoleUpdate) (Role, error) {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	next := existing
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, ErrNameRequired
		}
		if existing.IsSystem() && name != existing.Name {
			return Role{}, ErrCannotRenameSystemRole
		}
		next.Name = name
	}
	if upd.IsAdmin != nil {
		if *upd.IsAdmin && !existing.IsAdmin {
			admins, err := s.repo.CountAdminRoles(ctx)
			if err != nil {
				return Role{}, fmt.Errorf("rbac: count admin roles: %w", err)
			}
			if admins > 0 {
				return Role{}, ErrAdminRoleAlreadyExists
			}
		}
		next.IsAdmin = *upd.IsAdmin
	}
	if upd.CanCreateResource != nil {
		next.CanCreateResource = *upd.CanCreateResource
	}
	if next == existing {
		return existing, nil
	}
	updated, err := s.repo.UpdateRole(ctx, next)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	if err := s.record(ctx, actor, "role", updated.ID.String(), "update", existing, updated); err != nil {
		return Role{}, err
	}
	return updated, nil
}

// SafelyDeleteRole deletes a role after moving its holders off it. Users left
// without roles receive GUEST. The steps run one after another without an
// enclosing transaction; every intermediate state is valid on its own.
func (s *Service) SafelyDeleteRole(ctx context.Context, actor uuid.UUID, id uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem() {
		return ErrCannotDeleteSystemRole
	}
	if role.IsAdmin {
		admins, err := s.repo.CountAdminRoles(ctx)
		if err != nil {
			return fmt.Errorf("rbac: count admin roles: %w", err)
		}
		if admins <= 1 {
			return ErrCannotDeleteLastAdminRole
		}
		if err := s.repo.DemoteAdminRole(ctx, role.ID); err != nil {
			if errors.Is(err, ErrCannotDeleteLastAdminRole) {
				return err
			}
			return fmt.Errorf("rbac: demote admin role: %w", err)
		}
	}

	holders, err := s.repo.ListUsersByRole(ctx, role.ID)
	if err != nil {
		return fmt.Errorf("rbac: list role holders: %w", err)
	}

	// Once anything was written the cache is stale, even when a later step fails.
	dirty := false
	defer func() {
		if dirty {
			s.invalidate(ctx)
		}
	}()

	var guest *Role
	reassigned := 0
	for _, user := range holders {
		remaining := withoutRole(user.RoleIDs(), role.ID)
		if len(remaining) == 0 {
			if guest == nil {
				g, err := s.ensureGuest(ctx)
				if err != nil {
					return err
				}
				guest = &g
			}
			remaining = []uuid.UUID{guest.ID}
			reassigned++
		}
		if err := s.repo.SaveUserRoles(ctx, user.ID, remaining); err != nil {
			return fmt.Errorf("rbac: save roles of user %s: %w", user.ID, err)
		}
		dirty = true
	}

	dirty = true
	removed, err := s.grants.DeleteByRole(ctx, role.ID)
	if err != nil {
		return fmt.Errorf("rbac: delete grants of role: %w", err)
	}
	if err := s.repo.DeleteRole(ctx, role.ID); err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}

	s.logger.Info("role deleted",
		slog.String("role", role.Name),
		slog.Int("holders", len(holders)),
		slog.Int("moved_to_guest", reassigned),
		slog.Int64("grants_removed", removed))

	return s.record(ctx, actor, "role", role.ID.String(), "delete", role, nil)
}

// ensureGuest returns the GUEST role, creating it with read-only defaults when missing.
func (s *Service) ensureGuest(ctx context.Context) (Role, error) {
	return s.ensureSystemRole(ctx, Role{Name: RoleGuest}, permissions.DefaultGuestMask)
}

func (s *Service) ensureSystemRole(ctx context.Context, want Role, mask permissions.Bitmask) (Role, error) {
	role, err := s.repo.FindRoleByName(ctx, want.Name)
	switch {
	case err == nil:
		return role, nil
	case !errors.Is(err, ErrNotFound):
		return Role{}, fmt.Errorf("rbac: find %s role: %w", want.Name, err)
	}
	role, err = s.repo.InsertRole(ctx, want)
	if errors.Is(err, ErrRoleNameTaken) {
		// Created concurrently.
		role, err = s.repo.FindRoleByName(ctx, want.Name)
	}
	if err != nil {
		return Role{}, fmt.Errorf("rbac: create %s role: %w", want.Name, err)
	}
	if err := s.grants.EnsureGlobalDefaults(ctx, role.ID, mask); err != nil {
		return Role{}, fmt.Errorf("rbac: default grants for %s: %w", want.Name, err)
	}
	s.logger.Info("system role created", slog.String("role", role.Name))
	return role, nil
}

// GetUser returns a user with roles attached.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers returns all users with their roles.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// IsAdmin reports whether the user holds any admin-flagged role.
func (s *Service) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsAdmin(), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("permission cache bump", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, entity, entityID, action string, oldValue, newValue any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, audit.Event{
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		UserID:   actor,
		OldValue: oldValue,
		NewValue: newValue,
	}); err != nil {
		return fmt.Errorf("rbac: audit %s %s: %w", entity, action, err)
	}
	return nil
}

func withoutRole(ids []uuid.UUID, drop uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
