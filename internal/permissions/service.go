package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
)

// Repository persists grants of both kinds.
type Repository interface {
	GrantFinder
	Create(ctx context.Context, g Grant) (Grant, error)
	Get(ctx context.Context, kind ResourceKind, id uuid.UUID) (Grant, error)
	ListByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) ([]Grant, error)
	FindByResourceAndRole(ctx context.Context, kind ResourceKind, resourceID *uuid.UUID, roleID uuid.UUID) (Grant, error)
	UpdateBitmask(ctx context.Context, kind ResourceKind, id uuid.UUID, mask Bitmask) (Grant, error)
	Delete(ctx context.Context, kind ResourceKind, id uuid.UUID) error
	DeleteByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) (int64, error)
	DeleteStale(ctx context.Context, kind ResourceKind) (int64, error)
}

// RoleChecker confirms that a role exists.
type RoleChecker interface {
	RoleExists(ctx context.Context, roleID uuid.UUID) (bool, error)
}

// ResourceChecker confirms that a server or vm exists.
type ResourceChecker interface {
	ResourceExists(ctx context.Context, ref ResourceRef) (bool, error)
}

// AuditSink receives history events.
type AuditSink interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Invalidator drops cached resolution results after a mutation.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// BatchRecorder observes batch creation outcomes.
type BatchRecorder interface {
	ObserveBatch(kind string, succeeded, failed int)
}

// ServiceDeps groups the collaborators of Service. Audit and Cache are optional.
type ServiceDeps struct {
	Roles     RoleChecker
	Resources ResourceChecker
	Audit     AuditSink
	Cache     Invalidator
	Metrics   BatchRecorder
	Logger    *slog.Logger
}

// Service manages grants. Every method takes the resource kind it operates on.
type Service struct {
	repo      Repository
	roles     RoleChecker
	resources ResourceChecker
	audit     AuditSink
	cache     Invalidator
	metrics   BatchRecorder
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService builds a grant Service.
func NewService(repo Repository, deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		roles:     deps.Roles,
		resources: deps.Resources,
		audit:     deps.Audit,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    logger,
		validate:  newValidator(),
	}
}

// Create validates and persists one grant.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, kind ResourceKind, in CreateGrant) (Grant, error) {
	if !kind.Valid() {
		return Grant{}, ErrInvalidKind
	}
	created, err := s.createOne(ctx, actor, kind, in)
	if err != nil {
		return Grant{}, err
	}
	return created, nil
}

func (s *Service) createOne(ctx context.Context, actor uuid.UUID, kind ResourceKind, in CreateGrant) (Grant, error) {
	if err := s.validateDescriptor(in); err != nil {
		return Grant{}, err
	}
	if err := s.ensureRole(ctx, in.RoleID); err != nil {
		return Grant{}, err
	}
	if in.ResourceID != nil {
		if err := s.ensureResource(ctx, ResourceRef{Kind: kind, ID: *in.ResourceID}); err != nil {
			return Grant{}, err
		}
	}
	created, err := s.repo.Create(ctx, Grant{
		Kind:       kind,
		RoleID:     in.RoleID,
		ResourceID: in.ResourceID,
		Bitmask:    in.Bitmask,
	})
	if err != nil {
		return Grant{}, fmt.Errorf("permissions: create grant: %w", err)
	}
	s.invalidate(ctx)
	if err := s.record(ctx, actor, created, "create", nil, created); err != nil {
		return created, auditError{err: err}
	}
	return created, nil
}

// auditError marks a failure that happened after the grant was stored.
type auditError struct {
	err error
}

func (e auditError) Error() string { return e.err.Error() }

func (e auditError) Unwrap() error { return e.err }

// Get returns a grant by id.
func (s *Service) Get(ctx context.Context, kind ResourceKind, id uuid.UUID) (Grant, error) {
	if !kind.Valid() {
		return Grant{}, ErrInvalidKind
	}
	return s.repo.Get(ctx, kind, id)
}

// ListByRole returns every grant of kind owned by roleID.
func (s *Service) ListByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) ([]Grant, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if err := s.ensureRole(ctx, roleID); err != nil {
		return nil, err
	}
	grants, err := s.repo.ListByRole(ctx, kind, roleID)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []Grant{}
	}
	return grants, nil
}

// GetByResourceAndRole returns the grant roleID holds on resourceID, or its
// global grant when resourceID is nil.
func (s *Service) GetByResourceAndRole(ctx context.Context, kind ResourceKind, resourceID *uuid.UUID, roleID uuid.UUID) (Grant, error) {
	if !kind.Valid() {
		return Grant{}, ErrInvalidKind
	}
	return s.repo.FindByResourceAndRole(ctx, kind, resourceID, roleID)
}

// Update replaces the bitmask of a grant.
func (s *Service) Update(ctx context.Context, actor uuid.UUID, kind ResourceKind, id uuid.UUID, mask Bitmask) (Grant, error) {
	if !kind.Valid() {
		return Grant{}, ErrInvalidKind
	}
	if mask < 0 {
		return Grant{}, ErrInvalidBitmask
	}
	existing, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Grant{}, err
	}
	updated, err := s.repo.UpdateBitmask(ctx, kind, id, mask)
	if err != nil {
		return Grant{}, fmt.Errorf("permissions: update grant: %w", err)
	}
	s.invalidate(ctx)
	if err := s.record(ctx, actor, updated, "update", existing, updated); err != nil {
		return Grant{}, err
	}
	return updated, nil
}

// Delete removes a grant.
func (s *Service) Delete(ctx context.Context, actor uuid.UUID, kind ResourceKind, id uuid.UUID) error {
	if !kind.Valid() {
		return ErrInvalidKind
	}
	existing, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("permissions: delete grant: %w", err)
	}
	s.invalidate(ctx)
	return s.record(ctx, actor, existing, "delete", existing, nil)
}

// DeleteByRole removes the grants of both kinds that reference roleID.
func (s *Service) DeleteByRole(ctx context.Context, roleID uuid.UUID) (int64, error) {
	var total int64
	for _, kind := range Kinds() {
		n, err := s.repo.DeleteByRole(ctx, kind, roleID)
		if err != nil {
			return total, fmt.Errorf("permissions: delete %s grants of role: %w", kind, err)
		}
		total += n
	}
	s.invalidate(ctx)
	return total, nil
}

// CleanupStale removes grants whose resource no longer exists.
func (s *Service) CleanupStale(ctx context.Context, kind ResourceKind) (int64, error) {
	if !kind.Valid() {
		return 0, ErrInvalidKind
	}
	n, err := s.repo.DeleteStale(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("permissions: cleanup stale %s grants: %w", kind, err)
	}
	if n > 0 {
		s.invalidate(ctx)
		s.logger.Info("stale grants removed", slog.String("kind", string(kind)), slog.Int64("count", n))
	}
	return n, nil
}

// EnsureGlobalDefaults gives roleID a global grant with mask on every kind
// unless it already has one. Used at bootstrap, so it is not audited.
func (s *Service) EnsureGlobalDefaults(ctx context.Context, roleID uuid.UUID, mask Bitmask) error {
	for _, kind := range Kinds() {
		_, err := s.repo.FindByResourceAndRole(ctx, kind, nil, roleID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := s.repo.Create(ctx, Grant{Kind: kind, RoleID: roleID, Bitmask: mask}); err != nil {
			return fmt.Errorf("permissions: create default %s grant: %w", kind, err)
		}
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) ensureRole(ctx context.Context, roleID uuid.UUID) error {
	if s.roles == nil {
		return nil
	}
	ok, err := s.roles.RoleExists(ctx, roleID)
	if err != nil {
		return fmt.Errorf("permissions: check role: %w", err)
	}
	if !ok {
		return ErrRoleNotFound
	}
	return nil
}

func (s *Service) ensureResource(ctx context.Context, ref ResourceRef) error {
	if s.resources == nil {
		return nil
	}
	ok, err := s.resources.ResourceExists(ctx, ref)
	if err != nil {
		return fmt.Errorf("permissions: check resource: %w", err)
	}
	if !ok {
		return ErrResourceNotFound
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("permission cache bump", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, g Grant, action string, oldValue, newValue any) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{
		"role_id":      g.RoleID.String(),
		"capabilities": g.Bitmask.Names(),
	}
	if g.ResourceID != nil {
		meta["resource_id"] = g.ResourceID.String()
	} else {
		meta["global"] = true
	}
	if err := s.audit.Record(ctx, audit.Event{
		Entity:   "permission_" + string(g.Kind),
		EntityID: g.ID.String(),
		Action:   action,
		UserID:   actor,
		OldValue: oldValue,
		NewValue: newValue,
		Metadata: meta,
	}); err != nil {
		return fmt.Errorf("permissions: audit %s: %w", action, err)
	}
	return nil
}
