package permissions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RoleSource loads the ids of the roles a user holds. It returns an empty
// slice when the user does not exist.
type RoleSource interface {
	RoleIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// GrantFinder fetches every grant of kind owned by any of roleIDs in one query.
type GrantFinder interface {
	ListByRoles(ctx context.Context, kind ResourceKind, roleIDs []uuid.UUID) ([]Grant, error)
}

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveDecision(kind string, allowed bool)
}

// Resolver computes a user's grants across all the roles they hold.
type Resolver struct {
	roles    RoleSource
	grants   GrantFinder
	cache    *Cache
	recorder DecisionRecorder
	logger   *slog.Logger
	group    singleflight.Group
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the Redis cache for resolved grants.
func WithCache(cache *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithDecisionRecorder reports Can outcomes to rec.
func WithDecisionRecorder(rec DecisionRecorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver builds a Resolver.
func NewResolver(roles RoleSource, grants GrantFinder, opts ...ResolverOption) *Resolver {
	r := &Resolver{roles: roles, grants: grants}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the raw grants of kind held by the user through any role.
// Grants from different roles on the same resource are returned separately.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, kind ResourceKind) ([]Grant, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	key := string(kind) + ":" + userID.String()
	// The shared load outlives any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.cache.Fetch(flightCtx, kind, userID, func(ctx context.Context) ([]Grant, error) {
			return r.load(ctx, userID, kind)
		})
	})
	if err != nil {
		return nil, err
	}
	grants := v.([]Grant)
	out := make([]Grant, len(grants))
	copy(out, grants)
	return out, nil
}

func (r *Resolver) load(ctx context.Context, userID uuid.UUID, kind ResourceKind) ([]Grant, error) {
	roleIDs, err := r.roles.RoleIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("permissions: load user roles: %w", err)
	}
	if len(roleIDs) == 0 {
		return nil, ErrUnauthorized
	}
	grants, err := r.grants.ListByRoles(ctx, kind, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("permissions: list grants: %w", err)
	}
	if grants == nil {
		grants = []Grant{}
	}
	return grants, nil
}

// Effective returns the user's grants of kind merged per resource.
func (r *Resolver) Effective(ctx context.Context, userID uuid.UUID, kind ResourceKind) ([]Grant, error) {
	grants, err := r.Resolve(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	return Aggregate(grants), nil
}

// EffectiveAll resolves every resource kind concurrently.
func (r *Resolver) EffectiveAll(ctx context.Context, userID uuid.UUID) (map[ResourceKind][]Grant, error) {
	kinds := Kinds()
	results := make([][]Grant, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			grants, err := r.Effective(gctx, userID, kind)
			if err != nil {
				return err
			}
			results[i] = grants
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[ResourceKind][]Grant, len(kinds))
	for i, kind := range kinds {
		out[kind] = results[i]
	}
	return out, nil
}

// Can reports whether the user holds bit on ref, counting global grants.
func (r *Resolver) Can(ctx context.Context, userID uuid.UUID, ref ResourceRef, bit Bitmask) (bool, error) {
	grants, err := r.Effective(ctx, userID, ref.Kind)
	if err != nil {
		return false, err
	}
	allowed := NewSet(grants).Allows(ref.ID, bit)
	if r.recorder != nil {
		r.recorder.ObserveDecision(string(ref.Kind), allowed)
	}
	if !allowed {
		r.logger.Debug("permission denied",
			slog.String("user_id", userID.String()),
			slog.String("kind", string(ref.Kind)),
			slog.String("resource_id", ref.ID.String()),
			slog.Int64("bit", int64(bit)))
	}
	return allowed, nil
}
