package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// Authorizer resolves the effective grants of a user.
type Authorizer interface {
	Effective(ctx context.Context, userID uuid.UUID, kind permissions.ResourceKind) ([]permissions.Grant, error)
}

// SwapRecorder observes swap outcomes.
type SwapRecorder interface {
	ObserveSwap(kind, outcome string)
}

// Swap outcomes reported to SwapRecorder.
const (
	OutcomeSwapped   = "swapped"
	OutcomeForbidden = "forbidden"
	OutcomeFailed    = "failed"
)

// SwapService exchanges the priority of two resources of the same kind.
type SwapService struct {
	repo    Repository
	authz   Authorizer
	audit   shared.AuditSink
	metrics SwapRecorder
	logger  *slog.Logger
}

// NewSwapService builds a SwapService. metrics and logger may be nil.
func NewSwapService(repo Repository, authz Authorizer, sink shared.AuditSink, metrics SwapRecorder, logger *slog.Logger) *SwapService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwapService{repo: repo, authz: authz, audit: sink, metrics: metrics, logger: logger}
}

// Swap exchanges the priorities of a and b. The actor needs WRITE on both,
// checked before any resource row is read. Both rows are locked, swapped and
// written in one transaction; audit entries are written only after it commits.
func (s *SwapService) Swap(ctx context.Context, actor uuid.UUID, kind permissions.ResourceKind, a, b uuid.UUID) (SwapResult, error) {
	if !kind.Valid() {
		return SwapResult{}, permissions.ErrInvalidKind
	}
	if a == b {
		return SwapResult{}, ErrSameResource
	}
	if err := s.authorize(ctx, actor, kind, a, b); err != nil {
		s.observe(kind, err)
		return SwapResult{}, err
	}

	var before, after SwapResult
	err := s.repo.InSwapTx(ctx, func(tx PairTx) error {
		first, second, err := tx.LockPair(ctx, kind, a, b)
		if err != nil {
			return err
		}
		before = SwapResult{First: first, Second: second}
		first.Priority, second.Priority = second.Priority, first.Priority
		if err := tx.SavePriorities(ctx, kind, first, second); err != nil {
			return fmt.Errorf("resources: write priorities: %w", err)
		}
		after = SwapResult{First: first, Second: second}
		return nil
	})
	if err != nil {
		s.observe(kind, err)
		return SwapResult{}, err
	}
	s.observe(kind, nil)

	s.logger.Info("priorities swapped",
		slog.String("kind", string(kind)),
		slog.String("first", after.First.ID.String()),
		slog.String("second", after.Second.ID.String()))

	if err := s.recordSwap(ctx, actor, before.First, after.First, after.Second); err != nil {
		return SwapResult{}, err
	}
	if err := s.recordSwap(ctx, actor, before.Second, after.Second, after.First); err != nil {
		return SwapResult{}, err
	}
	return after, nil
}

func (s *SwapService) authorize(ctx context.Context, actor uuid.UUID, kind permissions.ResourceKind, a, b uuid.UUID) error {
	grants, err := s.authz.Effective(ctx, actor, kind)
	if err != nil {
		return err
	}
	set := permissions.NewSet(grants)
	if !set.Allows(a, permissions.Write) || !set.Allows(b, permissions.Write) {
		return permissions.ErrForbidden
	}
	return nil
}

func (s *SwapService) recordSwap(ctx context.Context, actor uuid.UUID, old, updated, partner Resource) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, audit.Event{
		Entity:   string(updated.Kind),
		EntityID: updated.ID.String(),
		Action:   "priority_swap",
		UserID:   actor,
		OldValue: map[string]any{"priority": old.Priority},
		NewValue: map[string]any{"priority": updated.Priority},
		Metadata: map[string]any{
			"partner_id":   partner.ID.String(),
			"partner_name": partner.Name,
		},
	}); err != nil {
		return fmt.Errorf("resources: audit swap: %w", err)
	}
	return nil
}

func (s *SwapService) observe(kind permissions.ResourceKind, err error) {
	if s.metrics == nil {
		return
	}
	outcome := OutcomeSwapped
	switch {
	case errors.Is(err, permissions.ErrForbidden):
		outcome = OutcomeForbidden
	case err != nil:
		outcome = OutcomeFailed
	}
	s.metrics.ObserveSwap(string(kind), outcome)
}
