package permissions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
)

// mockRepository keeps grants in memory, in insertion order.
type mockRepository struct {
	mu          sync.Mutex
	grants      []Grant
	createErr   map[uuid.UUID]error
	createPanic map[uuid.UUID]any
	listCalls   int
	listErr     error
	staleIDs    map[uuid.UUID]bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{createErr: map[uuid.UUID]error{}, createPanic: map[uuid.UUID]any{}, staleIDs: map[uuid.UUID]bool{}}
}

func (m *mockRepository) Create(ctx context.Context, g Grant) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.createPanic[g.RoleID]; ok {
		panic(v)
	}
	if err := m.createErr[g.RoleID]; err != nil {
		return Grant{}, err
	}
	g.ID = uuid.New()
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt
	m.grants = append(m.grants, g)
	return g, nil
}

func (m *mockRepository) Get(ctx context.Context, kind ResourceKind, id uuid.UUID) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.Kind == kind && g.ID == id {
			return g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (m *mockRepository) ListByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) ([]Grant, error) {
	return m.ListByRoles(ctx, kind, []uuid.UUID{roleID})
}

func (m *mockRepository) ListByRoles(ctx context.Context, kind ResourceKind, roleIDs []uuid.UUID) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	wanted := map[uuid.UUID]bool{}
	for _, id := range roleIDs {
		wanted[id] = true
	}
	out := []Grant{}
	for _, g := range m.grants {
		if g.Kind == kind && wanted[g.RoleID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockRepository) FindByResourceAndRole(ctx context.Context, kind ResourceKind, resourceID *uuid.UUID, roleID uuid.UUID) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.Kind != kind || g.RoleID != roleID {
			continue
		}
		if (resourceID == nil && g.ResourceID == nil) || (resourceID != nil && g.ResourceID != nil && *resourceID == *g.ResourceID) {
			return g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (m *mockRepository) UpdateBitmask(ctx context.Context, kind ResourceKind, id uuid.UUID, mask Bitmask) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, g := range m.grants {
		if g.Kind == kind && g.ID == id {
			m.grants[i].Bitmask = mask
			return m.grants[i], nil
		}
	}
	return Grant{}, ErrNotFound
}

func (m *mockRepository) Delete(ctx context.Context, kind ResourceKind, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, g := range m.grants {
		if g.Kind == kind && g.ID == id {
			m.grants = append(m.grants[:i], m.grants[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepository) DeleteByRole(ctx context.Context, kind ResourceKind, roleID uuid.UUID) (int64, error) {
	return m.deleteWhere(func(g Grant) bool { return g.Kind == kind && g.RoleID == roleID }), nil
}

func (m *mockRepository) DeleteStale(ctx context.Context, kind ResourceKind) (int64, error) {
	return m.deleteWhere(func(g Grant) bool {
		return g.Kind == kind && g.ResourceID != nil && m.staleIDs[*g.ResourceID]
	}), nil
}

func (m *mockRepository) deleteWhere(match func(Grant) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.grants[:0]
	var n int64
	for _, g := range m.grants {
		if match(g) {
			n++
			continue
		}
		kept = append(kept, g)
	}
	m.grants = kept
	return n
}

type stubRoles struct {
	known map[uuid.UUID]bool
}

func (s stubRoles) RoleExists(ctx context.Context, roleID uuid.UUID) (bool, error) {
	return s.known[roleID], nil
}

type stubResources struct {
	known map[uuid.UUID]bool
}

func (s stubResources) ResourceExists(ctx context.Context, ref ResourceRef) (bool, error) {
	return s.known[ref.ID], nil
}

type recordingSink struct {
	events []audit.Event
	err    error
}

func (r *recordingSink) Record(ctx context.Context, ev audit.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

type stubRoleSource struct {
	roles map[uuid.UUID][]uuid.UUID
	err   error
	calls int
}

func (s *stubRoleSource) RoleIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.roles[userID], nil
}

type countingInvalidator struct {
	bumps int
	err   error
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.bumps++
	return c.err
}

var errStorage = errors.New("storage unavailable")

func ptr(id uuid.UUID) *uuid.UUID { return &id }
