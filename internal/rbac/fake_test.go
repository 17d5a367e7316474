package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
	"github.com/infrapanel/infrapanel/internal/permissions"
)

// memStore is an in-memory Repository.
type memStore struct {
	mu        sync.Mutex
	roles     map[uuid.UUID]Role
	users     map[uuid.UUID]User
	userRoles map[uuid.UUID][]uuid.UUID
	saves     int
	saveErr   error
	// adminCount, when set, holds every CountAdminRoles caller until all have counted.
	adminCount *sync.WaitGroup
}

func newMemStore() *memStore {
	return &memStore{
		roles:     map[uuid.UUID]Role{},
		users:     map[uuid.UUID]User{},
		userRoles: map[uuid.UUID][]uuid.UUID{},
	}
}

func (m *memStore) addRole(name string, admin bool) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Role{ID: uuid.New(), Name: name, IsAdmin: admin, CreatedAt: time.Now()}
	m.roles[r.ID] = r
	return r
}

func (m *memStore) addUser(email string, roles ...Role) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = User{ID: id, Email: email, IsActive: true}
	ids := make([]uuid.UUID, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	m.userRoles[id] = ids
	return id
}

func (m *memStore) roleNames(userID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := []string{}
	for _, id := range m.userRoles[userID] {
		names = append(names, m.roles[id].Name)
	}
	return names
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) FindRoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memStore) InsertRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return Role{}, ErrRoleNameTaken
		}
	}
	role.ID = uuid.New()
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	for _, r := range m.roles {
		if r.ID != role.ID && r.Name == role.Name {
			return Role{}, ErrRoleNameTaken
		}
	}
	role.UpdatedAt = time.Now()
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) DeleteRole(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memStore) DemoteAdminRole(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok || !role.IsAdmin {
		return nil
	}
	if m.adminRolesLocked() <= 1 {
		return ErrCannotDeleteLastAdminRole
	}
	role.IsAdmin = false
	m.roles[id] = role
	return nil
}

func (m *memStore) CountRoles(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.roles), nil
}

func (m *memStore) CountAdminRoles(ctx context.Context) (int, error) {
	m.mu.Lock()
	n := m.adminRolesLocked()
	gate := m.adminCount
	m.mu.Unlock()
	if gate != nil {
		gate.Done()
		gate.Wait()
	}
	return n, nil
}

func (m *memStore) adminRolesLocked() int {
	n := 0
	for _, r := range m.roles {
		if r.IsAdmin {
			n++
		}
	}
	return n
}

func (m *memStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memStore) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return m.withRoles(u), nil
}

func (m *memStore) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, m.withRoles(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) ListUsersByRole(ctx context.Context, roleID uuid.UUID) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []User{}
	for id, roles := range m.userRoles {
		for _, r := range roles {
			if r == roleID {
				out = append(out, m.withRoles(m.users[id]))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) SaveUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	m.saves++
	m.userRoles[userID] = append([]uuid.UUID(nil), roleIDs...)
	return nil
}

func (m *memStore) withRoles(u User) User {
	u.Roles = []Role{}
	for _, id := range m.userRoles[u.ID] {
		u.Roles = append(u.Roles, m.roles[id])
	}
	return u
}

// memGrants records grants per role.
type memGrants struct {
	mu     sync.Mutex
	byRole map[uuid.UUID][]permissions.Bitmask
	err    error
}

func newMemGrants() *memGrants {
	return &memGrants{byRole: map[uuid.UUID][]permissions.Bitmask{}}
}

func (g *memGrants) DeleteByRole(ctx context.Context, roleID uuid.UUID) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	n := int64(len(g.byRole[roleID]))
	delete(g.byRole, roleID)
	return n, nil
}

func (g *memGrants) EnsureGlobalDefaults(ctx context.Context, roleID uuid.UUID, mask permissions.Bitmask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.byRole[roleID]) > 0 {
		return nil
	}
	g.byRole[roleID] = []permissions.Bitmask{mask, mask}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *recordingSink) Record(ctx context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type fixture struct {
	svc    *Service
	store  *memStore
	grants *memGrants
	sink   *recordingSink
	cache  *countingInvalidator
	actor  uuid.UUID
}

func newFixture() fixture {
	f := fixture{
		store:  newMemStore(),
		grants: newMemGrants(),
		sink:   &recordingSink{},
		cache:  &countingInvalidator{},
		actor:  uuid.New(),
	}
	f.svc = NewService(f.store, f.grants, f.sink, f.cache, nil)
	return f
}
