package permissions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrapanel/infrapanel/internal/platform/httpx"
)

type batchLog struct {
	succeeded, failed int
}

func (b *batchLog) ObserveBatch(kind string, succeeded, failed int) {
	b.succeeded += succeeded
	b.failed += failed
}

type serviceFixture struct {
	svc     *Service
	repo    *mockRepository
	sink    *recordingSink
	cache   *countingInvalidator
	metrics *batchLog
	role    uuid.UUID
	server  uuid.UUID
	actor   uuid.UUID
}

func newServiceFixture() serviceFixture {
	f := serviceFixture{
		repo:    newMockRepository(),
		sink:    &recordingSink{},
		cache:   &countingInvalidator{},
		metrics: &batchLog{},
		role:    uuid.New(),
		server:  uuid.New(),
		actor:   uuid.New(),
	}
	f.svc = NewService(f.repo, ServiceDeps{
		Roles:     stubRoles{known: map[uuid.UUID]bool{f.role: true}},
		Resources: stubResources{known: map[uuid.UUID]bool{f.server: true}},
		Audit:     f.sink,
		Cache:     f.cache,
		Metrics:   f.metrics,
	})
	return f
}

func TestCreateGrant(t *testing.T) {
	f := newServiceFixture()
	g, err := f.svc.Create(context.Background(), f.actor, KindServer, CreateGrant{RoleID: f.role, ResourceID: ptr(f.server), Bitmask: Read | Write})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, g.ID)
	assert.Equal(t, KindServer, g.Kind)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, "create", f.sink.events[0].Action)
	assert.Equal(t, "permission_server", f.sink.events[0].Entity)
	assert.Equal(t, f.actor, f.sink.events[0].UserID)
	assert.Equal(t, 1, f.cache.bumps)
}

func TestCreateGrantGuards(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: uuid.New(), Bitmask: Read})
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: f.role, ResourceID: ptr(uuid.New()), Bitmask: Read})
	assert.ErrorIs(t, err, ErrResourceNotFound)

	_, err = f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: f.role, Bitmask: -1})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, f.actor, KindServer, CreateGrant{Bitmask: Read})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "role_id is required")

	_, err = f.svc.Create(ctx, f.actor, ResourceKind("disk"), CreateGrant{RoleID: f.role})
	assert.ErrorIs(t, err, ErrInvalidKind)

	assert.Empty(t, f.repo.grants)
	assert.Empty(t, f.sink.events)
}

func TestCreateGrantAuditFailurePropagates(t *testing.T) {
	f := newServiceFixture()
	f.sink.err = errors.New("audit down")
	_, err := f.svc.Create(context.Background(), f.actor, KindVM, CreateGrant{RoleID: f.role, Bitmask: Read})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit down")
}

func TestBatchCreatePartialFailure(t *testing.T) {
	f := newServiceFixture()
	badRole := uuid.New()
	failing := uuid.New()
	f.svc.roles = stubRoles{known: map[uuid.UUID]bool{f.role: true, failing: true}}
	f.repo.createErr[failing] = errors.New("duplicate key value")

	items := []CreateGrant{
		{RoleID: f.role, ResourceID: ptr(f.server), Bitmask: Read},
		{RoleID: badRole, Bitmask: Read},
		{RoleID: f.role, Bitmask: Write},
		{RoleID: failing, Bitmask: Read},
		{RoleID: f.role, Bitmask: -4},
	}
	result, err := f.svc.BatchCreate(context.Background(), f.actor, KindServer, items)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 3, result.FailureCount)
	assert.Len(t, result.Created, result.SuccessCount)
	assert.Len(t, result.Failed, result.FailureCount)
	assert.Equal(t, result.Total, result.SuccessCount+result.FailureCount)

	require.Len(t, result.Failed, 3)
	assert.Equal(t, items[1], result.Failed[0].Descriptor)
	assert.Equal(t, ErrRoleNotFound.Error(), result.Failed[0].Error)
	assert.Equal(t, items[3], result.Failed[1].Descriptor)
	assert.Contains(t, result.Failed[1].Error, "duplicate key value")
	assert.Equal(t, items[4], result.Failed[2].Descriptor)

	assert.Len(t, f.repo.grants, 2, "earlier successes are kept")
	assert.Equal(t, 2, f.metrics.succeeded)
	assert.Equal(t, 3, f.metrics.failed)
}

func TestBatchCreateRecoversPanics(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"error value", fmt.Errorf("driver exploded"), "driver exploded"},
		{"string value", "plain string", UnknownErrorMessage},
		{"nil value", nil, UnknownErrorMessage},
		{"struct value", struct{ Code int }{Code: 3}, UnknownErrorMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture()
			panicky := uuid.New()
			f.svc.roles = stubRoles{known: map[uuid.UUID]bool{f.role: true, panicky: true}}
			f.repo.createPanic[panicky] = tc.value

			result, err := f.svc.BatchCreate(context.Background(), f.actor, KindVM, []CreateGrant{
				{RoleID: panicky, Bitmask: Read},
				{RoleID: f.role, Bitmask: Read},
			})
			require.NoError(t, err)
			require.Len(t, result.Failed, 1)
			assert.Equal(t, tc.want, result.Failed[0].Error)
			assert.Equal(t, 1, result.SuccessCount)
		})
	}
}

func TestBatchCreateKeepsStoredGrantWhenAuditFails(t *testing.T) {
	f := newServiceFixture()
	f.sink.err = errors.New("audit down")
	items := []CreateGrant{
		{RoleID: f.role, Bitmask: Read},
		{RoleID: f.role, ResourceID: ptr(f.server), Bitmask: Write},
	}

	result, err := f.svc.BatchCreate(context.Background(), f.actor, KindVM, items)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Zero(t, result.FailureCount)
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, result.Created[0].ID, result.Warnings[0].GrantID)
	assert.Contains(t, result.Warnings[0].Error, "audit down")
	assert.Len(t, f.repo.grants, 2, "no row is reported failed after being stored")
}

func TestBatchCreateSizeLimits(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.BatchCreate(context.Background(), f.actor, KindServer, nil)
	assert.ErrorIs(t, err, ErrBatchSize)

	tooMany := make([]CreateGrant, MaxBatchSize+1)
	_, err = f.svc.BatchCreate(context.Background(), f.actor, KindServer, tooMany)
	assert.ErrorIs(t, err, ErrBatchSize)

	full := make([]CreateGrant, MaxBatchSize)
	for i := range full {
		full[i] = CreateGrant{RoleID: f.role, Bitmask: Read}
	}
	result, err := f.svc.BatchCreate(context.Background(), f.actor, KindServer, full)
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize, result.SuccessCount)
}

func TestUpdateReplacesBitmask(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: f.role, Bitmask: Read | Write})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, f.actor, KindServer, g.ID, Restart)
	require.NoError(t, err)
	assert.Equal(t, Restart, updated.Bitmask, "update replaces rather than merges")

	last := f.sink.events[len(f.sink.events)-1]
	assert.Equal(t, "update", last.Action)
	assert.Equal(t, Read|Write, last.OldValue.(Grant).Bitmask)

	_, err = f.svc.Update(ctx, f.actor, KindServer, uuid.New(), Read)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Update(ctx, f.actor, KindServer, g.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidBitmask)
}

func TestDeleteGrant(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.actor, KindVM, CreateGrant{RoleID: f.role, Bitmask: Read})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.actor, KindVM, g.ID))
	assert.Empty(t, f.repo.grants)
	assert.Equal(t, "delete", f.sink.events[len(f.sink.events)-1].Action)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.actor, KindVM, g.ID), ErrNotFound)
}

func TestLookupByResourceAndRole(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	global, err := f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: f.role, Bitmask: Read})
	require.NoError(t, err)
	scoped, err := f.svc.Create(ctx, f.actor, KindServer, CreateGrant{RoleID: f.role, ResourceID: ptr(f.server), Bitmask: Write})
	require.NoError(t, err)

	got, err := f.svc.GetByResourceAndRole(ctx, KindServer, nil, f.role)
	require.NoError(t, err)
	assert.Equal(t, global.ID, got.ID)

	got, err = f.svc.GetByResourceAndRole(ctx, KindServer, ptr(f.server), f.role)
	require.NoError(t, err)
	assert.Equal(t, scoped.ID, got.ID)

	_, err = f.svc.GetByResourceAndRole(ctx, KindVM, nil, f.role)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := f.svc.ListByRole(ctx, KindServer, f.role)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.ListByRole(ctx, KindServer, uuid.New())
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestDeleteByRoleCoversBothKinds(t *testing.T) {
	f := newServiceFixture()
	other := uuid.New()
	f.repo.grants = []Grant{
		{ID: uuid.New(), Kind: KindServer, RoleID: f.role},
		{ID: uuid.New(), Kind: KindVM, RoleID: f.role},
		{ID: uuid.New(), Kind: KindVM, RoleID: other},
	}
	n, err := f.svc.DeleteByRole(context.Background(), f.role)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, f.repo.grants, 1)
	assert.Equal(t, other, f.repo.grants[0].RoleID)
}

func TestCleanupStale(t *testing.T) {
	f := newServiceFixture()
	gone := uuid.New()
	f.repo.staleIDs[gone] = true
	f.repo.grants = []Grant{
		{ID: uuid.New(), Kind: KindServer, RoleID: f.role, ResourceID: ptr(gone)},
		{ID: uuid.New(), Kind: KindServer, RoleID: f.role, ResourceID: ptr(f.server)},
		{ID: uuid.New(), Kind: KindServer, RoleID: f.role},
	}
	n, err := f.svc.CleanupStale(context.Background(), KindServer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, f.repo.grants, 2)
	assert.Equal(t, 1, f.cache.bumps)
}

func TestEnsureGlobalDefaultsIsIdempotent(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureGlobalDefaults(ctx, f.role, DefaultGuestMask))
	require.NoError(t, f.svc.EnsureGlobalDefaults(ctx, f.role, DefaultGuestMask))

	require.Len(t, f.repo.grants, 2)
	for _, g := range f.repo.grants {
		assert.True(t, g.IsGlobal())
		assert.Equal(t, DefaultGuestMask, g.Bitmask)
	}
	assert.Empty(t, f.sink.events)
}
