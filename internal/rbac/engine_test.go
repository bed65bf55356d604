package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/grants"
	"github.com/odyssey-erp/odyssey-authz/internal/instances"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type fixture struct {
	catalog   *catalog.Service
	roles     *roles.Service
	grants    *grants.Store
	instances *instances.Registry
	source    *RepositorySource
}

func newFixture(t *testing.T, opts ...grants.Option) *fixture {
	t.Helper()
	return buildFixture(t, nil, opts...)
}

func newCachedFixture(t *testing.T, cache *Cache) *fixture {
	t.Helper()
	return buildFixture(t, []roles.Option{roles.WithInvalidator(cache)}, grants.WithInvalidator(cache))
}

func buildFixture(t *testing.T, roleOpts []roles.Option, opts ...grants.Option) *fixture {
	t.Helper()
	cat := catalog.NewService(catalog.NewMemoryRepositories(), nil)
	rs := roles.NewService(roles.NewMemoryRepository(), nil, roleOpts...)
	reg := instances.NewRegistry(instances.NewMemoryRepository(), cat, nil)
	gs := grants.NewStore(grants.NewMemoryRepositories(), nil, opts...)
	return &fixture{
		catalog:   cat,
		roles:     rs,
		grants:    gs,
		instances: reg,
		source:    NewRepositorySource(gs, rs, cat, reg),
	}
}

func (f *fixture) permission(t *testing.T, table, operation string) catalog.Permission {
	t.Helper()
	ctx := context.Background()
	op, err := f.catalog.EnsureOperation(ctx, 1, operation, "")
	require.NoError(t, err)
	asset, err := f.catalog.EnsureAsset(ctx, 1, table, "")
	require.NoError(t, err)
	perm, err := f.catalog.EnsurePermission(ctx, 1, op.ID, asset.ID)
	require.NoError(t, err)
	return perm
}

func (f *fixture) role(t *testing.T, name string, perms ...catalog.Permission) roles.Role {
	t.Helper()
	ctx := context.Background()
	role, err := f.roles.CreateRole(ctx, 1, roles.Input{Name: name})
	require.NoError(t, err)
	for _, p := range perms {
		_, err := f.grants.RolePermissions().Assign(ctx, role.ID, p.ID, 1)
		require.NoError(t, err)
	}
	return role
}

func (f *fixture) assignRole(t *testing.T, userID int64, role roles.Role) {
	t.Helper()
	_, err := f.grants.UserRoles().Assign(context.Background(), userID, role.ID, 1)
	require.NoError(t, err)
}

func (f *fixture) grantInstance(t *testing.T, userID int64, table, recordID string) {
	t.Helper()
	ctx := context.Background()
	asset, err := f.catalog.EnsureAsset(ctx, 1, table, "")
	require.NoError(t, err)
	inst, err := f.instances.Register(ctx, 1, asset.ID, recordID)
	require.NoError(t, err)
	_, err = f.grants.UserInstances().Assign(ctx, userID, inst.ID, 1)
	require.NoError(t, err)
}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []string
}

func (o *recordingObserver) ObserveDecision(resource, action string, allowed bool, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, resource+":"+action+"="+reason)
}

func TestCheckUnauthenticated(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.source, Options{})
	ctx := context.Background()

	var typedNil *Actor
	for _, actor := range []Principal{nil, typedNil, &Actor{ID: 0}, &Actor{ID: -3}} {
		decision, err := engine.Check(ctx, actor, "orders", "read", "")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonUnauthenticated, decision.Reason)
		assert.ErrorIs(t, decision.Err(), shared.ErrUnauthenticated)
	}
}

func TestAdminBypass(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "Admin")
	f.assignRole(t, 5, admin)
	obs := &recordingObserver{}
	engine := NewEngine(f.source, Options{Observer: obs})

	decision, err := engine.Check(context.Background(), &Actor{ID: 5}, "anything", "delete", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonAdmin, decision.Reason)
	assert.Equal(t, "anything:delete", decision.Key)
	assert.Equal(t, []string{"anything:delete=admin"}, obs.decisions)
}

func TestCustomAdminRole(t *testing.T) {
	f := newFixture(t)
	f.assignRole(t, 5, f.role(t, "Admin"))
	f.assignRole(t, 6, f.role(t, "Superuser"))
	engine := NewEngine(f.source, Options{AdminRole: "Superuser"})
	ctx := context.Background()

	require.ErrorIs(t, engine.Authorize(ctx, &Actor{ID: 5}, "orders", "delete", ""), shared.ErrForbidden)
	require.NoError(t, engine.Authorize(ctx, &Actor{ID: 6}, "orders", "delete", ""))
}

func TestRoleComposition(t *testing.T) {
	f := newFixture(t)
	reader := f.role(t, "R1", f.permission(t, "orders", "read"))
	updater := f.role(t, "R2", f.permission(t, "orders", "update"))
	f.permission(t, "orders", "delete")
	f.assignRole(t, 7, reader)
	f.assignRole(t, 7, updater)
	engine := NewEngine(f.source, Options{})
	ctx := context.Background()
	actor := &Actor{ID: 7}

	for _, action := range []string{"read", "update"} {
		decision, err := engine.Check(ctx, actor, "orders", action, "")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, action)
		assert.Equal(t, ReasonRole, decision.Reason)
	}
	decision, err := engine.Check(ctx, actor, "orders", "delete", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Err(), shared.ErrForbidden)

	perms, err := engine.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:read", "orders:update"}, perms)
}

func TestDanglingRoleIsSkipped(t *testing.T) {
	f := newFixture(t)
	role := f.role(t, "temp", f.permission(t, "orders", "read"))
	f.assignRole(t, 7, role)
	require.NoError(t, f.roles.DeleteRole(context.Background(), 1, role.ID))
	engine := NewEngine(f.source, Options{})

	decision, err := engine.Check(context.Background(), &Actor{ID: 7}, "orders", "read", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestInstanceGrantPrecedence(t *testing.T) {
	f := newFixture(t)
	f.permission(t, "documents", "update")
	f.grantInstance(t, 8, "documents", "42")
	asset, err := f.catalog.AssetByTable(context.Background(), "documents")
	require.NoError(t, err)
	_, err = f.instances.Register(context.Background(), 1, asset.ID, "43")
	require.NoError(t, err)
	engine := NewEngine(f.source, Options{})
	ctx := context.Background()
	actor := &Actor{ID: 8}

	decision, err := engine.Check(ctx, actor, "documents", "update", "42")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonInstance, decision.Reason)

	decision, err = engine.Check(ctx, actor, "documents", "update", "43")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = engine.Check(ctx, actor, "documents", "update", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = engine.Check(ctx, actor, "documents", "update", "unregistered")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestScopedModeRequiresRolePermission(t *testing.T) {
	f := newFixture(t)
	editor := f.role(t, "editor", f.permission(t, "documents", "update"))
	f.grantInstance(t, 8, "documents", "42")
	f.grantInstance(t, 9, "documents", "42")
	f.assignRole(t, 9, editor)
	engine := NewEngine(f.source, Options{Mode: ModeScoped})
	ctx := context.Background()

	decision, err := engine.Check(ctx, &Actor{ID: 8}, "documents", "update", "42")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = engine.Check(ctx, &Actor{ID: 9}, "documents", "update", "42")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonRole, decision.Reason)

	vis, err := engine.VisibleRecords(ctx, &Actor{ID: 8}, "documents")
	require.NoError(t, err)
	assert.False(t, vis.All)
	assert.Equal(t, []string{"42"}, vis.Records)
}

func TestVisibleRecordsForReaders(t *testing.T) {
	f := newFixture(t)
	f.assignRole(t, 3, f.role(t, "reader", f.permission(t, "documents", "read")))
	engine := NewEngine(f.source, Options{})

	vis, err := engine.VisibleRecords(context.Background(), &Actor{ID: 3}, "documents")
	require.NoError(t, err)
	assert.True(t, vis.All)

	_, err = engine.VisibleRecords(context.Background(), nil, "documents")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStandalone, mode)
	mode, err = ParseMode("scoped")
	require.NoError(t, err)
	assert.Equal(t, ModeScoped, mode)
	_, err = ParseMode("both")
	require.ErrorIs(t, err, shared.ErrValidation)
}

type failingSource struct{}

func (failingSource) Access(context.Context, int64) (Access, error) {
	return Access{}, errors.New("connection refused")
}

func (failingSource) HasInstanceGrant(context.Context, int64, string, string) (bool, error) {
	return false, nil
}

func (failingSource) InstanceRecords(context.Context, int64, string) ([]string, error) {
	return nil, nil
}

func TestCheckSurfacesSourceFailure(t *testing.T) {
	engine := NewEngine(failingSource{}, Options{})
	_, err := engine.Check(context.Background(), &Actor{ID: 1}, "orders", "read", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCachedAccessIsInvalidatedByGrants(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	f := newFixture(t, grants.WithInvalidator(cache))
	reader := f.role(t, "reader", f.permission(t, "orders", "read"))
	engine := NewEngine(f.source, Options{Cache: cache})
	ctx := context.Background()
	actor := &Actor{ID: 21}

	decision, err := engine.Check(ctx, actor, "orders", "read", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	key, err := cache.BuildKey(ctx, accessKeyParts(21)...)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	f.assignRole(t, 21, reader)
	next, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, ver+1, next)

	decision, err = engine.Check(ctx, actor, "orders", "read", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCachedAccessIsInvalidatedByRoleChanges(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	f := newCachedFixture(t, cache)
	deleter := f.role(t, "deleter", f.permission(t, "orders", "delete"))
	boss := f.role(t, "Admin")
	f.assignRole(t, 7, deleter)
	f.assignRole(t, 8, boss)
	engine := NewEngine(f.source, Options{Cache: cache})
	ctx := context.Background()

	decision, err := engine.Check(ctx, &Actor{ID: 7}, "orders", "delete", "")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	decision, err = engine.Check(ctx, &Actor{ID: 8}, "invoices", "update", "")
	require.NoError(t, err)
	require.Equal(t, ReasonAdmin, decision.Reason)

	require.NoError(t, f.roles.DeleteRole(ctx, 1, deleter.ID))
	decision, err = engine.Check(ctx, &Actor{ID: 7}, "orders", "delete", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonForbidden, decision.Reason)

	_, err = f.roles.UpdateRole(ctx, 1, boss.ID, roles.Input{Name: "Auditor"})
	require.NoError(t, err)
	decision, err = engine.Check(ctx, &Actor{ID: 8}, "invoices", "update", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	loadErr error
}

func (s *blockingSource) Access(ctx context.Context, _ int64) (Access, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return Access{Roles: []string{"reader"}, Permissions: []string{"orders:read"}}, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.loadErr = ctx.Err()
		s.mu.Unlock()
		return Access{}, ctx.Err()
	}
}

func (s *blockingSource) HasInstanceGrant(context.Context, int64, string, string) (bool, error) {
	return false, nil
}

func (s *blockingSource) InstanceRecords(context.Context, int64, string) ([]string, error) {
	return nil, nil
}

func TestSharedLoadSurvivesCallerCancellation(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	engine := NewEngine(src, Options{})
	actor := &Actor{ID: 3}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.Check(first, actor, "orders", "read", "")
		firstErr <- err
	}()
	<-src.entered

	type outcome struct {
		decision Decision
		err      error
	}
	second := make(chan outcome, 1)
	go func() {
		d, err := engine.Check(context.Background(), actor, "orders", "read", "")
		second <- outcome{decision: d, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	time.Sleep(20 * time.Millisecond)
	close(src.release)

	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.decision.Allowed)
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.NoError(t, src.loadErr)
}

func TestCheckMatchesActionCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	f.assignRole(t, 9, f.role(t, "reader", f.permission(t, "orders", "read")))
	engine := NewEngine(f.source, Options{})

	decision, err := engine.Check(context.Background(), &Actor{ID: 9}, "orders", " READ ", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "orders:read", decision.Key)
}

func TestBumpFromAnotherProcessInvalidatesSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	api := NewCache(client, time.Minute)
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })
	worker := NewCache(other, time.Minute)
	ctx := context.Background()

	before, err := api.BuildKey(ctx, accessKeyParts(1)...)
	require.NoError(t, err)
	require.NoError(t, worker.Bump(ctx))
	after, err := api.BuildKey(ctx, accessKeyParts(1)...)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t)
	f.assignRole(t, 4, f.role(t, "reader", f.permission(t, "orders", "read")))
	engine := NewEngine(f.source, Options{Cache: NewCache(client, time.Minute)})
	mr.Close()

	decision, err := engine.Check(context.Background(), &Actor{ID: 4}, "orders", "read", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
