package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingLogger) Log(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestService() (*Service, *recordingLogger) {
	rec := &recordingLogger{}
	return NewService(NewMemoryRepositories(), rec), rec
}

func TestCreatePermissionRejectsDuplicatePair(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService()

	op, err := svc.CreateOperation(ctx, 1, "Read", "read rows")
	require.NoError(t, err)
	assert.Equal(t, "read", op.Name)
	asset, err := svc.CreateAsset(ctx, 1, "orders", "")
	require.NoError(t, err)

	perm, err := svc.CreatePermission(ctx, 1, op.ID, asset.ID)
	require.NoError(t, err)

	_, err = svc.CreatePermission(ctx, 1, op.ID, asset.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	key, err := svc.PermissionKey(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders:read", key)

	require.Len(t, rec.events, 3)
	assert.Equal(t, audit.ActionCreate, rec.events[2].Action)
	assert.Equal(t, "permissions", rec.events[2].Model)
}

func TestCreatePermissionRequiresExistingParts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	op, _ := svc.CreateOperation(ctx, 1, "read", "")

	_, err := svc.CreatePermission(ctx, 1, op.ID, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.CreatePermission(ctx, 1, 42, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUniqueNames(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.CreateOperation(ctx, 1, "delete", "")
	require.NoError(t, err)
	_, err = svc.CreateOperation(ctx, 1, "DELETE", "")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CreateAsset(ctx, 1, "orders", "")
	require.NoError(t, err)
	_, err = svc.CreateAsset(ctx, 1, "orders", "again")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CreateAsset(ctx, 1, "bad:name", "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateOperation(ctx, 1, "  ", "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRenameOperationBlockedOnceReferenced(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	op, _ := svc.CreateOperation(ctx, 1, "reed", "")

	renamed, err := svc.RenameOperation(ctx, 1, op.ID, "read")
	require.NoError(t, err)
	assert.Equal(t, "read", renamed.Name)

	asset, _ := svc.CreateAsset(ctx, 1, "orders", "")
	_, err = svc.CreatePermission(ctx, 1, op.ID, asset.ID)
	require.NoError(t, err)

	_, err = svc.RenameOperation(ctx, 1, op.ID, "view")
	require.ErrorIs(t, err, shared.ErrConflict)
}

type gatedOperations struct {
	store.Repository[Operation, int64]
	updating chan struct{}
	proceed  chan struct{}
}

func (g *gatedOperations) Update(ctx context.Context, op Operation) (Operation, error) {
	close(g.updating)
	<-g.proceed
	return g.Repository.Update(ctx, op)
}

func TestRenameOperationExcludesConcurrentPermission(t *testing.T) {
	ctx := context.Background()
	repos := NewMemoryRepositories()
	gate := &gatedOperations{Repository: repos.Operations, updating: make(chan struct{}), proceed: make(chan struct{})}
	repos.Operations = gate
	svc := NewService(repos, nil)

	op, err := svc.CreateOperation(ctx, 1, "reed", "")
	require.NoError(t, err)
	asset, err := svc.CreateAsset(ctx, 1, "orders", "")
	require.NoError(t, err)

	renamed := make(chan error, 1)
	go func() {
		_, err := svc.RenameOperation(ctx, 1, op.ID, "read")
		renamed <- err
	}()
	<-gate.updating

	created := make(chan error, 1)
	go func() {
		_, err := svc.CreatePermission(ctx, 1, op.ID, asset.ID)
		created <- err
	}()
	select {
	case <-created:
		t.Fatal("permission created while the rename was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.proceed)
	require.NoError(t, <-renamed)
	require.NoError(t, <-created)
	perm, err := svc.FindPermission(ctx, "orders", "read")
	require.NoError(t, err)
	assert.Equal(t, op.ID, perm.OperationID)
}

func TestFindAndEnsurePermission(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	op, err := svc.EnsureOperation(ctx, 0, "update", "")
	require.NoError(t, err)
	again, err := svc.EnsureOperation(ctx, 0, "Update", "")
	require.NoError(t, err)
	assert.Equal(t, op.ID, again.ID)

	asset, err := svc.EnsureAsset(ctx, 0, "documents", "")
	require.NoError(t, err)
	perm, err := svc.EnsurePermission(ctx, 0, op.ID, asset.ID)
	require.NoError(t, err)
	same, err := svc.EnsurePermission(ctx, 0, op.ID, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, perm.ID, same.ID)

	found, err := svc.FindPermission(ctx, "documents", "UPDATE")
	require.NoError(t, err)
	assert.Equal(t, perm.ID, found.ID)

	_, err = svc.FindPermission(ctx, "documents", "delete")
	require.ErrorIs(t, err, shared.ErrNotFound)

	views, err := svc.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "documents:update", views[0].Key)
}
