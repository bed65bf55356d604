package instances

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

func newRegistry(t *testing.T) (*Registry, catalog.Asset) {
	t.Helper()
	cat := catalog.NewService(catalog.NewMemoryRepositories(), nil)
	asset, err := cat.CreateAsset(context.Background(), 1, "orders", "")
	require.NoError(t, err)
	return NewRegistry(NewMemoryRepository(), cat, nil), asset
}

func TestRegisterUniquePerAsset(t *testing.T) {
	ctx := context.Background()
	reg, asset := newRegistry(t)

	inst, err := reg.Register(ctx, 1, asset.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", inst.RecordID)

	_, err = reg.Register(ctx, 1, asset.ID, " 42 ")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = reg.Register(ctx, 1, asset.ID+100, "42")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = reg.Register(ctx, 1, asset.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLookupAndRemove(t *testing.T) {
	ctx := context.Background()
	reg, asset := newRegistry(t)
	inst, err := reg.Register(ctx, 1, asset.ID, "42")
	require.NoError(t, err)
	_, err = reg.Register(ctx, 1, asset.ID, "43")
	require.NoError(t, err)

	found, err := reg.LookupByTable(ctx, "orders", "42")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, found.ID)

	_, err = reg.LookupByTable(ctx, "orders", "44")
	require.ErrorIs(t, err, shared.ErrNotFound)

	rows, err := reg.ListForAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, reg.Remove(ctx, 1, inst.ID))
	require.ErrorIs(t, reg.Exists(ctx, inst.ID), shared.ErrNotFound)
	require.ErrorIs(t, reg.Remove(ctx, 1, inst.ID), shared.ErrNotFound)
}
