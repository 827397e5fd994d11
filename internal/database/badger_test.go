package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), "", nil)
	require.NoError(t, err)
	defer store.Close()

	testSessionStore(t, store)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir, "app", nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testAccount()))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)

	reopened, err := NewBadgerStore(dir, "app", nil)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, testAccount().PublicKey, loaded.PublicKey)
}

func TestBadgerStoreSessionKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBadgerStore(dir, "one", nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testAccount()))
	require.NoError(t, store.Close())

	other, err := NewBadgerStore(dir, "two", nil)
	require.NoError(t, err)
	defer other.Close()

	loaded, err := other.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
