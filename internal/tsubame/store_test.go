package tsubame

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundtrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "built")
	store, err := NewFSStore(root)
	require.NoError(t, err)

	built, err := store.IsBuilt("binutils", "2.42")
	require.NoError(t, err)
	assert.False(t, built)

	_, err = store.Provenance("binutils", "2.42")
	assert.ErrorIs(t, err, errNotBuilt)

	require.NoError(t, store.MarkBuilt("binutils", "2.42", ProvenanceSource))
	built, err = store.IsBuilt("binutils", "2.42")
	require.NoError(t, err)
	assert.True(t, built)

	prov, err := store.Provenance("binutils", "2.42")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSource, prov)

	// A different version is a different marker.
	built, err = store.IsBuilt("binutils", "2.43")
	require.NoError(t, err)
	assert.False(t, built)

	require.NoError(t, store.Reset("binutils", "2.42"))
	built, err = store.IsBuilt("binutils", "2.42")
	require.NoError(t, err)
	assert.False(t, built)

	// Resetting an absent marker is not an error.
	require.NoError(t, store.Reset("binutils", "2.42"))
}

func TestFSStoreSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "built")
	store, err := NewFSStore(root)
	require.NoError(t, err)
	require.NoError(t, store.MarkBuilt("musl", "1.2.5", ProvenanceFallback))

	reopened, err := NewFSStore(root)
	require.NoError(t, err)
	built, err := reopened.IsBuilt("musl", "1.2.5")
	require.NoError(t, err)
	assert.True(t, built)

	prov, err := reopened.Provenance("musl", "1.2.5")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceFallback, prov)
}

func TestFSStoreList(t *testing.T) {
	store, err := NewFSStore(filepath.Join(t.TempDir(), "built"))
	require.NoError(t, err)
	require.NoError(t, store.MarkBuilt("gmp", "6.3.0", ProvenanceSource))
	require.NoError(t, store.MarkBuilt("mpfr", "4.2.1", ProvenanceSource))

	names, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gmp@6.3.0", "mpfr@4.2.1"}, names)
}

func TestFSStoreIgnoresStrayFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "built")
	store, err := NewFSStore(root)
	require.NoError(t, err)

	// A marker written by hand still counts as built; presence is what
	// resume decisions key on.
	require.NoError(t, os.WriteFile(filepath.Join(root, "gdb@14.2"), nil, 0o644))
	built, err := store.IsBuilt("gdb", "14.2")
	require.NoError(t, err)
	assert.True(t, built)
}

func TestMemStoreRoundtrip(t *testing.T) {
	store := NewMemStore()

	built, err := store.IsBuilt("gcc-stage1", "13.2.0")
	require.NoError(t, err)
	assert.False(t, built)

	require.NoError(t, store.MarkBuilt("gcc-stage1", "13.2.0", ProvenanceSource))
	built, err = store.IsBuilt("gcc-stage1", "13.2.0")
	require.NoError(t, err)
	assert.True(t, built)

	prov, err := store.Provenance("gcc-stage1", "13.2.0")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSource, prov)

	require.NoError(t, store.Reset("gcc-stage1", "13.2.0"))
	_, err = store.Provenance("gcc-stage1", "13.2.0")
	assert.ErrorIs(t, err, errNotBuilt)
}
