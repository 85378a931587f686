package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/logging"
)

func newTestCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), logging.RootLogger)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestBuildFullMergesLocalAndExternal(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local")
	external := filepath.Join(dir, "external")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.MkdirAll(external, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "both.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(external, "both.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "local-only.txt"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(external, "external-only.txt"), []byte("z"), 0o644))

	cat := newTestCatalog(t)
	result, err := Build(context.Background(), cat, "pair-1", local, external, Options{}, logging.RootLogger, nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.Added)

	entry, err := cat.Get(context.Background(), catalog.Key{SyncPairID: "pair-1", VirtualPath: "/both.txt"})
	require.NoError(t, err)
	require.Equal(t, catalog.LocationBoth, entry.Location)

	entry, err = cat.Get(context.Background(), catalog.Key{SyncPairID: "pair-1", VirtualPath: "/local-only.txt"})
	require.NoError(t, err)
	require.Equal(t, catalog.LocationLocalOnly, entry.Location)
}

func TestBuildIncrementalPartitionsChanges(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local")
	external := filepath.Join(dir, "external")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.MkdirAll(external, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "stable.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "to-remove.txt"), []byte("r"), 0o644))

	cat := newTestCatalog(t)
	_, err := Build(context.Background(), cat, "pair-1", local, external, Options{}, logging.RootLogger, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(local, "to-remove.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(local, "added.txt"), []byte("new"), 0o644))

	result, err := Build(context.Background(), cat, "pair-1", local, external, Options{}, logging.RootLogger, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.Removed)
	require.Equal(t, 1, result.Unchanged)

	_, err = cat.Get(context.Background(), catalog.Key{SyncPairID: "pair-1", VirtualPath: "/to-remove.txt"})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestBuildIncrementalPreservesRuntimeState(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local")
	external := filepath.Join(dir, "external")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.MkdirAll(external, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "doc.txt"), []byte("x"), 0o644))

	cat := newTestCatalog(t)
	_, err := Build(context.Background(), cat, "pair-1", local, external, Options{}, logging.RootLogger, nil)
	require.NoError(t, err)

	before, err := cat.Get(context.Background(), catalog.Key{SyncPairID: "pair-1", VirtualPath: "/doc.txt"})
	require.NoError(t, err)
	before.IsDirty = true
	require.NoError(t, cat.Put(context.Background(), before))

	// Grow the file so it counts as "updated" on the next build, but the
	// dirty flag set above must survive the rebuild.
	require.NoError(t, os.WriteFile(filepath.Join(local, "doc.txt"), []byte("xxxxxxxx"), 0o644))

	_, err = Build(context.Background(), cat, "pair-1", local, external, Options{}, logging.RootLogger, nil)
	require.NoError(t, err)

	after, err := cat.Get(context.Background(), catalog.Key{SyncPairID: "pair-1", VirtualPath: "/doc.txt"})
	require.NoError(t, err)
	require.True(t, after.IsDirty)
	require.Equal(t, before.EntryID, after.EntryID)
}
