package vfs

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/notify"
	"github.com/duallayer/hybridfs/pkg/state"
)

func newTestCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), logging.RootLogger)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func newTestDelegate(t *testing.T, cat catalog.Catalog) *delegate {
	t.Helper()
	ready := &atomic.Bool{}
	ready.Store(true)
	online := &atomic.Bool{}
	online.Store(true)
	return &delegate{
		catalog:        cat,
		syncPairID:     "pair-1",
		localRoot:      filepath.Join(t.TempDir(), "local"),
		externalRoot:   filepath.Join(t.TempDir(), "external"),
		externalOnline: online,
		indexReady:     ready,
		readOnly:       &atomic.Bool{},
	}
}

func TestResolveRoutesLocalOnlyAndBothToLocalPath(t *testing.T) {
	cat := newTestCatalog(t)
	del := newTestDelegate(t, cat)
	ctx := context.Background()

	require.NoError(t, cat.Put(ctx, &catalog.FileEntry{
		SyncPairID: del.syncPairID, VirtualPath: "/a.txt",
		LocalPath: "/local/a.txt", Location: catalog.LocationLocalOnly,
	}))
	require.NoError(t, cat.Put(ctx, &catalog.FileEntry{
		SyncPairID: del.syncPairID, VirtualPath: "/b.txt",
		LocalPath: "/local/b.txt", ExternalPath: "/external/b.txt", Location: catalog.LocationBoth,
	}))

	p, errno := del.resolve(ctx, "/a.txt")
	require.Equal(t, fs.OK, errno)
	require.Equal(t, "/local/a.txt", p)

	p, errno = del.resolve(ctx, "/b.txt")
	require.Equal(t, fs.OK, errno)
	require.Equal(t, "/local/b.txt", p)
}

func TestResolveExternalOnlyServesExternalWhenOnline(t *testing.T) {
	cat := newTestCatalog(t)
	del := newTestDelegate(t, cat)
	ctx := context.Background()

	require.NoError(t, cat.Put(ctx, &catalog.FileEntry{
		SyncPairID: del.syncPairID, VirtualPath: "/evicted.txt",
		ExternalPath: "/external/evicted.txt", Location: catalog.LocationExternalOnly,
	}))

	p, errno := del.resolve(ctx, "/evicted.txt")
	require.Equal(t, fs.OK, errno)
	require.Equal(t, "/external/evicted.txt", p)
}

func TestResolveExternalOnlyReturnsEIOWhenOffline(t *testing.T) {
	cat := newTestCatalog(t)
	del := newTestDelegate(t, cat)
	del.externalOnline.Store(false)
	ctx := context.Background()

	require.NoError(t, cat.Put(ctx, &catalog.FileEntry{
		SyncPairID: del.syncPairID, VirtualPath: "/evicted.txt",
		ExternalPath: "/external/evicted.txt", Location: catalog.LocationExternalOnly,
	}))

	_, errno := del.resolve(ctx, "/evicted.txt")
	require.Equal(t, syscall.EIO, errno)
}

func TestResolveReturnsEBUSYBeforeIndexReady(t *testing.T) {
	cat := newTestCatalog(t)
	del := newTestDelegate(t, cat)
	del.indexReady.Store(false)

	_, errno := del.resolve(context.Background(), "/anything.txt")
	require.Equal(t, syscall.EBUSY, errno)
}

func TestResolveReturnsENOENTForUnknownPath(t *testing.T) {
	cat := newTestCatalog(t)
	del := newTestDelegate(t, cat)

	_, errno := del.resolve(context.Background(), "/missing.txt")
	require.Equal(t, syscall.ENOENT, errno)
}

func TestResolveTargetDirRemovesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	realDir := filepath.Join(dir, "real")
	require.NoError(t, os.MkdirAll(realDir, 0o755))
	require.NoError(t, os.Symlink(realDir, target))

	m := &Manager{}
	require.NoError(t, m.resolveTargetDir(MountRequest{TargetDir: target, LocalDir: filepath.Join(dir, "local")}))
	_, err := os.Lstat(target)
	require.True(t, os.IsNotExist(err))
}

func TestResolveTargetDirRemovesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	require.NoError(t, os.MkdirAll(target, 0o755))

	m := &Manager{}
	require.NoError(t, m.resolveTargetDir(MountRequest{TargetDir: target, LocalDir: filepath.Join(dir, "local")}))
	_, err := os.Lstat(target)
	require.True(t, os.IsNotExist(err))
}

func TestResolveTargetDirSeedsLocalDirFromPopulatedTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	local := filepath.Join(dir, "local")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "seed.txt"), []byte("hi"), 0o644))

	m := &Manager{}
	require.NoError(t, m.resolveTargetDir(MountRequest{TargetDir: target, LocalDir: local}))

	_, err := os.Stat(filepath.Join(local, "seed.txt"))
	require.NoError(t, err)
}

func TestResolveTargetDirConflictsWhenBothPopulatedAndLocalExists(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	local := filepath.Join(dir, "local")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "seed.txt"), []byte("hi"), 0o644))

	m := &Manager{}
	err := m.resolveTargetDir(MountRequest{TargetDir: target, LocalDir: local})
	require.Error(t, err)
}

func TestFUSEDidExitUnexpectedlyDropsMountAfterRetryBudget(t *testing.T) {
	cat := newTestCatalog(t)
	bus := notify.New(4)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	states := state.New(bus)
	require.NoError(t, states.Transition(state.StateXPCReady))
	require.NoError(t, states.Transition(state.StateVFSMounting))
	require.NoError(t, states.Transition(state.StateIndexing))
	require.NoError(t, states.Transition(state.StateReady))

	m := NewManager(cat, states, bus, logging.RootLogger)
	mp := &mountedPair{
		request:      MountRequest{SyncPairID: "pair-1"},
		del:          newTestDelegate(t, cat),
		crashRetries: DefaultCrashRetries,
		lastCrash:    time.Now().Add(-time.Hour),
	}
	m.mounted["pair-1"] = mp

	m.FUSEDidExitUnexpectedly(context.Background(), "pair-1")

	_, ok := m.mounted["pair-1"]
	require.False(t, ok)
	require.Equal(t, state.StateError, states.Global())
}

func TestInodeHashIsStablePerPath(t *testing.T) {
	require.Equal(t, inodeHash("/a/b.txt"), inodeHash("/a/b.txt"))
	require.NotEqual(t, inodeHash("/a/b.txt"), inodeHash("/a/c.txt"))
}
