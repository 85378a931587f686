package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/conflict"
	"github.com/duallayer/hybridfs/pkg/diff"
	"github.com/duallayer/hybridfs/pkg/hashfile"
	"github.com/duallayer/hybridfs/pkg/locktable"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/scan"
	"github.com/duallayer/hybridfs/pkg/syncstate"
)

func setupPair(t *testing.T) Pair {
	t.Helper()
	root := t.TempDir()
	local := filepath.Join(root, "local")
	external := filepath.Join(root, "external")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.MkdirAll(external, 0o755))
	return Pair{ID: "pair-test", LocalRoot: local, ExternalRoot: external}
}

func newEngine(t *testing.T, pair Pair, opts Options) (*Engine, *syncstate.Store) {
	t.Helper()
	store := syncstate.NewStore(t.TempDir(), 50, 0)
	locks := locktable.New(5 * time.Minute)
	return New(pair, opts, logging.RootLogger, locks, store), store
}

func TestRunCopiesNewFilesToExternal(t *testing.T) {
	pair := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "hello.txt"), []byte("hi"), 0o644))

	engine, _ := newEngine(t, pair, Options{EnableDelete: true, ConflictStrategy: conflict.StrategyNewerWins})
	err := engine.Run(context.Background(), nil)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(pair.ExternalRoot, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))
}

func TestRunIsIdempotentOnSecondInvocation(t *testing.T) {
	pair := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "hello.txt"), []byte("hi"), 0o644))

	opts := Options{EnableDelete: true, ConflictStrategy: conflict.StrategyNewerWins}
	engine, _ := newEngine(t, pair, opts)
	require.NoError(t, engine.Run(context.Background(), nil))

	engine2, _ := newEngine(t, pair, opts)
	require.NoError(t, engine2.Run(context.Background(), nil))

	got, err := os.ReadFile(filepath.Join(pair.ExternalRoot, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))
}

func TestRunDeletesRemovedFilesWhenEnabled(t *testing.T) {
	pair := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(pair.ExternalRoot, "stale.txt"), []byte("old"), 0o644))

	engine, _ := newEngine(t, pair, Options{EnableDelete: true, ConflictStrategy: conflict.StrategyNewerWins})
	require.NoError(t, engine.Run(context.Background(), nil))

	_, err := os.Stat(filepath.Join(pair.ExternalRoot, "stale.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestRunResumesFromCheckpointedState(t *testing.T) {
	pair := setupPair(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, name), []byte(name), 0o644))
	}

	store := syncstate.NewStore(t.TempDir(), 50, 0)
	locks := locktable.New(5 * time.Minute)
	opts := Options{EnableDelete: true, ConflictStrategy: conflict.StrategyNewerWins}

	engine := New(pair, opts, logging.RootLogger, locks, store)
	state, err := engine.buildFreshState(context.Background())
	require.NoError(t, err)

	// Simulate a prior partial run: mark the first action completed and
	// persist, as if the process had been interrupted right after it.
	if len(state.Plan.Actions) > 0 {
		require.NoError(t, engine.runAction(context.Background(), state.Plan.Actions[0]))
		state.MarkCompleted(0, 0)
	}
	require.NoError(t, store.Save(state))

	resumedEngine := New(pair, opts, logging.RootLogger, locks, store)
	require.NoError(t, resumedEngine.Run(context.Background(), nil))

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		got, err := os.ReadFile(filepath.Join(pair.ExternalRoot, name))
		require.NoError(t, err)
		require.Equal(t, name, string(got))
	}

	_, err = store.Load(pair.ID)
	require.NoError(t, err)
}

func TestCancelStopsRunAndMarksStateCancelled(t *testing.T) {
	pair := setupPair(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, string(rune('a'+i))+".txt"), []byte("x"), 0o644))
	}

	store := syncstate.NewStore(t.TempDir(), 50, 0)
	locks := locktable.New(5 * time.Minute)
	engine := New(pair, Options{ConflictStrategy: conflict.StrategyNewerWins}, logging.RootLogger, locks, store)
	engine.Cancel()

	err := engine.Run(context.Background(), nil)
	require.Error(t, err)

	state, err := store.Load(pair.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, syncstate.PhaseCancelled, state.Phase)
}

func TestHashSnapshotPopulatesChecksums(t *testing.T) {
	pair := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "a.txt"), []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "b.txt"), []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "c.txt"), []byte("different"), 0o644))

	engine, _ := newEngine(t, pair, Options{ChecksumAlgorithm: hashfile.SHA256})

	snapshot, err := scan.Scan(context.Background(), pair.LocalRoot, scan.Options{})
	require.NoError(t, err)
	require.NoError(t, engine.hashSnapshot(context.Background(), snapshot))

	a := snapshot.Files["a.txt"]
	b := snapshot.Files["b.txt"]
	c := snapshot.Files["c.txt"]
	require.NotEmpty(t, a.Checksum)
	require.Equal(t, a.Checksum, b.Checksum)
	require.NotEqual(t, a.Checksum, c.Checksum)
}

// TestRunWithChecksumCompareSkipsIdenticalContentDespiteMtimeDrift exercises
// §4.10 step 3: with CompareChecksums set, a file that's byte-identical on
// both sides but has a drifted mtime (beyond tolerance) is still treated as
// identical instead of queued for a redundant update, because the diff now
// has real checksums (populated by the wired hashing step) to compare
// instead of falling back to mtime.
func TestRunWithChecksumCompareSkipsIdenticalContentDespiteMtimeDrift(t *testing.T) {
	pair := setupPair(t)
	content := []byte("identical bytes")
	require.NoError(t, os.WriteFile(filepath.Join(pair.LocalRoot, "f.txt"), content, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pair.ExternalRoot, "f.txt"), content, 0o644))

	// Drift the external mtime far outside the default 1s tolerance.
	drifted := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(pair.ExternalRoot, "f.txt"), drifted, drifted))

	opts := Options{
		ConflictStrategy:  conflict.StrategyNewerWins,
		ChecksumAlgorithm: hashfile.SHA256,
		DiffOptions:       diff.Options{CompareChecksums: true},
	}
	engine, _ := newEngine(t, pair, opts)

	state, err := engine.buildFreshState(context.Background())
	require.NoError(t, err)
	require.Empty(t, state.Plan.Actions, "checksum-identical file must not produce an update action")
}
