package syncstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/syncplan"
)

func testPlan() *syncplan.Plan {
	return &syncplan.Plan{
		Actions: []syncplan.Action{
			{Kind: syncplan.ActionCopy, RelativePath: "a.txt"},
			{Kind: syncplan.ActionCopy, RelativePath: "b.txt"},
			{Kind: syncplan.ActionCopy, RelativePath: "c.txt"},
		},
	}
}

func TestNewStateStartsFullyPending(t *testing.T) {
	state := NewState("pair-1", testPlan())
	require.Len(t, state.PendingIndices, 3)
	require.Empty(t, state.CompletedIndices)
	require.True(t, state.IsResumable())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 50, 0)

	state := NewState("pair-1", testPlan())
	state.MarkCompleted(0, 100)
	require.NoError(t, store.Save(state))

	loaded, err := store.Load("pair-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "pair-1", loaded.SyncPairID)
	require.Len(t, loaded.PendingIndices, 2)
	require.Len(t, loaded.CompletedIndices, 1)
	require.EqualValues(t, 100, loaded.ProcessedBytes)
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	store := NewStore(t.TempDir(), 50, 0)
	loaded, err := store.Load("nonexistent")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestSyncPairIDWithSlashesIsSanitizedInFileName(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 50, 0)

	state := NewState("team/project-a", testPlan())
	require.NoError(t, store.Save(state))

	_, err := os.Stat(filepath.Join(dir, "team_project-a.json"))
	require.NoError(t, err)
}

func TestShouldCheckpointFiresOnInterval(t *testing.T) {
	store := NewStore(t.TempDir(), 50, 0)
	require.False(t, store.ShouldCheckpoint(0))
	require.False(t, store.ShouldCheckpoint(49))
	require.True(t, store.ShouldCheckpoint(50))
	require.True(t, store.ShouldCheckpoint(100))
}

func TestGetResumableStatesExcludesCompletedAndOrdersByLastUpdated(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 50, 0)

	resumableOld := NewState("old-pair", testPlan())
	resumableOld.LastUpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(resumableOld))

	resumableNew := NewState("new-pair", testPlan())
	resumableNew.LastUpdatedAt = time.Now()
	require.NoError(t, store.Save(resumableNew))

	completed := NewState("done-pair", testPlan())
	completed.Phase = PhaseCompleted
	completed.PendingIndices = map[int]bool{}
	require.NoError(t, store.Save(completed))

	states, err := store.GetResumableStates()
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, "old-pair", states[0].SyncPairID)
	require.Equal(t, "new-pair", states[1].SyncPairID)
}

func TestPurgeExpiredRemovesOldStates(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 50, 24*time.Hour)

	stale := NewState("stale-pair", testPlan())
	stale.LastUpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Save(stale))

	fresh := NewState("fresh-pair", testPlan())
	require.NoError(t, store.Save(fresh))

	purged, err := store.PurgeExpired()
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = store.Load("fresh-pair")
	require.NoError(t, err)
}

func TestClearRemovesStateFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 50, 0)

	state := NewState("pair-1", testPlan())
	require.NoError(t, store.Save(state))
	require.NoError(t, store.Clear("pair-1"))

	loaded, err := store.Load("pair-1")
	require.NoError(t, err)
	require.Nil(t, loaded)
}
