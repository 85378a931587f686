package locktable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseIdempotent(t *testing.T) {
	table := New(5 * time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, table.Acquire("/a", "writer", ModeWriteLocal))
		table.Release("/a", "writer")
	}
	require.Equal(t, 0, table.HeldCount())
}

func TestSyncLockExcludesSameSideWrite(t *testing.T) {
	table := New(5 * time.Minute)
	require.True(t, table.Acquire("/a", "sync-1", ModeSyncLocalToExternal))
	require.False(t, table.Acquire("/a", "writer", ModeWriteLocal))
	// A write on the other side (external) during a local->external sync lock
	// is unrelated and may proceed.
	require.True(t, table.Acquire("/a", "writer-ext", ModeWriteExternal))
}

func TestTwoSyncsDifferentDirectionRejected(t *testing.T) {
	table := New(5 * time.Minute)
	require.True(t, table.Acquire("/a", "sync-1", ModeSyncLocalToExternal))
	require.False(t, table.Acquire("/a", "sync-2", ModeSyncExternalToLocal))
}

func TestReadsCompatibleWithSyncLock(t *testing.T) {
	table := New(5 * time.Minute)
	require.True(t, table.Acquire("/a", "sync-1", ModeSyncLocalToExternal))
	require.True(t, table.Acquire("/a", "reader", ModeReadLocal))
}

func TestGuardReleasesOnDefer(t *testing.T) {
	table := New(5 * time.Minute)
	func() {
		g := table.AcquireGuard("/a", "sync-1", ModeSyncLocalToExternal)
		defer g.Release()
		require.True(t, g.Held())
		require.Equal(t, 1, table.HeldCount())
	}()
	require.Equal(t, 0, table.HeldCount())
}

func TestWatchdogSweepsStuckLocks(t *testing.T) {
	table := New(10 * time.Millisecond)
	require.True(t, table.Acquire("/a", "sync-1", ModeSyncLocalToExternal))
	time.Sleep(20 * time.Millisecond)

	stuck := table.SweepStuckLocks()
	require.Len(t, stuck, 1)
	require.Equal(t, "/a", stuck[0].Path)
	require.Equal(t, 0, table.HeldCount())
}
