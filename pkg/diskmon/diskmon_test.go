package diskmon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPollDetectsDisconnectAndReconnect(t *testing.T) {
	dir := t.TempDir()
	external := filepath.Join(dir, "external")
	require.NoError(t, os.Mkdir(external, 0o755))

	var connected, disconnected int
	m := New(
		[]Target{{SyncPairID: "pair-1", ExternalDir: external}},
		Hooks{
			OnConnected:    func(string) { connected++ },
			OnDisconnected: func(string) { disconnected++ },
		},
		0,
	)

	// First poll only establishes the baseline; no transition yet.
	m.poll(m.targets[0])
	require.Equal(t, 0, connected)
	require.Equal(t, 0, disconnected)

	require.NoError(t, os.RemoveAll(external))
	m.poll(m.targets[0])
	require.Equal(t, 1, disconnected)
	require.Equal(t, 0, connected)

	require.NoError(t, os.Mkdir(external, 0o755))
	m.poll(m.targets[0])
	require.Equal(t, 1, disconnected)
	require.Equal(t, 1, connected)
}

func TestPollStaysQuietWhenNothingChanges(t *testing.T) {
	dir := t.TempDir()

	var transitions int
	m := New(
		[]Target{{SyncPairID: "pair-1", ExternalDir: dir}},
		Hooks{
			OnConnected:    func(string) { transitions++ },
			OnDisconnected: func(string) { transitions++ },
		},
		0,
	)

	m.poll(m.targets[0])
	m.poll(m.targets[0])
	m.poll(m.targets[0])
	require.Equal(t, 0, transitions)
}
