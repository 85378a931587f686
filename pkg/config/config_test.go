package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	cfg := Default()
	cfg.Sync.ConflictStrategy = "keepExternal"
	cfg.Eviction.Threshold = 20 << 30

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "keepExternal", loaded.Sync.ConflictStrategy)
	require.EqualValues(t, 20<<30, loaded.Eviction.Threshold)
}

func TestLoadOverridesOnlySetKeysFromPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  conflictStrategy: keepExternal\n"), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "keepExternal", loaded.Sync.ConflictStrategy)
	require.Equal(t, Default().Sync.DebounceInterval, loaded.Sync.DebounceInterval)
	require.Equal(t, Default().Eviction, loaded.Eviction)
}
