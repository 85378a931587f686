package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestScanBasicTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	writeFile(t, filepath.Join(root, "f1.txt"), 100)
	writeFile(t, filepath.Join(root, "sub", "f2.bin"), 1024)

	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	require.Contains(t, snap.Files, "f1.txt")
	require.Contains(t, snap.Files, "sub")
	require.Contains(t, snap.Files, "sub/f2.bin")
	require.True(t, snap.Files["sub"].IsDirectory)
	require.EqualValues(t, 1024, snap.Files["sub/f2.bin"].Size)
}

func TestScanMaxFileSizeBoundary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "exact.bin"), 100)
	writeFile(t, filepath.Join(root, "over.bin"), 101)

	snap, err := Scan(context.Background(), root, Options{MaxFileSize: 100})
	require.NoError(t, err)

	require.Contains(t, snap.Files, "exact.bin")
	require.NotContains(t, snap.Files, "over.bin")

	var foundSkip bool
	for _, s := range snap.Skipped {
		if s.RelativePath == "over.bin" {
			foundSkip = true
			require.Equal(t, SkipReasonTooLarge, s.Reason)
		}
	}
	require.True(t, foundSkip)
}

func TestScanDirectoryNotFound(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	require.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f.txt"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Scan(ctx, root, Options{})
	require.ErrorIs(t, err, ErrCancelled)
}

func TestIncrementalScanReusesUnchangedEntries(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	writeFile(t, path, 50)

	first, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)
	first.Files["f.txt"] = withChecksum(first.Files["f.txt"], "deadbeef")

	second, err := IncrementalScan(context.Background(), root, first, Options{})
	require.NoError(t, err)
	require.Equal(t, "deadbeef", second.Files["f.txt"].Checksum, "unchanged entry should be reused, preserving its checksum")
}

func TestIncrementalScanRereadsChangedSize(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	writeFile(t, path, 50)

	first, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)
	first.Files["f.txt"] = withChecksum(first.Files["f.txt"], "deadbeef")

	time.Sleep(5 * time.Millisecond)
	writeFile(t, path, 75)

	second, err := IncrementalScan(context.Background(), root, first, Options{})
	require.NoError(t, err)
	require.Empty(t, second.Files["f.txt"].Checksum, "changed size must force a re-read, dropping the stale checksum")
	require.EqualValues(t, 75, second.Files["f.txt"].Size)
}

func withChecksum(m FileMetadata, checksum string) FileMetadata {
	m.Checksum = checksum
	return m
}
