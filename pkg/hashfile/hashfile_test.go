package hashfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileHashIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	for _, algo := range []Algorithm{MD5, SHA256, XXHash64} {
		a, err := File(context.Background(), path, algo, 0)
		require.NoError(t, err)
		b, err := File(context.Background(), path, algo, 4) // tiny buffer forces multiple reads
		require.NoError(t, err)
		require.Equal(t, a, b, "algorithm %s must be buffer-size independent", algo)
		require.NotEmpty(t, a)
	}
}

func TestFilesParallelIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("data"), 0o644))
	missing := filepath.Join(dir, "missing.txt")

	results := FilesParallel(context.Background(), []string{good, missing}, MD5, 2, 0)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NotEmpty(t, results[0].Checksum)
	require.Error(t, results[1].Err)
}

func TestUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := File(context.Background(), path, Algorithm("bogus"), 0)
	require.Error(t, err)
}
