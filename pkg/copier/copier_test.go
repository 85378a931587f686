package copier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/logging"
)

func TestCopyFileBasic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, CopyFile(context.Background(), src, dst, Options{VerifyAfterCopy: true}))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestCopyFileRefusesOverwriteByDefault(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("b"), 0o644))

	err := CopyFile(context.Background(), src, dst, Options{})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCopyFileLeavesNoTempOnCancel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, make([]byte, 10<<20), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := CopyFile(ctx, src, dst, Options{BufferSize: 1024})
	require.ErrorIs(t, err, ErrCancelled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.Equal(t, "src.txt", e.Name(), "no tmp- file should remain after cancellation")
	}
}

func TestCopyFilesIsolatesPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	goodSrc := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(goodSrc, []byte("ok"), 0o644))

	actions := []Action{
		{RelativePath: "good.txt", Source: goodSrc, Destination: filepath.Join(dir, "out", "good.txt"), Size: 2},
		{RelativePath: "missing.txt", Source: filepath.Join(dir, "missing.txt"), Destination: filepath.Join(dir, "out", "missing.txt"), Size: 0},
	}

	var results []CopyOneResult
	err := CopyFiles(context.Background(), actions, Options{}, logging.RootLogger, func(r CopyOneResult) {
		results = append(results, r)
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
}

func TestCopyFilesReportsFinalProgress(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	actions := []Action{{RelativePath: "a.txt", Source: src, Destination: filepath.Join(dir, "out", "a.txt"), Size: 5}}

	var last Progress
	start := time.Now()
	err := CopyFiles(context.Background(), actions, Options{}, logging.RootLogger, nil, func(p Progress) {
		last = p
	})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), start, time.Second)
	require.Equal(t, 1, last.ProcessedFiles)
}
