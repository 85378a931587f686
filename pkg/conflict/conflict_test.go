package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/copier"
	"github.com/duallayer/hybridfs/pkg/scan"
	"github.com/duallayer/hybridfs/pkg/syncplan"
)

func TestResolveNewerWinsTieFallsBackToBackup(t *testing.T) {
	now := time.Now()
	c := syncplan.ConflictInfo{
		LocalMeta:    &scan.FileMetadata{ModifiedTime: now},
		ExternalMeta: &scan.FileMetadata{ModifiedTime: now},
	}
	require.Equal(t, syncplan.ResolutionKeepLocalWithBackup, Resolve(c, StrategyNewerWins, nil))
}

func TestResolveLargerWinsTieFallsBackToKeepLocal(t *testing.T) {
	c := syncplan.ConflictInfo{
		LocalMeta:    &scan.FileMetadata{Size: 100},
		ExternalMeta: &scan.FileMetadata{Size: 100},
	}
	require.Equal(t, syncplan.ResolutionKeepLocal, Resolve(c, StrategyLargerWins, nil))
}

func TestAskUserFallsBackWhenNilCallback(t *testing.T) {
	c := syncplan.ConflictInfo{Kind: syncplan.ConflictDeletedOnLocal}
	require.Equal(t, syncplan.ResolutionKeepExternal, Resolve(c, StrategyAskUser, nil))
}

func TestAskUserHonorsCallback(t *testing.T) {
	c := syncplan.ConflictInfo{}
	called := Resolve(c, StrategyAskUser, func(syncplan.ConflictInfo) syncplan.Resolution {
		return syncplan.ResolutionKeepExternal
	})
	require.Equal(t, syncplan.ResolutionKeepExternal, called)
}

func TestExecuteKeepLocalWithBackupCreatesBackupThenCopies(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "doc.md")
	externalPath := filepath.Join(dir, "ext", "doc.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(externalPath), 0o755))
	require.NoError(t, os.WriteFile(localPath, []byte("local version"), 0o644))
	require.NoError(t, os.WriteFile(externalPath, []byte("external version"), 0o644))

	err := Execute(context.Background(), localPath, externalPath, syncplan.ConflictInfo{RelativePath: "doc.md"}, syncplan.ResolutionKeepLocalWithBackup, copier.Options{})
	require.NoError(t, err)

	backupContent, err := os.ReadFile(filepath.Join(dir, "ext", "doc_backup.md"))
	require.NoError(t, err)
	require.Equal(t, "external version", string(backupContent))

	finalContent, err := os.ReadFile(externalPath)
	require.NoError(t, err)
	require.Equal(t, "local version", string(finalContent))
}

func TestExecuteBackupDiscriminatesExistingName(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "doc.md")
	externalPath := filepath.Join(dir, "doc.md")
	existingBackup := filepath.Join(dir, "doc_backup.md")
	require.NoError(t, os.WriteFile(localPath+".src", []byte("x"), 0o644)) // unused, keeps dir non-empty
	require.NoError(t, os.WriteFile(externalPath, []byte("ext"), 0o644))
	require.NoError(t, os.WriteFile(existingBackup, []byte("taken"), 0o644))
	require.NoError(t, os.WriteFile(localPath, []byte("local"), 0o644))

	err := Execute(context.Background(), localPath, externalPath, syncplan.ConflictInfo{}, syncplan.ResolutionKeepLocalWithBackup, copier.Options{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "doc_backup_1.md"))
	require.NoError(t, err, "backup must discriminate to doc_backup_1.md when doc_backup.md is taken")
}
