// Package copier implements the atomic single-file copy protocol (§4.7, C7):
// copy to a temporary sibling, fsync, rename (the commit point), restore
// attributes, and optionally verify. The pause/cancel polling style matches
// the teacher's own staging copy loop (pkg/synchronization/endpoint/local),
// which streams file content in chunks while checking for cancellation
// between them; this implementation adds the explicit pause flag the spec
// requires, which the teacher's one-shot staging transfers don't need.
package copier

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/duallayer/hybridfs/pkg/enginerr"
	"github.com/duallayer/hybridfs/pkg/hashfile"
	"github.com/duallayer/hybridfs/pkg/logging"
)

// ErrCancelled is returned when a copy is cancelled mid-stream.
var ErrCancelled = enginerr.New(enginerr.KindCancelled, "copy cancelled")

// ErrAlreadyExists is returned when the destination exists and
// OverwriteExisting is false.
var ErrAlreadyExists = enginerr.New(enginerr.KindAlreadyExists, "destination already exists")

// Options configures a single-file copy.
type Options struct {
	OverwriteExisting bool
	VerifyAfterCopy   bool
	BufferSize        int // §6.4 sync.bufferSize, default 1 MiB
	ChecksumAlgorithm hashfile.Algorithm
	// PauseFlag, if non-nil, is polled between chunks (every 100ms while
	// true) so a sync-wide pause() affects in-flight copies, per §4.10.
	PauseFlag func() bool
}

func (o Options) bufferSize() int {
	if o.BufferSize <= 0 {
		return 1 << 20
	}
	return o.BufferSize
}

func (o Options) algorithm() hashfile.Algorithm {
	if o.ChecksumAlgorithm == "" {
		return hashfile.MD5
	}
	return o.ChecksumAlgorithm
}

// CopyFile executes the §4.7 protocol for a single file. ctx cancellation
// aborts the copy (ErrCancelled) and removes the temporary file.
func CopyFile(ctx context.Context, source, destination string, options Options) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("unable to create destination directory: %w", err)
	}

	if !options.OverwriteExisting {
		if _, err := os.Stat(destination); err == nil {
			return ErrAlreadyExists
		}
	}

	srcFile, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("unable to open source file: %w", err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat source file: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(destination), fmt.Sprintf("%s.tmp-%08x", filepath.Base(destination), rand.Uint32()))
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if err := streamCopy(ctx, tmpFile, srcFile, options); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("unable to fsync destination: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to close destination: %w", err)
	}

	// rename(tmp, dest) is the commit point: a crash after this line is safe
	// because only the complete file is ever visible at destination.
	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to commit destination file: %w", err)
	}

	modTime := srcInfo.ModTime()
	if err := os.Chtimes(destination, modTime, modTime); err != nil {
		return fmt.Errorf("unable to set destination timestamps: %w", err)
	}
	if err := os.Chmod(destination, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("unable to set destination permissions: %w", err)
	}

	if options.VerifyAfterCopy {
		sourceSum, err := hashfile.File(ctx, source, options.algorithm(), options.bufferSize())
		if err != nil {
			return fmt.Errorf("unable to hash source for verification: %w", err)
		}
		destSum, err := hashfile.File(ctx, destination, options.algorithm(), options.bufferSize())
		if err != nil {
			return fmt.Errorf("unable to hash destination for verification: %w", err)
		}
		if sourceSum != destSum {
			os.Remove(destination)
			return enginerr.VerificationFailed(destination, sourceSum, destSum)
		}
	}

	return nil
}

// streamCopy copies src into dst in options.bufferSize() chunks, honoring
// cancellation and the pause flag between chunks.
func streamCopy(ctx context.Context, dst io.Writer, src io.Reader, options Options) error {
	buffer := make([]byte, options.bufferSize())
	for {
		for options.PauseFlag != nil && options.PauseFlag() {
			select {
			case <-ctx.Done():
				return ErrCancelled
			case <-time.After(100 * time.Millisecond):
			}
		}

		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("unable to write destination chunk: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			return nil
		} else if readErr != nil {
			return fmt.Errorf("unable to read source chunk: %w", readErr)
		}
	}
}

// Progress reports cumulative copy progress for throttled notification
// (§4.17 syncProgress).
type Progress struct {
	ProcessedFiles int
	TotalFiles     int
	ProcessedBytes int64
	TotalBytes     int64
	CurrentFile    string
}

// HumanString renders p for logs/activity entries.
func (p Progress) HumanString() string {
	return fmt.Sprintf("%d/%d files, %s/%s", p.ProcessedFiles, p.TotalFiles,
		humanize.Bytes(uint64(p.ProcessedBytes)), humanize.Bytes(uint64(p.TotalBytes)))
}

// CopyOneResult is the per-action outcome CopyFiles reports through its
// onAction callback, so the Sync Engine can checkpoint SyncState per action
// (§4.10 step 9) without CopyFiles depending on pkg/syncstate.
type CopyOneResult struct {
	RelativePath string
	Err          error
	Bytes        int64
}

// CopyFiles iterates copy/update actions, calling onAction after each
// completes (successfully or not), and onProgress before each action and
// once more after the last; it does no throttling of its own. It does not
// acquire locks; the Sync
// Engine acquires them via the Lock Table before calling this (§4.7).
func CopyFiles(
	ctx context.Context,
	actions []Action,
	options Options,
	logger *logging.Logger,
	onAction func(CopyOneResult),
	onProgress func(Progress),
) error {
	var progress Progress
	progress.TotalFiles = len(actions)
	for _, a := range actions {
		progress.TotalBytes += a.Size
	}

	for _, a := range actions {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		progress.CurrentFile = a.RelativePath
		if onProgress != nil {
			onProgress(progress)
		}

		err := CopyFile(ctx, a.Source, a.Destination, options)
		if err != nil {
			logger.Warn(fmt.Errorf("copy failed for %s: %w", a.RelativePath, err))
		} else {
			progress.ProcessedFiles++
			progress.ProcessedBytes += a.Size
		}

		if onAction != nil {
			onAction(CopyOneResult{RelativePath: a.RelativePath, Err: err, Bytes: a.Size})
		}

		if err != nil && enginerr.Is(err, enginerr.KindCancelled) {
			return err
		}
	}

	if onProgress != nil {
		onProgress(progress)
	}
	return nil
}

// Action is the subset of a syncplan.Action that CopyFiles needs; kept
// narrow so this package doesn't import pkg/syncplan (avoiding a dependency
// cycle with pkg/syncengine, which imports both).
type Action struct {
	RelativePath string
	Source       string
	Destination  string
	Size         int64
}
