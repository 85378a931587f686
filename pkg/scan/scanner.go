package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/duallayer/hybridfs/pkg/enginerr"
	"github.com/duallayer/hybridfs/pkg/pathfilter"
)

// ErrCancelled is returned by Scan/IncrementalScan when the provided context
// is cancelled mid-walk.
var ErrCancelled = enginerr.New(enginerr.KindCancelled, "scan cancelled")

// ErrDirectoryNotFound is returned when root does not exist or is not a
// directory.
var ErrDirectoryNotFound = enginerr.New(enginerr.KindNotFound, "scan root not found")

// Options configures a scan, corresponding to the §6.4 sync.* keys that
// govern scanning.
type Options struct {
	// FollowSymlinks controls whether symlinked directories are recursed
	// into. When false (the default), symlinks are recorded as entries but
	// not walked, matching the spec's "skipping packages unless
	// followSymlinks" rule.
	FollowSymlinks bool
	// MaxFileSize, if non-zero, is the §6.4 sync.maxFileSize cap: files
	// exceeding it are dropped with SkipReasonTooLarge. Directories are
	// always recursed regardless of this limit.
	MaxFileSize int64
	// Filter excludes entries matching configured glob patterns (§4.3).
	Filter *pathfilter.Filter
	// ModTimeTolerance is the tolerance used by IncrementalScan when
	// deciding whether a previous entry can be reused (default 1s per §4.4).
	ModTimeTolerance time.Duration
}

func (o Options) tolerance() time.Duration {
	if o.ModTimeTolerance <= 0 {
		return time.Second
	}
	return o.ModTimeTolerance
}

// walker holds the mutable state threaded through one scan invocation.
type walker struct {
	ctx     context.Context
	options Options
	result  *DirectorySnapshot
}

// Scan walks root depth-first and produces a DirectorySnapshot. The walk is
// cancellable: the context is checked at least once per entry, per §4.4.
func Scan(ctx context.Context, root string, options Options) (*DirectorySnapshot, error) {
	return scanInternal(ctx, root, options, nil)
}

// IncrementalScan reuses entries from previous when an entry at the same
// relative path has an unchanged size and an mtime within tolerance, avoiding a full re-read
// (e.g. a checksum) for files that almost certainly haven't changed. Entries
// that don't match previous, or that are new, are re-read in full.
func IncrementalScan(ctx context.Context, root string, previous *DirectorySnapshot, options Options) (*DirectorySnapshot, error) {
	if previous == nil {
		return scanInternal(ctx, root, options, nil)
	}
	return scanInternal(ctx, root, options, previous.Files)
}

func scanInternal(ctx context.Context, root string, options Options, previous map[string]FileMetadata) (*DirectorySnapshot, error) {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDirectoryNotFound
	} else if err != nil {
		return nil, fmt.Errorf("unable to stat scan root: %w", err)
	} else if !info.IsDir() {
		return nil, ErrDirectoryNotFound
	}

	w := &walker{
		ctx:     ctx,
		options: options,
		result: &DirectorySnapshot{
			RootPath: root,
			Files:    make(map[string]FileMetadata),
		},
	}

	if err := w.walkDir(root, "", previous); err != nil {
		return nil, err
	}
	return w.result, nil
}

// walkDir recurses into dir (absolute path), whose path relative to the scan
// root is relativePath ("" for the root itself).
func (w *walker) walkDir(dir, relativePath string, previous map[string]FileMetadata) error {
	select {
	case <-w.ctx.Done():
		return ErrCancelled
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Directory-level enumeration failures are recorded and the walk
		// continues with siblings, matching the spec's "errors collected and
		// logged; scan continues" rule for per-entry errors.
		w.result.Skipped = append(w.result.Skipped, SkippedEntry{
			RelativePath: relativePath,
			Reason:       SkipReasonIOError,
			Detail:       err.Error(),
		})
		return nil
	}

	for _, entry := range entries {
		select {
		case <-w.ctx.Done():
			return ErrCancelled
		default:
		}

		childRelative := entry.Name()
		if relativePath != "" {
			childRelative = relativePath + "/" + entry.Name()
		}

		if w.options.Filter.Excluded(childRelative) {
			w.result.Skipped = append(w.result.Skipped, SkippedEntry{RelativePath: childRelative, Reason: SkipReasonExcluded})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			w.result.Skipped = append(w.result.Skipped, SkippedEntry{
				RelativePath: childRelative,
				Reason:       SkipReasonIOError,
				Detail:       err.Error(),
			})
			continue
		}

		childPath := filepath.Join(dir, entry.Name())
		isSymlink := info.Mode()&os.ModeSymlink != 0

		switch {
		case info.IsDir():
			w.result.Files[childRelative] = FileMetadata{
				RelativePath: childRelative,
				IsDirectory:  true,
				ModifiedTime: info.ModTime(),
				Permissions:  uint32(info.Mode().Perm()),
			}
			if err := w.walkDir(childPath, childRelative, previous); err != nil {
				return err
			}
		case isSymlink:
			if w.options.FollowSymlinks {
				target, err := os.Stat(childPath)
				if err == nil && target.IsDir() {
					w.result.Files[childRelative] = FileMetadata{
						RelativePath: childRelative,
						IsDirectory:  true,
						IsSymlink:    true,
						ModifiedTime: info.ModTime(),
					}
					if err := w.walkDir(childPath, childRelative, previous); err != nil {
						return err
					}
					continue
				}
			}
			w.result.Files[childRelative] = FileMetadata{
				RelativePath: childRelative,
				IsSymlink:    true,
				Size:         info.Size(),
				ModifiedTime: info.ModTime(),
				Permissions:  uint32(info.Mode().Perm()),
			}
		default:
			if w.options.MaxFileSize > 0 && info.Size() > w.options.MaxFileSize {
				w.result.Skipped = append(w.result.Skipped, SkippedEntry{RelativePath: childRelative, Reason: SkipReasonTooLarge})
				continue
			}

			if reused, ok := w.reuse(childRelative, info, previous); ok {
				w.result.Files[childRelative] = reused
				continue
			}

			w.result.Files[childRelative] = FileMetadata{
				RelativePath: childRelative,
				Size:         info.Size(),
				ModifiedTime: info.ModTime(),
				Permissions:  uint32(info.Mode().Perm()),
			}
		}
	}

	return nil
}

// reuse returns the previous entry at relativePath if its size equals and
// its mtime is within tolerance of the freshly-stat'd info, per §4.4's
// incremental fast path (default tolerance 1.0s, exact size match).
func (w *walker) reuse(relativePath string, info os.FileInfo, previous map[string]FileMetadata) (FileMetadata, bool) {
	if previous == nil {
		return FileMetadata{}, false
	}
	prior, ok := previous[relativePath]
	if !ok || prior.IsDirectory || prior.IsSymlink {
		return FileMetadata{}, false
	}
	if prior.Size != info.Size() {
		return FileMetadata{}, false
	}
	delta := info.ModTime().Sub(prior.ModifiedTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > w.options.tolerance() {
		return FileMetadata{}, false
	}
	return prior, true
}
