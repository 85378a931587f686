// Package diff implements the Diff Engine (§4.6, C6): comparing two
// DirectorySnapshots into a syncplan.Plan. The separation of a raw diff pass
// from a decorating CreateSyncPlan pass mirrors the teacher's own
// diff.go/reconcile.go split, where diff.go produces structural changes and
// reconcile.go (here, CreateSyncPlan) attaches the synchronization-specific
// metadata and conflict actions.
package diff

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/duallayer/hybridfs/pkg/scan"
	"github.com/duallayer/hybridfs/pkg/syncplan"
)

// Options configures one diff pass.
type Options struct {
	// Bidirectional switches from unidirectional semantics (source is
	// authoritative; dest-only means delete) to bidirectional semantics
	// (dest-only and both-modified become conflicts instead of
	// delete/update).
	Bidirectional bool
	// EnableDelete mirrors deletions from source to destination in
	// unidirectional mode. Ignored in bidirectional mode (conflicts are
	// raised instead).
	EnableDelete bool
	// ModTimeTolerance is the equality tolerance for mtime comparison
	// (default 1s).
	ModTimeTolerance time.Duration
	// CompareChecksums, if true and both snapshots carry checksums for a
	// path, uses checksum equality instead of size+mtime to decide identical
	// vs. update.
	CompareChecksums bool
	// DetectMoves enables pairing a toCopy entry with a toDelete entry
	// sharing the same checksum into a single move, removing both from their
	// respective lists. Requires checksums on both snapshots.
	DetectMoves bool
}

func (o Options) tolerance() time.Duration {
	if o.ModTimeTolerance <= 0 {
		return time.Second
	}
	return o.ModTimeTolerance
}

// rawResult is the unidirectional/bidirectional diff's intermediate output,
// before CreateSyncPlan decorates it into a syncplan.Plan.
type rawResult struct {
	toCopy       []string // directories and files present only in source
	toUpdate     []string // files present in both, differing
	toDelete     []string // present only in destination (unidirectional + enableDelete)
	conflicts    []syncplan.ConflictInfo
	moves        []move
}

type move struct {
	from, to string
}

// Diff compares source against destination and returns the raw change sets.
// It does not resolve absolute paths or attach conflict resolutions — that
// is CreateSyncPlan's job.
func Diff(source, destination *scan.DirectorySnapshot, options Options) rawResult {
	var result rawResult

	for relPath, srcMeta := range source.Files {
		dstMeta, existsInDest := destination.Files[relPath]

		if !existsInDest {
			result.toCopy = append(result.toCopy, relPath)
			continue
		}

		if srcMeta.IsDirectory != dstMeta.IsDirectory {
			result.conflicts = append(result.conflicts, syncplan.ConflictInfo{
				RelativePath: relPath,
				LocalMeta:    metaPtr(srcMeta),
				ExternalMeta: metaPtr(dstMeta),
				Kind:         syncplan.ConflictTypeChanged,
			})
			continue
		}

		if srcMeta.IsDirectory {
			continue // directories that exist on both sides need no action
		}

		identical := filesIdentical(srcMeta, dstMeta, options)
		if identical {
			continue
		}

		if options.Bidirectional {
			result.conflicts = append(result.conflicts, syncplan.ConflictInfo{
				RelativePath: relPath,
				LocalMeta:    metaPtr(srcMeta),
				ExternalMeta: metaPtr(dstMeta),
				Kind:         syncplan.ConflictBothModified,
			})
		} else {
			result.toUpdate = append(result.toUpdate, relPath)
		}
	}

	for relPath, dstMeta := range destination.Files {
		if _, existsInSource := source.Files[relPath]; existsInSource {
			continue
		}
		if options.Bidirectional {
			result.conflicts = append(result.conflicts, syncplan.ConflictInfo{
				RelativePath: relPath,
				ExternalMeta: metaPtr(dstMeta),
				Kind:         syncplan.ConflictDeletedOnLocal,
			})
		} else if options.EnableDelete {
			result.toDelete = append(result.toDelete, relPath)
		}
	}

	if options.DetectMoves {
		applyMoveDetection(&result, source, destination)
	}

	sort.Strings(result.toCopy)
	sort.Strings(result.toUpdate)
	sort.Strings(result.toDelete)

	return result
}

// filesIdentical implements areFilesIdentical: size equal, |mtime-mtime| <=
// tolerance, optionally checksum equality when requested and available.
func filesIdentical(a, b scan.FileMetadata, options Options) bool {
	if a.Size != b.Size {
		return false
	}
	if options.CompareChecksums && a.Checksum != "" && b.Checksum != "" {
		return a.Checksum == b.Checksum
	}
	delta := a.ModifiedTime.Sub(b.ModifiedTime)
	if delta < 0 {
		delta = -delta
	}
	return delta <= options.tolerance()
}

func metaPtr(m scan.FileMetadata) *scan.FileMetadata {
	copied := m
	return &copied
}

// applyMoveDetection pairs a toCopy entry with a toDelete entry sharing a
// checksum, removing both from their lists and recording a move, per §4.6.
func applyMoveDetection(result *rawResult, source, destination *scan.DirectorySnapshot) {
	byChecksum := make(map[string]string) // checksum -> toDelete relative path
	for _, relPath := range result.toDelete {
		meta := destination.Files[relPath]
		if meta.Checksum != "" {
			byChecksum[meta.Checksum] = relPath
		}
	}

	var remainingCopy []string
	deleted := make(map[string]bool)
	for _, relPath := range result.toCopy {
		meta := source.Files[relPath]
		if meta.Checksum != "" {
			if deletedPath, ok := byChecksum[meta.Checksum]; ok && !deleted[deletedPath] {
				result.moves = append(result.moves, move{from: deletedPath, to: relPath})
				deleted[deletedPath] = true
				continue
			}
		}
		remainingCopy = append(remainingCopy, relPath)
	}
	result.toCopy = remainingCopy

	var remainingDelete []string
	for _, relPath := range result.toDelete {
		if !deleted[relPath] {
			remainingDelete = append(remainingDelete, relPath)
		}
	}
	result.toDelete = remainingDelete
}

// CreateSyncPlan decorates a raw Diff result into a syncplan.Plan: it
// attaches absolute source/destination paths, orders directory creation
// ascending (parents first) and directory deletion descending (children
// first), and appends resolveConflict actions for every detected conflict.
func CreateSyncPlan(sourceRoot, destinationRoot string, source, destination *scan.DirectorySnapshot, options Options) *syncplan.Plan {
	raw := Diff(source, destination, options)
	plan := &syncplan.Plan{Conflicts: raw.conflicts}

	var dirCreates, fileCopies []string
	for _, relPath := range raw.toCopy {
		if source.Files[relPath].IsDirectory {
			dirCreates = append(dirCreates, relPath)
		} else {
			fileCopies = append(fileCopies, relPath)
		}
	}
	sort.Slice(dirCreates, func(i, j int) bool {
		return depth(dirCreates[i]) < depth(dirCreates[j]) || (depth(dirCreates[i]) == depth(dirCreates[j]) && dirCreates[i] < dirCreates[j])
	})

	for _, relPath := range dirCreates {
		meta := source.Files[relPath]
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:                    syncplan.ActionCreateDirectory,
			RelativePath:            relPath,
			SourceAbsolutePath:      path.Join(sourceRoot, relPath),
			DestinationAbsolutePath: path.Join(destinationRoot, relPath),
			SourceMeta:              metaPtr(meta),
		})
	}

	for _, relPath := range fileCopies {
		meta := source.Files[relPath]
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:                    syncplan.ActionCopy,
			RelativePath:            relPath,
			SourceAbsolutePath:      path.Join(sourceRoot, relPath),
			DestinationAbsolutePath: path.Join(destinationRoot, relPath),
			SourceMeta:              metaPtr(meta),
		})
	}

	for _, relPath := range raw.toUpdate {
		srcMeta := source.Files[relPath]
		dstMeta := destination.Files[relPath]
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:                    syncplan.ActionUpdate,
			RelativePath:            relPath,
			SourceAbsolutePath:      path.Join(sourceRoot, relPath),
			DestinationAbsolutePath: path.Join(destinationRoot, relPath),
			SourceMeta:              metaPtr(srcMeta),
			DestinationMeta:         metaPtr(dstMeta),
		})
	}

	// Deletions: files first, then directories deepest-first so a directory
	// is empty by the time its own delete action runs.
	var dirDeletes, fileDeletes []string
	for _, relPath := range raw.toDelete {
		if destination.Files[relPath].IsDirectory {
			dirDeletes = append(dirDeletes, relPath)
		} else {
			fileDeletes = append(fileDeletes, relPath)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(fileDeletes)))
	sort.Slice(dirDeletes, func(i, j int) bool {
		return depth(dirDeletes[i]) > depth(dirDeletes[j]) || (depth(dirDeletes[i]) == depth(dirDeletes[j]) && dirDeletes[i] > dirDeletes[j])
	})

	for _, relPath := range fileDeletes {
		meta := destination.Files[relPath]
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:                    syncplan.ActionDelete,
			RelativePath:            relPath,
			DestinationAbsolutePath: path.Join(destinationRoot, relPath),
			DestinationMeta:         metaPtr(meta),
		})
	}
	for _, relPath := range dirDeletes {
		meta := destination.Files[relPath]
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:                    syncplan.ActionDelete,
			RelativePath:            relPath,
			DestinationAbsolutePath: path.Join(destinationRoot, relPath),
			DestinationMeta:         metaPtr(meta),
		})
	}

	for i := range plan.Conflicts {
		plan.Actions = append(plan.Actions, syncplan.Action{
			Kind:         syncplan.ActionResolveConflict,
			RelativePath: plan.Conflicts[i].RelativePath,
			Conflict:     &plan.Conflicts[i],
		})
	}

	return plan
}

func depth(relPath string) int {
	return strings.Count(relPath, "/")
}
