// Package index implements the Index Builder (C11, §4.11): the bridge from
// a raw filesystem scan into Catalog entries, run once after a mount
// succeeds (full mode for a never-before-seen sync pair) or on each later
// resync (incremental mode, diffing against the existing catalog). The
// full/incremental split and the "preserve runtime state across a rebuild"
// rule are grounded in the teacher's own index rebuild path
// (pkg/synchronization/core/cache.go's cache reconciliation after a
// forced rescan, which keeps the prior content cache's metadata for
// unchanged entries rather than discarding it).
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/scan"
)

// DefaultBatchSize is the §4.11 "batches (default 10 000)" size for full-mode
// catalog writes.
const DefaultBatchSize = 10000

// ModTimeTolerance is the §4.11 "|mtime-delta| > 1 s" threshold used to
// decide whether an entry counts as updated.
const ModTimeTolerance = time.Second

// Result summarizes one build for the completion Activity entry (§4.11
// "write one Activity on completion").
type Result struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// Progress is reported every batch (§4.11 "emit progress every batch").
type Progress struct {
	ProcessedEntries int
	TotalEntries     int
}

// Options configures one Build call.
type Options struct {
	ScanOptions scan.Options
	BatchSize   int
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Build runs the Index Builder for syncPairID against localRoot/
// externalRoot, choosing full or incremental mode based on whether the
// catalog already has entries for this pair.
func Build(ctx context.Context, cat catalog.Catalog, syncPairID, localRoot, externalRoot string, options Options, logger *logging.Logger, onProgress func(Progress)) (Result, error) {
	existing, err := cat.Query(ctx, func(*catalog.FileEntry) bool { return true })
	if err != nil {
		return Result{}, fmt.Errorf("unable to query catalog: %w", err)
	}
	priorEntries, err := collectForPair(existing, syncPairID)
	if err != nil {
		return Result{}, err
	}

	localSnapshot, err := scan.Scan(ctx, localRoot, options.ScanOptions)
	if err != nil {
		return Result{}, fmt.Errorf("unable to scan local root: %w", err)
	}
	externalSnapshot, err := scan.Scan(ctx, externalRoot, options.ScanOptions)
	if err != nil {
		return Result{}, fmt.Errorf("unable to scan external root: %w", err)
	}

	if len(priorEntries) == 0 {
		return buildFull(ctx, cat, syncPairID, localRoot, externalRoot, localSnapshot, externalSnapshot, options, logger, onProgress)
	}
	return buildIncremental(ctx, cat, syncPairID, localRoot, externalRoot, localSnapshot, externalSnapshot, priorEntries, options, logger, onProgress)
}

func collectForPair(it *catalog.Iterator, syncPairID string) (map[string]*catalog.FileEntry, error) {
	defer it.Close()
	out := make(map[string]*catalog.FileEntry)
	for it.Next() {
		e := it.Entry()
		if e.SyncPairID == syncPairID {
			out[e.VirtualPath] = e
		}
	}
	return out, it.Err()
}

// buildFull implements §4.11's full mode: scan LOCAL marking localOnly, then
// merge in EXTERNAL (existing → both, new → externalOnly), streamed into the
// catalog in batches.
func buildFull(
	ctx context.Context,
	cat catalog.Catalog,
	syncPairID, localRoot, externalRoot string,
	localSnapshot, externalSnapshot *scan.DirectorySnapshot,
	options Options,
	logger *logging.Logger,
	onProgress func(Progress),
) (Result, error) {
	entries := make(map[string]*catalog.FileEntry)

	for relPath, meta := range localSnapshot.Files {
		vpath, err := catalog.NormalizeVirtualPath("/" + relPath)
		if err != nil {
			continue
		}
		entries[vpath] = entryFromMetadata(syncPairID, vpath, localRoot, relPath, meta, catalog.LocationLocalOnly)
	}

	for relPath, meta := range externalSnapshot.Files {
		vpath, err := catalog.NormalizeVirtualPath("/" + relPath)
		if err != nil {
			continue
		}
		if existing, ok := entries[vpath]; ok {
			existing.ExternalPath = joinRoot(externalRoot, relPath)
			existing.Location = catalog.LocationBoth
		} else {
			entries[vpath] = entryFromMetadata(syncPairID, vpath, externalRoot, relPath, meta, catalog.LocationExternalOnly)
		}
	}

	total := len(entries)
	batch := make([]*catalog.FileEntry, 0, options.batchSize())
	processed := 0
	for _, entry := range entries {
		batch = append(batch, entry)
		if len(batch) >= options.batchSize() {
			if err := cat.PutBatch(ctx, batch); err != nil {
				return Result{}, fmt.Errorf("unable to persist index batch: %w", err)
			}
			processed += len(batch)
			if onProgress != nil {
				onProgress(Progress{ProcessedEntries: processed, TotalEntries: total})
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := cat.PutBatch(ctx, batch); err != nil {
			return Result{}, fmt.Errorf("unable to persist index batch: %w", err)
		}
		processed += len(batch)
		if onProgress != nil {
			onProgress(Progress{ProcessedEntries: processed, TotalEntries: total})
		}
	}

	logger.Printf("index build (full) for %s: %d entries", syncPairID, total)
	return Result{Added: total}, nil
}

// buildIncremental implements §4.11's incremental mode: diff the freshly
// scanned LOCAL+EXTERNAL merge against the existing catalog entries for this
// pair, partitioning into added/updated/removed/unchanged, preserving
// runtime state (entryId, isDirty, lockState, accessedAt) for updated
// entries.
func buildIncremental(
	ctx context.Context,
	cat catalog.Catalog,
	syncPairID, localRoot, externalRoot string,
	localSnapshot, externalSnapshot *scan.DirectorySnapshot,
	prior map[string]*catalog.FileEntry,
	options Options,
	logger *logging.Logger,
	onProgress func(Progress),
) (Result, error) {
	fresh := make(map[string]*catalog.FileEntry)
	for relPath, meta := range localSnapshot.Files {
		vpath, err := catalog.NormalizeVirtualPath("/" + relPath)
		if err != nil {
			continue
		}
		fresh[vpath] = entryFromMetadata(syncPairID, vpath, localRoot, relPath, meta, catalog.LocationLocalOnly)
	}
	for relPath, meta := range externalSnapshot.Files {
		vpath, err := catalog.NormalizeVirtualPath("/" + relPath)
		if err != nil {
			continue
		}
		if existing, ok := fresh[vpath]; ok {
			existing.ExternalPath = joinRoot(externalRoot, relPath)
			existing.Location = catalog.LocationBoth
		} else {
			fresh[vpath] = entryFromMetadata(syncPairID, vpath, externalRoot, relPath, meta, catalog.LocationExternalOnly)
		}
	}

	var result Result
	var toPut []*catalog.FileEntry
	var toDelete []catalog.Key

	for vpath, freshEntry := range fresh {
		priorEntry, existed := prior[vpath]
		if !existed {
			result.Added++
			toPut = append(toPut, freshEntry)
			continue
		}

		if isUpdated(priorEntry, freshEntry) {
			result.Updated++
			// Preserve runtime state the index builder doesn't own.
			freshEntry.EntryID = priorEntry.EntryID
			freshEntry.IsDirty = priorEntry.IsDirty
			freshEntry.LockState = priorEntry.LockState
			freshEntry.AccessedAt = priorEntry.AccessedAt
			freshEntry.EntryVersion = priorEntry.EntryVersion
			toPut = append(toPut, freshEntry)
		} else {
			result.Unchanged++
		}
	}

	for vpath, priorEntry := range prior {
		if _, stillPresent := fresh[vpath]; !stillPresent {
			result.Removed++
			toDelete = append(toDelete, catalog.Key{SyncPairID: priorEntry.SyncPairID, VirtualPath: priorEntry.VirtualPath})
		}
	}

	total := len(toPut) + len(toDelete)
	processed := 0
	if len(toPut) > 0 {
		if err := cat.PutBatch(ctx, toPut); err != nil {
			return Result{}, fmt.Errorf("unable to persist added/updated entries: %w", err)
		}
		processed += len(toPut)
		if onProgress != nil {
			onProgress(Progress{ProcessedEntries: processed, TotalEntries: total})
		}
	}
	if len(toDelete) > 0 {
		if err := cat.DeleteBatch(ctx, toDelete); err != nil {
			return Result{}, fmt.Errorf("unable to remove stale entries: %w", err)
		}
		processed += len(toDelete)
		if onProgress != nil {
			onProgress(Progress{ProcessedEntries: processed, TotalEntries: total})
		}
	}

	logger.Printf("index build (incremental) for %s: +%d ~%d -%d =%d", syncPairID, result.Added, result.Updated, result.Removed, result.Unchanged)
	return result, nil
}

// isUpdated implements §4.11's "updated iff size or location changed or
// |mtime-delta| > 1s".
func isUpdated(prior, fresh *catalog.FileEntry) bool {
	if prior.Size != fresh.Size {
		return true
	}
	if prior.Location != fresh.Location {
		return true
	}
	delta := prior.ModifiedAt.Sub(fresh.ModifiedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta > ModTimeTolerance
}

func entryFromMetadata(syncPairID, vpath, root, relPath string, meta scan.FileMetadata, location catalog.Location) *catalog.FileEntry {
	entry := &catalog.FileEntry{
		EntryID:     uuid.NewString(),
		SyncPairID:  syncPairID,
		VirtualPath: vpath,
		Size:        meta.Size,
		ModifiedAt:  meta.ModifiedTime,
		CreatedAt:   meta.CreatedTime,
		AccessedAt:  meta.ModifiedTime,
		IsDirectory: meta.IsDirectory,
		Checksum:    meta.Checksum,
		Location:    location,
	}
	path := joinRoot(root, relPath)
	switch location {
	case catalog.LocationLocalOnly:
		entry.LocalPath = path
	case catalog.LocationExternalOnly:
		entry.ExternalPath = path
	}
	if entry.IsDirectory {
		entry.Checksum = ""
	}
	return entry
}

func joinRoot(root, relPath string) string {
	if root == "" {
		return relPath
	}
	return root + "/" + relPath
}
