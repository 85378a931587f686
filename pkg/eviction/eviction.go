// Package eviction implements the Eviction Engine (§4.13, C13): freeing
// LOCAL disk space by demoting both-location entries to external-only,
// oldest-accessed first, with a final on-the-spot safety check before each
// delete. The compute-toFree/enumerate-oldest/verify-then-delete shape is
// grounded in the teacher's own local staging cleanup
// (pkg/synchronization/endpoint/local's removal of completed staging
// files), generalized here from "delete once transferred" to "delete the
// least-recently-used until enough space is freed".
package eviction

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/hashfile"
	"github.com/duallayer/hybridfs/pkg/logging"
)

// Trigger identifies what caused an eviction pass, recorded on the
// completion Activity entry.
type Trigger string

const (
	TriggerPeriodic     Trigger = "periodic"
	TriggerThreshold    Trigger = "threshold"
	TriggerPreWrite     Trigger = "preWrite"
	TriggerManual       Trigger = "manual"
)

// Options configures one eviction pass.
type Options struct {
	// VerifyBeforeDelete re-hashes the LOCAL and EXTERNAL copies and skips
	// the candidate on mismatch, per §4.13 step 3.
	VerifyBeforeDelete bool
	ChecksumAlgorithm  hashfile.Algorithm
	BufferSize         int
	// IsOpenForWriting reports whether vpath is currently open/being
	// written, in which case it is skipped regardless of otherwise being
	// evictable (§4.13 step 3 "file not open/writing").
	IsOpenForWriting func(vpath string) bool
}

// Progress reports cumulative bytes freed so far, for throttled notification.
type Progress struct {
	FreedBytes   int64
	TargetBytes  int64
	EvictedFiles int
}

// Result summarizes one pass for the completion Activity entry (§4.13 step 6).
type Result struct {
	FreedBytes   int64
	EvictedFiles int
	Complete     bool // true if toFree was fully reached
}

// recencyTracker orders candidates oldest-accessed-first using an LRU
// structure rather than a manual sort comparator, mirroring how the rest of
// the pack (tonimelisma-onedrive-go's local cache) ranks cached file
// eviction order.
type recencyTracker struct {
	lru *lru.LRU[string, *catalog.FileEntry]
}

func newRecencyTracker(candidates []*catalog.FileEntry) *recencyTracker {
	l, _ := lru.NewLRU[string, *catalog.FileEntry](len(candidates)+1, nil)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AccessedAt.Before(candidates[j].AccessedAt)
	})
	// Insert oldest-accessed first: since the structure never re-touches an
	// entry via Get, insertion order is preserved as recency order, and
	// RemoveOldest always yields the true least-recently-used remaining
	// candidate.
	for _, c := range candidates {
		l.Add(c.VirtualPath, c)
	}
	return &recencyTracker{lru: l}
}

func (r *recencyTracker) next() (*catalog.FileEntry, bool) {
	_, entry, ok := r.lru.RemoveOldest()
	return entry, ok
}

// Run executes one eviction pass against cat, attempting to free toFreeBytes
// from entries belonging to syncPairID. It stops early once toFreeBytes has
// been freed or candidates are exhausted.
func Run(ctx context.Context, cat catalog.Catalog, syncPairID string, toFreeBytes int64, options Options, logger *logging.Logger, onProgress func(Progress)) (Result, error) {
	iter, err := cat.Query(ctx, catalog.Evictable(time.Now(), 0))
	if err != nil {
		return Result{}, fmt.Errorf("unable to query evictable entries: %w", err)
	}
	candidates, err := iter.Collect()
	if err != nil {
		return Result{}, fmt.Errorf("unable to collect evictable entries: %w", err)
	}

	var pairCandidates []*catalog.FileEntry
	for _, c := range candidates {
		if c.SyncPairID == syncPairID {
			pairCandidates = append(pairCandidates, c)
		}
	}

	tracker := newRecencyTracker(pairCandidates)

	var result Result
	progress := Progress{TargetBytes: toFreeBytes}

	for result.FreedBytes < toFreeBytes {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		candidate, ok := tracker.next()
		if !ok {
			break
		}

		if err := evictOne(ctx, cat, candidate, options); err != nil {
			logger.Warn(fmt.Errorf("skipping eviction candidate %s: %w", candidate.VirtualPath, err))
			continue
		}

		result.FreedBytes += candidate.Size
		result.EvictedFiles++
		progress.FreedBytes = result.FreedBytes
		progress.EvictedFiles = result.EvictedFiles
		if onProgress != nil {
			onProgress(progress)
		}
	}

	result.Complete = result.FreedBytes >= toFreeBytes
	if result.Complete {
		logger.Printf("eviction completed for %s: freed %d bytes across %d file(s)", syncPairID, result.FreedBytes, result.EvictedFiles)
	} else {
		logger.Printf("eviction partial for %s: freed %d/%d bytes across %d file(s)", syncPairID, result.FreedBytes, toFreeBytes, result.EvictedFiles)
	}
	return result, nil
}

// evictOne re-verifies candidate on the spot, deletes its LOCAL copy, and
// demotes the catalog entry to externalOnly (§4.13 steps 3-4).
func evictOne(ctx context.Context, cat catalog.Catalog, candidate *catalog.FileEntry, options Options) error {
	if candidate.IsDirty {
		return fmt.Errorf("candidate is dirty")
	}
	if options.IsOpenForWriting != nil && options.IsOpenForWriting(candidate.VirtualPath) {
		return fmt.Errorf("candidate is open for writing")
	}
	if _, err := os.Stat(candidate.ExternalPath); err != nil {
		return fmt.Errorf("external copy not accessible: %w", err)
	}

	if options.VerifyBeforeDelete {
		algorithm := options.ChecksumAlgorithm
		if algorithm == "" {
			algorithm = hashfile.MD5
		}
		localSum, err := hashfile.File(ctx, candidate.LocalPath, algorithm, options.BufferSize)
		if err != nil {
			return fmt.Errorf("unable to hash local copy: %w", err)
		}
		externalSum, err := hashfile.File(ctx, candidate.ExternalPath, algorithm, options.BufferSize)
		if err != nil {
			return fmt.Errorf("unable to hash external copy: %w", err)
		}
		if localSum != externalSum {
			return fmt.Errorf("local and external copies diverged")
		}
	}

	if err := os.Remove(candidate.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove local copy: %w", err)
	}

	demoted := candidate.Clone()
	demoted.Location = catalog.LocationExternalOnly
	demoted.LocalPath = ""
	demoted.IsDirty = false
	if err := cat.Put(ctx, demoted); err != nil {
		return fmt.Errorf("unable to update catalog after eviction: %w", err)
	}
	return nil
}
