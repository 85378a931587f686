// Package syncengine implements the Sync Engine (§4.10, C10): the
// orchestrator that drives one sync pair through scan, diff, conflict
// resolution, locking, copy and delete, and finalization, with resume
// support from a persisted SyncState. The phase sequence and the
// pause/cancel-via-atomic-flag pattern are grounded in the teacher's
// session controller (pkg/synchronization/controller.go), which runs a
// single owning goroutine per session through an analogous
// connect/scan/transition/save loop; this generalizes that loop from a
// 3-way (alpha/beta/ancestor) session to the two-sided LOCAL/EXTERNAL
// model and adds the explicit resumable on-disk checkpoint the teacher
// keeps internal to its session file.
package syncengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/duallayer/hybridfs/pkg/conflict"
	"github.com/duallayer/hybridfs/pkg/copier"
	"github.com/duallayer/hybridfs/pkg/diff"
	"github.com/duallayer/hybridfs/pkg/enginerr"
	"github.com/duallayer/hybridfs/pkg/hashfile"
	"github.com/duallayer/hybridfs/pkg/locktable"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/pathfilter"
	"github.com/duallayer/hybridfs/pkg/scan"
	"github.com/duallayer/hybridfs/pkg/syncplan"
	"github.com/duallayer/hybridfs/pkg/syncstate"
)

// Pair names the two roots a single Engine synchronizes.
type Pair struct {
	ID           string
	LocalRoot    string
	ExternalRoot string
}

// Options configures one Engine, corresponding to the §6.4 sync.* keys.
type Options struct {
	Bidirectional     bool
	EnableDelete      bool
	ConflictStrategy  conflict.Strategy
	AskUser           conflict.AskUserFunc
	ScanOptions       scan.Options
	DiffOptions       diff.Options
	CopyOptions       copier.Options
	CheckpointEvery   int
	StateExpiry       time.Duration
	// ChecksumAlgorithm, HashParallelism and HashBufferSize configure the
	// §4.10 step-3 checksum phase: hashing both snapshots before the diff
	// so DiffOptions.CompareChecksums and DiffOptions.DetectMoves (which
	// both require a populated scan.FileMetadata.Checksum) have something
	// to compare. Only consulted when one of those two flags is set.
	ChecksumAlgorithm hashfile.Algorithm
	HashParallelism   int
	HashBufferSize    int
}

// ErrPaused is returned by Run when a pause was requested mid-run; the
// caller can Resume later from the checkpointed SyncState.
var ErrPaused = enginerr.New(enginerr.KindCancelled, "sync paused")

// Engine drives one Pair through the full sync pipeline. It is not safe for
// concurrent Run calls on the same Pair; the Scheduler (C14) is responsible
// for not overlapping runs.
type Engine struct {
	pair    Pair
	options Options
	logger  *logging.Logger
	locks   *locktable.Table
	states  *syncstate.Store

	paused    atomic.Bool
	cancelled atomic.Bool
}

// New creates an Engine for pair, sharing locks (the process-wide Lock
// Table) and persisting resumable state under states.
func New(pair Pair, options Options, logger *logging.Logger, locks *locktable.Table, states *syncstate.Store) *Engine {
	return &Engine{pair: pair, options: options, logger: logger, locks: locks, states: states}
}

// Pause requests that the current or next Run stop after its current action
// and checkpoint, per §4.10's pause semantics.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume clears a pause request.
func (e *Engine) Resume() { e.paused.Store(false) }

// Cancel requests that the current Run abort as soon as possible, marking
// the checkpoint cancelled (not resumable).
func (e *Engine) Cancel() { e.cancelled.Store(true) }

func (e *Engine) pauseFlag() bool { return e.paused.Load() }

// Progress is reported via the onProgress callback passed to Run, throttled
// by progressThrottle per §9's design note (min 100ms or 5% completion-
// fraction delta between reports, with the final action always reported).
type Progress = copier.Progress

// Run executes the full pipeline for the pair: resume check, scan, hash,
// diff, resolve conflicts, lock, copy, unlock, delete, verify, finalize. If a
// resumable SyncState exists it picks up from the first pending action
// instead of re-diffing from scratch.
func (e *Engine) Run(ctx context.Context, onProgress func(Progress)) error {
	state, err := e.states.Load(e.pair.ID)
	if err != nil {
		return fmt.Errorf("unable to load prior sync state: %w", err)
	}

	if state == nil || !state.IsResumable() {
		state, err = e.buildFreshState(ctx)
		if err != nil {
			return err
		}
	} else {
		e.logger.Printf("resuming sync %s with %d pending action(s)", e.pair.ID, len(state.PendingIndices))
	}

	return e.runPlan(ctx, state, onProgress)
}

// buildFreshState performs the scan/diff/conflict-resolve phases (§4.10
// steps 2-6) and returns a newly initialized, fully-pending SyncState.
func (e *Engine) buildFreshState(ctx context.Context) (*syncstate.State, error) {
	localSnapshot, err := scan.Scan(ctx, e.pair.LocalRoot, e.options.ScanOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to scan local root: %w", err)
	}
	externalSnapshot, err := scan.Scan(ctx, e.pair.ExternalRoot, e.options.ScanOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to scan external root: %w", err)
	}

	if e.options.DiffOptions.CompareChecksums || e.options.DiffOptions.DetectMoves {
		if err := e.hashSnapshot(ctx, localSnapshot); err != nil {
			return nil, fmt.Errorf("unable to checksum local root: %w", err)
		}
		if err := e.hashSnapshot(ctx, externalSnapshot); err != nil {
			return nil, fmt.Errorf("unable to checksum external root: %w", err)
		}
	}

	diffOptions := e.options.DiffOptions
	diffOptions.Bidirectional = e.options.Bidirectional
	diffOptions.EnableDelete = e.options.EnableDelete

	plan := diff.CreateSyncPlan(e.pair.LocalRoot, e.pair.ExternalRoot, localSnapshot, externalSnapshot, diffOptions)

	conflict.SortConflicts(plan.Conflicts)
	for i := range plan.Conflicts {
		plan.Conflicts[i].Resolution = conflict.Resolve(plan.Conflicts[i], e.options.ConflictStrategy, e.options.AskUser)
	}

	return syncstate.NewState(e.pair.ID, plan), nil
}

// hashSnapshot implements the §4.10 step-3 "Checksum (optional)" phase: it
// hashes every non-directory, non-symlink file in snapshot via the Hasher
// (C5, pkg/hashfile) with bounded parallelism and writes the digest back
// into the corresponding scan.FileMetadata.Checksum, in place, so the Diff
// Engine's checksum-equality and move-detection paths (both of which
// require a non-empty Checksum on both sides) have something to compare.
func (e *Engine) hashSnapshot(ctx context.Context, snapshot *scan.DirectorySnapshot) error {
	algorithm := e.options.ChecksumAlgorithm
	if algorithm == "" {
		algorithm = hashfile.MD5
	}

	var relativePaths []string
	var absolutePaths []string
	for relPath, meta := range snapshot.Files {
		if meta.IsDirectory || meta.IsSymlink {
			continue
		}
		relativePaths = append(relativePaths, relPath)
		absolutePaths = append(absolutePaths, filepath.Join(snapshot.RootPath, relPath))
	}

	results := hashfile.FilesParallel(ctx, absolutePaths, algorithm, e.options.HashParallelism, e.options.HashBufferSize)
	for i, result := range results {
		if result.Err != nil {
			e.logger.Warn(fmt.Errorf("unable to hash %s: %w", result.Path, result.Err))
			continue
		}
		meta := snapshot.Files[relativePaths[i]]
		meta.Checksum = result.Checksum
		snapshot.Files[relativePaths[i]] = meta
	}
	return ctx.Err()
}

// progressThrottle implements the §9 "progress throttling" design note: a
// per-engine last-reported timestamp plus last-reported fraction, emitting
// iff at least minInterval has elapsed since the last report or the
// completion fraction has moved by at least minDelta.
type progressThrottle struct {
	minInterval time.Duration
	minDelta    float64

	lastReportAt time.Time
	lastFraction float64
	reported     bool
}

func newProgressThrottle() *progressThrottle {
	return &progressThrottle{minInterval: 100 * time.Millisecond, minDelta: 0.05}
}

// allow reports whether progress for the given fraction (0..1) should be
// emitted now, updating its internal bookkeeping if so. The first call, and
// a call with force=true (used for the final action of a run), always
// reports.
func (t *progressThrottle) allow(now time.Time, fraction float64, force bool) bool {
	if force || !t.reported || now.Sub(t.lastReportAt) >= t.minInterval || fraction-t.lastFraction >= t.minDelta {
		t.lastReportAt = now
		t.lastFraction = fraction
		t.reported = true
		return true
	}
	return false
}

// runPlan executes plan.Actions from the first pending index onward,
// checkpointing per e.options.CheckpointEvery completed actions, honoring
// pause/cancel, and finalizing (clearing the checkpoint) on full success.
func (e *Engine) runPlan(ctx context.Context, state *syncstate.State, onProgress func(Progress)) error {
	state.Phase = syncstate.PhaseCopying

	plan := state.Plan
	totals := plan.Totals()
	progress := Progress{TotalFiles: totals.Files, TotalBytes: totals.Bytes}
	throttle := newProgressThrottle()

	for index, action := range plan.Actions {
		if e.cancelled.Load() {
			state.Phase = syncstate.PhaseCancelled
			e.states.Save(state)
			return enginerr.New(enginerr.KindCancelled, "sync cancelled")
		}
		if !state.PendingIndices[index] {
			continue // already completed in a prior run
		}

		for e.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		if err := e.runAction(ctx, action); err != nil {
			e.logger.Warn(fmt.Errorf("action %s (%s) failed: %w", action.RelativePath, action.Kind, err))
			state.MarkFailed(index)
		} else {
			var size int64
			if action.SourceMeta != nil {
				size = action.SourceMeta.Size
			}
			state.MarkCompleted(index, size)
			progress.ProcessedFiles++
			progress.ProcessedBytes += size
		}

		progress.CurrentFile = action.RelativePath
		if onProgress != nil {
			var fraction float64
			if progress.TotalFiles > 0 {
				fraction = float64(progress.ProcessedFiles) / float64(progress.TotalFiles)
			}
			isLast := index == len(plan.Actions)-1
			if throttle.allow(time.Now(), fraction, isLast) {
				onProgress(progress)
			}
		}

		if e.states != nil && e.shouldCheckpoint(len(state.CompletedIndices)) {
			if err := e.states.Save(state); err != nil {
				e.logger.Warn(fmt.Errorf("unable to checkpoint sync state: %w", err))
			}
		}
	}

	state.Phase = syncstate.PhaseCompleted
	if e.states != nil {
		if err := e.states.Clear(e.pair.ID); err != nil {
			e.logger.Warn(fmt.Errorf("unable to clear completed sync state: %w", err))
		}
	}
	return nil
}

func (e *Engine) shouldCheckpoint(completed int) bool {
	every := e.options.CheckpointEvery
	if every <= 0 {
		every = 50
	}
	return completed%every == 0
}

// runAction executes a single action, acquiring the path's lock for its
// duration (§4.10 step 8: lock, copy/delete, unlock).
func (e *Engine) runAction(ctx context.Context, action syncplan.Action) error {
	switch action.Kind {
	case syncplan.ActionCreateDirectory:
		return nil // directories are created as a side effect of CopyFile's MkdirAll
	case syncplan.ActionSkip:
		return nil
	case syncplan.ActionCopy, syncplan.ActionUpdate:
		return e.runCopy(ctx, action)
	case syncplan.ActionDelete:
		return e.runDelete(ctx, action)
	case syncplan.ActionResolveConflict:
		return e.runConflict(ctx, action)
	default:
		return fmt.Errorf("unknown action kind %v", action.Kind)
	}
}

func (e *Engine) runCopy(ctx context.Context, action syncplan.Action) error {
	mode := lockModeFor(action.DestinationAbsolutePath, e.pair)
	guard := e.locks.AcquireGuard(action.RelativePath, e.pair.ID, mode)
	defer guard.Release()
	if !guard.Held() {
		return enginerr.New(enginerr.KindConflictingPaths, "path locked, deferring to next cycle")
	}

	options := e.options.CopyOptions
	options.OverwriteExisting = action.Kind == syncplan.ActionUpdate
	options.PauseFlag = e.pauseFlag
	return copier.CopyFile(ctx, action.SourceAbsolutePath, action.DestinationAbsolutePath, options)
}

func (e *Engine) runDelete(ctx context.Context, action syncplan.Action) error {
	mode := lockModeFor(action.DestinationAbsolutePath, e.pair)
	guard := e.locks.AcquireGuard(action.RelativePath, e.pair.ID, mode)
	defer guard.Release()
	if !guard.Held() {
		return enginerr.New(enginerr.KindConflictingPaths, "path locked, deferring to next cycle")
	}
	return removePath(action.DestinationAbsolutePath)
}

func (e *Engine) runConflict(ctx context.Context, action syncplan.Action) error {
	if action.Conflict == nil {
		return fmt.Errorf("resolveConflict action missing conflict detail")
	}
	localPath := joinRoot(e.pair.LocalRoot, action.RelativePath)
	externalPath := joinRoot(e.pair.ExternalRoot, action.RelativePath)

	guard := e.locks.AcquireGuard(action.RelativePath, e.pair.ID, locktable.ModeSyncLocalToExternal)
	defer guard.Release()
	if !guard.Held() {
		return enginerr.New(enginerr.KindConflictingPaths, "path locked, deferring conflict resolution")
	}

	options := e.options.CopyOptions
	options.PauseFlag = e.pauseFlag
	return conflict.Execute(ctx, localPath, externalPath, *action.Conflict, action.Conflict.Resolution, options)
}

func lockModeFor(destinationPath string, pair Pair) locktable.Mode {
	if strings.HasPrefix(destinationPath, pair.ExternalRoot) {
		return locktable.ModeWriteExternal
	}
	return locktable.ModeWriteLocal
}

func joinRoot(root, relativePath string) string {
	return filepath.Join(root, filepath.FromSlash(relativePath))
}

func removePath(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove %s: %w", path, err)
	}
	return nil
}

// Filter returns a *pathfilter.Filter compiled from patterns, suitable for
// e.options.ScanOptions.Filter, from raw glob patterns (§6.4
// sync.ignorePatterns). It's a thin convenience so callers building an
// Options don't need to import pathfilter directly just to wire one field.
func Filter(patterns []string) (*pathfilter.Filter, error) {
	return pathfilter.Compile(patterns)
}
