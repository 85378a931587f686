// Package syncplan defines the SyncPlan/SyncAction/ConflictInfo types shared
// by the Diff Engine (C6), Conflict Resolver (C8) and Sync Engine (C10). The
// sequence-of-tagged-actions shape mirrors the teacher's own diff output
// (pkg/synchronization/core/diff.go produces a []*Change consumed by
// reconcile.go), generalized here from tree-entry changes to file-level
// copy/update/delete/conflict actions against two plain directories.
package syncplan

import "github.com/duallayer/hybridfs/pkg/scan"

// ActionKind identifies the kind of SyncAction.
type ActionKind uint8

const (
	ActionCopy ActionKind = iota
	ActionUpdate
	ActionDelete
	ActionCreateDirectory
	ActionResolveConflict
	ActionSkip
)

func (k ActionKind) String() string {
	switch k {
	case ActionCopy:
		return "copy"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionCreateDirectory:
		return "createDirectory"
	case ActionResolveConflict:
		return "resolveConflict"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Action is one step of a SyncPlan.
type Action struct {
	Kind ActionKind

	// RelativePath is the path, relative to both snapshot roots, that this
	// action concerns.
	RelativePath string

	// SourceAbsolutePath/DestinationAbsolutePath are filled in by
	// CreateSyncPlan once source/destination roots are known; the raw diff
	// output only carries RelativePath and metadata.
	SourceAbsolutePath      string
	DestinationAbsolutePath string

	SourceMeta      *scan.FileMetadata
	DestinationMeta *scan.FileMetadata

	// Conflict is set only for ActionResolveConflict.
	Conflict *ConflictInfo
}

// ConflictKind identifies why a path is in conflict.
type ConflictKind uint8

const (
	ConflictBothModified ConflictKind = iota
	ConflictTypeChanged
	ConflictDeletedOnLocal
	ConflictDeletedOnExternal
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictBothModified:
		return "bothModified"
	case ConflictTypeChanged:
		return "typeChanged"
	case ConflictDeletedOnLocal:
		return "deletedOnLocal"
	case ConflictDeletedOnExternal:
		return "deletedOnExternal"
	default:
		return "unknown"
	}
}

// Resolution identifies how a conflict was (or should be) resolved.
type Resolution uint8

const (
	ResolutionNone Resolution = iota
	ResolutionKeepLocal
	ResolutionKeepExternal
	ResolutionKeepLocalWithBackup
	ResolutionKeepExternalWithBackup
	ResolutionKeepBoth
	ResolutionSkip
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeepLocal:
		return "keepLocal"
	case ResolutionKeepExternal:
		return "keepExternal"
	case ResolutionKeepLocalWithBackup:
		return "keepLocalWithBackup"
	case ResolutionKeepExternalWithBackup:
		return "keepExternalWithBackup"
	case ResolutionKeepBoth:
		return "keepBoth"
	case ResolutionSkip:
		return "skip"
	default:
		return "none"
	}
}

// ConflictInfo describes one conflicting path.
type ConflictInfo struct {
	RelativePath string
	LocalMeta    *scan.FileMetadata
	ExternalMeta *scan.FileMetadata
	Kind         ConflictKind
	Resolution   Resolution
}

// Plan is the ordered sequence of actions produced by the Diff Engine and
// decorated by CreateSyncPlan.
type Plan struct {
	Actions   []Action
	Conflicts []ConflictInfo
}

// Totals reports the derived file/byte counts of the copy/update
// actions in the plan (directories and deletes don't count toward transfer
// totals).
type Totals struct {
	Files int
	Bytes int64
}

// Totals computes (uncached, but cheap) the transfer totals for progress
// reporting (§4.17 syncProgress.totalFiles/totalBytes).
func (p *Plan) Totals() Totals {
	var t Totals
	for _, a := range p.Actions {
		if a.Kind == ActionCopy || a.Kind == ActionUpdate {
			t.Files++
			if a.SourceMeta != nil {
				t.Bytes += a.SourceMeta.Size
			}
		}
	}
	return t
}
