// Package scan implements the directory-tree scanner (§4.4, C4): it produces
// a DirectorySnapshot of a filesystem subtree, cancellable, with an
// incremental fast path that reuses previous entries when mtime and size
// both look unchanged. The walk structure and per-entry error collection
// mirror the teacher's own scanner (pkg/synchronization/core/scan.go),
// generalized from its entry-tree model to this spec's flat relativePath map.
package scan

import (
	"time"
)

// FileMetadata describes one filesystem entry discovered during a scan.
type FileMetadata struct {
	RelativePath string
	Size         int64
	ModifiedTime time.Time
	CreatedTime  time.Time
	Permissions  uint32
	IsDirectory  bool
	IsSymlink    bool
	Checksum     string // populated only when the caller requests hashing
}

// SkipReason explains why an entry did not make it into a DirectorySnapshot.
type SkipReason string

const (
	SkipReasonTooLarge          SkipReason = "tooLarge"
	SkipReasonExcluded          SkipReason = "excluded"
	SkipReasonPermissionDenied  SkipReason = "permissionDenied"
	SkipReasonIOError           SkipReason = "ioError"
)

// SkippedEntry records one dropped entry and why.
type SkippedEntry struct {
	RelativePath string
	Reason       SkipReason
	Detail       string
}

// DirectorySnapshot is the output of a scan: a root path and the metadata of
// every included file/directory beneath it, keyed by path relative to root.
type DirectorySnapshot struct {
	RootPath string
	Files    map[string]FileMetadata
	Skipped  []SkippedEntry
}

// OrderedPaths returns the snapshot's paths in ascending sort order. Ordering
// is required only for deterministic tests (§3): production callers should
// range over Files directly.
func (s *DirectorySnapshot) OrderedPaths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sortStrings(paths)
	return paths
}

func sortStrings(s []string) {
	// Simple insertion sort is fine here: snapshots used in tests are small,
	// and production code never calls OrderedPaths on the hot path.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
