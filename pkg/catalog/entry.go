// Package catalog implements the durable (syncPairId, virtualPath) →
// FileEntry mapping (§4.1, C1) backed by SQLite. The entry validation style
// mirrors the synchronization core's Entry.EnsureValid in the teacher
// repository: a value type with an explicit invariant-checking method rather
// than a constructor that can silently produce invalid state.
package catalog

import (
	"errors"
	"path"
	"strings"
	"time"
)

// Location describes where a FileEntry's bytes physically live.
type Location uint8

const (
	// LocationLocalOnly indicates the file exists only on the LOCAL store.
	LocationLocalOnly Location = iota
	// LocationExternalOnly indicates the file exists only on the EXTERNAL
	// store; the LOCAL copy has been evicted or never existed.
	LocationExternalOnly
	// LocationBoth indicates the file is present, synchronized, on both
	// stores.
	LocationBoth
)

// String returns a human-readable name for the location.
func (l Location) String() string {
	switch l {
	case LocationLocalOnly:
		return "localOnly"
	case LocationExternalOnly:
		return "externalOnly"
	case LocationBoth:
		return "both"
	default:
		return "unknown"
	}
}

// LockState mirrors the coarse lock state cached on the entry for quick
// inspection; the authoritative state lives in the Lock Table (C2, pkg/locktable).
type LockState uint8

const (
	LockStateNone LockState = iota
	LockStateReadLocked
	LockStateWriteLocked
	LockStateSyncLocked
)

// String returns a human-readable name for the lock state.
func (s LockState) String() string {
	switch s {
	case LockStateNone:
		return "none"
	case LockStateReadLocked:
		return "readLocked"
	case LockStateWriteLocked:
		return "writeLocked"
	case LockStateSyncLocked:
		return "syncLocked"
	default:
		return "unknown"
	}
}

// FileEntry is the catalog's unit of record. Identity is the pair
// (SyncPairID, VirtualPath); every other field is mutable and is written back
// through Catalog.Put/PutBatch rather than mutated in place, per the design
// note in spec §9 ("keep FileEntry as a value and mutate through putBatch").
type FileEntry struct {
	// EntryID is a stable identifier assigned at creation, used to key
	// transient per-process state (accessedAt refresh, lock audit) that
	// would otherwise cause write amplification if persisted on every touch.
	EntryID string

	SyncPairID  string
	VirtualPath string

	LocalPath    string // empty if Location == LocationExternalOnly
	ExternalPath string // empty if Location == LocationLocalOnly

	Size       int64
	ModifiedAt time.Time
	CreatedAt  time.Time
	AccessedAt time.Time

	IsDirectory bool
	Checksum    string // empty for directories

	Location  Location
	IsDirty   bool
	LockState LockState

	PendingDeletion bool

	// EntryVersion is monotonically incremented on every Put so that stale
	// writers (e.g. a debounced sync scheduled against an older snapshot)
	// can detect that the entry moved under them.
	EntryVersion uint64
}

// NormalizeVirtualPath canonicalizes a virtual path: it must start with "/",
// contain no "." or ".." components, and carry no trailing slash (except for
// the root itself), per §3.
func NormalizeVirtualPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty virtual path")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	depth := 0
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", errors.New("virtual path escapes root")
			}
		default:
			depth++
		}
	}
	cleaned := path.Clean(p)
	if cleaned != "/" {
		cleaned = strings.TrimSuffix(cleaned, "/")
	}
	return cleaned, nil
}

// EnsureValid checks the invariants from spec §3. A nil-safe zero-value
// FileEntry is never valid — callers must always construct through a
// builder that sets VirtualPath/SyncPairID.
func (e *FileEntry) EnsureValid() error {
	if e.SyncPairID == "" {
		return errors.New("file entry missing sync pair id")
	}
	if e.VirtualPath == "" || !strings.HasPrefix(e.VirtualPath, "/") {
		return errors.New("file entry virtual path must start with '/'")
	}
	if e.VirtualPath != "/" && strings.HasSuffix(e.VirtualPath, "/") {
		return errors.New("file entry virtual path must not have a trailing slash")
	}

	switch e.Location {
	case LocationLocalOnly:
		if e.LocalPath == "" || e.ExternalPath != "" {
			return errors.New("localOnly entry must set localPath and not externalPath")
		}
	case LocationExternalOnly:
		if e.ExternalPath == "" || e.LocalPath != "" {
			return errors.New("externalOnly entry must set externalPath and not localPath")
		}
	case LocationBoth:
		if e.LocalPath == "" || e.ExternalPath == "" {
			return errors.New("both-location entry must set localPath and externalPath")
		}
	default:
		return errors.New("unrecognized location")
	}

	if e.IsDirty && e.Location == LocationExternalOnly {
		return errors.New("dirty entry cannot be externalOnly: only the local side can be ahead")
	}

	if e.IsDirectory {
		if e.Checksum != "" {
			return errors.New("directory entry must not carry a checksum")
		}
		if e.IsDirty {
			return errors.New("directory entry must not be dirty")
		}
	}

	return nil
}

// Clone returns a deep copy of the entry. Catalog callers mutate copies and
// hand them back through Put/PutBatch rather than aliasing a cached value,
// matching the value-semantics design note in spec §9.
func (e *FileEntry) Clone() *FileEntry {
	clone := *e
	return &clone
}

// Key is the tuple used to address entries in Catalog.Get/Delete.
type Key struct {
	SyncPairID  string
	VirtualPath string
}
