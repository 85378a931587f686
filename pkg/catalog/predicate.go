package catalog

import (
	"path"
	"time"
)

// Predicate filters FileEntry rows for Catalog.Query. Predicates are plain
// functions rather than a query-builder DSL: the set in active use (§4.1) is
// small and fixed, and a function value accepts ad-hoc predicates for tests
// as easily as the common ones. sqliteStore.Query selects every row and
// applies the predicate in Go; nothing is pushed down into SQL.
type Predicate func(*FileEntry) bool

// NeedsSync matches entries that require a LOCAL→EXTERNAL sync pass:
// dirty files, or files that exist only on LOCAL. Directories are excluded
// since they're handled by the directory pre-pass (§4.10 step 7), not the
// copy phase.
func NeedsSync(e *FileEntry) bool {
	if e.IsDirectory {
		return false
	}
	return e.IsDirty || e.Location == LocationLocalOnly
}

// Evictable matches entries eligible for eviction (§4.13): present on both
// stores, clean, not accessed within minAge, and not a directory.
func Evictable(now time.Time, minAge time.Duration) Predicate {
	return func(e *FileEntry) bool {
		if e.IsDirectory || e.IsDirty || e.Location != LocationBoth {
			return false
		}
		return now.Sub(e.AccessedAt) >= minAge
	}
}

// Dirty matches entries with unsynced local changes.
func Dirty(e *FileEntry) bool {
	return e.IsDirty
}

// ByLocation matches entries at a specific Location.
func ByLocation(location Location) Predicate {
	return func(e *FileEntry) bool {
		return e.Location == location
	}
}

// ForPair matches entries belonging to syncPairID, used to scope a Query
// that would otherwise span every mounted pair.
func ForPair(syncPairID string) Predicate {
	return func(e *FileEntry) bool {
		return e.SyncPairID == syncPairID
	}
}

// ChildOf matches the immediate children of parentVirtualPath within
// syncPairID, used by the VFS Manager (C12) to serve directory listings
// straight from the catalog rather than re-walking either physical root.
func ChildOf(syncPairID, parentVirtualPath string) Predicate {
	return func(e *FileEntry) bool {
		if e.SyncPairID != syncPairID || e.VirtualPath == parentVirtualPath {
			return false
		}
		return path.Dir(e.VirtualPath) == parentVirtualPath
	}
}

// And combines predicates with logical conjunction.
func And(predicates ...Predicate) Predicate {
	return func(e *FileEntry) bool {
		for _, p := range predicates {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
