// Package locktable implements the per-virtual-path advisory lock table
// (§4.2, C2) that keeps user I/O through the mount and background sync from
// interfering with each other. A single owner goroutine is not needed here
// because the whole table is protected by one mutex and every operation is
// O(1) plus a map lookup — unlike the Catalog or Sync Engine there's no
// benefit to actor-style message passing for something this small and
// latency-critical (it sits on the read/write hot path through the mount).
package locktable

import (
	"sync"
	"time"
)

// Mode identifies what a lock holder intends to do with a path.
type Mode uint8

const (
	ModeReadLocal Mode = iota
	ModeReadExternal
	ModeWriteLocal
	ModeWriteExternal
	ModeSyncLocalToExternal
	ModeSyncExternalToLocal
)

func (m Mode) isSync() bool {
	return m == ModeSyncLocalToExternal || m == ModeSyncExternalToLocal
}

func (m Mode) isWrite() bool {
	return m == ModeWriteLocal || m == ModeWriteExternal
}

func (m Mode) side() side {
	switch m {
	case ModeReadLocal, ModeWriteLocal, ModeSyncLocalToExternal:
		return sideLocal
	default:
		return sideExternal
	}
}

type side uint8

const (
	sideLocal side = iota
	sideExternal
)

// holderLock records one granted lock.
type holderLock struct {
	holder    string
	mode      Mode
	grantedAt time.Time
}

// Table is the lock table itself. The zero value is not usable; use New.
type Table struct {
	mu       sync.Mutex
	byPath   map[string][]holderLock
	watchdog time.Duration
	now      func() time.Time
}

// New creates an empty lock table. watchdogTTL is the age (§6.4
// lock.watchdogTTL, default 5 minutes) past which a stuck lock is eligible
// for the watchdog to force-release.
func New(watchdogTTL time.Duration) *Table {
	return &Table{
		byPath:   make(map[string][]holderLock),
		watchdog: watchdogTTL,
		now:      time.Now,
	}
}

// compatible reports whether a new lock in mode can coexist with an existing
// held lock, per §4.2: sync locks are exclusive of writes on the same side
// but compatible with reads; two syncs in different directions for the same
// path are rejected; two syncs in the same direction are idempotent-safe
// (rare, but not harmful) and allowed.
func compatible(existing holderLock, mode Mode) bool {
	if existing.mode.isSync() && mode.isSync() {
		return existing.mode == mode
	}
	if existing.mode.isSync() && mode.isWrite() && existing.mode.side() == mode.side() {
		return false
	}
	if mode.isSync() && existing.mode.isWrite() && existing.mode.side() == mode.side() {
		return false
	}
	if existing.mode.isWrite() && mode.isWrite() && existing.mode.side() == mode.side() {
		return false
	}
	return true
}

// Acquire attempts to grant holder a lock on path in mode. It never blocks:
// it returns false immediately if the lock is not currently grantable, per
// the non-blocking contract in §4.2. Callers (the Sync Engine's lock phase,
// §4.10 step 8) treat a false return as "defer to next cycle", not failure.
func (t *Table) Acquire(path, holder string, mode Mode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.byPath[path] {
		if !compatible(existing, mode) {
			return false
		}
	}

	t.byPath[path] = append(t.byPath[path], holderLock{
		holder:    holder,
		mode:      mode,
		grantedAt: t.now(),
	})
	return true
}

// Release drops holder's lock on path, if any. It is idempotent: releasing a
// lock that isn't held (already released, or never granted) is a no-op.
func (t *Table) Release(path, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	locks := t.byPath[path]
	filtered := locks[:0]
	for _, l := range locks {
		if l.holder != holder {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		delete(t.byPath, path)
	} else {
		t.byPath[path] = filtered
	}
}

// Guard is a scoped lock acquisition, per the design note in spec §9: wrap
// sync-lock acquisition so it releases on every exit path rather than relying
// on an explicit call at the end of a function.
type Guard struct {
	table  *Table
	path   string
	holder string
	held   bool
}

// AcquireGuard attempts to acquire path for holder in mode and returns a
// Guard. Guard.Release is safe to call (including via defer) whether or not
// acquisition succeeded; check Guard.Held before proceeding.
func (t *Table) AcquireGuard(path, holder string, mode Mode) *Guard {
	held := t.Acquire(path, holder, mode)
	return &Guard{table: t, path: path, holder: holder, held: held}
}

// Held reports whether the guarded lock was actually granted.
func (g *Guard) Held() bool {
	return g.held
}

// Release releases the guarded lock if held. Idempotent.
func (g *Guard) Release() {
	if g.held {
		g.table.Release(g.path, g.holder)
		g.held = false
	}
}

// StuckHolder describes a lock that has outlived the watchdog TTL.
type StuckHolder struct {
	Path      string
	Holder    string
	Mode      Mode
	HeldFor   time.Duration
}

// SweepStuckLocks force-releases any lock older than the configured TTL and
// returns what it released, for the watchdog to log (§4.2, §6.4
// lock.watchdogTTL).
func (t *Table) SweepStuckLocks() []StuckHolder {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var released []StuckHolder
	for path, locks := range t.byPath {
		var kept []holderLock
		for _, l := range locks {
			age := now.Sub(l.grantedAt)
			if age >= t.watchdog {
				released = append(released, StuckHolder{Path: path, Holder: l.holder, Mode: l.mode, HeldFor: age})
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(t.byPath, path)
		} else {
			t.byPath[path] = kept
		}
	}
	return released
}

// HeldCount returns the total number of locks currently held, for tests and
// diagnostics.
func (t *Table) HeldCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, locks := range t.byPath {
		n += len(locks)
	}
	return n
}
