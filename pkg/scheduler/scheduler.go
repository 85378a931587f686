// Package scheduler implements the Scheduler (§4.14, C14): the three timers
// that decide *when* to sync, never *how* — every actual sync runs through
// the Sync Engine (C10). The debounce-coalesces-bursts-into-one-run pattern
// is grounded in the teacher's own watch-driven rescan debounce
// (pkg/synchronization/core, which coalesces a burst of filesystem events
// into a single rescan rather than one per event); this generalizes that to
// the spec's three explicit timer kinds (global tick, per-pair debounce,
// disk-event driven).
package scheduler

import (
	"context"
	"sync"
	"time"
)

// RunFunc is how the Scheduler asks a sync pair to run; it never contains
// business logic itself, only a handle the Scheduler calls (§4.14 "never
// drive business logic themselves").
type RunFunc func(ctx context.Context, syncPairID string)

// PairConfig names one scheduled sync pair and its timing.
type PairConfig struct {
	SyncPairID       string
	DebounceInterval time.Duration // §6.4 sync.debounceInterval, default 5s
	AutoInterval     time.Duration // §6.4 sync.autoInterval, default 3600s
}

type pairState struct {
	config       PairConfig
	lastRun      time.Time
	debounceTime time.Time // zero if no pending debounce
	dirty        bool
	paused       bool
}

// Scheduler owns the 10s global tick, per-pair debounce timers, and the
// disk-connect/disconnect hooks.
type Scheduler struct {
	mu    sync.Mutex
	pairs map[string]*pairState
	run   RunFunc
	now   func() time.Time

	tickInterval time.Duration
	stop         chan struct{}
	stopped      chan struct{}
}

// New creates a Scheduler that calls run to actually perform a sync.
// tickInterval is the §4.14 global tick period (default 10s).
func New(run RunFunc, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Scheduler{
		pairs:        make(map[string]*pairState),
		run:          run,
		now:          time.Now,
		tickInterval: tickInterval,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// AddPair registers a sync pair for scheduling.
func (s *Scheduler) AddPair(config PairConfig) {
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 5 * time.Second
	}
	if config.AutoInterval <= 0 {
		config.AutoInterval = time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[config.SyncPairID] = &pairState{config: config}
}

// RemovePair unregisters a sync pair.
func (s *Scheduler) RemovePair(syncPairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, syncPairID)
}

// OnFileWritten implements the §4.12 FS-event callback's scheduling half:
// it marks the pair dirty and (re)arms its debounce timer, coalescing a
// burst of writes into one eventual sync.
func (s *Scheduler) OnFileWritten(syncPairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[syncPairID]
	if !ok {
		return
	}
	p.dirty = true
	p.debounceTime = s.now().Add(p.config.DebounceInterval)
}

// OnDiskConnected implements §4.14's disk-event timer: resumes the pair and,
// if it has pending dirty writes, schedules an immediate sync.
func (s *Scheduler) OnDiskConnected(syncPairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[syncPairID]
	if !ok {
		return
	}
	p.paused = false
	if p.dirty {
		p.debounceTime = s.now()
	}
}

// OnDiskDisconnected implements §4.14's disk-event timer: pauses the pair so
// the global tick and debounce timer stop firing syncs for it.
func (s *Scheduler) OnDiskDisconnected(syncPairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pairs[syncPairID]; ok {
		p.paused = true
	}
}

// Tick evaluates every registered pair once: fires a debounced sync if its
// timer has elapsed, or an auto-sync if its autoInterval has elapsed since
// the last run. Exported directly (in addition to Run's internal loop) so
// tests can drive scheduling deterministically without sleeping.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	var toRun []string
	s.mu.Lock()
	for id, p := range s.pairs {
		if p.paused {
			continue
		}
		debounceDue := p.dirty && !p.debounceTime.IsZero() && !now.Before(p.debounceTime)
		autoDue := !p.dirty && (p.lastRun.IsZero() || now.Sub(p.lastRun) >= p.config.AutoInterval)
		if debounceDue || autoDue {
			toRun = append(toRun, id)
			p.dirty = false
			p.debounceTime = time.Time{}
			p.lastRun = now
		}
	}
	s.mu.Unlock()

	for _, id := range toRun {
		if s.run != nil {
			s.run(ctx, id)
		}
	}
}

// Run starts the scheduler's global tick loop; it blocks until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}
