// Package diskmon watches external roots for disappearance/reappearance,
// feeding the §4.14 disk-event timer. Reachability is judged the same way
// the teacher's pkg/filesystem/device.go judges whether two paths share a
// filesystem: by comparing the root's device ID across polls rather than
// trusting a bare stat success, since a dead network/USB mount can leave a
// stale directory entry that still stats successfully but belongs to a
// different (or no longer backing) device than when it was last seen
// online.
package diskmon

import (
	"context"
	"time"
)

// Hooks is what diskmon calls when a monitored root's availability changes.
type Hooks struct {
	OnConnected    func(syncPairID string)
	OnDisconnected func(syncPairID string)
}

// Target is one external root to monitor.
type Target struct {
	SyncPairID  string
	ExternalDir string
}

// Monitor polls a set of Targets on an interval and reports connectivity
// transitions through Hooks. Each poll stats every target synchronously on
// the Run goroutine, so a stat that hangs on a wedged mount holds up the
// monitor until it returns.
type Monitor struct {
	targets  []Target
	hooks    Hooks
	interval time.Duration

	online map[string]bool
	device map[string]uint64
}

// New creates a Monitor for the given targets and interval.
func New(targets []Target, hooks Hooks, interval time.Duration) *Monitor {
	return &Monitor{
		targets:  targets,
		hooks:    hooks,
		interval: interval,
		online:   make(map[string]bool, len(targets)),
		device:   make(map[string]uint64, len(targets)),
	}
}

// Run polls until ctx is cancelled. It performs one poll immediately so
// startup state is known before the first tick elapses.
func (m *Monitor) Run(ctx context.Context) {
	m.pollAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll()
		}
	}
}

func (m *Monitor) pollAll() {
	for _, target := range m.targets {
		m.poll(target)
	}
}

func (m *Monitor) poll(target Target) {
	device, err := deviceID(target.ExternalDir)

	wasOnline, known := m.online[target.SyncPairID]
	prevDevice := m.device[target.SyncPairID]

	nowOnline := err == nil
	// A device ID change while still statable (e.g. a different disk
	// remounted at the same path) counts as a disconnect-then-reconnect.
	deviceChanged := known && wasOnline && nowOnline && device != prevDevice

	m.online[target.SyncPairID] = nowOnline
	m.device[target.SyncPairID] = device

	if !known {
		return
	}

	if (wasOnline && !nowOnline) || deviceChanged {
		if m.hooks.OnDisconnected != nil {
			m.hooks.OnDisconnected(target.SyncPairID)
		}
	}
	if (!wasOnline && nowOnline) || deviceChanged {
		if m.hooks.OnConnected != nil {
			m.hooks.OnConnected(target.SyncPairID)
		}
	}
}
