// Package activity implements the Activity Log (§4.16, C16): a bounded ring
// of the most recent user-visible events, persisted to disk after every
// append and loaded lazily on first read. The write-then-rename persistence
// and lazy-load-on-first-access pattern mirror pkg/syncstate in this same
// module, which in turn is grounded in the teacher's own session-state
// persistence; the ring-buffer bound itself is new, since the teacher's
// session log is unbounded (it keeps full history, not a fixed window).
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/duallayer/hybridfs/pkg/notify"
)

// DefaultCapacity is the §4.16 default of the last 5 records.
const DefaultCapacity = 5

// Kind labels what a Record describes, matching the shape of events fanned
// out through C17 (syncCompleted, evictionCompleted, conflictDetected, ...).
type Kind string

const (
	KindSyncCompleted     Kind = "syncCompleted"
	KindEvictionCompleted Kind = "evictionCompleted"
	KindEvictionPartial   Kind = "evictionPartial"
	KindIndexCompleted    Kind = "indexCompleted"
	KindConflictDetected  Kind = "conflictDetected"
	KindError             Kind = "error"
)

// Record is one entry in the log.
type Record struct {
	SyncPairID string    `json:"syncPairId"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Log is a capacity-bounded, disk-persisted ring of Records; each Record
// names its own syncPair, so one Log can serve several pairs. The zero value
// is not usable; use Open.
type Log struct {
	path     string
	capacity int
	bus      *notify.Bus

	loaded  bool
	records []Record // index 0 is most recent
}

// Open returns a Log backed by path, with the given capacity (§6.4 default
// 5). It does not read the file yet; the first Records()/Append() call loads
// it lazily, per §4.16.
func Open(path string, capacity int, bus *notify.Bus) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{path: path, capacity: capacity, bus: bus}
}

func (l *Log) ensureLoaded() error {
	if l.loaded {
		return nil
	}
	l.loaded = true

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.records = nil
		return nil
	} else if err != nil {
		return fmt.Errorf("unable to read activity log: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unable to parse activity log: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].OccurredAt.After(records[j].OccurredAt)
	})
	l.records = records
	return nil
}

// Append adds record to the front of the log, trims to capacity, persists
// (write-then-rename), and publishes activitiesUpdated through the Notifier.
func (l *Log) Append(record Record) error {
	if err := l.ensureLoaded(); err != nil {
		return err
	}

	l.records = append([]Record{record}, l.records...)
	if len(l.records) > l.capacity {
		l.records = l.records[:l.capacity]
	}

	if err := l.save(); err != nil {
		return err
	}

	if l.bus != nil {
		l.bus.Publish(notify.Event{Kind: notify.EventActivitiesUpdated, Payload: map[string]any{
			"records": l.records,
		}})
	}
	return nil
}

func (l *Log) save() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal activity log: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("unable to write activity log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("unable to commit activity log: %w", err)
	}
	return nil
}

// Records returns the log's records, most recent first, loading from disk if
// this is the first access.
func (l *Log) Records() ([]Record, error) {
	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}
