// Package syncstate implements the Sync State Store (§4.9, C9): one
// JSON-on-disk state file per syncPair, written atomically (write-then-
// rename) at a checkpoint interval, enabling an interrupted sync to resume.
// The write-then-rename durability discipline mirrors pkg/copier's commit
// step, generalized here from file bytes to a small JSON document.
package syncstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/duallayer/hybridfs/pkg/syncplan"
)

// Phase identifies which stage of the sync pipeline a State reflects.
type Phase string

const (
	PhaseScanning   Phase = "scanning"
	PhaseChecksum   Phase = "checksum"
	PhaseDiffing    Phase = "diffing"
	PhaseResolving  Phase = "resolving"
	PhaseCopying    Phase = "copying"
	PhaseDeleting   Phase = "deleting"
	PhaseVerifying  Phase = "verifying"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
)

// State is the persisted record for one in-progress (or recently finished)
// sync run.
type State struct {
	SyncPairID        string          `json:"syncPairId"`
	Plan              *syncplan.Plan  `json:"plan"`
	CompletedIndices  map[int]bool    `json:"completedIndices"`
	PendingIndices    map[int]bool    `json:"pendingIndices"`
	ProcessedBytes    int64           `json:"processedBytes"`
	ProcessedFiles    int             `json:"processedFiles"`
	FailedActions     []int           `json:"failedActions"`
	Phase             Phase           `json:"phase"`
	StartedAt         time.Time       `json:"startedAt"`
	LastUpdatedAt     time.Time       `json:"lastUpdatedAt"`
}

// IsResumable reports whether state still has pending work and hasn't
// reached a terminal phase.
func (s *State) IsResumable() bool {
	return len(s.PendingIndices) > 0 && s.Phase != PhaseCompleted && s.Phase != PhaseCancelled
}

// NewState initializes a State with every action index pending, per §4.10
// step 6 ("Create state").
func NewState(syncPairID string, plan *syncplan.Plan) *State {
	pending := make(map[int]bool, len(plan.Actions))
	for i := range plan.Actions {
		pending[i] = true
	}
	now := time.Now()
	return &State{
		SyncPairID:       syncPairID,
		Plan:             plan,
		CompletedIndices: make(map[int]bool),
		PendingIndices:   pending,
		Phase:            PhaseScanning,
		StartedAt:        now,
		LastUpdatedAt:    now,
	}
}

// MarkCompleted moves index from pending to completed and accumulates
// processed totals.
func (s *State) MarkCompleted(index int, bytes int64) {
	delete(s.PendingIndices, index)
	s.CompletedIndices[index] = true
	s.ProcessedFiles++
	s.ProcessedBytes += bytes
	s.LastUpdatedAt = time.Now()
}

// MarkFailed moves index from pending to the failed list without counting it
// as completed; per-file failures don't abort the run (§4.10 failure model).
func (s *State) MarkFailed(index int) {
	delete(s.PendingIndices, index)
	s.FailedActions = append(s.FailedActions, index)
	s.LastUpdatedAt = time.Now()
}

// Store manages one JSON state file per syncPair under directory.
type Store struct {
	directory        string
	checkpointEvery  int
	expiry           time.Duration
}

// NewStore creates a Store rooted at directory. checkpointEvery is the §6.4
// sync.checkpointInterval (actions per durable checkpoint, default 50).
// expiry is the age (by LastUpdatedAt) after which PurgeExpired removes a
// state file, whatever its phase (default 7 days).
func NewStore(directory string, checkpointEvery int, expiry time.Duration) *Store {
	if checkpointEvery <= 0 {
		checkpointEvery = 50
	}
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Store{directory: directory, checkpointEvery: checkpointEvery, expiry: expiry}
}

// fileName replaces '/' with '_' in the syncPair id, per §6.3.
func (s *Store) fileName(syncPairID string) string {
	return filepath.Join(s.directory, strings.ReplaceAll(syncPairID, "/", "_")+".json")
}

// Save atomically writes state to disk (write-then-rename).
func (s *Store) Save(state *State) error {
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return fmt.Errorf("unable to create sync state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal sync state: %w", err)
	}

	final := s.fileName(state.SyncPairID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("unable to write sync state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("unable to commit sync state: %w", err)
	}
	return nil
}

// ShouldCheckpoint reports whether completedCount has reached a checkpoint
// boundary (§4.9's default-every-50-actions cadence).
func (s *Store) ShouldCheckpoint(completedCount int) bool {
	return completedCount > 0 && completedCount%s.checkpointEvery == 0
}

// Load reads the state file for syncPairID. It returns (nil, nil) if no
// state file exists.
func (s *Store) Load(syncPairID string) (*State, error) {
	data, err := os.ReadFile(s.fileName(syncPairID))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to read sync state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unable to parse sync state: %w", err)
	}
	return &state, nil
}

// Clear removes the state file for syncPairID, called on successful
// finalize (§4.10 step 13).
func (s *Store) Clear(syncPairID string) error {
	err := os.Remove(s.fileName(syncPairID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetResumableStates lists all non-completed, non-cancelled states under the
// store directory in LRU order (oldest LastUpdatedAt first), per §4.9.
func (s *Store) GetResumableStates() ([]*State, error) {
	entries, err := os.ReadDir(s.directory)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to list sync state directory: %w", err)
	}

	var resumable []*State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.directory, entry.Name()))
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if state.IsResumable() {
			resumable = append(resumable, &state)
		}
	}

	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].LastUpdatedAt.Before(resumable[j].LastUpdatedAt)
	})
	return resumable, nil
}

// PurgeExpired removes state files whose LastUpdatedAt is older than the
// store's configured expiry (default 7 days, §4.9).
func (s *Store) PurgeExpired() (int, error) {
	entries, err := os.ReadDir(s.directory)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	var purged int
	cutoff := time.Now().Add(-s.expiry)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.directory, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if state.LastUpdatedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				purged++
			}
		}
	}
	return purged, nil
}
