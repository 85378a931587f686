// Package notify implements the Notifier (§4.17, C17): a small fan-out
// pub/sub bus carrying typed events from every other component to the IPC
// adapter. The typed-event-plus-subscriber-fan-out shape mirrors the
// teacher's own event propagation in pkg/daemon (state changes broadcast to
// connected CLI clients); this generalizes the closed set of daemon
// lifecycle events to the full §4.17 event table.
package notify

import "sync"

// EventKind identifies one of the §4.17 typed events.
type EventKind string

const (
	EventStateChanged      EventKind = "stateChanged"
	EventIndexProgress     EventKind = "indexProgress"
	EventIndexReady        EventKind = "indexReady"
	EventSyncProgress      EventKind = "syncProgress"
	EventSyncStatusChanged EventKind = "syncStatusChanged"
	EventSyncCompleted     EventKind = "syncCompleted"
	EventConflictDetected  EventKind = "conflictDetected"
	EventEvictionProgress  EventKind = "evictionProgress"
	EventComponentError    EventKind = "componentError"
	EventDiskChanged       EventKind = "diskChanged"
	EventActivitiesUpdated EventKind = "activitiesUpdated"
)

// Event is one published notification. Payload holds the event-specific
// fields listed in §4.17's table (e.g. for syncProgress: syncPairId,
// processedFiles, totalFiles, processedBytes, totalBytes, currentFile,
// speed); it's a plain map rather than per-event structs because the wire
// form is "lossy JSON" per §4.17 and the engine itself is format-agnostic.
type Event struct {
	Kind    EventKind
	Payload map[string]any
}

// Subscription is returned by Subscribe; call Unsubscribe to stop receiving
// events on the channel.
type Subscription struct {
	id      uint64
	channel chan Event
	bus     *Bus
}

// Channel returns the subscription's event channel.
func (s *Subscription) Channel() <-chan Event { return s.channel }

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is the process-wide fan-out point. The zero value is not usable; use
// New.
type Bus struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]chan Event
	// bufferSize bounds each subscriber's channel; a slow subscriber drops
	// events rather than blocking publishers, since notifications are
	// best-effort status, not a guaranteed delivery log.
	bufferSize int
}

// New creates an empty Bus. bufferSize bounds each subscriber channel
// (default 64 if <= 0).
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{subscribers: make(map[uint64]chan Event), bufferSize: bufferSize}
}

// Subscribe registers a new listener and returns a Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return &Subscription{id: id, channel: ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish fans event out to every current subscriber. A subscriber whose
// channel is full has the event dropped for it rather than blocking the
// publisher.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// StateChanged publishes §4.17's stateChanged event.
func (b *Bus) StateChanged(oldState, newState string, timestamp string) {
	b.Publish(Event{Kind: EventStateChanged, Payload: map[string]any{
		"oldState": oldState, "newState": newState, "timestamp": timestamp,
	}})
}

// SyncProgress publishes §4.17's syncProgress event.
func (b *Bus) SyncProgress(syncPairID string, processedFiles, totalFiles int, processedBytes, totalBytes int64, currentFile string, speed float64) {
	b.Publish(Event{Kind: EventSyncProgress, Payload: map[string]any{
		"syncPairId":     syncPairID,
		"processedFiles": processedFiles,
		"totalFiles":     totalFiles,
		"processedBytes": processedBytes,
		"totalBytes":     totalBytes,
		"currentFile":    currentFile,
		"speed":          speed,
	}})
}

// SyncCompleted publishes §4.17's syncCompleted event.
func (b *Bus) SyncCompleted(syncPairID string, filesCount int, bytesCount int64) {
	b.Publish(Event{Kind: EventSyncCompleted, Payload: map[string]any{
		"syncPairId": syncPairID, "filesCount": filesCount, "bytesCount": bytesCount,
	}})
}

// ComponentError publishes §4.17's componentError event.
func (b *Bus) ComponentError(component, code, message string, recoverable bool) {
	b.Publish(Event{Kind: EventComponentError, Payload: map[string]any{
		"component": component, "code": code, "message": message, "recoverable": recoverable,
	}})
}

// EvictionProgress publishes §4.17's evictionProgress event.
func (b *Bus) EvictionProgress(syncPairID string, freedBytes, remainingBytes int64) {
	b.Publish(Event{Kind: EventEvictionProgress, Payload: map[string]any{
		"syncPairId": syncPairID, "freedBytes": freedBytes, "remainingBytes": remainingBytes,
	}})
}

// DiskChanged publishes §4.17's diskChanged event.
func (b *Bus) DiskChanged(diskName string, isConnected bool) {
	b.Publish(Event{Kind: EventDiskChanged, Payload: map[string]any{
		"diskName": diskName, "isConnected": isConnected,
	}})
}
