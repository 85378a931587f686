package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(run RunFunc) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := New(run, time.Second)
	s.now = clock.Now
	return s, clock
}

func TestTickFiresAutoSyncWhenIntervalElapsed(t *testing.T) {
	var ran []string
	s, clock := newTestScheduler(func(_ context.Context, id string) {
		ran = append(ran, id)
	})
	s.AddPair(PairConfig{SyncPairID: "pair-1", AutoInterval: time.Minute})

	s.Tick(context.Background())
	require.Equal(t, []string{"pair-1"}, ran)

	ran = nil
	clock.Advance(30 * time.Second)
	s.Tick(context.Background())
	require.Empty(t, ran, "auto interval not yet elapsed since last run")

	clock.Advance(31 * time.Second)
	s.Tick(context.Background())
	require.Equal(t, []string{"pair-1"}, ran)
}

func TestOnFileWrittenDebouncesBurstsIntoOneRun(t *testing.T) {
	var ran []string
	s, clock := newTestScheduler(func(_ context.Context, id string) {
		ran = append(ran, id)
	})
	s.AddPair(PairConfig{SyncPairID: "pair-1", DebounceInterval: 5 * time.Second, AutoInterval: time.Hour})

	s.OnFileWritten("pair-1")
	clock.Advance(time.Second)
	s.OnFileWritten("pair-1")
	clock.Advance(time.Second)
	s.OnFileWritten("pair-1")

	s.Tick(context.Background())
	require.Empty(t, ran, "debounce window has not elapsed since the last write")

	clock.Advance(6 * time.Second)
	s.Tick(context.Background())
	require.Equal(t, []string{"pair-1"}, ran)
}

func TestOnDiskDisconnectedPausesTickAndDebounce(t *testing.T) {
	var ran []string
	s, clock := newTestScheduler(func(_ context.Context, id string) {
		ran = append(ran, id)
	})
	s.AddPair(PairConfig{SyncPairID: "pair-1", DebounceInterval: time.Second, AutoInterval: time.Second})

	s.OnDiskDisconnected("pair-1")
	clock.Advance(10 * time.Second)
	s.Tick(context.Background())
	require.Empty(t, ran, "paused pair must not sync")

	s.OnDiskConnected("pair-1")
	s.Tick(context.Background())
	require.Equal(t, []string{"pair-1"}, ran)
}

func TestOnDiskConnectedTriggersImmediateSyncWhenDirty(t *testing.T) {
	var ran []string
	s, _ := newTestScheduler(func(_ context.Context, id string) {
		ran = append(ran, id)
	})
	s.AddPair(PairConfig{SyncPairID: "pair-1", DebounceInterval: time.Hour, AutoInterval: time.Hour})

	s.OnFileWritten("pair-1")
	s.OnDiskDisconnected("pair-1")
	s.OnDiskConnected("pair-1")

	s.Tick(context.Background())
	require.Equal(t, []string{"pair-1"}, ran, "reconnect with dirty writes should sync immediately")
}

func TestRemovePairStopsScheduling(t *testing.T) {
	var ran []string
	s, _ := newTestScheduler(func(_ context.Context, id string) {
		ran = append(ran, id)
	})
	s.AddPair(PairConfig{SyncPairID: "pair-1", AutoInterval: time.Nanosecond})
	s.RemovePair("pair-1")

	s.Tick(context.Background())
	require.Empty(t, ran)
}

func TestRunStopsOnStop(t *testing.T) {
	s, _ := newTestScheduler(func(_ context.Context, _ string) {})
	s.tickInterval = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
