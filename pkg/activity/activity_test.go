package activity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/notify"
)

func TestAppendOrdersMostRecentFirst(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "activity.json"), 5, nil)

	require.NoError(t, log.Append(Record{Kind: KindSyncCompleted, Message: "first", OccurredAt: time.Now()}))
	require.NoError(t, log.Append(Record{Kind: KindSyncCompleted, Message: "second", OccurredAt: time.Now().Add(time.Second)}))

	records, err := log.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "second", records[0].Message)
	require.Equal(t, "first", records[1].Message)
}

func TestAppendTrimsToCapacity(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "activity.json"), 2, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Record{Kind: KindSyncCompleted, OccurredAt: time.Now().Add(time.Duration(i) * time.Second)}))
	}

	records, err := log.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRecordsLazyLoadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	first := Open(path, 5, nil)
	require.NoError(t, first.Append(Record{Kind: KindIndexCompleted, Message: "built", OccurredAt: time.Now()}))

	second := Open(path, 5, nil)
	records, err := second.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "built", records[0].Message)
}

func TestAppendPublishesActivitiesUpdated(t *testing.T) {
	bus := notify.New(4)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	log := Open(filepath.Join(t.TempDir(), "activity.json"), 5, bus)
	require.NoError(t, log.Append(Record{Kind: KindSyncCompleted, OccurredAt: time.Now()}))

	select {
	case evt := <-sub.Channel():
		require.Equal(t, notify.EventActivitiesUpdated, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected activitiesUpdated event")
	}
}
