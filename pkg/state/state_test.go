package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duallayer/hybridfs/pkg/notify"
)

func TestLegalLifecycleTransitions(t *testing.T) {
	m := New(nil)
	require.Equal(t, StateStarting, m.Global())

	require.NoError(t, m.Transition(StateXPCReady))
	require.NoError(t, m.Transition(StateVFSMounting))
	require.NoError(t, m.Transition(StateIndexing))
	require.NoError(t, m.Transition(StateReady))
	require.NoError(t, m.Transition(StateRunning))
	require.NoError(t, m.Transition(StateReady))
	require.NoError(t, m.Transition(StateStopping))
	require.NoError(t, m.Transition(StateStopped))
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	m := New(nil)
	err := m.Transition(StateReady)
	require.Error(t, err)
	require.Equal(t, StateStarting, m.Global())
}

func TestErrorReachableFromAnyState(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(StateXPCReady))
	require.NoError(t, m.Transition(StateError))
	require.Equal(t, StateError, m.Global())

	require.NoError(t, m.Transition(StateStarting))
}

func TestCanPerformGatesByState(t *testing.T) {
	m := New(nil)
	require.True(t, m.CanPerform(OperationStatusQuery))
	require.False(t, m.CanPerform(OperationConfigRead))
	require.False(t, m.CanPerform(OperationFilesystemOp))

	require.NoError(t, m.Transition(StateXPCReady))
	require.NoError(t, m.Transition(StateVFSMounting))
	require.NoError(t, m.Transition(StateIndexing))
	require.NoError(t, m.Transition(StateReady))

	require.True(t, m.CanPerform(OperationConfigRead))
	require.True(t, m.CanPerform(OperationWrite))
	require.True(t, m.CanPerform(OperationFilesystemOp))
}

func TestCanPerformDeniesWritesInErrorState(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(StateError))
	require.False(t, m.CanPerform(OperationWrite))
	require.False(t, m.CanPerform(OperationFilesystemOp))
	require.True(t, m.CanPerform(OperationStatusQuery))
}

func TestTransitionPublishesStateChanged(t *testing.T) {
	bus := notify.New(4)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	m := New(bus)
	require.NoError(t, m.Transition(StateXPCReady))

	select {
	case evt := <-sub.Channel():
		require.Equal(t, notify.EventStateChanged, evt.Kind)
		require.Equal(t, "starting", evt.Payload["oldState"])
		require.Equal(t, "xpcReady", evt.Payload["newState"])
	case <-time.After(time.Second):
		t.Fatal("expected stateChanged event")
	}
}

func TestComponentStatesSnapshot(t *testing.T) {
	m := New(nil)
	m.SetComponentState("catalog", ComponentReady)
	m.SetComponentState("vfs", ComponentBusy)

	snapshot := m.ComponentStates()
	require.Equal(t, ComponentReady, snapshot["catalog"])
	require.Equal(t, ComponentBusy, snapshot["vfs"])
}
