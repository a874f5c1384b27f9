package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateDisconnected

	next, err := Transition(s, EventConnect)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, next)

	next, err = Transition(next, EventOpened)
	require.NoError(t, err)
	require.Equal(t, StateNegotiating, next)

	next, err = Transition(next, EventReady)
	require.NoError(t, err)
	require.Equal(t, StateReady, next)

	next, err = Transition(next, EventClose)
	require.NoError(t, err)
	require.Equal(t, StateClosing, next)

	next, err = Transition(next, EventClosed)
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, next)
}

func TestTransitionClosedFromAnyStateGoesDisconnected(t *testing.T) {
	states := []State{StateDisconnected, StateConnecting, StateNegotiating, StateReady, StateClosing}
	for _, state := range states {
		next, err := Transition(state, EventClosed)
		require.NoError(t, err)
		require.Equal(t, StateDisconnected, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "disconnected ready invalid", state: StateDisconnected, event: EventReady, want: StateDisconnected, wantErr: true},
		{name: "disconnected close invalid", state: StateDisconnected, event: EventClose, want: StateDisconnected, wantErr: true},
		{name: "connecting ready invalid", state: StateConnecting, event: EventReady, want: StateConnecting, wantErr: true},
		{name: "connecting close valid", state: StateConnecting, event: EventClose, want: StateClosing, wantErr: false},
		{name: "negotiating connect invalid", state: StateNegotiating, event: EventConnect, want: StateNegotiating, wantErr: true},
		{name: "negotiating opened invalid", state: StateNegotiating, event: EventOpened, want: StateNegotiating, wantErr: true},
		{name: "ready ready invalid", state: StateReady, event: EventReady, want: StateReady, wantErr: true},
		{name: "ready connect invalid", state: StateReady, event: EventConnect, want: StateReady, wantErr: true},
		{name: "closing connect invalid", state: StateClosing, event: EventConnect, want: StateClosing, wantErr: true},
		{name: "closing close invalid", state: StateClosing, event: EventClose, want: StateClosing, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventConnect)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestConnectionLabel(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.Connection())
	require.Equal(t, "connecting", StateConnecting.Connection())
	require.Equal(t, "connected", StateNegotiating.Connection())
	require.Equal(t, "connected", StateReady.Connection())
	require.Equal(t, "disconnected", StateClosing.Connection())
	require.Equal(t, "connected", Status{State: StateReady}.Connection())
}
