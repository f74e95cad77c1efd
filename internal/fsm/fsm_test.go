package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allEvents = []Event{
	EventStart,
	EventTransportOpen,
	EventStop,
	EventSilenceTimeout,
	EventStopSent,
	EventSessionCreated,
	EventNoSpeech,
	EventCancel,
	EventFail,
}

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle
	for _, step := range []struct {
		event Event
		want  State
	}{
		{EventStart, StateConnecting},
		{EventTransportOpen, StateRecording},
		{EventStop, StateStopping},
		{EventStopSent, StateProcessing},
		{EventSessionCreated, StateCompleted},
	} {
		next, err := Transition(s, step.event)
		require.NoError(t, err)
		require.Equal(t, step.want, next)
		s = next
	}
}

func TestTransitionSilenceTimeoutStops(t *testing.T) {
	next, err := Transition(StateRecording, EventSilenceTimeout)
	require.NoError(t, err)
	require.Equal(t, StateStopping, next)
}

func TestTransitionFinalizationOutcomes(t *testing.T) {
	for _, state := range []State{StateRecording, StateStopping, StateProcessing} {
		next, err := Transition(state, EventSessionCreated)
		require.NoError(t, err)
		require.Equal(t, StateCompleted, next)

		next, err = Transition(state, EventNoSpeech)
		require.NoError(t, err)
		require.Equal(t, StateNoSpeech, next)
	}
}

func TestTransitionCancelFromEveryActiveState(t *testing.T) {
	for _, state := range []State{StateConnecting, StateRecording, StateStopping, StateProcessing} {
		next, err := Transition(state, EventCancel)
		require.NoError(t, err)
		require.Equal(t, StateCancelled, next)
	}
}

func TestTransitionFailFromAnyNonTerminalState(t *testing.T) {
	for _, state := range []State{StateIdle, StateConnecting, StateRecording, StateStopping, StateProcessing} {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)
	}
}

func TestTerminalStatesAbsorbEveryEvent(t *testing.T) {
	for _, state := range []State{StateCompleted, StateNoSpeech, StateCancelled, StateFailed} {
		require.True(t, state.Terminal())
		require.False(t, state.Active())
		for _, event := range allEvents {
			next, err := Transition(state, event)
			require.ErrorIs(t, err, ErrTerminal)
			require.Equal(t, state, next, "%s --(%s)", state, event)
		}
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{name: "idle stop", state: StateIdle, event: EventStop},
		{name: "idle cancel", state: StateIdle, event: EventCancel},
		{name: "idle transport open", state: StateIdle, event: EventTransportOpen},
		{name: "connecting stop", state: StateConnecting, event: EventStop},
		{name: "connecting session created", state: StateConnecting, event: EventSessionCreated},
		{name: "recording start", state: StateRecording, event: EventStart},
		{name: "recording stop sent", state: StateRecording, event: EventStopSent},
		{name: "stopping stop", state: StateStopping, event: EventStop},
		{name: "stopping silence", state: StateStopping, event: EventSilenceTimeout},
		{name: "processing stop sent", state: StateProcessing, event: EventStopSent},
		{name: "processing transport open", state: StateProcessing, event: EventTransportOpen},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.state, next)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)

	next, err = Transition(State("mystery"), EventFail)
	require.Error(t, err)
	require.Equal(t, State("mystery"), next)
}
