// Package fsm defines the recording session lifecycle as a pure transition function.
package fsm

import (
	"errors"
	"fmt"
)

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateNoSpeech   State = "no_speech"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

const (
	EventStart          Event = "start"
	EventTransportOpen  Event = "transport_open"
	EventStop           Event = "stop"
	EventSilenceTimeout Event = "silence_timeout"
	EventStopSent       Event = "stop_sent"
	EventSessionCreated Event = "session_created"
	EventNoSpeech       Event = "no_speech"
	EventCancel         Event = "cancel"
	EventFail           Event = "fail"
)

var knownStates = map[State]struct{}{
	StateIdle:       {},
	StateConnecting: {},
	StateRecording:  {},
	StateStopping:   {},
	StateProcessing: {},
}

// ErrTerminal is returned for any event delivered after the session finished.
var ErrTerminal = errors.New("session already finished")

// Terminal reports whether no further transition may leave state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateNoSpeech, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Active reports whether the session holds live resources (capture or transport).
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateRecording, StateStopping, StateProcessing:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	if current.Terminal() {
		return current, fmt.Errorf("%w: %s --(%s)--> ?", ErrTerminal, current, event)
	}

	switch event {
	case EventFail:
		if _, known := knownStates[current]; !known {
			return current, fmt.Errorf("unknown state %q", current)
		}
		return StateFailed, nil
	case EventCancel:
		if !current.Active() {
			return current, invalidTransition(current, event)
		}
		return StateCancelled, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventTransportOpen:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop, EventSilenceTimeout:
			return StateStopping, nil
		case EventSessionCreated:
			return StateCompleted, nil
		case EventNoSpeech:
			return StateNoSpeech, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventStopSent:
			return StateProcessing, nil
		case EventSessionCreated:
			return StateCompleted, nil
		case EventNoSpeech:
			return StateNoSpeech, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventSessionCreated:
			return StateCompleted, nil
		case EventNoSpeech:
			return StateNoSpeech, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
