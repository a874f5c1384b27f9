// Package fsm defines the realtime session states and their legal transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateNegotiating  State = "negotiating"
	StateReady        State = "ready"
	StateClosing      State = "closing"
)

const (
	EventConnect Event = "connect"
	EventOpened  Event = "opened"
	EventReady   Event = "ready"
	EventClose   Event = "close"
	EventClosed  Event = "closed"
)

// Transition returns the state reached by applying event to current.
//
// EventClosed is accepted from every state: a transport can drop at any time.
func Transition(current State, event Event) (State, error) {
	if event == EventClosed {
		return StateDisconnected, nil
	}

	switch current {
	case StateDisconnected:
		switch event {
		case EventConnect:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventOpened:
			return StateNegotiating, nil
		case EventClose:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateNegotiating:
		switch event {
		case EventReady:
			return StateReady, nil
		case EventClose:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReady:
		switch event {
		case EventClose:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosing:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Connection collapses a state into the three-valued status shown to users.
func (s State) Connection() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating, StateReady:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is a point-in-time view of a backend session.
type Status struct {
	State      State
	Processing bool
	Err        string
	Warning    string
}

// Connection reports the user-facing connection label for the status state.
func (s Status) Connection() string {
	return s.State.Connection()
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
