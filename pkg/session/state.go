// Package session implements the voice session state machine: the single
// owner of session state, coordinating capture, voice activity detection,
// recognition, and synthesis through one event loop.
package session

import "fmt"

// State is the session's conversational state. All mutation happens on the
// session event loop; reads are safe from any goroutine.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateAISpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateProcessing:
		return "Processing"
	case StateAISpeaking:
		return "AISpeaking"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// validTransitions is the fixed transition table. Any edge not listed is
// rejected without mutating state.
var validTransitions = map[State][]State{
	StateIdle:       {StateListening, StateError},
	StateListening:  {StateIdle, StateProcessing, StateError},
	StateProcessing: {StateListening, StateAISpeaking, StateIdle, StateError},
	StateAISpeaking: {StateListening, StateIdle, StateError},
	StateError:      {StateIdle, StateListening},
}

// CanTransition reports whether from → to is an edge of the table.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// States lists every session state, for table-driven tests.
func States() []State {
	return []State{StateIdle, StateListening, StateProcessing, StateAISpeaking, StateError}
}
