package scheduler

import (
	"errors"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// State is an alias for domain.PollerState for internal use.
type State = domain.PollerState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// States lists every poller state.
var States = []State{
	domain.PollerStateIdle,
	domain.PollerStateQuerying,
	domain.PollerStateProcessing,
	domain.PollerStateSleeping,
	domain.PollerStateStopped,
	domain.PollerStateHalted,
}

// ValidTransitions defines allowed state transitions.
// Halted is terminal. A stopped poller may be run again.
var ValidTransitions = map[State][]State{
	domain.PollerStateIdle: {domain.PollerStateQuerying, domain.PollerStateStopped},
	domain.PollerStateQuerying: {
		domain.PollerStateProcessing,
		domain.PollerStateSleeping,
		domain.PollerStateStopped,
		domain.PollerStateHalted,
	},
	domain.PollerStateProcessing: {
		domain.PollerStateSleeping,
		domain.PollerStateStopped,
		domain.PollerStateHalted,
	},
	domain.PollerStateSleeping: {domain.PollerStateQuerying, domain.PollerStateStopped},
	domain.PollerStateStopped:  {domain.PollerStateQuerying},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.PollerStateIdle:
		return "Idle - created, first cycle not started"
	case domain.PollerStateQuerying:
		return "Querying - reading eligible rows from the store"
	case domain.PollerStateProcessing:
		return "Processing - running the batch through the side effect"
	case domain.PollerStateSleeping:
		return "Sleeping - waiting for the next cycle"
	case domain.PollerStateStopped:
		return "Stopped - shut down"
	case domain.PollerStateHalted:
		return "Halted - repeated authorization failures, operator action needed"
	default:
		return "Unknown state"
	}
}
