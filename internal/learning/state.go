package learning

import "fmt"

// State is a step of one feedback submission.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateSubmitting State = "submitting"
	StateAccepted   State = "accepted"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateRejected, StateSubmitting},
	StateSubmitting: {StateAccepted, StateSkipped, StateFailed},
	StateRejected:   {StateIdle},
	StateAccepted:   {StateIdle},
	StateSkipped:    {StateIdle},
	StateFailed:     {StateIdle},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a submission before the return to idle.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateAccepted, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

type machine struct {
	state State
	trace []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, trace: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal learning transition %s -> %s", m.state, next)
	}
	m.state = next
	m.trace = append(m.trace, next)
	return nil
}
