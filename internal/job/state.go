// Package job runs segment builds as a sequence of steps:
// PENDING → SEEK_OFFSETS → MATERIALIZE → FINALIZE_TIME_RANGE → DONE, with
// FAILED reachable from every non-terminal state. Merge builds skip
// MATERIALIZE.
package job

import (
	"fmt"

	"github.com/jittakal/kafbridge/internal/errors"
)

// State is the state of a build job.
type State string

const (
	StatePending           State = "PENDING"
	StateSeekOffsets       State = "SEEK_OFFSETS"
	StateMaterialize       State = "MATERIALIZE"
	StateFinalizeTimeRange State = "FINALIZE_TIME_RANGE"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StatePending:           {StateSeekOffsets},
	StateSeekOffsets:       {StateMaterialize, StateFinalizeTimeRange},
	StateMaterialize:       {StateFinalizeTimeRange},
	StateFinalizeTimeRange: {StateDone},
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// validateSequence checks that steps walk the state machine from PENDING
// to a state that can reach DONE.
func validateSequence(steps []Step) error {
	if len(steps) == 0 {
		return &errors.ConfigurationError{Component: "job", Reason: "no steps to run"}
	}
	state := StatePending
	for _, step := range steps {
		if !CanTransition(state, step.State()) {
			return &errors.ConfigurationError{
				Component: "job",
				Reason:    fmt.Sprintf("step %s cannot follow state %s", step.Name(), state),
			}
		}
		state = step.State()
	}
	if !CanTransition(state, StateDone) {
		return &errors.ConfigurationError{
			Component: "job",
			Reason:    fmt.Sprintf("job would end in state %s", state),
		}
	}
	return nil
}
