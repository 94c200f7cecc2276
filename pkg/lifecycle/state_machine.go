package lifecycle

import "github.com/opus-nx/orchestrator/pkg/persistence"

// State is an alias for the persistence package's experiment-state enum, so
// the in-memory authoritative store and the external mirror always agree on
// the same closed set of values.
type State = persistence.ExperimentState

// Event is one lifecycle trigger driving a state transition.
type Event string

const (
	EventCheckpoint    Event = "checkpoint"
	EventTriggerRerun  Event = "trigger_rerun"
	EventRerunComplete Event = "rerun_complete"
	EventRetain        Event = "retain"
	EventDefer         Event = "defer"
	EventArchive       Event = "archive"
)

var terminalStates = map[State]bool{
	persistence.StateRetained: true,
	persistence.StateDeferred: true,
	persistence.StateArchived: true,
}

// transitions is the allowed (state, event) -> state table for non-terminal
// states (§4.4). Any (state, event) pair absent from this table, or any
// event against a terminal state other than archive, is coerced to a no-op.
var transitions = map[State]map[Event]State{
	persistence.StatePromoted: {
		EventCheckpoint: persistence.StateCheckpointed,
		EventArchive:    persistence.StateArchived,
	},
	persistence.StateCheckpointed: {
		EventTriggerRerun: persistence.StateRerunning,
		EventArchive:      persistence.StateArchived,
	},
	persistence.StateRerunning: {
		EventRerunComplete: persistence.StateComparing,
		EventArchive:       persistence.StateArchived,
	},
	persistence.StateComparing: {
		EventRetain:  persistence.StateRetained,
		EventDefer:   persistence.StateDeferred,
		EventArchive: persistence.StateArchived,
	},
}

// nextState applies event to current and returns the resulting state plus
// whether the transition was allowed. Terminal states (I7) accept only a
// transition to archived; any other event against them, including one that
// names the current state, is reported as not allowed. Everything else
// consults the transitions table.
func nextState(current State, event Event) (State, bool) {
	if terminalStates[current] {
		if event == EventArchive {
			return persistence.StateArchived, true
		}
		return current, false
	}
	byEvent, ok := transitions[current]
	if !ok {
		return current, false
	}
	next, ok := byEvent[event]
	if !ok {
		return current, false
	}
	return next, true
}
