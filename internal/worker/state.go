// Package worker runs the per-subscriber reflection pipeline as an explicit
// state machine.
package worker

// State is one stage of the reflection pipeline. States advance strictly
// forward; Done, Skipped, and Failed are terminal.
type State int

const (
	// StateFetching loads the subscriber's feeling history.
	StateFetching State = iota
	// StateSummarizing distills the history into a personality digest.
	StateSummarizing
	// StateComposing writes the reflection and prayer narrative.
	StateComposing
	// StateSynthesizing converts the narrative into spoken audio.
	StateSynthesizing
	// StateMixing lays the spoken track over the background bed.
	StateMixing
	// StateStoring encodes and persists the artifact, then signs its link.
	StateStoring
	// StateNotifying delivers the link to the subscriber.
	StateNotifying
	// StateDone is the successful terminal.
	StateDone
	// StateSkipped is the clean terminal for subscribers with no history.
	StateSkipped
	// StateFailed is the error terminal; the item nacks for redelivery.
	StateFailed
)

// String returns the stage name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateSummarizing:
		return "summarizing"
	case StateComposing:
		return "composing"
	case StateSynthesizing:
		return "synthesizing"
	case StateMixing:
		return "mixing"
	case StateStoring:
		return "storing"
	case StateNotifying:
		return "notifying"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pipeline stops in this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}
