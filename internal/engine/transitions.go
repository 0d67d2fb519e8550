package engine

import "fmt"

// transitions is the forward-only phase graph. The sinks FAILED and CANCELLED
// are reachable from every non-terminal phase and are handled in
// canTransition rather than listed per phase.
var transitions = map[Phase][]Phase{
	PhaseAnalyzing:   {PhaseGenerating},
	PhaseGenerating:  {PhaseValidating},
	PhaseValidating:  {PhaseSelfHealing, PhaseReviewing, PhasePRCreated},
	PhaseSelfHealing: {PhaseValidating},
	PhaseReviewing:   {PhasePRCreated},
	PhasePRCreated:   {PhaseReady},
	PhaseReady:       nil,
	PhaseFailed:      nil,
	PhaseCancelled:   nil,
}

// canTransition reports whether from → to is a legal phase move.
func canTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionError describes an illegal phase move. It indicates an engine
// bug, not a user error.
func transitionError(from, to Phase) error {
	return fmt.Errorf("illegal phase transition %s -> %s", from, to)
}
