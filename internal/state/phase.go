package state

import "fmt"

// Phase is one stage of the project workflow.
type Phase string

const (
	// PhaseIdle is the initial state before the pipeline starts.
	PhaseIdle Phase = "idle"

	// PhaseConverge discovers requirements and produces the task plan.
	PhaseConverge Phase = "converge"

	// PhaseOrchestrate implements the plan, one convergence loop per task.
	PhaseOrchestrate Phase = "orchestrate"

	// PhaseComplete runs final validation over the implemented project.
	PhaseComplete Phase = "complete"

	// PhaseOutput renders the final deliverables. Terminal.
	PhaseOutput Phase = "output"
)

// AllPhases returns every phase in workflow order, including idle.
func AllPhases() []Phase {
	return []Phase{PhaseIdle, PhaseConverge, PhaseOrchestrate, PhaseComplete, PhaseOutput}
}

// WorkPhases returns the executable phases in order (idle excluded).
func WorkPhases() []Phase {
	return []Phase{PhaseConverge, PhaseOrchestrate, PhaseComplete, PhaseOutput}
}

// ParsePhase converts a string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseConverge, PhaseOrchestrate, PhaseComplete, PhaseOutput:
		return true
	}
	return false
}

// Terminal reports whether the workflow ends at p.
func (p Phase) Terminal() bool {
	return p == PhaseOutput
}

// Index returns the position of p among the executable phases, or -1 for
// idle and unknown phases. Used by progress projection.
func (p Phase) Index() int {
	for i, wp := range WorkPhases() {
		if wp == p {
			return i
		}
	}
	return -1
}

func (p Phase) String() string {
	return string(p)
}
