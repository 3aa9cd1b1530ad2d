// Package phases implements the four pipeline phase executors: converge
// drafts the task plan, orchestrate runs one convergence loop per task,
// complete validates the finished project, and output renders the delivery
// report. Each executor plugs into the orchestrator through its Executor
// interface and leaves durability decisions (persist, rollback) to it.
package phases

import (
	"time"

	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// All returns the executors in pipeline order, ready to register with the
// orchestrator. goal is the configured project goal; when empty the converge
// phase reads the brief file instead.
func All(goal string) []orchestrator.Executor {
	return []orchestrator.Executor{
		NewConverge(goal),
		NewOrchestrate(),
		NewComplete(),
		NewOutput(),
	}
}

func failureResult(phase state.Phase, started time.Time, msg string) *state.PhaseResult {
	return &state.PhaseResult{
		Phase:       phase,
		Success:     false,
		Error:       msg,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
}
