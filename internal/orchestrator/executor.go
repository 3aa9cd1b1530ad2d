package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/converge"
	"github.com/fyrsmithlabs/coco/internal/llm"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/redact"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// Checkpoint is an executor's resumable position within a phase: opaque
// progress data plus a human-readable resume point such as the index of the
// next pending task.
type Checkpoint struct {
	Phase       state.Phase    `json:"phase"`
	Timestamp   time.Time      `json:"timestamp"`
	State       map[string]any `json:"state,omitempty"`
	ResumePoint string         `json:"resumePoint,omitempty"`
}

// ExecContext carries everything an executor needs for one run. State is the
// live project state; executors mutate it directly and the orchestrator
// persists or rolls back around them.
type ExecContext struct {
	State *state.ProjectState
	Store *state.Store

	LLM      llm.Client
	Redactor *redact.Redactor

	Generator converge.Generator
	Writer    converge.FileApplier
	Tests     converge.TestRunner
	Reviewer  collab.Reviewer

	Thresholds   quality.Thresholds
	LLMTimeout   time.Duration
	TaskTimeout  time.Duration
	PhaseTimeout time.Duration

	ProjectPath string
	Logger      *logging.Logger
}

// Executor is one phase's implementation.
//
// CanStart gates execution on preconditions; CanComplete verifies the
// phase's goals against the (possibly mutated) state, both before re-running
// a parked phase and after an execution reports success. Checkpoint captures
// a resume point after a failed run and Restore re-applies it on the next
// attempt, so long phases such as orchestrate do not redo finished work.
type Executor interface {
	Phase() state.Phase
	CanStart(ctx context.Context, ec *ExecContext) bool
	Execute(ctx context.Context, ec *ExecContext) (*state.PhaseResult, error)
	CanComplete(ctx context.Context, ec *ExecContext) bool
	Checkpoint(ec *ExecContext) *Checkpoint
	Restore(cp *Checkpoint, ec *ExecContext) error
}
