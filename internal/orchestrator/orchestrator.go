package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/converge"
	"github.com/fyrsmithlabs/coco/internal/llm"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/redact"
	"github.com/fyrsmithlabs/coco/internal/sanitize"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/workspace"
)

var (
	// ErrNotInitialized is returned by operations that need project state
	// before Initialize has run.
	ErrNotInitialized = errors.New("orchestrator not initialized")

	// ErrInvalidTransition is returned for edges outside the fixed table.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPipelineComplete is returned by Run when the pipeline is already at
	// the terminal phase with its goals met.
	ErrPipelineComplete = errors.New("pipeline already complete")
)

// transitions is the fixed edge table. Every phase has at most one
// successor; output has none.
var transitions = map[state.Phase]state.Phase{
	state.PhaseIdle:        state.PhaseConverge,
	state.PhaseConverge:    state.PhaseOrchestrate,
	state.PhaseOrchestrate: state.PhaseComplete,
	state.PhaseComplete:    state.PhaseOutput,
}

func checkEdge(from, to state.Phase) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: %q is terminal", ErrInvalidTransition, from)
	}
	if to != next {
		return fmt.Errorf("%w: cannot move from %q to %q (next allowed is %q)", ErrInvalidTransition, from, to, next)
	}
	return nil
}

// Deps carries the orchestrator's wiring: persistence, the LLM client, the
// convergence collaborators, and the configured thresholds and timeouts.
type Deps struct {
	Store       *state.Store
	Checkpoints *checkpoint.Manager

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
}

// Orchestrator owns the project state and moves it through the phase
// machine. All operations are safe for concurrent use.
type Orchestrator struct {
	mu        sync.Mutex
	st        *state.ProjectState
	deps      Deps
	executors map[state.Phase]Executor
	resume    map[state.Phase]*Checkpoint
	emitter   *Emitter
	logger    *logging.Logger
}

// New creates an orchestrator with the given executors. The dispatch table
// is fixed at construction; registering two executors for one phase is an
// error.
func New(deps Deps, executors []Executor, logger *logging.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Checkpoints == nil {
		return nil, errors.New("checkpoint manager is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("orchestrator")

	table := make(map[state.Phase]Executor, len(executors))
	for _, ex := range executors {
		p := ex.Phase()
		if _, dup := table[p]; dup {
			return nil, fmt.Errorf("duplicate executor for phase %q", p)
		}
		table[p] = ex
	}

	return &Orchestrator{
		deps:      deps,
		executors: table,
		resume:    make(map[state.Phase]*Checkpoint),
		emitter:   NewEmitter(logger),
		logger:    logger,
	}, nil
}

// Events returns the emitter for phase.started / phase.completed
// subscriptions. Handlers run synchronously on the orchestrator's goroutine
// while it holds its lock; they must be quick and must not call back into
// the orchestrator. Everything a handler needs is on the Event.
func (o *Orchestrator) Events() *Emitter {
	return o.emitter
}

// Initialize loads persisted project state, or creates fresh idle state
// rooted at path when none exists. Workspace info is refreshed either way.
func (o *Orchestrator) Initialize(ctx context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if path == "" {
		path = o.deps.ProjectPath
	}

	st, err := o.deps.Store.Load()
	switch {
	case err == nil:
		st.Workspace = workspace.Inspect(path)
		o.st = st
		o.logger.Info(ctx, "resuming project",
			zap.String("project_id", st.ID),
			zap.String("phase", string(st.CurrentPhase)),
		)
	case errors.Is(err, state.ErrNotFound):
		name, nameErr := sanitize.SafeBasename(path)
		if nameErr != nil {
			return fmt.Errorf("deriving project name from %s: %w", path, nameErr)
		}
		st = state.NewProjectState(name, path)
		st.Workspace = workspace.Inspect(path)
		if saveErr := o.deps.Store.Save(st); saveErr != nil {
			return fmt.Errorf("persisting fresh project state: %w", saveErr)
		}
		o.st = st
		o.logger.Info(ctx, "initialized project",
			zap.String("project_id", st.ID),
			zap.String("name", name),
			zap.String("branch", st.Workspace.Branch),
		)
	default:
		return fmt.Errorf("loading project state: %w", err)
	}
	return nil
}

// Start performs the first transition out of idle.
func (o *Orchestrator) Start(ctx context.Context) (*state.PhaseResult, error) {
	return o.TransitionTo(ctx, state.PhaseConverge)
}

// TransitionTo validates the edge, records it, and executes the target
// phase. Structural problems (bad edge, missing executor, uninitialized
// orchestrator) return an error with no state mutation; execution outcomes,
// including rolled-back failures, come back as the result.
func (o *Orchestrator) TransitionTo(ctx context.Context, to state.Phase) (*state.PhaseResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.st == nil {
		return nil, ErrNotInitialized
	}

	from := o.st.CurrentPhase
	if err := checkEdge(from, to); err != nil {
		return nil, err
	}
	exec, ok := o.executors[to]
	if !ok {
		return nil, fmt.Errorf("no executor registered for phase %q", to)
	}

	now := time.Now().UTC()
	o.st.PhaseHistory = append(o.st.PhaseHistory, state.PhaseTransition{From: from, To: to, Timestamp: now})
	o.st.CurrentPhase = to
	o.st.UpdatedAt = now

	o.logger.Info(ctx, "phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	o.emitter.emit(ctx, Event{Name: EventPhaseStarted, Phase: to, Time: now})
	result := o.execute(ctx, exec, to)
	o.emitter.emit(ctx, Event{Name: EventPhaseCompleted, Phase: to, Result: result, Time: time.Now().UTC()})
	return result, nil
}

// Run drives the pipeline from wherever it stands to the terminal phase,
// stopping at the first failure. A phase the project is parked in whose
// goals are not yet met is re-executed before the walk continues; this is
// how an interrupted or failed run picks up after a restart.
func (o *Orchestrator) Run(ctx context.Context) (*state.PhaseResult, error) {
	last, ran, err := o.resumeCurrent(ctx)
	if err != nil {
		return nil, err
	}
	if ran && !last.Success {
		return last, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		next, ok := transitions[o.CurrentPhase()]
		if !ok {
			if last == nil {
				return nil, ErrPipelineComplete
			}
			return last, nil
		}
		result, err := o.TransitionTo(ctx, next)
		if err != nil {
			return last, err
		}
		last = result
		if !result.Success {
			return last, nil
		}
	}
}

// resumeCurrent re-executes the phase the project is parked in when that
// phase's goals are not met. No history entry is appended; resuming is not a
// transition.
func (o *Orchestrator) resumeCurrent(ctx context.Context) (*state.PhaseResult, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.st == nil {
		return nil, false, ErrNotInitialized
	}
	cur := o.st.CurrentPhase
	if cur == state.PhaseIdle {
		return nil, false, nil
	}
	exec, ok := o.executors[cur]
	if !ok {
		return nil, false, fmt.Errorf("no executor registered for phase %q", cur)
	}
	if exec.CanComplete(ctx, o.execContext()) {
		return nil, false, nil
	}

	o.logger.Info(ctx, "re-executing parked phase", zap.String("phase", string(cur)))
	o.emitter.emit(ctx, Event{Name: EventPhaseStarted, Phase: cur, Time: time.Now().UTC()})
	result := o.execute(ctx, exec, cur)
	o.emitter.emit(ctx, Event{Name: EventPhaseCompleted, Phase: cur, Result: result, Time: time.Now().UTC()})
	return result, true, nil
}

// execute runs one phase under the rollback protocol. The snapshot is taken
// after TransitionTo's history mutation so a rollback preserves the history
// entry and CurrentPhase. Callers hold o.mu.
func (o *Orchestrator) execute(ctx context.Context, exec Executor, phase state.Phase) *state.PhaseResult {
	started := time.Now().UTC()

	snap := &checkpoint.Snapshot{Phase: phase, TakenAt: started, State: o.st.Clone()}
	if path, err := o.deps.Checkpoints.Save(ctx, snap); err != nil {
		o.logger.Warn(ctx, "pre-phase snapshot save failed",
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	} else {
		o.st.LastCheckpoint = path
	}

	ec := o.execContext()

	if cp := o.resume[phase]; cp != nil {
		delete(o.resume, phase)
		if err := exec.Restore(cp, ec); err != nil {
			o.logger.Warn(ctx, "resume point rejected, starting phase over",
				zap.String("phase", string(phase)),
				zap.Error(err),
			)
		} else {
			o.logger.Info(ctx, "restored resume point",
				zap.String("phase", string(phase)),
				zap.String("resume_point", cp.ResumePoint),
			)
		}
	}

	if !exec.CanStart(ctx, ec) {
		return failureResult(phase, started, "phase preconditions not met")
	}

	runCtx := ctx
	if o.deps.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.deps.PhaseTimeout)
		defer cancel()
	}

	result, err := exec.Execute(runCtx, ec)

	msg := ""
	switch {
	case err != nil:
		msg = err.Error()
	case result == nil:
		msg = "executor returned no result"
	case !result.Success:
		msg = result.Error
		if msg == "" {
			msg = "phase reported failure"
		}
	}
	if msg == "" && !exec.CanComplete(ctx, ec) {
		msg = "phase completion check failed"
	}

	if msg != "" {
		// Capture the executor's resume point before discarding its state
		// mutations.
		if cp := exec.Checkpoint(ec); cp != nil {
			o.resume[phase] = cp
		}
		o.rollback(ctx, phase, snap)
		return failureResult(phase, started, fmt.Sprintf("%s (rolled back to pre-%s snapshot)", msg, phase))
	}

	o.st.UpdatedAt = time.Now().UTC()
	if err := o.deps.Store.Save(o.st); err != nil {
		o.rollback(ctx, phase, snap)
		return failureResult(phase, started, fmt.Sprintf("persisting state: %v (rolled back to pre-%s snapshot)", err, phase))
	}

	o.logger.Info(ctx, "phase completed",
		zap.String("phase", string(phase)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result
}

// rollback restores the pre-phase snapshot (deep copy, never the snapshot's
// own reference) and persists it so disk and memory agree.
func (o *Orchestrator) rollback(ctx context.Context, phase state.Phase, snap *checkpoint.Snapshot) {
	o.st = snap.State.Clone()
	if err := o.deps.Store.Save(o.st); err != nil {
		o.logger.Error(ctx, "persisting rolled-back state failed",
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
	o.logger.Warn(ctx, "phase rolled back", zap.String("phase", string(phase)))
}

func (o *Orchestrator) execContext() *ExecContext {
	return &ExecContext{
		State:        o.st,
		Store:        o.deps.Store,
		LLM:          o.deps.LLM,
		Redactor:     o.deps.Redactor,
		Generator:    o.deps.Generator,
		Writer:       o.deps.Writer,
		Tests:        o.deps.Tests,
		Reviewer:     o.deps.Reviewer,
		Thresholds:   o.deps.Thresholds,
		LLMTimeout:   o.deps.LLMTimeout,
		TaskTimeout:  o.deps.TaskTimeout,
		PhaseTimeout: o.deps.PhaseTimeout,
		ProjectPath:  o.deps.ProjectPath,
		Logger:       o.logger,
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

// State returns a defensive deep copy of the project state.
func (o *Orchestrator) State() *state.ProjectState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Clone()
}

// CurrentPhase returns the phase the project is parked in (idle before
// Initialize).
func (o *Orchestrator) CurrentPhase() state.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st == nil {
		return state.PhaseIdle
	}
	return o.st.CurrentPhase
}

// Progress is a read-only projection of pipeline position.
type Progress struct {
	Phase           state.Phase `json:"phase"`
	OverallProgress float64     `json:"overallProgress"`
	StartedAt       time.Time   `json:"startedAt"`
	CurrentTask     string      `json:"currentTask,omitempty"`
}

// Progress projects the live state.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st == nil {
		return Progress{Phase: state.PhaseIdle}
	}
	return ProjectProgress(o.st)
}

// ProjectProgress derives a Progress from any state snapshot. The status
// surfaces share it, working from persisted state rather than a live
// orchestrator. Overall progress counts fully completed phases: every phase
// before the current one is done.
func ProjectProgress(s *state.ProjectState) Progress {
	p := Progress{Phase: s.CurrentPhase, StartedAt: s.CreatedAt}
	if idx := s.CurrentPhase.Index(); idx > 0 {
		p.OverallProgress = float64(idx) / float64(len(state.WorkPhases()))
	}
	if s.CurrentTask != nil {
		p.CurrentTask = s.CurrentTask.Title
		if p.CurrentTask == "" {
			p.CurrentTask = s.CurrentTask.ID
		}
	}
	return p
}
