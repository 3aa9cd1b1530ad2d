package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// fakeExecutor is a scriptable phase executor. CanComplete defaults to
// "has executed at least once".
type fakeExecutor struct {
	phase    state.Phase
	start    bool
	execute  func(ctx context.Context, ec *ExecContext) (*state.PhaseResult, error)
	complete func(ec *ExecContext) bool
	cp       *Checkpoint

	runs     int
	restored []*Checkpoint
}

func newFakeExecutor(phase state.Phase) *fakeExecutor {
	return &fakeExecutor{phase: phase, start: true}
}

func (f *fakeExecutor) Phase() state.Phase { return f.phase }

func (f *fakeExecutor) CanStart(context.Context, *ExecContext) bool { return f.start }

func (f *fakeExecutor) Execute(ctx context.Context, ec *ExecContext) (*state.PhaseResult, error) {
	f.runs++
	if f.execute != nil {
		return f.execute(ctx, ec)
	}
	return successResult(f.phase), nil
}

func (f *fakeExecutor) CanComplete(_ context.Context, ec *ExecContext) bool {
	if f.complete != nil {
		return f.complete(ec)
	}
	return f.runs > 0
}

func (f *fakeExecutor) Checkpoint(*ExecContext) *Checkpoint { return f.cp }

func (f *fakeExecutor) Restore(cp *Checkpoint, _ *ExecContext) error {
	f.restored = append(f.restored, cp)
	return nil
}

func successResult(p state.Phase) *state.PhaseResult {
	now := time.Now().UTC()
	return &state.PhaseResult{Phase: p, Success: true, StartedAt: now, CompletedAt: now}
}

func allPhaseExecutors() []Executor {
	return []Executor{
		newFakeExecutor(state.PhaseConverge),
		newFakeExecutor(state.PhaseOrchestrate),
		newFakeExecutor(state.PhaseComplete),
		newFakeExecutor(state.PhaseOutput),
	}
}

func newTestOrchestrator(t *testing.T, execs ...Executor) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := state.NewStore(dir)
	require.NoError(t, err)
	mgr, err := checkpoint.NewManager(dir, nil, nil)
	require.NoError(t, err)

	o, err := New(Deps{Store: store, Checkpoints: mgr, ProjectPath: dir}, execs, nil)
	require.NoError(t, err)
	return o, dir
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	mgr, err := checkpoint.NewManager(dir, nil, nil)
	require.NoError(t, err)

	_, err = New(Deps{Checkpoints: mgr}, nil, nil)
	assert.Error(t, err)

	_, err = New(Deps{Store: store}, nil, nil)
	assert.Error(t, err)

	_, err = New(Deps{Store: store, Checkpoints: mgr}, []Executor{
		newFakeExecutor(state.PhaseConverge),
		newFakeExecutor(state.PhaseConverge),
	}, nil)
	assert.ErrorContains(t, err, "duplicate executor")
}

func TestOrchestrator_InitializeFresh(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	require.NoError(t, o.Initialize(context.Background(), dir))

	s := o.State()
	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, filepath.Base(dir), s.Name)
	assert.Equal(t, state.PhaseIdle, s.CurrentPhase)
	assert.False(t, s.CreatedAt.IsZero())

	_, err := os.Stat(state.StatePath(dir))
	assert.NoError(t, err)
}

func TestOrchestrator_InitializeResumesPersistedState(t *testing.T) {
	o, dir := newTestOrchestrator(t)

	store, err := state.NewStore(dir)
	require.NoError(t, err)
	existing := state.NewProjectState("demo", dir)
	existing.CurrentPhase = state.PhaseConverge
	require.NoError(t, store.Save(existing))

	require.NoError(t, o.Initialize(context.Background(), dir))

	s := o.State()
	assert.Equal(t, existing.ID, s.ID)
	assert.Equal(t, state.PhaseConverge, s.CurrentPhase)
}

func TestOrchestrator_TransitionBeforeInitialize(t *testing.T) {
	o, _ := newTestOrchestrator(t, allPhaseExecutors()...)
	_, err := o.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestOrchestrator_Start(t *testing.T) {
	o, dir := newTestOrchestrator(t, allPhaseExecutors()...)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, state.PhaseConverge, result.Phase)

	s := o.State()
	assert.Equal(t, state.PhaseConverge, s.CurrentPhase)
	require.Len(t, s.PhaseHistory, 1)
	assert.Equal(t, state.PhaseIdle, s.PhaseHistory[0].From)
	assert.Equal(t, state.PhaseConverge, s.PhaseHistory[0].To)
}

func TestOrchestrator_RejectsInvalidEdges(t *testing.T) {
	o, dir := newTestOrchestrator(t, allPhaseExecutors()...)
	require.NoError(t, o.Initialize(context.Background(), dir))

	for _, to := range []state.Phase{state.PhaseOrchestrate, state.PhaseComplete, state.PhaseOutput, state.PhaseIdle} {
		_, err := o.TransitionTo(context.Background(), to)
		assert.ErrorIs(t, err, ErrInvalidTransition, "edge idle to %s", to)
	}

	s := o.State()
	assert.Equal(t, state.PhaseIdle, s.CurrentPhase)
	assert.Empty(t, s.PhaseHistory)
}

func TestOrchestrator_TerminalPhaseHasNoEdges(t *testing.T) {
	err := checkEdge(state.PhaseOutput, state.PhaseConverge)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "terminal")
}

func TestOrchestrator_MissingExecutorMutatesNothing(t *testing.T) {
	o, dir := newTestOrchestrator(t) // no executors
	require.NoError(t, o.Initialize(context.Background(), dir))

	_, err := o.Start(context.Background())
	require.ErrorContains(t, err, "no executor registered")

	s := o.State()
	assert.Equal(t, state.PhaseIdle, s.CurrentPhase)
	assert.Empty(t, s.PhaseHistory)
}

func TestOrchestrator_SuccessPersistsMutations(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	conv.execute = func(_ context.Context, ec *ExecContext) (*state.PhaseResult, error) {
		ec.State.PendingTasks = []state.Task{{ID: "task-auth"}, {ID: "task-api"}}
		return successResult(state.PhaseConverge), nil
	}

	o, dir := newTestOrchestrator(t, conv)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	s := o.State()
	assert.Len(t, s.PendingTasks, 2)
	assert.NotEmpty(t, s.LastCheckpoint)
	_, statErr := os.Stat(s.LastCheckpoint)
	assert.NoError(t, statErr)

	// Persisted state matches memory.
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	onDisk, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, onDisk.PendingTasks, 2)
	assert.Equal(t, state.PhaseConverge, onDisk.CurrentPhase)
}

func TestOrchestrator_RollbackOnFailureResult(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	conv.execute = func(_ context.Context, ec *ExecContext) (*state.PhaseResult, error) {
		ec.State.PendingTasks = []state.Task{{ID: "partial"}}
		res := successResult(state.PhaseConverge)
		res.Success = false
		res.Error = "model returned garbage"
		return res, nil
	}

	o, dir := newTestOrchestrator(t, conv)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "model returned garbage (rolled back to pre-converge snapshot)", result.Error)

	// Partial mutation discarded; history entry and CurrentPhase survive.
	s := o.State()
	assert.Empty(t, s.PendingTasks)
	assert.Equal(t, state.PhaseConverge, s.CurrentPhase)
	require.Len(t, s.PhaseHistory, 1)

	store, err := state.NewStore(dir)
	require.NoError(t, err)
	onDisk, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, onDisk.PendingTasks)
	assert.Equal(t, state.PhaseConverge, onDisk.CurrentPhase)
}

func TestOrchestrator_RollbackOnExecutorError(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	conv.execute = func(context.Context, *ExecContext) (*state.PhaseResult, error) {
		return nil, errors.New("llm upstream open")
	}

	o, dir := newTestOrchestrator(t, conv)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "llm upstream open (rolled back to pre-converge snapshot)", result.Error)
}

func TestOrchestrator_CanStartFalse(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	conv.start = false

	o, dir := newTestOrchestrator(t, conv)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "phase preconditions not met", result.Error)
	assert.Equal(t, 0, conv.runs)

	// Nothing was persisted: on disk the project is still idle.
	store, err := state.NewStore(dir)
	require.NoError(t, err)
	onDisk, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.PhaseIdle, onDisk.CurrentPhase)
}

func TestOrchestrator_CanCompleteFalseRollsBack(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	conv.complete = func(*ExecContext) bool { return false }

	o, dir := newTestOrchestrator(t, conv)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "phase completion check failed (rolled back to pre-converge snapshot)", result.Error)
}

func TestOrchestrator_RunWalksAllPhases(t *testing.T) {
	var order []state.Phase
	execs := make([]Executor, 0, 4)
	for _, p := range state.WorkPhases() {
		f := newFakeExecutor(p)
		f.execute = func(_ context.Context, ec *ExecContext) (*state.PhaseResult, error) {
			order = append(order, ec.State.CurrentPhase)
			return successResult(ec.State.CurrentPhase), nil
		}
		execs = append(execs, f)
	}

	o, dir := newTestOrchestrator(t, execs...)
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, state.PhaseOutput, result.Phase)
	assert.Equal(t, state.WorkPhases(), order)

	s := o.State()
	assert.Equal(t, state.PhaseOutput, s.CurrentPhase)
	assert.Len(t, s.PhaseHistory, 4)

	// A second run has nothing left to do.
	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrPipelineComplete)
}

func TestOrchestrator_RunStopsAtFailure(t *testing.T) {
	conv := newFakeExecutor(state.PhaseConverge)
	orch := newFakeExecutor(state.PhaseOrchestrate)
	orch.execute = func(context.Context, *ExecContext) (*state.PhaseResult, error) {
		return nil, errors.New("task task-api failed")
	}
	comp := newFakeExecutor(state.PhaseComplete)

	o, dir := newTestOrchestrator(t, conv, orch, comp, newFakeExecutor(state.PhaseOutput))
	require.NoError(t, o.Initialize(context.Background(), dir))

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, state.PhaseOrchestrate, result.Phase)
	assert.Equal(t, 0, comp.runs)
	assert.Equal(t, state.PhaseOrchestrate, o.CurrentPhase())
}

func TestOrchestrator_RunResumesFailedPhaseWithCheckpoint(t *testing.T) {
	attempts := 0
	conv := newFakeExecutor(state.PhaseConverge)
	conv.cp = &Checkpoint{Phase: state.PhaseConverge, ResumePoint: "requirements:drafted"}
	conv.complete = func(ec *ExecContext) bool { return len(ec.State.PendingTasks) > 0 }
	conv.execute = func(_ context.Context, ec *ExecContext) (*state.PhaseResult, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("upstream open")
		}
		ec.State.PendingTasks = []state.Task{{ID: "task-1"}}
		return successResult(state.PhaseConverge), nil
	}

	o, dir := newTestOrchestrator(t, conv,
		newFakeExecutor(state.PhaseOrchestrate),
		newFakeExecutor(state.PhaseComplete),
		newFakeExecutor(state.PhaseOutput),
	)
	require.NoError(t, o.Initialize(context.Background(), dir))

	first, err := o.Start(context.Background())
	require.NoError(t, err)
	require.False(t, first.Success)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, state.PhaseOutput, result.Phase)
	assert.Equal(t, 2, attempts)

	// The retry restored the captured resume point.
	require.Len(t, conv.restored, 1)
	assert.Equal(t, "requirements:drafted", conv.restored[0].ResumePoint)
}

func TestOrchestrator_StateIsDeepCopy(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	require.NoError(t, o.Initialize(context.Background(), dir))

	s := o.State()
	s.Name = "tampered"
	s.PendingTasks = append(s.PendingTasks, state.Task{ID: "injected"})

	fresh := o.State()
	assert.NotEqual(t, "tampered", fresh.Name)
	assert.Empty(t, fresh.PendingTasks)
}

func TestOrchestrator_Events(t *testing.T) {
	o, dir := newTestOrchestrator(t, allPhaseExecutors()...)
	require.NoError(t, o.Initialize(context.Background(), dir))

	var events []Event
	o.Events().Subscribe(EventPhaseStarted, func(ev Event) { events = append(events, ev) })
	o.Events().Subscribe(EventPhaseCompleted, func(ev Event) { events = append(events, ev) })

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventPhaseStarted, events[0].Name)
	assert.Nil(t, events[0].Result)
	assert.Equal(t, EventPhaseCompleted, events[1].Name)
	require.NotNil(t, events[1].Result)
	assert.True(t, events[1].Result.Success)
}

func TestProjectProgress(t *testing.T) {
	s := state.NewProjectState("demo", "/tmp/demo")

	p := ProjectProgress(s)
	assert.Equal(t, state.PhaseIdle, p.Phase)
	assert.Zero(t, p.OverallProgress)

	s.CurrentPhase = state.PhaseOrchestrate
	s.CurrentTask = &state.Task{ID: "task-7", Title: "Wire the cache"}
	p = ProjectProgress(s)
	assert.Equal(t, 0.25, p.OverallProgress)
	assert.Equal(t, "Wire the cache", p.CurrentTask)

	s.CurrentPhase = state.PhaseOutput
	p = ProjectProgress(s)
	assert.Equal(t, 0.75, p.OverallProgress)
}
