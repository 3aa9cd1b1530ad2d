package phases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/converge"
	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// TaskLogDir holds per-task version logs, relative to the project root.
const TaskLogDir = ".coco/tasks"

// taskRunner runs one task's convergence loop. converge.Iterator is the
// production implementation.
type taskRunner interface {
	Run(ctx context.Context, task *state.Task) *state.TaskResult
}

type newRunnerFunc func(ec *orchestrator.ExecContext) (taskRunner, error)

// Orchestrate works the plan: one convergence loop per pending task, in
// order. Any task failure fails the phase and the orchestrator rolls back;
// results finished before the failure ride the checkpoint so a retry does
// not redo them.
type Orchestrate struct {
	newRunner newRunnerFunc
	done      []state.TaskResult // successes this attempt, for checkpointing
	carry     []state.TaskResult // restored from a prior attempt
}

// NewOrchestrate creates the orchestrate executor backed by the convergence
// iterator.
func NewOrchestrate() *Orchestrate {
	return &Orchestrate{newRunner: newIteratorRunner}
}

func newIteratorRunner(ec *orchestrator.ExecContext) (taskRunner, error) {
	return converge.New(ec.Generator, ec.Writer, ec.Tests, ec.Reviewer, converge.Options{
		Thresholds:  ec.Thresholds,
		ProjectPath: ec.ProjectPath,
		LLMTimeout:  ec.LLMTimeout,
		TaskTimeout: ec.TaskTimeout,
	}, ec.Logger)
}

// Phase implements orchestrator.Executor.
func (o *Orchestrate) Phase() state.Phase { return state.PhaseOrchestrate }

// CanStart requires pending tasks from the converge phase.
func (o *Orchestrate) CanStart(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return len(ec.State.PendingTasks) > 0
}

// Execute drains PendingTasks through the runner. It stops at the first
// failed task; the failure result carries the task ID and the iterator's
// reason.
func (o *Orchestrate) Execute(ctx context.Context, ec *orchestrator.ExecContext) (*state.PhaseResult, error) {
	started := time.Now().UTC()

	runner, err := o.newRunner(ec)
	if err != nil {
		return nil, fmt.Errorf("building task runner: %w", err)
	}

	o.done = o.done[:0]
	// Results restored from a checkpoint are committed before any new work,
	// so tasks finished on the failed attempt are not run again.
	for _, res := range o.carry {
		if !commitTask(ec.State, &res) {
			break
		}
		o.done = append(o.done, res)
		ec.Logger.Info(ctx, "task restored from checkpoint", zap.String("task_id", res.TaskID))
	}
	o.carry = nil

	var artifacts []string
	for len(ec.State.PendingTasks) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task := ec.State.PendingTasks[0].Clone()
		ec.State.CurrentTask = task
		persistProgress(ctx, ec)

		res := runner.Run(ctx, task)
		if !res.Success {
			msg := res.Error
			if msg == "" {
				msg = fmt.Sprintf("final score %.1f below bar after %d iterations", res.FinalScore, res.Iterations)
			}
			return &state.PhaseResult{
				Phase:       state.PhaseOrchestrate,
				Success:     false,
				Error:       fmt.Sprintf("task %s: %s", task.ID, msg),
				Artifacts:   artifacts,
				Metrics:     map[string]float64{"tasksCompleted": float64(len(o.done))},
				StartedAt:   started,
				CompletedAt: time.Now().UTC(),
			}, nil
		}

		if !commitTask(ec.State, res) {
			return nil, fmt.Errorf("task %s finished but is not at the head of the pending queue", res.TaskID)
		}
		o.done = append(o.done, *res.Clone())

		if logPath, err := writeTaskLog(ec.ProjectPath, res); err != nil {
			ec.Logger.Warn(ctx, "task log not written", zap.String("task_id", res.TaskID), zap.Error(err))
		} else {
			artifacts = append(artifacts, logPath)
		}
		persistProgress(ctx, ec)

		ec.Logger.Info(ctx, "task complete",
			zap.String("task_id", res.TaskID),
			zap.Int("iterations", res.Iterations),
			zap.Float64("score", res.FinalScore),
		)
	}
	ec.State.CurrentTask = nil

	metrics := map[string]float64{"tasksCompleted": float64(len(o.done))}
	if n := len(o.done); n > 0 {
		sum := 0.0
		for _, res := range o.done {
			sum += res.FinalScore
		}
		metrics["meanScore"] = quality.Round2(sum / float64(n))
	}

	return &state.PhaseResult{
		Phase:       state.PhaseOrchestrate,
		Success:     true,
		Artifacts:   artifacts,
		Metrics:     metrics,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// CanComplete requires every planned task to have landed.
func (o *Orchestrate) CanComplete(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return len(ec.State.PendingTasks) == 0 && len(ec.State.CompletedTasks) > 0
}

// Checkpoint carries the results of tasks that finished during a failed
// attempt. The orchestrator hands it back through Restore before the next
// attempt, which resumes at the first unfinished task.
func (o *Orchestrate) Checkpoint(ec *orchestrator.ExecContext) *orchestrator.Checkpoint {
	if len(o.done) == 0 {
		return nil
	}
	return &orchestrator.Checkpoint{
		Phase:       state.PhaseOrchestrate,
		Timestamp:   time.Now().UTC(),
		State:       map[string]any{"results": append([]state.TaskResult(nil), o.done...)},
		ResumePoint: fmt.Sprintf("task:%d", len(o.done)),
	}
}

// Restore implements orchestrator.Executor.
func (o *Orchestrate) Restore(cp *orchestrator.Checkpoint, ec *orchestrator.ExecContext) error {
	raw, ok := cp.State["results"]
	if !ok {
		return errors.New("checkpoint has no task results")
	}
	results, ok := raw.([]state.TaskResult)
	if !ok {
		return fmt.Errorf("unexpected checkpoint payload %T", raw)
	}
	o.carry = append(o.carry[:0], results...)
	return nil
}

// commitTask moves the task matching res from the head of PendingTasks into
// CompletedTasks and refreshes the quality trail. It returns false when the
// head does not match, meaning the plan changed since res was produced.
func commitTask(st *state.ProjectState, res *state.TaskResult) bool {
	if len(st.PendingTasks) == 0 || st.PendingTasks[0].ID != res.TaskID {
		return false
	}
	st.PendingTasks = st.PendingTasks[1:]
	st.CompletedTasks = append(st.CompletedTasks, *res.Clone())
	st.CurrentTask = nil

	if n := len(res.Versions); n > 0 {
		scores := res.Versions[n-1].Scores.Clone()
		st.LastScores = &scores
		st.QualityHistory = append(st.QualityHistory, state.QualityRecord{
			TaskID:    res.TaskID,
			Scores:    scores,
			Timestamp: time.Now().UTC(),
		})
	}
	return true
}

// persistProgress saves mid-phase state so status followers see task
// movement. Failures only log; the phase outcome decides what is durable.
func persistProgress(ctx context.Context, ec *orchestrator.ExecContext) {
	if ec.Store == nil {
		return
	}
	if err := ec.Store.Save(ec.State); err != nil {
		ec.Logger.Warn(ctx, "mid-phase state save failed", zap.Error(err))
	}
}

func writeTaskLog(projectPath string, res *state.TaskResult) (string, error) {
	dir := filepath.Join(state.CocoDir(projectPath), "tasks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	name := res.TaskID + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", err
	}
	return path.Join(TaskLogDir, name), nil
}
