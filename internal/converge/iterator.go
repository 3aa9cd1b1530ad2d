package converge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// Generator produces candidate implementations for a task.
type Generator interface {
	Generate(ctx context.Context, task *state.Task) (*collab.Generation, error)
	Improve(ctx context.Context, task *state.Task, review *quality.Review, prior *collab.Generation) (*collab.Generation, error)
}

// FileApplier lands generated file changes in the project tree.
type FileApplier interface {
	Apply(ctx context.Context, changes []collab.FileChange) (*collab.ApplyResult, error)
}

// TestRunner executes the project test suite and parses its output.
type TestRunner interface {
	Run(ctx context.Context, projectPath string) (*quality.TestResults, error)
}

var (
	_ Generator   = (*collab.Generator)(nil)
	_ FileApplier = (*collab.FileWriter)(nil)
	_ TestRunner  = (*collab.TestRunner)(nil)
)

// Options configures an Iterator. Zero threshold fields take their defaults;
// zero timeouts leave the caller's context deadlines in charge.
type Options struct {
	Thresholds  quality.Thresholds
	ProjectPath string

	// LLMTimeout bounds each individual generator and reviewer call.
	LLMTimeout time.Duration
	// TaskTimeout bounds the whole run.
	TaskTimeout time.Duration

	// OnProgress, when set, is called after each iteration's review with the
	// iteration number and the overall score it produced.
	OnProgress func(iteration int, overall float64)
}

// Iterator drives one task through the generate, apply, test, review loop
// until it passes, stabilizes, or exhausts the iteration budget.
type Iterator struct {
	gen      Generator
	writer   FileApplier
	tests    TestRunner
	reviewer collab.Reviewer
	opts     Options
	logger   *logging.Logger
}

// New creates an Iterator. All four collaborators are required.
func New(gen Generator, writer FileApplier, tests TestRunner, reviewer collab.Reviewer, opts Options, logger *logging.Logger) (*Iterator, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if writer == nil {
		return nil, errors.New("file applier is required")
	}
	if tests == nil {
		return nil, errors.New("test runner is required")
	}
	if reviewer == nil {
		return nil, errors.New("reviewer is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	opts.Thresholds.ApplyDefaults()
	return &Iterator{
		gen:      gen,
		writer:   writer,
		tests:    tests,
		reviewer: reviewer,
		opts:     opts,
		logger:   logger.Named("converge"),
	}, nil
}

// Run drives task to completion. The returned result always describes the
// outcome; collaborator failures are reported through its Error field rather
// than as a Go error, with the versions recorded up to that point.
func (it *Iterator) Run(ctx context.Context, task *state.Task) *state.TaskResult {
	if it.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.opts.TaskTimeout)
		defer cancel()
	}

	result := &state.TaskResult{TaskID: task.ID}
	var (
		history []float64
		gen     *collab.Generation
		review  *quality.Review
	)

	for iteration := 1; iteration <= it.opts.Thresholds.MaxIterations; iteration++ {
		result.Iterations = iteration

		var err error
		gen, err = it.generate(ctx, task, review, gen, iteration)
		if err != nil {
			return it.abort(ctx, result, fmt.Errorf("generating iteration %d: %w", iteration, err))
		}

		applied, err := it.writer.Apply(ctx, gen.Files)
		if err != nil {
			return it.abort(ctx, result, fmt.Errorf("applying iteration %d: %w", iteration, err))
		}

		tests, err := it.tests.Run(ctx, it.opts.ProjectPath)
		if err != nil {
			return it.abort(ctx, result, fmt.Errorf("testing iteration %d: %w", iteration, err))
		}

		review, err = it.review(ctx, task, gen, tests, iteration)
		if err != nil {
			return it.abort(ctx, result, fmt.Errorf("reviewing iteration %d: %w", iteration, err))
		}

		result.Versions = append(result.Versions, buildVersion(iteration, applied, tests, review, gen))
		history = append(history, review.Scores.Overall)
		result.FinalScore = review.Scores.Overall

		if it.opts.OnProgress != nil {
			it.opts.OnProgress(iteration, review.Scores.Overall)
		}

		if review.Passed {
			result.Success = true
			result.Converged = true
			it.logger.Info(ctx, "task passed quality gates",
				zap.String("task_id", task.ID),
				zap.Int("iteration", iteration),
				zap.Float64("score", review.Scores.Overall),
			)
			return result
		}

		decision := checkConvergence(history, review, iteration, it.opts.Thresholds)
		it.logger.Debug(ctx, "convergence check",
			zap.String("task_id", task.ID),
			zap.Int("iteration", iteration),
			zap.Float64("score", review.Scores.Overall),
			zap.Bool("converged", decision.Converged),
			zap.String("reason", decision.Reason),
		)
		if decision.Converged {
			result.Success = true
			result.Converged = true
			it.logger.Info(ctx, "task converged",
				zap.String("task_id", task.ID),
				zap.Int("iteration", iteration),
				zap.Float64("score", review.Scores.Overall),
				zap.String("reason", decision.Reason),
			)
			return result
		}
	}

	result.Converged = false
	result.Error = "max iterations reached"
	result.Success = result.FinalScore >= it.opts.Thresholds.MinScore
	it.logger.Warn(ctx, "iteration budget exhausted",
		zap.String("task_id", task.ID),
		zap.Int("iterations", result.Iterations),
		zap.Float64("final_score", result.FinalScore),
		zap.Bool("success", result.Success),
	)
	return result
}

func (it *Iterator) generate(ctx context.Context, task *state.Task, review *quality.Review, prior *collab.Generation, iteration int) (*collab.Generation, error) {
	ctx, cancel := it.llmContext(ctx)
	defer cancel()
	if iteration == 1 {
		return it.gen.Generate(ctx, task)
	}
	return it.gen.Improve(ctx, task, review, prior)
}

func (it *Iterator) review(ctx context.Context, task *state.Task, gen *collab.Generation, tests *quality.TestResults, iteration int) (*quality.Review, error) {
	ctx, cancel := it.llmContext(ctx)
	defer cancel()
	return it.reviewer.Review(ctx, collab.ReviewRequest{
		Task:        task,
		Files:       gen.Files,
		TestResults: tests,
		Iteration:   iteration,
	})
}

func (it *Iterator) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if it.opts.LLMTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, it.opts.LLMTimeout)
}

func (it *Iterator) abort(ctx context.Context, result *state.TaskResult, err error) *state.TaskResult {
	result.Success = false
	result.Converged = false
	result.Error = err.Error()
	it.logger.Error(ctx, "task aborted",
		zap.String("task_id", result.TaskID),
		zap.Int("iteration", result.Iterations),
		zap.Error(err),
	)
	return result
}

func buildVersion(iteration int, applied *collab.ApplyResult, tests *quality.TestResults, review *quality.Review, gen *collab.Generation) state.Version {
	return state.Version{
		Version:     iteration,
		Timestamp:   time.Now().UTC(),
		Changes:     applied.Changes.Clone(),
		Diffs:       applied.Diffs,
		Scores:      review.Scores.Clone(),
		TestResults: tests.Clone(),
		Analysis: state.VersionAnalysis{
			IssuesFound:         len(review.Issues),
			ImprovementsApplied: gen.Improvements,
			Reasoning:           gen.Reasoning,
			Confidence:          gen.Confidence,
		},
	}
}
