package phases

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// FinalReviewFile is the complete-phase artifact, relative to the project root.
const FinalReviewFile = ".coco/final-review.json"

// Caps on what the final review sends to the model.
const (
	maxReviewFiles = 24
	maxReviewBytes = 96 * 1024
)

// Complete validates the delivered project: the full test suite must pass
// and a final review must clear the quality bar. Coverage is not gated here;
// it is judged per task where the runner's parsed figure is authoritative.
type Complete struct{}

// NewComplete creates the complete executor.
func NewComplete() *Complete { return &Complete{} }

// Phase implements orchestrator.Executor.
func (c *Complete) Phase() state.Phase { return state.PhaseComplete }

// CanStart requires the plan to be fully worked.
func (c *Complete) CanStart(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return len(ec.State.PendingTasks) == 0 && len(ec.State.CompletedTasks) > 0
}

// Execute runs the suite and the final review. Test failures, critical
// issues, and a below-minimum score each produce a failure result.
func (c *Complete) Execute(ctx context.Context, ec *orchestrator.ExecContext) (*state.PhaseResult, error) {
	started := time.Now().UTC()

	results, err := ec.Tests.Run(ctx, ec.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("final test run: %w", err)
	}
	if results.Failed > 0 {
		return failureResult(state.PhaseComplete, started,
			fmt.Sprintf("final test suite has %d failing tests", results.Failed)), nil
	}

	review, err := c.finalReview(ctx, ec, results)
	if err != nil {
		return nil, err
	}

	var artifacts []string
	if artifact, err := writeFinalReview(ec.ProjectPath, review); err != nil {
		ec.Logger.Warn(ctx, "final review artifact not written", zap.Error(err))
	} else {
		artifacts = append(artifacts, artifact)
	}

	if review.HasCritical() {
		res := failureResult(state.PhaseComplete, started,
			fmt.Sprintf("final review found %d critical issues", review.CriticalCount()))
		res.Artifacts = artifacts
		return res, nil
	}
	if review.Scores.Overall < ec.Thresholds.MinScore {
		res := failureResult(state.PhaseComplete, started,
			fmt.Sprintf("final score %.1f below minimum %.1f", review.Scores.Overall, ec.Thresholds.MinScore))
		res.Artifacts = artifacts
		return res, nil
	}

	scores := review.Scores.Clone()
	ec.State.LastScores = &scores
	ec.State.QualityHistory = append(ec.State.QualityHistory, state.QualityRecord{
		Scores:    scores,
		Timestamp: time.Now().UTC(),
	})

	ec.Logger.Info(ctx, "final validation passed",
		zap.Float64("overall", review.Scores.Overall),
		zap.Int("tests_passed", results.Passed),
		zap.Float64("coverage", results.Coverage),
	)

	return &state.PhaseResult{
		Phase:     state.PhaseComplete,
		Success:   true,
		Artifacts: artifacts,
		Metrics: map[string]float64{
			"overall":     review.Scores.Overall,
			"testsPassed": float64(results.Passed),
			"coverage":    results.Coverage,
		},
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// CanComplete requires the recorded final score to clear the bar.
func (c *Complete) CanComplete(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return ec.State.LastScores != nil && ec.State.LastScores.Overall >= ec.Thresholds.MinScore
}

// Checkpoint returns nil: the phase re-runs from scratch cheaply.
func (c *Complete) Checkpoint(ec *orchestrator.ExecContext) *orchestrator.Checkpoint {
	return nil
}

// Restore implements orchestrator.Executor.
func (c *Complete) Restore(cp *orchestrator.Checkpoint, ec *orchestrator.ExecContext) error {
	return nil
}

func (c *Complete) finalReview(ctx context.Context, ec *orchestrator.ExecContext, results *quality.TestResults) (*quality.Review, error) {
	task := &state.Task{
		ID:          "final_review",
		Title:       "Final validation of " + ec.State.Name,
		Description: "Judge the project as delivered. All planned tasks are implemented and the full test suite has run.",
	}
	req := collab.ReviewRequest{
		Task:        task,
		Files:       finalReviewFiles(ec),
		TestResults: results,
		Iteration:   1,
	}

	llmCtx := ctx
	if ec.LLMTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, ec.LLMTimeout)
		defer cancel()
	}
	review, err := ec.Reviewer.Review(llmCtx, req)
	if err != nil {
		return nil, fmt.Errorf("final review: %w", err)
	}
	return review, nil
}

// finalReviewFiles re-reads the files the pipeline touched, capped so the
// review prompt stays bounded.
func finalReviewFiles(ec *orchestrator.ExecContext) []collab.FileChange {
	var (
		files []collab.FileChange
		total int
	)
	for _, rel := range touchedFiles(ec.State.CompletedTasks) {
		if len(files) >= maxReviewFiles || total >= maxReviewBytes {
			break
		}
		content, err := os.ReadFile(filepath.Join(ec.ProjectPath, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if !utf8.Valid(content) {
			continue
		}
		total += len(content)
		files = append(files, collab.FileChange{Path: rel, Content: string(content)})
	}
	return files
}

// touchedFiles returns the files the pipeline created or modified, in
// first-touch order, minus files whose last change was a delete.
func touchedFiles(tasks []state.TaskResult) []string {
	var order []string
	alive := map[string]bool{}
	record := func(p string, exists bool) {
		if _, seen := alive[p]; !seen {
			order = append(order, p)
		}
		alive[p] = exists
	}
	for _, tr := range tasks {
		for _, v := range tr.Versions {
			for _, p := range v.Changes.FilesCreated {
				record(p, true)
			}
			for _, p := range v.Changes.FilesModified {
				record(p, true)
			}
			for _, p := range v.Changes.FilesDeleted {
				record(p, false)
			}
		}
	}
	out := order[:0:0]
	for _, p := range order {
		if alive[p] {
			out = append(out, p)
		}
	}
	return out
}

func writeFinalReview(projectPath string, review *quality.Review) (string, error) {
	data, err := json.MarshalIndent(review, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(state.CocoDir(projectPath), "final-review.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return FinalReviewFile, nil
}
