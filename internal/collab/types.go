package collab

import (
	"context"

	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// FileChange is one file operation requested by the generator. Path is
// relative to the project root. Delete true removes the file; otherwise
// Content replaces it wholesale.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
}

// Generation is the generator's output for one iteration.
type Generation struct {
	Files        []FileChange `json:"files"`
	Reasoning    string       `json:"reasoning,omitempty"`
	Confidence   float64      `json:"confidence"`
	Improvements []string     `json:"improvements,omitempty"`
}

// ReviewRequest carries everything a judge needs for one iteration.
type ReviewRequest struct {
	Task        *state.Task
	Files       []FileChange
	TestResults *quality.TestResults
	Iteration   int
}

// Reviewer judges one iteration's output. The LLM-backed reviewer and
// external evaluators both satisfy it.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*quality.Review, error)
}

// EvaluateFunc is the signature of an external static scorer.
type EvaluateFunc func(ctx context.Context, paths []string) (*quality.Review, error)

// Evaluator adapts an external static scorer to the Reviewer interface.
// The scorer sees the changed paths; task context and test results are the
// LLM reviewer's concern.
type Evaluator struct {
	fn EvaluateFunc
}

// NewEvaluator wraps fn as a Reviewer.
func NewEvaluator(fn EvaluateFunc) *Evaluator {
	return &Evaluator{fn: fn}
}

// Review implements Reviewer by delegating to the wrapped scorer.
func (e *Evaluator) Review(ctx context.Context, req ReviewRequest) (*quality.Review, error) {
	paths := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		paths = append(paths, f.Path)
	}
	return e.fn(ctx, paths)
}
