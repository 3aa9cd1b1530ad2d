package converge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// scriptedGenerator serves canned generations in call order, repeating the
// last entry. Improve records the review it was handed.
type scriptedGenerator struct {
	outs  []*collab.Generation
	errs  []error
	calls int

	improveReviews []*quality.Review
	lastPrior      *collab.Generation
}

func (g *scriptedGenerator) take() (*collab.Generation, error) {
	i := min(g.calls, len(g.outs)-1)
	g.calls++
	if g.errs != nil {
		j := min(i, len(g.errs)-1)
		if g.errs[j] != nil {
			return nil, g.errs[j]
		}
	}
	return g.outs[i], nil
}

func (g *scriptedGenerator) Generate(_ context.Context, _ *state.Task) (*collab.Generation, error) {
	return g.take()
}

func (g *scriptedGenerator) Improve(_ context.Context, _ *state.Task, review *quality.Review, prior *collab.Generation) (*collab.Generation, error) {
	g.improveReviews = append(g.improveReviews, review)
	g.lastPrior = prior
	return g.take()
}

// recordingApplier echoes changes back as created files with a diff per path.
type recordingApplier struct {
	batches [][]collab.FileChange
	err     error
}

func (a *recordingApplier) Apply(_ context.Context, changes []collab.FileChange) (*collab.ApplyResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.batches = append(a.batches, changes)
	res := &collab.ApplyResult{Diffs: make(map[string]string)}
	for _, c := range changes {
		if c.Delete {
			res.Changes.FilesDeleted = append(res.Changes.FilesDeleted, c.Path)
			continue
		}
		res.Changes.FilesCreated = append(res.Changes.FilesCreated, c.Path)
		res.Diffs[c.Path] = "@@ " + c.Path
	}
	return res, nil
}

type scriptedRunner struct {
	results []*quality.TestResults
	err     error
	calls   int
}

func (r *scriptedRunner) Run(_ context.Context, _ string) (*quality.TestResults, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.results[min(r.calls-1, len(r.results)-1)], nil
}

// blockingRunner parks until the context expires.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ string) (*quality.TestResults, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type scriptedReviewer struct {
	reviews []*quality.Review
	errs    []error
	calls   int
	reqs    []collab.ReviewRequest
}

func (r *scriptedReviewer) Review(_ context.Context, req collab.ReviewRequest) (*quality.Review, error) {
	i := min(r.calls, len(r.reviews)-1)
	r.calls++
	r.reqs = append(r.reqs, req)
	if r.errs != nil {
		j := min(i, len(r.errs)-1)
		if r.errs[j] != nil {
			return nil, r.errs[j]
		}
	}
	return r.reviews[i], nil
}

func reviewWith(overall float64, passed bool, issues ...quality.Issue) *quality.Review {
	return &quality.Review{
		Scores: quality.Scores{Overall: overall},
		Issues: issues,
		Passed: passed,
	}
}

func genWith(reasoning string, paths ...string) *collab.Generation {
	g := &collab.Generation{Reasoning: reasoning, Confidence: 0.8}
	for _, p := range paths {
		g.Files = append(g.Files, collab.FileChange{Path: p, Content: "package x\n"})
	}
	return g
}

func testOptions() Options {
	return Options{
		Thresholds:  gateThresholds(),
		ProjectPath: "/tmp/project",
	}
}

func newTestIterator(t *testing.T, gen Generator, applier FileApplier, runner TestRunner, reviewer collab.Reviewer, opts Options) *Iterator {
	t.Helper()
	it, err := New(gen, applier, runner, reviewer, opts, nil)
	require.NoError(t, err)
	return it
}

func TestIterator_PassGateStopsEarly(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("first cut", "pkg/a.go")}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(96, true)}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 10, Coverage: 90}}}

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, testOptions())
	result := it.Run(context.Background(), &state.Task{ID: "task-1", Title: "Add parser"})

	assert.True(t, result.Success)
	assert.True(t, result.Converged)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 96.0, result.FinalScore)
	assert.Empty(t, result.Error)
	assert.Len(t, result.Versions, 1)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, gen.improveReviews)
}

func TestIterator_ConvergesViaPassGate(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{
		genWith("first cut", "pkg/a.go"),
		genWith("fix error handling", "pkg/a.go"),
		genWith("add edge case tests", "pkg/a_test.go"),
	}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{
		reviewWith(70, false, quality.Issue{Severity: quality.SeverityError, Description: "missing error check"}),
		reviewWith(88, false),
		reviewWith(90, true),
	}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 8, Coverage: 86.5}}}

	var progress [][2]float64
	opts := testOptions()
	opts.OnProgress = func(iteration int, overall float64) {
		progress = append(progress, [2]float64{float64(iteration), overall})
	}

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, opts)
	result := it.Run(context.Background(), &state.Task{ID: "task-1", Title: "Add parser"})

	assert.True(t, result.Success)
	assert.True(t, result.Converged)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 90.0, result.FinalScore)
	require.Len(t, result.Versions, 3)

	// Improve sees the previous review and the prior generation.
	require.Len(t, gen.improveReviews, 2)
	assert.Equal(t, 70.0, gen.improveReviews[0].Scores.Overall)
	assert.Equal(t, 88.0, gen.improveReviews[1].Scores.Overall)
	assert.Equal(t, "fix error handling", gen.lastPrior.Reasoning)

	assert.Equal(t, [][2]float64{{1, 70}, {2, 88}, {3, 90}}, progress)

	// Versions carry the full iteration record.
	v := result.Versions[0]
	assert.Equal(t, 1, v.Version)
	assert.False(t, v.Timestamp.IsZero())
	assert.Equal(t, []string{"pkg/a.go"}, v.Changes.FilesCreated)
	assert.Contains(t, v.Diffs, "pkg/a.go")
	assert.Equal(t, 70.0, v.Scores.Overall)
	assert.Equal(t, 86.5, v.TestResults.Coverage)
	assert.Equal(t, 1, v.Analysis.IssuesFound)
	assert.Equal(t, "first cut", v.Analysis.Reasoning)
	assert.Equal(t, 0.8, v.Analysis.Confidence)

	// Reviewer receives the iteration number and test results each round.
	require.Len(t, reviewer.reqs, 3)
	assert.Equal(t, 2, reviewer.reqs[1].Iteration)
	assert.Equal(t, 86.5, reviewer.reqs[1].TestResults.Coverage)
}

func TestIterator_ConvergesWhenScoreStabilizes(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("work", "pkg/a.go")}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{
		reviewWith(70, false),
		reviewWith(88, false),
		reviewWith(89, false),
	}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 5, Coverage: 70}}}

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, testOptions())
	result := it.Run(context.Background(), &state.Task{ID: "task-2"})

	assert.True(t, result.Success)
	assert.True(t, result.Converged)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 89.0, result.FinalScore)
	assert.Empty(t, result.Error)
}

func TestIterator_MaxIterationsWithCriticals(t *testing.T) {
	critical := quality.Issue{Severity: quality.SeverityCritical, Description: "credentials in source"}
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("attempt", "pkg/a.go")}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(82, false, critical)}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 3, Coverage: 85}}}

	opts := testOptions()
	opts.Thresholds.MaxIterations = 4

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, opts)
	result := it.Run(context.Background(), &state.Task{ID: "task-3"})

	assert.False(t, result.Success)
	assert.False(t, result.Converged)
	assert.Equal(t, 4, result.Iterations)
	assert.Equal(t, "max iterations reached", result.Error)
	assert.Equal(t, 82.0, result.FinalScore)
	assert.Len(t, result.Versions, 4)
}

func TestIterator_MaxIterationsAboveMinScoreIsSuccess(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("attempt", "pkg/a.go")}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{
		reviewWith(85, false),
		reviewWith(88, false),
		reviewWith(91, false),
		reviewWith(94, false),
	}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 3, Coverage: 60}}}

	opts := testOptions()
	opts.Thresholds.MaxIterations = 4

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, opts)
	result := it.Run(context.Background(), &state.Task{ID: "task-4"})

	assert.True(t, result.Success)
	assert.False(t, result.Converged)
	assert.Equal(t, "max iterations reached", result.Error)
	assert.Equal(t, 94.0, result.FinalScore)
}

func TestIterator_GeneratorErrorAborts(t *testing.T) {
	gen := &scriptedGenerator{
		outs: []*collab.Generation{genWith("first cut", "pkg/a.go"), nil},
		errs: []error{nil, assert.AnError},
	}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(70, false)}}
	runner := &scriptedRunner{results: []*quality.TestResults{{Passed: 1, Coverage: 50}}}

	it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, testOptions())
	result := it.Run(context.Background(), &state.Task{ID: "task-5"})

	assert.False(t, result.Success)
	assert.False(t, result.Converged)
	assert.Equal(t, 2, result.Iterations)
	assert.Contains(t, result.Error, "generating iteration 2")
	assert.Len(t, result.Versions, 1)
	assert.Equal(t, 70.0, result.FinalScore)
}

func TestIterator_CollaboratorErrorsAbort(t *testing.T) {
	t.Run("applier", func(t *testing.T) {
		gen := &scriptedGenerator{outs: []*collab.Generation{genWith("x", "pkg/a.go")}}
		reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(90, true)}}
		runner := &scriptedRunner{results: []*quality.TestResults{{}}}

		it := newTestIterator(t, gen, &recordingApplier{err: assert.AnError}, runner, reviewer, testOptions())
		result := it.Run(context.Background(), &state.Task{ID: "t"})

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "applying iteration 1")
		assert.Empty(t, result.Versions)
	})

	t.Run("test runner", func(t *testing.T) {
		gen := &scriptedGenerator{outs: []*collab.Generation{genWith("x", "pkg/a.go")}}
		reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(90, true)}}
		runner := &scriptedRunner{err: assert.AnError}

		it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, testOptions())
		result := it.Run(context.Background(), &state.Task{ID: "t"})

		assert.Contains(t, result.Error, "testing iteration 1")
	})

	t.Run("reviewer", func(t *testing.T) {
		gen := &scriptedGenerator{outs: []*collab.Generation{genWith("x", "pkg/a.go")}}
		reviewer := &scriptedReviewer{reviews: []*quality.Review{nil}, errs: []error{assert.AnError}}
		runner := &scriptedRunner{results: []*quality.TestResults{{}}}

		it := newTestIterator(t, gen, &recordingApplier{}, runner, reviewer, testOptions())
		result := it.Run(context.Background(), &state.Task{ID: "t"})

		assert.Contains(t, result.Error, "reviewing iteration 1")
		assert.Zero(t, result.FinalScore)
	})
}

func TestIterator_TaskTimeout(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("x", "pkg/a.go")}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(90, true)}}

	opts := testOptions()
	opts.TaskTimeout = 50 * time.Millisecond

	it := newTestIterator(t, gen, &recordingApplier{}, blockingRunner{}, reviewer, opts)
	result := it.Run(context.Background(), &state.Task{ID: "task-6"})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Iterations)
	assert.Contains(t, result.Error, context.DeadlineExceeded.Error())
}

func TestNew_Validation(t *testing.T) {
	gen := &scriptedGenerator{outs: []*collab.Generation{genWith("x")}}
	applier := &recordingApplier{}
	runner := &scriptedRunner{results: []*quality.TestResults{{}}}
	reviewer := &scriptedReviewer{reviews: []*quality.Review{reviewWith(0, false)}}

	_, err := New(nil, applier, runner, reviewer, Options{}, nil)
	assert.Error(t, err)
	_, err = New(gen, nil, runner, reviewer, Options{}, nil)
	assert.Error(t, err)
	_, err = New(gen, applier, nil, reviewer, Options{}, nil)
	assert.Error(t, err)
	_, err = New(gen, applier, runner, nil, Options{}, nil)
	assert.Error(t, err)

	it, err := New(gen, applier, runner, reviewer, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, quality.DefaultMaxIterations, it.opts.Thresholds.MaxIterations)
	assert.Equal(t, quality.DefaultMinScore, it.opts.Thresholds.MinScore)
}
