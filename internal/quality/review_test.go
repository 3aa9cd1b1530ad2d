package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReview_CriticalCount(t *testing.T) {
	r := &Review{
		Issues: []Issue{
			{Severity: SeverityInfo, Description: "nit"},
			{Severity: SeverityCritical, Description: "sql injection"},
			{Severity: SeverityWarning, Description: "long function"},
			{Severity: SeverityCritical, Description: "nil deref"},
		},
	}

	assert.Equal(t, 2, r.CriticalCount())
	assert.True(t, r.HasCritical())

	clean := &Review{Issues: []Issue{{Severity: SeverityError, Description: "bug"}}}
	assert.False(t, clean.HasCritical())
}

func TestReview_Clone(t *testing.T) {
	orig := &Review{
		Scores:      NewScores(uniformDims(90)),
		Issues:      []Issue{{Severity: SeverityWarning, Description: "w"}},
		Suggestions: []string{"add tests"},
		Passed:      true,
		Summary:     "looks good",
	}

	clone := orig.Clone()
	require.NotSame(t, orig, clone)

	clone.Issues[0].Description = "changed"
	clone.Suggestions[0] = "changed"
	clone.Scores.Dimensions[DimStyle] = 1

	assert.Equal(t, "w", orig.Issues[0].Description)
	assert.Equal(t, "add tests", orig.Suggestions[0])
	assert.Equal(t, 90.0, orig.Scores.Dimensions[DimStyle])
}

func TestEvaluatePassed(t *testing.T) {
	th := Thresholds{MinScore: 85, MinCoverage: 80}

	tests := []struct {
		name     string
		overall  float64
		coverage float64
		issues   []Issue
		want     bool
	}{
		{"all clear", 90, 85, nil, true},
		{"at the minimums", 85, 80, nil, true},
		{"score below minimum", 84.99, 90, nil, false},
		{"coverage below minimum", 95, 79, nil, false},
		{"critical issue", 95, 95, []Issue{{Severity: SeverityCritical}}, false},
		{"non-critical issues allowed", 95, 95, []Issue{{Severity: SeverityError}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := Scores{Overall: tt.overall}
			got := EvaluatePassed(scores, tt.coverage, tt.issues, th)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThresholds_ApplyDefaults(t *testing.T) {
	var th Thresholds
	th.ApplyDefaults()

	assert.Equal(t, DefaultMinScore, th.MinScore)
	assert.Equal(t, DefaultMinCoverage, th.MinCoverage)
	assert.Equal(t, DefaultConvergenceThreshold, th.ConvergenceThreshold)
	assert.Equal(t, DefaultMinConvergenceIterations, th.MinConvergenceIterations)
	assert.Equal(t, DefaultMaxIterations, th.MaxIterations)
	require.NoError(t, th.Validate())
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Thresholds)
		wantErr bool
	}{
		{"defaults valid", func(t *Thresholds) {}, false},
		{"negative min score", func(t *Thresholds) { t.MinScore = -1 }, true},
		{"min score above 100", func(t *Thresholds) { t.MinScore = 101 }, true},
		{"zero convergence threshold", func(t *Thresholds) { t.ConvergenceThreshold = 0 }, true},
		{"zero min iterations", func(t *Thresholds) { t.MinConvergenceIterations = 0 }, true},
		{"max below min iterations", func(t *Thresholds) {
			t.MinConvergenceIterations = 5
			t.MaxIterations = 3
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)
			err := th.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
