package converge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/coco/internal/quality"
)

func gateThresholds() quality.Thresholds {
	return quality.Thresholds{
		MinScore:                 85,
		MinCoverage:              80,
		ConvergenceThreshold:     2.0,
		MinConvergenceIterations: 2,
		MaxIterations:            10,
	}
}

func TestCheckConvergence(t *testing.T) {
	clean := &quality.Review{}
	critical := &quality.Review{Issues: []quality.Issue{
		{Severity: quality.SeverityCritical, Description: "unsanitized SQL in query builder"},
	}}

	tests := []struct {
		name      string
		history   []float64
		review    *quality.Review
		iteration int
		converged bool
		reason    string
	}{
		{
			name:      "iteration floor not reached",
			history:   []float64{90},
			review:    clean,
			iteration: 1,
			reason:    "minimum iterations not reached",
		},
		{
			name:      "floor precedes score check",
			history:   []float64{70},
			review:    clean,
			iteration: 1,
			reason:    "minimum iterations not reached",
		},
		{
			name:      "stabilized",
			history:   []float64{88, 89, 90},
			review:    clean,
			iteration: 3,
			converged: true,
			reason:    "score has stabilized",
		},
		{
			name:      "decreasing",
			history:   []float64{95, 88},
			review:    clean,
			iteration: 2,
			reason:    "score is decreasing",
		},
		{
			name:      "still improving",
			history:   []float64{86, 92},
			review:    clean,
			iteration: 2,
			reason:    "still improving",
		},
		{
			name:      "below minimum",
			history:   []float64{70, 80},
			review:    clean,
			iteration: 2,
			reason:    "below minimum",
		},
		{
			name:      "below minimum precedes critical check",
			history:   []float64{70, 80},
			review:    critical,
			iteration: 2,
			reason:    "below minimum",
		},
		{
			name:      "critical issues block convergence",
			history:   []float64{90, 91},
			review:    critical,
			iteration: 2,
			reason:    "critical issues remain",
		},
		{
			name:      "delta equal to threshold is not stable",
			history:   []float64{88, 90},
			review:    clean,
			iteration: 2,
			reason:    "still improving",
		},
		{
			name:      "drop of exactly five is not decreasing",
			history:   []float64{95, 90},
			review:    clean,
			iteration: 2,
			reason:    "still improving",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checkConvergence(tt.history, tt.review, tt.iteration, gateThresholds())
			assert.Equal(t, tt.converged, d.Converged)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestCheckConvergence_SingleEntryHistory(t *testing.T) {
	th := gateThresholds()
	th.MinConvergenceIterations = 1

	d := checkConvergence([]float64{92}, &quality.Review{}, 1, th)
	assert.False(t, d.Converged)
	assert.Equal(t, "still improving", d.Reason)
}
