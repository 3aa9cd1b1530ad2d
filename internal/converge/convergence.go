package converge

import (
	"math"

	"github.com/fyrsmithlabs/coco/internal/quality"
)

// decreaseTolerance is how far a score may drop between consecutive
// iterations before the run is flagged as regressing.
const decreaseTolerance = -5.0

// Decision is the Convergence Gate's verdict for one iteration.
type Decision struct {
	Converged bool
	Reason    string
}

// checkConvergence applies the gate checks in strict order: iteration floor,
// score minimum, critical issues, then the delta between the two most recent
// scores. Only a small, stable delta converges; everything else keeps
// iterating.
func checkConvergence(history []float64, review *quality.Review, iteration int, th quality.Thresholds) Decision {
	if iteration < th.MinConvergenceIterations {
		return Decision{Reason: "minimum iterations not reached"}
	}

	score := history[len(history)-1]
	if score < th.MinScore {
		return Decision{Reason: "below minimum"}
	}
	if review.HasCritical() {
		return Decision{Reason: "critical issues remain"}
	}

	// A single-entry history has no delta yet; only possible when the
	// iteration floor is configured down to one.
	if len(history) < 2 {
		return Decision{Reason: "still improving"}
	}

	delta := history[len(history)-1] - history[len(history)-2]
	if delta < decreaseTolerance {
		return Decision{Reason: "score is decreasing"}
	}
	if math.Abs(delta) < th.ConvergenceThreshold {
		return Decision{Converged: true, Reason: "score has stabilized"}
	}
	return Decision{Reason: "still improving"}
}
