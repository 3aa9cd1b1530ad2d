package quality

import (
	"fmt"
	"math"
)

// Dimension identifies one weighted quality axis.
type Dimension string

const (
	DimCorrectness     Dimension = "correctness"
	DimCompleteness    Dimension = "completeness"
	DimRobustness      Dimension = "robustness"
	DimReadability     Dimension = "readability"
	DimMaintainability Dimension = "maintainability"
	DimComplexity      Dimension = "complexity"
	DimDuplication     Dimension = "duplication"
	DimTestCoverage    Dimension = "testCoverage"
	DimTestQuality     Dimension = "testQuality"
	DimSecurity        Dimension = "security"
	DimDocumentation   Dimension = "documentation"
	DimStyle           Dimension = "style"
)

// dimensionWeights is the fixed weight table. Weights must sum to 1.0;
// Overall = Σ(dimension × weight) rounded to two decimals.
var dimensionWeights = map[Dimension]float64{
	DimCorrectness:     0.20,
	DimCompleteness:    0.13,
	DimRobustness:      0.10,
	DimReadability:     0.08,
	DimMaintainability: 0.09,
	DimComplexity:      0.05,
	DimDuplication:     0.05,
	DimTestCoverage:    0.10,
	DimTestQuality:     0.05,
	DimSecurity:        0.08,
	DimDocumentation:   0.04,
	DimStyle:           0.03,
}

// AllDimensions returns the dimensions in a stable order.
func AllDimensions() []Dimension {
	return []Dimension{
		DimCorrectness,
		DimCompleteness,
		DimRobustness,
		DimReadability,
		DimMaintainability,
		DimComplexity,
		DimDuplication,
		DimTestCoverage,
		DimTestQuality,
		DimSecurity,
		DimDocumentation,
		DimStyle,
	}
}

// Weights returns a copy of the dimension weight table.
func Weights() map[Dimension]float64 {
	w := make(map[Dimension]float64, len(dimensionWeights))
	for k, v := range dimensionWeights {
		w[k] = v
	}
	return w
}

// Weight returns the weight for a single dimension (0 for unknown).
func Weight(d Dimension) float64 {
	return dimensionWeights[d]
}

// ValidateWeights confirms the weight table invariant. Exposed so a test can
// pin the table; adding or reweighting a dimension must keep the sum at 1.0.
func ValidateWeights() error {
	var sum float64
	for _, w := range dimensionWeights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("dimension weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Scores is the quality result for one candidate: an overall 0-100 score and
// the per-dimension scores it was derived from.
type Scores struct {
	Overall    float64               `json:"overall"`
	Dimensions map[Dimension]float64 `json:"dimensions"`
}

// NewScores builds Scores from per-dimension values, deriving Overall from
// the weight table. Missing dimensions contribute zero.
func NewScores(dims map[Dimension]float64) Scores {
	s := Scores{Dimensions: make(map[Dimension]float64, len(dimensionWeights))}
	for _, d := range AllDimensions() {
		s.Dimensions[d] = dims[d]
	}
	s.Overall = ComputeOverall(s.Dimensions)
	return s
}

// ComputeOverall returns the weighted sum of the dimension scores, rounded
// to two decimals.
func ComputeOverall(dims map[Dimension]float64) float64 {
	var overall float64
	for d, w := range dimensionWeights {
		overall += dims[d] * w
	}
	return Round2(overall)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Clone returns a deep copy.
func (s Scores) Clone() Scores {
	out := Scores{Overall: s.Overall}
	if s.Dimensions != nil {
		out.Dimensions = make(map[Dimension]float64, len(s.Dimensions))
		for k, v := range s.Dimensions {
			out.Dimensions[k] = v
		}
	}
	return out
}

// Validate checks score ranges.
func (s Scores) Validate() error {
	if s.Overall < 0 || s.Overall > 100 {
		return fmt.Errorf("overall score %v out of range [0,100]", s.Overall)
	}
	for d, v := range s.Dimensions {
		if v < 0 || v > 100 {
			return fmt.Errorf("dimension %s score %v out of range [0,100]", d, v)
		}
	}
	return nil
}
