package quality

import "fmt"

// Default threshold values.
const (
	DefaultMinScore                 = 85.0
	DefaultMinCoverage              = 80.0
	DefaultConvergenceThreshold     = 2.0
	DefaultMinConvergenceIterations = 2
	DefaultMaxIterations            = 10
)

// Thresholds configures when iterative improvement of a task stops.
type Thresholds struct {
	// MinScore is the minimum acceptable overall score (0-100).
	MinScore float64 `koanf:"min_score" json:"minScore"`

	// MinCoverage is the minimum acceptable test coverage percentage.
	MinCoverage float64 `koanf:"min_coverage" json:"minCoverage"`

	// ConvergenceThreshold is the score delta below which two consecutive
	// iterations are considered stable.
	ConvergenceThreshold float64 `koanf:"convergence_threshold" json:"convergenceThreshold"`

	// MinConvergenceIterations is the iteration floor before stability may
	// be declared. The pass gate ignores it.
	MinConvergenceIterations int `koanf:"min_convergence_iterations" json:"minConvergenceIterations"`

	// MaxIterations is the hard iteration budget per task.
	MaxIterations int `koanf:"max_iterations" json:"maxIterations"`
}

// DefaultThresholds returns the standard configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScore:                 DefaultMinScore,
		MinCoverage:              DefaultMinCoverage,
		ConvergenceThreshold:     DefaultConvergenceThreshold,
		MinConvergenceIterations: DefaultMinConvergenceIterations,
		MaxIterations:            DefaultMaxIterations,
	}
}

// ApplyDefaults fills zero values with defaults.
func (t *Thresholds) ApplyDefaults() {
	if t.MinScore == 0 {
		t.MinScore = DefaultMinScore
	}
	if t.MinCoverage == 0 {
		t.MinCoverage = DefaultMinCoverage
	}
	if t.ConvergenceThreshold == 0 {
		t.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if t.MinConvergenceIterations == 0 {
		t.MinConvergenceIterations = DefaultMinConvergenceIterations
	}
	if t.MaxIterations == 0 {
		t.MaxIterations = DefaultMaxIterations
	}
}

// Validate checks threshold sanity.
func (t Thresholds) Validate() error {
	if t.MinScore < 0 || t.MinScore > 100 {
		return fmt.Errorf("min_score %v out of range [0,100]", t.MinScore)
	}
	if t.MinCoverage < 0 || t.MinCoverage > 100 {
		return fmt.Errorf("min_coverage %v out of range [0,100]", t.MinCoverage)
	}
	if t.ConvergenceThreshold <= 0 {
		return fmt.Errorf("convergence_threshold must be > 0, got %v", t.ConvergenceThreshold)
	}
	if t.MinConvergenceIterations < 1 {
		return fmt.Errorf("min_convergence_iterations must be >= 1, got %d", t.MinConvergenceIterations)
	}
	if t.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", t.MaxIterations)
	}
	if t.MaxIterations < t.MinConvergenceIterations {
		return fmt.Errorf("max_iterations %d below min_convergence_iterations %d",
			t.MaxIterations, t.MinConvergenceIterations)
	}
	return nil
}
