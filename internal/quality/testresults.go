package quality

import "time"

// TestFailure describes one failing test.
type TestFailure struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// TestResults is the outcome of one test-runner invocation.
type TestResults struct {
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Coverage float64       `json:"coverage"`
	Failures []TestFailure `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Ok reports whether the run had no failures.
func (t *TestResults) Ok() bool {
	return t != nil && t.Failed == 0
}

// Clone returns a deep copy.
func (t *TestResults) Clone() *TestResults {
	if t == nil {
		return nil
	}
	out := &TestResults{
		Passed:   t.Passed,
		Failed:   t.Failed,
		Skipped:  t.Skipped,
		Coverage: t.Coverage,
		Duration: t.Duration,
	}
	if t.Failures != nil {
		out.Failures = make([]TestFailure, len(t.Failures))
		copy(out.Failures, t.Failures)
	}
	return out
}
