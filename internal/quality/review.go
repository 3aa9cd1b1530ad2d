package quality

// Severity classifies how serious an issue is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue is a single problem found during review.
type Issue struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category,omitempty"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Review is one judgement of a candidate: scores, issues found, suggested
// improvements, and whether the candidate clears every quality minimum.
type Review struct {
	Scores      Scores   `json:"scores"`
	Issues      []Issue  `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Passed      bool     `json:"passed"`
	Summary     string   `json:"summary,omitempty"`
}

// CriticalCount returns the number of critical-severity issues.
func (r *Review) CriticalCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// HasCritical reports whether any issue is critical.
func (r *Review) HasCritical() bool {
	return r.CriticalCount() > 0
}

// Clone returns a deep copy.
func (r *Review) Clone() *Review {
	if r == nil {
		return nil
	}
	out := &Review{
		Scores:  r.Scores.Clone(),
		Passed:  r.Passed,
		Summary: r.Summary,
	}
	if r.Issues != nil {
		out.Issues = make([]Issue, len(r.Issues))
		copy(out.Issues, r.Issues)
	}
	if r.Suggestions != nil {
		out.Suggestions = make([]string, len(r.Suggestions))
		copy(out.Suggestions, r.Suggestions)
	}
	return out
}

// EvaluatePassed computes the pass-gate predicate: overall at or above the
// minimum score, coverage at or above the minimum coverage, and zero critical
// issues. Reviewers set Review.Passed with this rather than trusting a model's
// own claim.
func EvaluatePassed(scores Scores, coverage float64, issues []Issue, th Thresholds) bool {
	if scores.Overall < th.MinScore {
		return false
	}
	if coverage < th.MinCoverage {
		return false
	}
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return false
		}
	}
	return true
}
