// Package quality defines the scoring model shared by the convergence
// iterator, the reviewer collaborators, and the orchestrator.
//
// A review scores a candidate on twelve weighted dimensions (correctness,
// completeness, robustness, readability, maintainability, complexity,
// duplication, test coverage, test quality, security, documentation, style).
// The weights sum to 1.0 and the overall score is the weighted sum rounded
// to two decimals. Scores are consumed, never computed, by the iterator:
// computation is delegated to an LLM judge or an external evaluator, both of
// which populate the same Scores shape.
package quality
