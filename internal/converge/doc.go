// Package converge drives a single task to a quality bar through repeated
// generate, apply, test, review iterations.
//
// Each iteration ends at two gates. The Pass Gate stops immediately when the
// reviewer marks the candidate passing, regardless of how many iterations
// have run. The Convergence Gate then decides from the score history whether
// further iteration is still worth it. A hard iteration budget backstops
// both.
//
// Collaborator failures end the run with the error recorded on the task
// result; the iterator never retries. Transient-failure handling belongs to
// the circuit breaker wrapped around the LLM client.
package converge
