// Package collab holds the collaborators the convergence iterator drives:
// code generation, file application, test execution, and review.
//
// Generator produces file changes from an LLM (fresh on the first iteration,
// guided by the previous review afterwards). FileWriter applies them beneath
// the project root. TestRunner executes the project's test command and parses
// the outcome. Reviewer scores the result; the LLM-backed reviewer and any
// external evaluator satisfy the same interface, so the iterator does not
// care which judge it is talking to.
//
// Collaborators do not retry. An error from any of them aborts the task's
// iteration loop; resilience against flaky upstreams lives in the breaker
// wrapped around the LLM client.
package collab
