// Package orchestrator drives the pipeline phase machine: idle, converge,
// orchestrate, complete, output. Each transition validates its edge against
// a fixed table, records history, snapshots state, and executes the target
// phase. A failed phase restores the pre-phase snapshot and reports a
// failure result; the history entry and CurrentPhase survive the rollback.
//
// Phases are pluggable Executors registered at construction. Subscribers
// observe phase.started and phase.completed events through the Emitter.
package orchestrator
