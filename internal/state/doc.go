// Package state defines the project data model and its on-disk form.
//
// ProjectState is the single mutable root: identity, filesystem path, the
// current phase, the append-only phase history, task queues, and quality
// history. It is owned exclusively by the orchestrator and mutated only
// through phase transitions. Snapshot-and-rollback relies on Clone, an
// explicit value-semantics deep copy; rollback never round-trips state
// through a text format.
//
// Store persists ProjectState to <project>/.coco/state/project.json via
// write-temp-then-rename so a crash mid-write never leaves a torn file.
// Timestamps serialize as RFC 3339 and are reconstructed as time.Time on
// load.
package state
