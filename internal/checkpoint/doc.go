// Package checkpoint persists pre-phase snapshots of project state.
//
// Before a phase executes, the orchestrator deep-copies ProjectState and
// hands the copy to the Manager, which writes it to
// <project>/.coco/checkpoints/snapshot-pre-<phase>-<epochMillis>.json.
// At most five snapshot files are retained per phase; after each save the
// oldest beyond that are pruned best-effort. The in-memory copy remains the
// rollback source of truth, so a failed save degrades durability but never
// correctness.
package checkpoint
