package checkpoint

import (
	"time"

	"github.com/fyrsmithlabs/coco/internal/state"
)

// Snapshot is a deep copy of project state taken immediately before a phase
// executes, tagged with the phase about to run and the capture time.
type Snapshot struct {
	// Phase is the phase the snapshot guards against.
	Phase state.Phase `json:"phase"`

	// TakenAt is the capture time; its epoch-millis form is embedded in the
	// snapshot file name and drives retention ordering.
	TakenAt time.Time `json:"takenAt"`

	// State is the copied project state. Never a live reference.
	State *state.ProjectState `json:"state"`
}

// Entry describes one snapshot file on disk.
type Entry struct {
	// Path is the absolute file path.
	Path string `json:"path"`

	// Phase parsed from the file name.
	Phase state.Phase `json:"phase"`

	// TakenAt parsed from the embedded epoch-millis.
	TakenAt time.Time `json:"takenAt"`
}
