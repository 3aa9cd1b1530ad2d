package collab

import "errors"

var (
	// ErrBadModelOutput indicates the LLM reply could not be parsed into the
	// expected structure.
	ErrBadModelOutput = errors.New("unparseable model output")

	// ErrNoChanges indicates a generation contained no file changes.
	ErrNoChanges = errors.New("generation contains no file changes")

	// ErrInvalidChange indicates a file change targets a path outside the
	// project root or is otherwise unusable.
	ErrInvalidChange = errors.New("invalid file change")
)
