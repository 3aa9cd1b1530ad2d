package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound indicates no persisted state exists at the project path.
	ErrNotFound = errors.New("project state not found")
)

const (
	// stateDirName is the directory under .coco holding the state file.
	stateDirName = "state"

	// stateFileName is the persisted ProjectState file.
	stateFileName = "project.json"

	dirPerm  = 0o755
	filePerm = 0o644
)

// CocoDir returns the .coco directory for a project.
func CocoDir(projectPath string) string {
	return filepath.Join(projectPath, ".coco")
}

// StatePath returns the persisted state file path for a project.
func StatePath(projectPath string) string {
	return filepath.Join(CocoDir(projectPath), stateDirName, stateFileName)
}

// Store persists ProjectState as JSON under <project>/.coco/state/.
//
// Writes are atomic: content goes to a temp file in the target directory,
// which is then renamed over the destination. A crash mid-write never leaves
// a torn project.json behind.
type Store struct {
	projectPath string
}

// NewStore creates a store rooted at the project directory.
func NewStore(projectPath string) (*Store, error) {
	if projectPath == "" {
		return nil, errors.New("project path is required")
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path %s: %w", projectPath, err)
	}
	return &Store{projectPath: abs}, nil
}

// Path returns the state file location.
func (st *Store) Path() string {
	return StatePath(st.projectPath)
}

// Save persists the state atomically, creating .coco/state if needed.
func (st *Store) Save(s *ProjectState) error {
	if s == nil {
		return errors.New("state is nil")
	}

	path := st.Path()
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating state directory %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project state: %w", err)
	}

	if err := writeFileAtomic(path, data, filePerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load reads the persisted state. Returns ErrNotFound when no state file
// exists so callers can branch to fresh initialization.
func (st *Store) Load() (*ProjectState, error) {
	path := st.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var s ProjectState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &s, nil
}

// writeFileAtomic writes data to a temp file in the destination directory,
// syncs it, and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".coco-state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
