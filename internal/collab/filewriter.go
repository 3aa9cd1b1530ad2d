package collab

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/sanitize"
	"github.com/fyrsmithlabs/coco/internal/state"
)

const (
	writerDirPerm  = 0o755
	writerFilePerm = 0o644
)

// ApplyResult describes the outcome of applying a change set: which files
// were created, modified, and deleted, plus a patch per touched file keyed
// by the change's project-relative path.
type ApplyResult struct {
	Changes state.VersionChanges
	Diffs   map[string]string
}

// FileWriter applies generator file changes beneath the project root.
// Every target path is validated against traversal before any write, and
// file contents land via temp-file-plus-rename.
type FileWriter struct {
	projectPath string
	logger      *logging.Logger
}

// NewFileWriter creates a writer rooted at projectPath.
func NewFileWriter(projectPath string, logger *logging.Logger) (*FileWriter, error) {
	if projectPath == "" {
		return nil, errors.New("project path is required")
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path %s: %w", projectPath, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileWriter{projectPath: abs, logger: logger.Named("filewriter")}, nil
}

// Apply validates and applies all changes. Validation happens up front so a
// traversal attempt rejects the whole change set before any file is touched.
func (w *FileWriter) Apply(ctx context.Context, changes []FileChange) (*ApplyResult, error) {
	targets := make([]string, len(changes))
	for i, c := range changes {
		abs, err := sanitize.ValidatePath(c.Path, w.projectPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidChange, c.Path, err)
		}
		targets[i] = abs
	}

	res := &ApplyResult{Diffs: make(map[string]string)}
	dmp := diffmatchpatch.New()
	for i, c := range changes {
		target := targets[i]

		before, err := os.ReadFile(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("reading %s: %w", c.Path, err)
		}
		existed := err == nil

		if c.Delete {
			if !existed {
				continue
			}
			if err := os.Remove(target); err != nil {
				return res, fmt.Errorf("deleting %s: %w", c.Path, err)
			}
			res.Changes.FilesDeleted = append(res.Changes.FilesDeleted, c.Path)
			if p := patchText(dmp, string(before), ""); p != "" {
				res.Diffs[c.Path] = p
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), writerDirPerm); err != nil {
			return res, fmt.Errorf("creating directory for %s: %w", c.Path, err)
		}
		if err := writeFileAtomic(target, []byte(c.Content), writerFilePerm); err != nil {
			return res, fmt.Errorf("writing %s: %w", c.Path, err)
		}

		if existed {
			res.Changes.FilesModified = append(res.Changes.FilesModified, c.Path)
		} else {
			res.Changes.FilesCreated = append(res.Changes.FilesCreated, c.Path)
		}
		if p := patchText(dmp, string(before), c.Content); p != "" {
			res.Diffs[c.Path] = p
		}
	}

	w.logger.Debug(ctx, "changes applied",
		zap.Int("created", len(res.Changes.FilesCreated)),
		zap.Int("modified", len(res.Changes.FilesModified)),
		zap.Int("deleted", len(res.Changes.FilesDeleted)),
	)
	return res, nil
}

// patchText renders the edit from before to after in patch form. Identical
// inputs yield an empty string.
func patchText(dmp *diffmatchpatch.DiffMatchPatch, before, after string) string {
	if before == after {
		return ""
	}
	return dmp.PatchToText(dmp.PatchMake(before, after))
}

// writeFileAtomic writes data to a temp file in the destination directory,
// syncs it, and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".coco-write-*.tmp")
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
