// Package workspace reads git facts from a project directory. The pipeline
// records branch, commit, and dirty status in project state and reports;
// none of it is load-bearing, so detection failures degrade to empty values
// rather than errors.
package workspace

import (
	"github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/coco/internal/state"
)

// Inspect gathers branch, commit, and dirty status for dir. A directory that
// is not inside a git repository yields a zero WorkspaceInfo; a detached HEAD
// leaves Branch empty but keeps the commit hash.
func Inspect(dir string) state.WorkspaceInfo {
	var info state.WorkspaceInfo

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return info
	}

	if head, err := repo.Head(); err == nil {
		info.Commit = head.Hash().String()
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}

	return info
}
