package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/coco/internal/quality"
)

// PhaseTransition is one entry in the append-only phase history.
type PhaseTransition struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Task is one unit of implementation work from the converge-phase plan.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Files              []string `json:"files,omitempty"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := &Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
	}
	if t.AcceptanceCriteria != nil {
		out.AcceptanceCriteria = make([]string, len(t.AcceptanceCriteria))
		copy(out.AcceptanceCriteria, t.AcceptanceCriteria)
	}
	if t.Files != nil {
		out.Files = make([]string, len(t.Files))
		copy(out.Files, t.Files)
	}
	return out
}

// VersionChanges lists the file effects of one iteration.
type VersionChanges struct {
	FilesCreated  []string `json:"filesCreated,omitempty"`
	FilesModified []string `json:"filesModified,omitempty"`
	FilesDeleted  []string `json:"filesDeleted,omitempty"`
}

// Clone returns a deep copy.
func (c VersionChanges) Clone() VersionChanges {
	out := VersionChanges{}
	if c.FilesCreated != nil {
		out.FilesCreated = make([]string, len(c.FilesCreated))
		copy(out.FilesCreated, c.FilesCreated)
	}
	if c.FilesModified != nil {
		out.FilesModified = make([]string, len(c.FilesModified))
		copy(out.FilesModified, c.FilesModified)
	}
	if c.FilesDeleted != nil {
		out.FilesDeleted = make([]string, len(c.FilesDeleted))
		copy(out.FilesDeleted, c.FilesDeleted)
	}
	return out
}

// VersionAnalysis carries the generator's own account of an iteration.
type VersionAnalysis struct {
	IssuesFound         int      `json:"issuesFound"`
	ImprovementsApplied []string `json:"improvementsApplied,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
	Confidence          float64  `json:"confidence"`
}

// Clone returns a deep copy.
func (a VersionAnalysis) Clone() VersionAnalysis {
	out := VersionAnalysis{
		IssuesFound: a.IssuesFound,
		Reasoning:   a.Reasoning,
		Confidence:  a.Confidence,
	}
	if a.ImprovementsApplied != nil {
		out.ImprovementsApplied = make([]string, len(a.ImprovementsApplied))
		copy(out.ImprovementsApplied, a.ImprovementsApplied)
	}
	return out
}

// Version records one iteration of the convergence loop for a task.
// The per-task version list is append-only and iteration-ordered; entries
// are never reordered or skipped.
type Version struct {
	Version     int                  `json:"version"`
	Timestamp   time.Time            `json:"timestamp"`
	Changes     VersionChanges       `json:"changes"`
	Diffs       map[string]string    `json:"diffs,omitempty"`
	Scores      quality.Scores       `json:"scores"`
	TestResults *quality.TestResults `json:"testResults,omitempty"`
	Analysis    VersionAnalysis      `json:"analysis"`
}

// Clone returns a deep copy.
func (v Version) Clone() Version {
	out := Version{
		Version:   v.Version,
		Timestamp: v.Timestamp,
		Changes:   v.Changes.Clone(),
		Scores:    v.Scores.Clone(),
		Analysis:  v.Analysis.Clone(),
	}
	if v.Diffs != nil {
		out.Diffs = make(map[string]string, len(v.Diffs))
		for k, val := range v.Diffs {
			out.Diffs[k] = val
		}
	}
	out.TestResults = v.TestResults.Clone()
	return out
}

// TaskResult is the outcome of one convergence-iterator run.
type TaskResult struct {
	TaskID     string    `json:"taskId"`
	Success    bool      `json:"success"`
	Converged  bool      `json:"converged"`
	Iterations int       `json:"iterations"`
	FinalScore float64   `json:"finalScore"`
	Versions   []Version `json:"versions,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (r *TaskResult) Clone() *TaskResult {
	if r == nil {
		return nil
	}
	out := &TaskResult{
		TaskID:     r.TaskID,
		Success:    r.Success,
		Converged:  r.Converged,
		Iterations: r.Iterations,
		FinalScore: r.FinalScore,
		Error:      r.Error,
	}
	if r.Versions != nil {
		out.Versions = make([]Version, len(r.Versions))
		for i, v := range r.Versions {
			out.Versions[i] = v.Clone()
		}
	}
	return out
}

// PhaseResult is the immutable output of one phase execution.
type PhaseResult struct {
	Phase       Phase              `json:"phase"`
	Success     bool               `json:"success"`
	Artifacts   []string           `json:"artifacts,omitempty"`
	Error       string             `json:"error,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}

// QualityRecord is one entry in the project quality history.
type QualityRecord struct {
	TaskID    string         `json:"taskId,omitempty"`
	Scores    quality.Scores `json:"scores"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkspaceInfo captures git facts about the project directory.
type WorkspaceInfo struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// ProjectState is the single mutable root of a pipeline run.
type ProjectState struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Path           string            `json:"path"`
	CurrentPhase   Phase             `json:"currentPhase"`
	PhaseHistory   []PhaseTransition `json:"phaseHistory,omitempty"`
	CurrentTask    *Task             `json:"currentTask,omitempty"`
	CompletedTasks []TaskResult      `json:"completedTasks,omitempty"`
	PendingTasks   []Task            `json:"pendingTasks,omitempty"`
	LastScores     *quality.Scores   `json:"lastScores,omitempty"`
	QualityHistory []QualityRecord   `json:"qualityHistory,omitempty"`
	LastCheckpoint string            `json:"lastCheckpoint,omitempty"`
	Workspace      WorkspaceInfo     `json:"workspace,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewProjectState creates a fresh state rooted at path, starting idle.
func NewProjectState(name, path string) *ProjectState {
	now := time.Now().UTC()
	return &ProjectState{
		ID:           uuid.New().String(),
		Name:         name,
		Path:         path,
		CurrentPhase: PhaseIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy. Rollback restores from a clone, so no inner
// reference may be shared with the original.
func (s *ProjectState) Clone() *ProjectState {
	if s == nil {
		return nil
	}
	out := &ProjectState{
		ID:             s.ID,
		Name:           s.Name,
		Path:           s.Path,
		CurrentPhase:   s.CurrentPhase,
		LastCheckpoint: s.LastCheckpoint,
		Workspace:      s.Workspace,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.PhaseHistory != nil {
		out.PhaseHistory = make([]PhaseTransition, len(s.PhaseHistory))
		copy(out.PhaseHistory, s.PhaseHistory)
	}
	out.CurrentTask = s.CurrentTask.Clone()
	if s.CompletedTasks != nil {
		out.CompletedTasks = make([]TaskResult, len(s.CompletedTasks))
		for i := range s.CompletedTasks {
			out.CompletedTasks[i] = *s.CompletedTasks[i].Clone()
		}
	}
	if s.PendingTasks != nil {
		out.PendingTasks = make([]Task, len(s.PendingTasks))
		for i := range s.PendingTasks {
			out.PendingTasks[i] = *s.PendingTasks[i].Clone()
		}
	}
	if s.LastScores != nil {
		sc := s.LastScores.Clone()
		out.LastScores = &sc
	}
	if s.QualityHistory != nil {
		out.QualityHistory = make([]QualityRecord, len(s.QualityHistory))
		for i, qr := range s.QualityHistory {
			out.QualityHistory[i] = QualityRecord{
				TaskID:    qr.TaskID,
				Scores:    qr.Scores.Clone(),
				Timestamp: qr.Timestamp,
			}
		}
	}
	return out
}

// Touch refreshes UpdatedAt.
func (s *ProjectState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
