package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// SummaryFile is the output-phase artifact, relative to the project root.
const SummaryFile = ".coco/output/summary.md"

// Output renders the delivery report from persisted state. It makes no LLM
// calls and is the pipeline's terminal phase.
type Output struct{}

// NewOutput creates the output executor.
func NewOutput() *Output { return &Output{} }

// Phase implements orchestrator.Executor.
func (o *Output) Phase() state.Phase { return state.PhaseOutput }

// CanStart always holds: the report renders whatever state exists.
func (o *Output) CanStart(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return true
}

// Execute writes the summary under .coco/output/.
func (o *Output) Execute(ctx context.Context, ec *orchestrator.ExecContext) (*state.PhaseResult, error) {
	started := time.Now().UTC()

	report := renderSummary(ec.State)
	dir := filepath.Join(state.CocoDir(ec.ProjectPath), "output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(report), 0o644); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}

	return &state.PhaseResult{
		Phase:       state.PhaseOutput,
		Success:     true,
		Artifacts:   []string{SummaryFile},
		Metrics:     map[string]float64{"tasks": float64(len(ec.State.CompletedTasks))},
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// CanComplete requires the summary to exist on disk.
func (o *Output) CanComplete(ctx context.Context, ec *orchestrator.ExecContext) bool {
	_, err := os.Stat(filepath.Join(ec.ProjectPath, filepath.FromSlash(SummaryFile)))
	return err == nil
}

// Checkpoint returns nil: rendering is idempotent and cheap.
func (o *Output) Checkpoint(ec *orchestrator.ExecContext) *orchestrator.Checkpoint {
	return nil
}

// Restore implements orchestrator.Executor.
func (o *Output) Restore(cp *orchestrator.Checkpoint, ec *orchestrator.ExecContext) error {
	return nil
}

func renderSummary(st *state.ProjectState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s delivery report\n\n", st.Name)
	fmt.Fprintf(&b, "- Project: %s (`%s`)\n", st.Name, st.ID)
	if st.Workspace.Commit != "" {
		dirty := ""
		if st.Workspace.Dirty {
			dirty = ", dirty"
		}
		fmt.Fprintf(&b, "- Workspace: %s @ %s%s\n", st.Workspace.Branch, shortCommit(st.Workspace.Commit), dirty)
	}
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "- Final phase: %s\n", st.CurrentPhase)

	b.WriteString("\n## Transitions\n\n")
	b.WriteString("| From | To | At |\n")
	b.WriteString("|------|----|----|\n")
	for _, tr := range st.PhaseHistory {
		fmt.Fprintf(&b, "| %s | %s | %s |\n",
			tr.From, tr.To, tr.Timestamp.UTC().Format(time.RFC3339))
	}

	b.WriteString("\n## Tasks\n\n")
	if len(st.CompletedTasks) == 0 {
		b.WriteString("No tasks completed.\n")
	} else {
		b.WriteString("| # | Task | Iterations | Converged | Score |\n")
		b.WriteString("|---|------|------------|-----------|-------|\n")
		for i, tr := range st.CompletedTasks {
			fmt.Fprintf(&b, "| %d | %s | %d | %v | %.1f |\n",
				i+1, tr.TaskID, tr.Iterations, tr.Converged, tr.FinalScore)
		}
	}

	if len(st.QualityHistory) > 0 {
		b.WriteString("\n## Quality trajectory\n\n")
		for _, rec := range st.QualityHistory {
			label := rec.TaskID
			if label == "" {
				label = "final"
			}
			fmt.Fprintf(&b, "- %s: %.1f (%s)\n",
				label, rec.Scores.Overall, rec.Timestamp.UTC().Format(time.RFC3339))
		}
	}

	if st.LastScores != nil {
		b.WriteString("\n## Final scores\n\n")
		fmt.Fprintf(&b, "Overall: **%.1f**\n\n", st.LastScores.Overall)
		for _, dim := range sortedDimensions(st.LastScores.Dimensions) {
			fmt.Fprintf(&b, "- %s: %.1f\n", dim, st.LastScores.Dimensions[dim])
		}
	}
	return b.String()
}

func sortedDimensions(dims map[quality.Dimension]float64) []quality.Dimension {
	out := make([]quality.Dimension, 0, len(dims))
	for d := range dims {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
