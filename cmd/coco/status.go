package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/statewatch"
)

var (
	statusFollow bool
	statusJSON   bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Keep printing as the pipeline progresses")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output full project state as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long: `Show the project's pipeline status from persisted state.

Examples:
  # One-shot status
  coco status

  # Watch a pipeline run from another terminal
  coco status --follow

  # Full state for scripting
  coco status --json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, dir, err := loadConfig()
	if err != nil {
		return err
	}

	if statusFollow {
		return followStatus(cmd, dir)
	}

	store, err := state.NewStore(dir)
	if err != nil {
		return err
	}
	st, err := store.Load()
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no project state at %s; run coco init first", dir)
		}
		return err
	}

	if statusJSON {
		return outputJSON(st)
	}
	printStatus(cmd, st)
	return nil
}

func followStatus(cmd *cobra.Command, dir string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := statewatch.New(dir, 0, nil)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	cmd.Println("Watching pipeline state (ctrl+c to stop)...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-watcher.Updates():
			if statusJSON {
				if err := outputJSON(st); err != nil {
					return err
				}
				continue
			}
			prog := orchestrator.ProjectProgress(st)
			line := fmt.Sprintf("%s  %3.0f%%  done %d  pending %d",
				st.CurrentPhase, prog.OverallProgress*100,
				len(st.CompletedTasks), len(st.PendingTasks))
			if prog.CurrentTask != "" {
				line += "  " + truncate(prog.CurrentTask, 40)
			}
			cmd.Printf("%s  %s\n", st.UpdatedAt.Format("15:04:05"), line)
		}
	}
}

func printStatus(cmd *cobra.Command, st *state.ProjectState) {
	prog := orchestrator.ProjectProgress(st)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Project:\t%s\n", st.Name)
	fmt.Fprintf(w, "Phase:\t%s (%.0f%%)\n", st.CurrentPhase, prog.OverallProgress*100)
	if prog.CurrentTask != "" {
		fmt.Fprintf(w, "Current task:\t%s\n", prog.CurrentTask)
	}
	fmt.Fprintf(w, "Tasks:\t%d done, %d pending\n", len(st.CompletedTasks), len(st.PendingTasks))
	if st.LastScores != nil {
		fmt.Fprintf(w, "Last score:\t%.1f\n", st.LastScores.Overall)
	}
	if st.Workspace.Branch != "" {
		dirty := ""
		if st.Workspace.Dirty {
			dirty = " (dirty)"
		}
		fmt.Fprintf(w, "Workspace:\t%s @ %s%s\n", st.Workspace.Branch, truncate(st.Workspace.Commit, 12), dirty)
	}
	fmt.Fprintf(w, "Updated:\t%s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	w.Flush()

	if len(st.CompletedTasks) == 0 {
		return
	}
	cmd.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tITERATIONS\tCONVERGED\tSCORE")
	for _, tr := range st.CompletedTasks {
		fmt.Fprintf(tw, "%s\t%d\t%v\t%.1f\n",
			truncate(tr.TaskID, 30), tr.Iterations, tr.Converged, tr.FinalScore)
	}
	tw.Flush()
}
