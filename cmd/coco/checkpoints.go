package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/state"
)

var (
	cpPhase      string
	cpOutputJSON bool
)

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)

	checkpointsCmd.PersistentFlags().StringVar(&cpPhase, "phase", "", "Filter by phase (converge, orchestrate, complete, output)")
	checkpointsCmd.PersistentFlags().BoolVar(&cpOutputJSON, "json", false, "Output results as JSON")
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect pre-phase snapshots",
	Long: `Inspect the pre-phase state snapshots kept under .coco/checkpoints/.

A snapshot is taken before every phase execution and restored automatically
when that phase fails, so these files show exactly what each phase attempt
started from.

Examples:
  # List all snapshots, newest first
  coco checkpoints list

  # List snapshots for one phase
  coco checkpoints list --phase orchestrate

  # Show the newest snapshot
  coco checkpoints show

  # Show a specific snapshot file
  coco checkpoints show .coco/checkpoints/orchestrate-1756161000000.json`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Show a snapshot's captured state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointsShow,
}

func checkpointManager() (*checkpoint.Manager, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(dir, &cfg.Checkpoint, logger)
}

func parsePhaseFlag() (state.Phase, error) {
	if cpPhase == "" {
		return "", nil
	}
	return state.ParsePhase(cpPhase)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	phase, err := parsePhaseFlag()
	if err != nil {
		return err
	}
	mgr, err := checkpointManager()
	if err != nil {
		return err
	}

	entries, err := mgr.List(cmd.Context(), phase)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if cpOutputJSON {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		cmd.Println("No checkpoints found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tTAKEN\tFILE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Phase, e.TakenAt.Format("2006-01-02 15:04:05"), e.Path)
	}
	w.Flush()
	return nil
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	phase, err := parsePhaseFlag()
	if err != nil {
		return err
	}
	mgr, err := checkpointManager()
	if err != nil {
		return err
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		entries, err := mgr.List(cmd.Context(), phase)
		if err != nil {
			return fmt.Errorf("failed to list checkpoints: %w", err)
		}
		if len(entries) == 0 {
			return errors.New("no checkpoints found")
		}
		path = entries[0].Path
	}

	snap, err := mgr.Restore(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if cpOutputJSON {
		return outputJSON(snap)
	}

	cmd.Printf("Phase: %s\n", snap.Phase)
	cmd.Printf("Taken: %s\n", snap.TakenAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("File:  %s\n", path)
	st := snap.State
	cmd.Printf("\nProject %q was in phase %s with %d completed and %d pending tasks.\n",
		st.Name, st.CurrentPhase, len(st.CompletedTasks), len(st.PendingTasks))
	if st.LastScores != nil {
		cmd.Printf("Last score: %.1f\n", st.LastScores.Overall)
	}
	return nil
}
