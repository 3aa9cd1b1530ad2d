package main

import (
	"errors"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coco/internal/monitor"
	"github.com/fyrsmithlabs/coco/internal/statewatch"
)

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard for a pipeline run",
	Long: `Open a terminal dashboard that follows the pipeline live.

The dashboard reads persisted state, so it runs alongside coco run in
another terminal or attaches to an already-running pipeline. Press q to
quit.

Examples:
  # Watch the pipeline in the current directory
  coco dashboard

  # Watch another project
  coco dashboard --project ~/src/mercury`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	_, dir, err := loadConfig()
	if err != nil {
		return err
	}

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

	program := tea.NewProgram(
		monitor.NewModel(watcher.Updates()),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
