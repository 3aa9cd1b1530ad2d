package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/llm"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/phases"
	"github.com/fyrsmithlabs/coco/internal/redact"
	"github.com/fyrsmithlabs/coco/internal/resilience"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline to completion",
	Long: `Run the delivery pipeline from wherever the project stands.

A fresh project walks converge, orchestrate, complete, and output in order.
An interrupted or failed project resumes its current phase first. The command
exits non-zero when a phase fails; running it again picks up from the
rolled-back state.

The goal comes from project.goal in coco.yaml, or from .coco/brief.md when
the config has none.

Examples:
  # Run the pipeline in the current directory
  coco run

  # Run against another project
  coco run --project ~/src/mercury

  # Override the model for one run
  COCO_LLM_MODEL=gpt-4o-mini coco run`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := logging.New(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting pipeline",
		zap.String("project", dir),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
	)

	orch, breaker, err := buildOrchestrator(cfg, dir, logger)
	if err != nil {
		return err
	}

	if err := orch.Initialize(ctx, dir); err != nil {
		return err
	}

	unsubscribe := orch.Events().Subscribe(orchestrator.EventPhaseCompleted, func(ev orchestrator.Event) {
		printPhaseOutcome(cmd, ev)
	})
	defer unsubscribe()

	result, err := orch.Run(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrPipelineComplete):
		cmd.Println("Pipeline already complete.")
		return nil
	case errors.Is(err, context.Canceled):
		cmd.Println("Interrupted; progress saved. Run again to resume.")
		return err
	case err != nil:
		return err
	}

	if !result.Success {
		if breaker.IsOpen() {
			cmd.Printf("Circuit breaker for %s is open; waiting out the reset timeout before retrying may help.\n", breaker.Upstream())
		}
		return fmt.Errorf("pipeline stopped in %s: %s", result.Phase, result.Error)
	}

	cmd.Printf("Pipeline complete. Report: %s\n", filepath.Join(dir, phases.SummaryFile))
	return nil
}

// buildOrchestrator wires collaborators, stores, and phase executors from
// configuration. The returned breaker guards every LLM call the pipeline
// makes.
func buildOrchestrator(cfg *config.Config, dir string, logger *logging.Logger) (*orchestrator.Orchestrator, *resilience.Breaker, error) {
	redactor, err := redact.New(redact.Options{
		ProjectPath:       dir,
		UserAllowlistPath: cfg.Redact.AllowlistPath,
		Disabled:          cfg.Redact.Disabled,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redactor: %w", err)
	}

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	breaker := resilience.New("llm", &cfg.Breaker, logger)
	client = llm.WithBreaker(client, breaker)

	writer, err := collab.NewFileWriter(dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	store, err := state.NewStore(dir)
	if err != nil {
		return nil, nil, err
	}
	checkpoints, err := checkpoint.NewManager(dir, &cfg.Checkpoint, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	deps := orchestrator.Deps{
		Store:       store,
		Checkpoints: checkpoints,

		LLM:      client,
		Redactor: redactor,

		Generator: collab.NewGenerator(client, redactor, logger),
		Writer:    writer,
		Tests:     collab.NewTestRunner(cfg.Tests.Command, logger),
		Reviewer:  collab.NewLLMReviewer(client, cfg.Quality, redactor, logger),

		Thresholds:   cfg.Quality,
		LLMTimeout:   cfg.Timeouts.LLM.Duration(),
		TaskTimeout:  cfg.Timeouts.Task.Duration(),
		PhaseTimeout: cfg.Timeouts.Phase.Duration(),

		ProjectPath: dir,
	}

	orch, err := orchestrator.New(deps, phases.All(cfg.Project.Goal), logger)
	if err != nil {
		return nil, nil, err
	}
	return orch, breaker, nil
}

func printPhaseOutcome(cmd *cobra.Command, ev orchestrator.Event) {
	if ev.Result == nil {
		return
	}
	elapsed := ev.Result.CompletedAt.Sub(ev.Result.StartedAt).Round(100 * time.Millisecond)
	if ev.Result.Success {
		cmd.Printf("✓ %-12s %s\n", ev.Phase, elapsed)
		return
	}
	cmd.Printf("✗ %-12s %s: %s\n", ev.Phase, elapsed, ev.Result.Error)
}
