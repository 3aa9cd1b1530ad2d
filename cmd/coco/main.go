// Package main implements the coco CLI.
//
// coco drives a software project from a stated goal to reviewed, tested
// output. Pipeline state lives under .coco/ in the project directory, so
// every command here operates on the project resolved from --project or
// the current working directory.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	flagConfig   string
	flagProject  string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coco",
	Short: "Autonomous delivery pipeline",
	Long: `coco drives a project from a stated goal to reviewed, tested output.

The pipeline converges the goal into a task plan, orchestrates each task
through generate-test-review iterations, validates the finished whole, and
writes a delivery report. Progress is persisted under .coco/ so interrupted
runs resume where they stopped.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (defaults to <project>/coco.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "Project directory (defaults to current directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("coco %s (commit %s, built %s)\n", version, gitCommit, buildDate))
}

// projectDir resolves the project directory from --project or the current
// working directory, always as an absolute path.
func projectDir() (string, error) {
	if flagProject != "" {
		abs, err := filepath.Abs(flagProject)
		if err != nil {
			return "", fmt.Errorf("resolving project directory: %w", err)
		}
		return abs, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return dir, nil
}

// loadConfig resolves the project directory and loads its configuration,
// applying the --log-level override on top.
func loadConfig() (*config.Config, string, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(flagConfig, dir)
	if err != nil {
		return nil, "", err
	}
	if flagLogLevel != "" {
		level, err := zapcore.ParseLevel(flagLogLevel)
		if err != nil {
			return nil, "", fmt.Errorf("invalid --log-level %q: %w", flagLogLevel, err)
		}
		cfg.Logging.Level = level
	}
	return cfg, dir, nil
}

// newLogger builds the structured logger for a command. Commands that
// initialize telemetry pass its log provider through afterwards; plain
// commands log to stdout only.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(&cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
