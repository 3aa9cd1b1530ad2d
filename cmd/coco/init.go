package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/sanitize"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/workspace"
)

var (
	initName  string
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initName, "name", "", "Project name (defaults to directory basename)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Reinitialize even if project state exists")
}

// briefTemplate seeds .coco/brief.md for projects that state their goal in
// a file rather than in coco.yaml.
const briefTemplate = `# Project brief

Describe what coco should build. The converge phase turns this brief into
requirements and an ordered task plan.

Delete this placeholder text and write the goal in plain language.
`

// configTemplate seeds a starter coco.yaml. API keys never belong here; the
// loader rejects llm.api_key in the file.
const configTemplate = `# coco configuration. Environment variables with the COCO_ prefix override
# any value in this file (COCO_LLM_MODEL, COCO_QUALITY_MIN_SCORE, ...).
#
# The LLM API key is read only from the environment: COCO_LLM_API_KEY, or
# OPENAI_API_KEY / ANTHROPIC_API_KEY depending on the provider.

project:
  name: %q
  # goal: one-line statement of what to build (or write .coco/brief.md)

llm:
  provider: openai
  model: gpt-4o

quality:
  min_score: 85
  min_coverage: 80

tests:
  command: go test ./...
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a project for the pipeline",
	Long: `Initialize the .coco directory for a project.

Creates fresh pipeline state, captures the current git workspace, and seeds
a brief template when neither project.goal nor .coco/brief.md exists yet.

Examples:
  # Initialize the current directory
  coco init

  # Initialize another project with an explicit name
  coco init --project ~/src/mercury --name mercury

  # Discard existing state and start over
  coco init --force`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewStore(dir)
	if err != nil {
		return err
	}

	if _, err := store.Load(); err == nil && !initForce {
		cmd.Printf("Project already initialized at %s\n", state.StatePath(dir))
		cmd.Println("Use --force to discard existing state and start over.")
		return nil
	}

	name := initName
	if name == "" {
		name = cfg.Project.Name
	}
	if name == "" {
		name, err = sanitize.SafeBasename(dir)
		if err != nil {
			return fmt.Errorf("deriving project name from %s: %w", dir, err)
		}
	}

	st := state.NewProjectState(name, dir)
	st.Workspace = workspace.Inspect(dir)
	if err := store.Save(st); err != nil {
		return fmt.Errorf("failed to save project state: %w", err)
	}

	cmd.Printf("Initialized project %q\n", name)
	cmd.Printf("State: %s\n", store.Path())
	if st.Workspace.Branch != "" {
		cmd.Printf("Workspace: %s @ %s\n", st.Workspace.Branch, truncate(st.Workspace.Commit, 12))
	}

	// Seed a starter config when the project has none. User content; --force
	// never overwrites it.
	configPath := filepath.Join(dir, config.DefaultFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		content := fmt.Sprintf(configTemplate, name)
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write starter config: %w", err)
		}
		cmd.Printf("Config: %s\n", configPath)
	}

	// Same for the brief template, unless the goal already comes from config.
	briefPath := filepath.Join(state.CocoDir(dir), "brief.md")
	if cfg.Project.Goal == "" {
		if _, err := os.Stat(briefPath); os.IsNotExist(err) {
			if err := os.WriteFile(briefPath, []byte(briefTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write brief template: %w", err)
			}
			cmd.Printf("Brief: %s (edit before running the pipeline)\n", briefPath)
		}
	}

	return nil
}
