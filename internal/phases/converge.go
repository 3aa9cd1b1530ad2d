package phases

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/collab"
	"github.com/fyrsmithlabs/coco/internal/llm"
	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/sanitize"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/survey"
)

const (
	// BriefFile is where converge looks for the project goal when none is
	// configured, relative to the .coco directory.
	BriefFile = "brief.md"

	// RequirementsFile is the converge artifact, relative to the project root.
	RequirementsFile = ".coco/requirements.md"
)

const planSystemPrompt = `You are a software delivery planner turning a project goal into an ordered implementation plan.

Break the goal into small, independently verifiable tasks. Every task needs a
title, a description, and concrete acceptance criteria. Order the tasks so
each builds only on the ones before it.

Call the emit_plan tool exactly once with the full plan. If you cannot call
tools, respond ONLY with the equivalent JSON object.`

// planToolDef is the structured-output contract for the planner.
var planToolDef = llm.ToolDef{
	Name:        "emit_plan",
	Description: "Record the requirements summary and the ordered task list",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requirements": map[string]any{
				"type":        "string",
				"description": "markdown summary of the discovered requirements",
			},
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"acceptanceCriteria": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"files": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "paths the task is expected to touch",
						},
					},
					"required": []string{"title", "description"},
				},
			},
		},
		"required": []string{"requirements", "tasks"},
	},
}

// Converge discovers requirements: it surveys the project, asks the model
// for an ordered task plan, and publishes the plan as PendingTasks plus a
// requirements artifact.
type Converge struct {
	goal string
}

// NewConverge creates the converge executor. goal may be empty, in which
// case the phase reads <project>/.coco/brief.md.
func NewConverge(goal string) *Converge {
	return &Converge{goal: strings.TrimSpace(goal)}
}

// Phase implements orchestrator.Executor.
func (c *Converge) Phase() state.Phase { return state.PhaseConverge }

// CanStart requires a goal, configured or on disk as the brief file.
func (c *Converge) CanStart(ctx context.Context, ec *orchestrator.ExecContext) bool {
	_, err := c.resolveGoal(ec)
	return err == nil
}

func (c *Converge) resolveGoal(ec *orchestrator.ExecContext) (string, error) {
	if c.goal != "" {
		return c.goal, nil
	}
	brief := filepath.Join(state.CocoDir(ec.ProjectPath), BriefFile)
	raw, err := os.ReadFile(brief)
	if err != nil {
		return "", fmt.Errorf("no goal configured and no brief at %s: %w", brief, err)
	}
	goal := strings.TrimSpace(string(raw))
	if goal == "" {
		return "", fmt.Errorf("brief %s is empty", brief)
	}
	return goal, nil
}

// Execute surveys the tree, asks for a plan, and mutates PendingTasks.
func (c *Converge) Execute(ctx context.Context, ec *orchestrator.ExecContext) (*state.PhaseResult, error) {
	started := time.Now().UTC()

	goal, err := c.resolveGoal(ec)
	if err != nil {
		return nil, err
	}

	sv, err := survey.Collect(ctx, ec.ProjectPath, survey.Options{})
	if err != nil {
		return nil, fmt.Errorf("surveying project: %w", err)
	}

	prompt := goal + "\n\n" + sv.Render()
	if ec.Redactor != nil {
		res, err := ec.Redactor.Redact(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("redacting plan prompt: %w", err)
		}
		prompt = res.Content
	}

	llmCtx := ctx
	if ec.LLMTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, ec.LLMTimeout)
		defer cancel()
	}
	resp, err := ec.LLM.ChatWithTools(llmCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: planSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, []llm.ToolDef{planToolDef})
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	payload := resp.Content
	for _, call := range resp.ToolCalls {
		if call.Name == planToolDef.Name {
			payload = call.Arguments
			break
		}
	}

	plan, err := parsePlan(payload)
	if err != nil {
		return nil, err
	}
	tasks := plan.toTasks()

	artifact, err := writeRequirements(ec.ProjectPath, goal, plan.Requirements, tasks)
	if err != nil {
		return nil, err
	}

	ec.State.PendingTasks = tasks
	ec.State.CurrentTask = nil

	ec.Logger.Info(ctx, "plan drafted",
		zap.Int("tasks", len(tasks)),
		zap.Int("files_surveyed", len(sv.Files)),
	)

	return &state.PhaseResult{
		Phase:       state.PhaseConverge,
		Success:     true,
		Artifacts:   []string{artifact},
		Metrics:     map[string]float64{"tasks": float64(len(tasks))},
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// CanComplete requires the drafted plan to contain at least one task.
func (c *Converge) CanComplete(ctx context.Context, ec *orchestrator.ExecContext) bool {
	return len(ec.State.PendingTasks) > 0
}

// Checkpoint returns nil: the phase is one planning call with no state worth
// resuming mid-flight.
func (c *Converge) Checkpoint(ec *orchestrator.ExecContext) *orchestrator.Checkpoint {
	return nil
}

// Restore implements orchestrator.Executor.
func (c *Converge) Restore(cp *orchestrator.Checkpoint, ec *orchestrator.ExecContext) error {
	return nil
}

type planTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Files              []string `json:"files,omitempty"`
}

// planResponse is the JSON shape the planner emits.
type planResponse struct {
	Requirements string     `json:"requirements"`
	Tasks        []planTask `json:"tasks"`
}

func parsePlan(payload string) (*planResponse, error) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)

	var plan planResponse
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", collab.ErrBadModelOutput, err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("%w: plan has no tasks", collab.ErrBadModelOutput)
	}
	for i, t := range plan.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("%w: plan task %d has no title", collab.ErrBadModelOutput, i+1)
		}
	}
	return &plan, nil
}

// toTasks assigns stable IDs slugged from titles, suffixing duplicates.
func (p *planResponse) toTasks() []state.Task {
	tasks := make([]state.Task, 0, len(p.Tasks))
	seen := make(map[string]int, len(p.Tasks))
	for _, pt := range p.Tasks {
		id := sanitize.Identifier(pt.Title)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s_%d", id, n)
		}
		tasks = append(tasks, state.Task{
			ID:                 id,
			Title:              strings.TrimSpace(pt.Title),
			Description:        strings.TrimSpace(pt.Description),
			AcceptanceCriteria: pt.AcceptanceCriteria,
			Files:              pt.Files,
		})
	}
	return tasks
}

func writeRequirements(projectPath, goal, requirements string, tasks []state.Task) (string, error) {
	var b strings.Builder
	b.WriteString("# Requirements\n\n## Goal\n\n")
	b.WriteString(goal)
	b.WriteString("\n\n")
	if requirements != "" {
		b.WriteString(requirements)
		if !strings.HasSuffix(requirements, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	b.WriteString("## Plan\n\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. **%s** (`%s`)\n", i+1, t.Title, t.ID)
		if t.Description != "" {
			fmt.Fprintf(&b, "   %s\n", t.Description)
		}
		for _, criterion := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "   - [ ] %s\n", criterion)
		}
	}

	path := filepath.Join(state.CocoDir(projectPath), "requirements.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing requirements artifact: %w", err)
	}
	return RequirementsFile, nil
}
