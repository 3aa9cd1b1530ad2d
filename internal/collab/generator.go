package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/llm"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/redact"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// generatorSystemPrompt fixes the generator's contract: complete files only,
// JSON envelope, no prose outside it.
const generatorSystemPrompt = `You are an expert software engineer implementing one task in an existing project.

Produce complete file contents, never fragments or placeholders. Keep the
change set minimal: touch only files the task requires.

Respond ONLY with a JSON object, no additional text:
{
  "files": [{"path": "relative/path.go", "content": "full file content"}, {"path": "old/file.go", "delete": true}],
  "reasoning": "what you did and why (1-3 sentences)",
  "confidence": 0.0 to 1.0,
  "improvements": ["changes applied relative to the previous iteration"]
}`

// Generator produces file changes for a task by prompting the configured
// model. Prompts pass through the redactor before leaving the process.
type Generator struct {
	client   llm.Client
	redactor *redact.Redactor
	logger   *logging.Logger
}

// NewGenerator creates a generator. redactor may be nil when redaction is
// not wired (tests).
func NewGenerator(client llm.Client, redactor *redact.Redactor, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		client:   client,
		redactor: redactor,
		logger:   logger.Named("generator"),
	}
}

// Generate produces the first candidate implementation for a task.
func (g *Generator) Generate(ctx context.Context, task *state.Task) (*Generation, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the following task.\n\n")
	writeTaskPrompt(&b, task)
	return g.complete(ctx, task.ID, b.String())
}

// Improve produces the next candidate guided by the previous review.
func (g *Generator) Improve(ctx context.Context, task *state.Task, review *quality.Review, prior *Generation) (*Generation, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Improve your previous implementation of this task.\n\n")
	writeTaskPrompt(&b, task)

	if prior != nil {
		b.WriteString("\nFiles from your previous iteration:\n")
		for _, f := range prior.Files {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, f.Content)
		}
	}

	if review != nil {
		fmt.Fprintf(&b, "\nReview of the previous iteration (overall score %.2f):\n", review.Scores.Overall)
		if review.Summary != "" {
			fmt.Fprintf(&b, "%s\n", review.Summary)
		}
		for _, issue := range review.Issues {
			fmt.Fprintf(&b, "- [%s] %s", issue.Severity, issue.Description)
			if issue.File != "" {
				fmt.Fprintf(&b, " (%s", issue.File)
				if issue.Line > 0 {
					fmt.Fprintf(&b, ":%d", issue.Line)
				}
				b.WriteString(")")
			}
			if issue.Suggestion != "" {
				fmt.Fprintf(&b, " fix: %s", issue.Suggestion)
			}
			b.WriteString("\n")
		}
		for _, s := range review.Suggestions {
			fmt.Fprintf(&b, "- suggestion: %s\n", s)
		}
	}

	b.WriteString("\nAddress every critical and error issue. Re-emit complete files.\n")
	return g.complete(ctx, task.ID, b.String())
}

func (g *Generator) complete(ctx context.Context, taskID, prompt string) (*Generation, error) {
	prompt, err := g.scrub(ctx, prompt)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: generatorSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("generate for task %s: %w", taskID, err)
	}

	gen, err := parseGeneration(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}

	g.logger.Debug(ctx, "generation parsed",
		zap.String("task_id", taskID),
		zap.Int("files", len(gen.Files)),
		zap.Float64("confidence", gen.Confidence),
	)
	return gen, nil
}

func (g *Generator) scrub(ctx context.Context, prompt string) (string, error) {
	if g.redactor == nil {
		return prompt, nil
	}
	res, err := g.redactor.Redact(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("redacting prompt: %w", err)
	}
	return res.Content, nil
}

func writeTaskPrompt(b *strings.Builder, task *state.Task) {
	fmt.Fprintf(b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", task.Description)
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(b, "- %s\n", c)
		}
	}
	if len(task.Files) > 0 {
		b.WriteString("Files in scope:\n")
		for _, f := range task.Files {
			fmt.Fprintf(b, "- %s\n", f)
		}
	}
}

// parseGeneration decodes the model's JSON reply. Models sometimes wrap JSON
// in markdown fences; strip them before unmarshaling.
func parseGeneration(content string) (*Generation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var gen Generation
	if err := json.Unmarshal([]byte(content), &gen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelOutput, err)
	}
	if len(gen.Files) == 0 {
		return nil, ErrNoChanges
	}
	for i, f := range gen.Files {
		if f.Path == "" {
			return nil, fmt.Errorf("%w: file %d has no path", ErrInvalidChange, i)
		}
		if !f.Delete && f.Content == "" {
			return nil, fmt.Errorf("%w: %s has no content", ErrInvalidChange, f.Path)
		}
	}
	if gen.Confidence < 0 || gen.Confidence > 1 {
		gen.Confidence = 0
	}
	return &gen, nil
}
