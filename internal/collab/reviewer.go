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
)

const reviewerSystemPrompt = `You are a strict senior code reviewer judging one iteration of generated code.

Score every dimension from 0 to 100. Report concrete issues with severity
info, warning, error, or critical. Critical means the code is wrong or unsafe
and must not ship.

Call the emit_review tool exactly once with your full review. If you cannot
call tools, respond ONLY with the equivalent JSON object.`

// reviewToolDef is the structured-output contract for the judge.
var reviewToolDef = llm.ToolDef{
	Name:        "emit_review",
	Description: "Emit the structured review of the candidate code",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dimensions": map[string]any{
				"type":        "object",
				"description": "score 0-100 for each of: correctness, completeness, robustness, readability, maintainability, complexity, duplication, testCoverage, testQuality, security, documentation, style",
			},
			"issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"severity":    map[string]any{"type": "string", "enum": []string{"info", "warning", "error", "critical"}},
						"category":    map[string]any{"type": "string"},
						"file":        map[string]any{"type": "string"},
						"line":        map[string]any{"type": "integer"},
						"description": map[string]any{"type": "string"},
						"suggestion":  map[string]any{"type": "string"},
					},
					"required": []string{"severity", "description"},
				},
			},
			"suggestions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"dimensions"},
	},
}

// LLMReviewer judges iterations with the configured model. Review.Passed is
// computed from thresholds, never taken from the model's own claim.
type LLMReviewer struct {
	client     llm.Client
	thresholds quality.Thresholds
	redactor   *redact.Redactor
	logger     *logging.Logger
}

// NewLLMReviewer creates a reviewer. redactor may be nil.
func NewLLMReviewer(client llm.Client, th quality.Thresholds, redactor *redact.Redactor, logger *logging.Logger) *LLMReviewer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LLMReviewer{
		client:     client,
		thresholds: th,
		redactor:   redactor,
		logger:     logger.Named("reviewer"),
	}
}

// Review implements Reviewer.
func (r *LLMReviewer) Review(ctx context.Context, req ReviewRequest) (*quality.Review, error) {
	prompt := r.buildPrompt(req)
	if r.redactor != nil {
		res, err := r.redactor.Redact(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("redacting review prompt: %w", err)
		}
		prompt = res.Content
	}

	resp, err := r.client.ChatWithTools(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: reviewerSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, []llm.ToolDef{reviewToolDef})
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	payload := resp.Content
	for _, call := range resp.ToolCalls {
		if call.Name == reviewToolDef.Name {
			payload = call.Arguments
			break
		}
	}

	review, err := r.parseReview(ctx, payload, req)
	if err != nil {
		return nil, err
	}

	r.logger.Debug(ctx, "review parsed",
		zap.Float64("overall", review.Scores.Overall),
		zap.Int("issues", len(review.Issues)),
		zap.Bool("passed", review.Passed),
	)
	return review, nil
}

func (r *LLMReviewer) buildPrompt(req ReviewRequest) string {
	var b strings.Builder
	if req.Task != nil {
		fmt.Fprintf(&b, "Task: %s\n", req.Task.Title)
		if req.Task.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", req.Task.Description)
		}
		for _, c := range req.Task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- must: %s\n", c)
		}
	}
	fmt.Fprintf(&b, "Iteration: %d\n", req.Iteration)

	if tr := req.TestResults; tr != nil {
		fmt.Fprintf(&b, "\nTests: %d passed, %d failed, %d skipped, coverage %.1f%%\n",
			tr.Passed, tr.Failed, tr.Skipped, tr.Coverage)
		for _, f := range tr.Failures {
			fmt.Fprintf(&b, "- FAIL %s: %s\n", f.Name, f.Message)
		}
	}

	b.WriteString("\nCandidate files:\n")
	for _, f := range req.Files {
		if f.Delete {
			fmt.Fprintf(&b, "--- %s (deleted) ---\n", f.Path)
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, f.Content)
	}
	return b.String()
}

// reviewResponse is the JSON shape the judge emits.
type reviewResponse struct {
	Dimensions  map[string]float64 `json:"dimensions"`
	Issues      []quality.Issue    `json:"issues,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Summary     string             `json:"summary,omitempty"`
}

func (r *LLMReviewer) parseReview(ctx context.Context, payload string, req ReviewRequest) (*quality.Review, error) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)

	var resp reviewResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelOutput, err)
	}
	if len(resp.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: review has no dimension scores", ErrBadModelOutput)
	}

	dims := make(map[quality.Dimension]float64, len(resp.Dimensions))
	for _, d := range quality.AllDimensions() {
		v, ok := resp.Dimensions[string(d)]
		if !ok {
			continue
		}
		if v < 0 || v > 100 {
			r.logger.Warn(ctx, "clamping out-of-range dimension score",
				zap.String("dimension", string(d)), zap.Float64("value", v))
			v = min(max(v, 0), 100)
		}
		dims[d] = v
	}
	scores := quality.NewScores(dims)

	issues := resp.Issues
	for i := range issues {
		issues[i].Severity = normalizeSeverity(issues[i].Severity)
	}

	coverage := 0.0
	if req.TestResults != nil {
		coverage = req.TestResults.Coverage
	}

	return &quality.Review{
		Scores:      scores,
		Issues:      issues,
		Suggestions: resp.Suggestions,
		Passed:      quality.EvaluatePassed(scores, coverage, issues, r.thresholds),
		Summary:     resp.Summary,
	}, nil
}

func normalizeSeverity(s quality.Severity) quality.Severity {
	switch quality.Severity(strings.ToLower(string(s))) {
	case quality.SeverityInfo:
		return quality.SeverityInfo
	case quality.SeverityWarning:
		return quality.SeverityWarning
	case quality.SeverityError:
		return quality.SeverityError
	case quality.SeverityCritical:
		return quality.SeverityCritical
	default:
		return quality.SeverityWarning
	}
}
