package redact

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
)

// previewLen is how many leading characters of a secret survive in markers
// and audit entries.
const previewLen = 4

// Options configures redaction.
type Options struct {
	// ProjectPath locates <project>/.gitleaks.toml (empty to skip).
	ProjectPath string

	// UserAllowlistPath is a user-level allowlist TOML file (empty to skip).
	UserAllowlistPath string

	// Disabled passes content through untouched.
	Disabled bool
}

// Finding describes one redacted secret. The secret value itself is never
// stored, only a short preview for audit trails.
type Finding struct {
	RuleID      string `json:"ruleId"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Preview     string `json:"preview"`
	Length      int    `json:"length"`
}

// Result carries redacted content plus its audit trail.
type Result struct {
	Content  string
	Findings []Finding
	Duration time.Duration
}

// Redacted reports whether any secret was replaced.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

// Redactor replaces detected secrets with [REDACTED:rule:preview] markers
// before content leaves the process. The Gitleaks default ruleset is extended
// with merged project and user allowlists at construction time.
type Redactor struct {
	opts     Options
	detector *detect.Detector
	logger   *logging.Logger
}

// New builds a Redactor. Allowlist files are loaded and validated here so a
// bad pattern fails startup, not a mid-run LLM call.
func New(opts Options, logger *logging.Logger) (*Redactor, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Redactor{opts: opts, logger: logger.Named("redact")}
	if opts.Disabled {
		return r, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	allowlist, err := LoadAllowlists(opts.ProjectPath, opts.UserAllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	applyAllowlist(&detector.Config, allowlist)

	r.detector = detector
	return r, nil
}

// Enabled reports whether content will actually be scanned.
func (r *Redactor) Enabled() bool {
	return r != nil && !r.opts.Disabled && r.detector != nil
}

// Redact replaces secrets in content with [REDACTED:rule:preview] markers.
// A disabled redactor passes content through unchanged.
func (r *Redactor) Redact(ctx context.Context, content string) (Result, error) {
	start := time.Now()
	if !r.Enabled() {
		return Result{Content: content, Duration: time.Since(start)}, nil
	}

	detected := r.detector.DetectString(content)

	result := Result{
		Content:  content,
		Findings: make([]Finding, 0, len(detected)),
	}
	for _, f := range detected {
		if f.Secret == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Secret))
		// Replace by value rather than by reported position: column
		// conventions vary across rules, and multi-line secrets (private
		// keys) cross line boundaries.
		result.Content = strings.Replace(result.Content, f.Secret, marker, 1)
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Preview:     preview(f.Secret),
			Length:      len(f.Secret),
		})
	}
	result.Duration = time.Since(start)

	if result.Redacted() {
		r.logger.Warn(ctx, "redacted secrets from outbound content",
			zap.Int("count", len(result.Findings)),
			zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// preview returns the first previewLen characters of a secret.
func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}

// applyAllowlist merges allowlist patterns into the Gitleaks config as one
// extra global allowlist. Patterns were validated by loadTOML; a compile
// failure here is a programming error.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if len(allowlist.Paths) == 0 && len(allowlist.Regexes) == 0 {
		return
	}

	global := &gitleaksConfig.Allowlist{
		Description: "coco user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	// Literal allowlist entries also work as stopwords.
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
