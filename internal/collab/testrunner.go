package collab

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
)

// DefaultTestCommand runs the whole suite of a Go project.
const DefaultTestCommand = "go test ./..."

var (
	coverageRe = regexp.MustCompile(`coverage: ([0-9.]+)% of statements`)
	testPassRe = regexp.MustCompile(`(?m)^\s*--- PASS: (\S+)`)
	testFailRe = regexp.MustCompile(`(?m)^\s*--- FAIL: (\S+)`)
	testSkipRe = regexp.MustCompile(`(?m)^\s*--- SKIP: (\S+)`)
	pkgOkRe    = regexp.MustCompile(`(?m)^ok[ \t]+(\S+)`)
	pkgFailRe  = regexp.MustCompile(`(?m)^FAIL[ \t]+(\S+)`)
)

// TestRunner executes the project's test command and parses the outcome.
// A failing suite is a result, not an error; only spawn failures error.
type TestRunner struct {
	command string
	logger  *logging.Logger
}

// NewTestRunner creates a runner for the given command (empty uses
// DefaultTestCommand). The command is split on whitespace and executed
// directly, not through a shell.
func NewTestRunner(command string, logger *logging.Logger) *TestRunner {
	if command == "" {
		command = DefaultTestCommand
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TestRunner{command: command, logger: logger.Named("testrunner")}
}

// Run executes the test command in projectPath.
func (r *TestRunner) Run(ctx context.Context, projectPath string) (*quality.TestResults, error) {
	parts := strings.Fields(r.command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("test command is empty")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = projectPath

	start := time.Now()
	out, err := cmd.CombinedOutput()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("test command interrupted: %w", ctx.Err())
	}

	results := parseTestOutput(string(out))
	results.Duration = duration

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running test command %q: %w", r.command, err)
		}
		// Non-zero exit with nothing parsed still counts as a failed suite.
		if results.Failed == 0 {
			results.Failed = 1
			results.Failures = append(results.Failures, quality.TestFailure{
				Name:    "suite",
				Message: tail(string(out), 400),
			})
		}
	}

	r.logger.Info(ctx, "test run finished",
		zap.Int("passed", results.Passed),
		zap.Int("failed", results.Failed),
		zap.Int("skipped", results.Skipped),
		zap.Float64("coverage", results.Coverage),
		zap.Duration("duration", duration),
	)
	return results, nil
}

// parseTestOutput reads `go test` output. Verbose runs yield per-test
// counts; otherwise packages are counted. Coverage is the mean of all
// per-package percentages.
func parseTestOutput(out string) *quality.TestResults {
	results := &quality.TestResults{}

	results.Passed = len(testPassRe.FindAllString(out, -1))
	results.Skipped = len(testSkipRe.FindAllString(out, -1))
	for _, m := range testFailRe.FindAllStringSubmatch(out, -1) {
		results.Failed++
		results.Failures = append(results.Failures, quality.TestFailure{Name: m[1]})
	}

	if results.Passed == 0 && results.Failed == 0 && results.Skipped == 0 {
		results.Passed = len(pkgOkRe.FindAllString(out, -1))
		for _, m := range pkgFailRe.FindAllStringSubmatch(out, -1) {
			results.Failed++
			results.Failures = append(results.Failures, quality.TestFailure{Name: m[1]})
		}
	}

	if matches := coverageRe.FindAllStringSubmatch(out, -1); len(matches) > 0 {
		var sum float64
		for _, m := range matches {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			sum += v
		}
		results.Coverage = quality.Round2(sum / float64(len(matches)))
	}

	return results
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
