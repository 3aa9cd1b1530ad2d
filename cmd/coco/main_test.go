package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/coco/internal/state"
)

// withProjectFlags points the global command flags at a temp project for the
// duration of one test.
func withProjectFlags(t *testing.T, dir string) {
	t.Helper()
	prevProject, prevConfig := flagProject, flagConfig
	prevName, prevForce := initName, initForce
	flagProject, flagConfig = dir, ""
	t.Cleanup(func() {
		flagProject, flagConfig = prevProject, prevConfig
		initName, initForce = prevName, prevForce
	})
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	for _, c := range rootCmd.Commands() {
		c.SetOut(buf)
		c.SetErr(buf)
	}
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		for _, c := range rootCmd.Commands() {
			c.SetOut(nil)
			c.SetErr(nil)
		}
	})
	return buf
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "string shorter than max",
			input:  "hello",
			maxLen: 10,
			want:   "hello",
		},
		{
			name:   "string equal to max",
			input:  "hello",
			maxLen: 5,
			want:   "hello",
		},
		{
			name:   "string longer than max",
			input:  "hello world",
			maxLen: 8,
			want:   "hello...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestProjectDir(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)

	got, err := projectDir()
	if err != nil {
		t.Fatalf("projectDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("projectDir() = %q, want %q", got, dir)
	}

	flagProject = ""
	cwd, _ := os.Getwd()
	got, err = projectDir()
	if err != nil {
		t.Fatalf("projectDir() error = %v", err)
	}
	if got != cwd {
		t.Errorf("projectDir() = %q, want cwd %q", got, cwd)
	}
}

func TestRunInit_CreatesStateAndBrief(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	buf := captureOutput(t)
	initName = "demo"

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	store, err := state.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Name != "demo" {
		t.Errorf("project name = %q, want %q", st.Name, "demo")
	}
	if st.CurrentPhase != state.PhaseIdle {
		t.Errorf("fresh project phase = %q, want %q", st.CurrentPhase, state.PhaseIdle)
	}

	briefPath := filepath.Join(state.CocoDir(dir), "brief.md")
	if _, err := os.Stat(briefPath); err != nil {
		t.Errorf("brief template missing: %v", err)
	}
	configData, err := os.ReadFile(filepath.Join(dir, "coco.yaml"))
	if err != nil {
		t.Fatalf("starter config missing: %v", err)
	}
	if !strings.Contains(string(configData), `name: "demo"`) {
		t.Errorf("starter config missing project name: %q", configData)
	}
	if strings.Contains(string(configData), "api_key") {
		t.Error("starter config must not mention api_key as a settable field")
	}
	if !strings.Contains(buf.String(), "Initialized project") {
		t.Errorf("output missing init confirmation: %q", buf.String())
	}
}

func TestRunInit_SecondRunNeedsForce(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	buf := captureOutput(t)

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("first runInit() error = %v", err)
	}
	store, _ := state.NewStore(dir)
	first, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("second runInit() error = %v", err)
	}
	second, _ := store.Load()
	if second.ID != first.ID {
		t.Error("init without --force replaced existing state")
	}
	if !strings.Contains(buf.String(), "already initialized") {
		t.Errorf("output missing already-initialized notice: %q", buf.String())
	}

	initForce = true
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("forced runInit() error = %v", err)
	}
	third, _ := store.Load()
	if third.ID == first.ID {
		t.Error("init --force kept the old state")
	}
}

func TestRunInit_NeverOverwritesBrief(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	captureOutput(t)

	briefPath := filepath.Join(state.CocoDir(dir), "brief.md")
	if err := os.MkdirAll(state.CocoDir(dir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(briefPath, []byte("build a key-value store"), 0o644); err != nil {
		t.Fatal(err)
	}

	initForce = true
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	data, err := os.ReadFile(briefPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "build a key-value store" {
		t.Errorf("brief was overwritten: %q", data)
	}
}

func TestRunStatus_NoState(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	captureOutput(t)

	err := runStatus(statusCmd, nil)
	if err == nil {
		t.Fatal("runStatus() on empty project should fail")
	}
	if !strings.Contains(err.Error(), "coco init") {
		t.Errorf("error = %q, want pointer to coco init", err)
	}
}

func TestRunStatus_AfterInit(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	captureOutput(t)

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	if err := runStatus(statusCmd, nil); err != nil {
		t.Errorf("runStatus() error = %v", err)
	}
}

func TestRunCheckpointsList_Empty(t *testing.T) {
	dir := t.TempDir()
	withProjectFlags(t, dir)
	buf := captureOutput(t)

	// Execute() seeds the command context; calling the RunE directly does not.
	checkpointsListCmd.SetContext(context.Background())
	if err := runCheckpointsList(checkpointsListCmd, nil); err != nil {
		t.Fatalf("runCheckpointsList() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No checkpoints found") {
		t.Errorf("output = %q, want empty-list notice", buf.String())
	}
}

func TestParsePhaseFlag(t *testing.T) {
	prev := cpPhase
	t.Cleanup(func() { cpPhase = prev })

	cpPhase = ""
	if p, err := parsePhaseFlag(); err != nil || p != "" {
		t.Errorf("parsePhaseFlag(\"\") = %q, %v", p, err)
	}

	cpPhase = "orchestrate"
	p, err := parsePhaseFlag()
	if err != nil {
		t.Fatalf("parsePhaseFlag() error = %v", err)
	}
	if p != state.PhaseOrchestrate {
		t.Errorf("parsePhaseFlag() = %q, want %q", p, state.PhaseOrchestrate)
	}

	cpPhase = "bogus"
	if _, err := parsePhaseFlag(); err == nil {
		t.Error("parsePhaseFlag(bogus) should fail")
	}
}
