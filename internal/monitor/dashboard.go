// Package monitor renders the live pipeline dashboard: phase progress,
// current task, score trajectory, and breaker health, refreshed from
// persisted state via statewatch.
package monitor

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/resilience"
	"github.com/fyrsmithlabs/coco/internal/state"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxTaskRows     = 8

	refreshInterval = time.Second
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Model is the bubbletea model behind `coco dashboard`.
type Model struct {
	updates  <-chan *state.ProjectState
	breakers []*resilience.Breaker

	st         *state.ProjectState
	scores     []float64
	lastUpdate time.Time
	quitting   bool

	phaseBar progress.Model
}

// NewModel creates a dashboard fed by updates. breakers are optional; when
// the dashboard runs in-process with the pipeline they expose live circuit
// health.
func NewModel(updates <-chan *state.ProjectState, breakers ...*resilience.Breaker) Model {
	bar := progress.New(
		progress.WithGradient("#00ffff", "#00ff00"),
		progress.WithWidth(40),
	)
	return Model{
		updates:  updates,
		breakers: breakers,
		phaseBar: bar,
	}
}

type (
	tickMsg  time.Time
	stateMsg struct{ st *state.ProjectState }
)

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForState(updates <-chan *state.ProjectState) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg{st: st}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForState(m.updates))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Breaker states and the staleness clock refresh even when no new
		// revision arrives.
		return m, tick()

	case stateMsg:
		m.st = msg.st
		m.scores = scoreHistory(msg.st, historySize)
		m.lastUpdate = time.Now()
		return m, waitForState(m.updates)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.st == nil {
		return m.renderWaiting()
	}
	return m.renderDashboard()
}

func (m Model) renderWaiting() string {
	content := headerStyle.Render(" coco pipeline ") + "\n\n" +
		dimStyle.Render("Waiting for project state...") + "\n\n" +
		dimStyle.Render("Run ") + valueStyle.Render("coco run") + dimStyle.Render(" in this project to begin.") + "\n" +
		m.renderFooter()
	return containerStyle.Render(content)
}

func (m Model) renderDashboard() string {
	st := m.st
	var content string

	content += headerStyle.Render(" coco pipeline ") + "  " +
		valueStyle.Render(st.Name) + "  " +
		phaseBadge(st.CurrentPhase) + "  " +
		dimStyle.Render("updated "+m.lastUpdate.Format("15:04:05")) + "\n"

	prog := orchestrator.ProjectProgress(st)
	content += "\n" + sectionStyle.Render("┃ Progress") + "\n"
	content += labelStyle.Render("  Phase: ") + valueStyle.Render(string(st.CurrentPhase)) +
		"   " + m.phaseBar.ViewAs(prog.OverallProgress) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", prog.OverallProgress*100)) + "\n"
	if prog.CurrentTask != "" {
		content += labelStyle.Render("  Task:  ") + valueStyle.Render(prog.CurrentTask) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Tasks") + "\n"
	content += labelStyle.Render("  Done: ") + valueStyle.Render(fmt.Sprintf("%d", len(st.CompletedTasks))) +
		dimStyle.Render("   pending: ") + valueStyle.Render(fmt.Sprintf("%d", len(st.PendingTasks))) + "\n"
	for _, tr := range lastTasks(st.CompletedTasks, maxTaskRows) {
		badge := healthyStyle.Render("✓")
		if !tr.Converged {
			badge = warningStyle.Render("~")
		}
		content += fmt.Sprintf("  %s %s %s %s\n",
			badge,
			valueStyle.Render(tr.TaskID),
			dimStyle.Render(fmt.Sprintf("%d iter", tr.Iterations)),
			scoreStyle(tr.FinalScore).Render(fmt.Sprintf("%.1f", tr.FinalScore)),
		)
	}

	content += "\n" + sectionStyle.Render("┃ Quality") + "\n"
	latest := "-"
	if st.LastScores != nil {
		latest = fmt.Sprintf("%.1f", st.LastScores.Overall)
	}
	content += labelStyle.Render("  Score: ") + valueStyle.Render(latest) +
		"   " + renderSparkline(m.scores) + "\n"

	if len(m.breakers) > 0 {
		content += "\n" + sectionStyle.Render("┃ Breakers") + "\n"
		for _, b := range m.breakers {
			content += labelStyle.Render("  "+b.Upstream()+": ") + breakerBadge(b.State()) + "\n"
		}
	}

	if st.Workspace.Commit != "" {
		dirty := ""
		if st.Workspace.Dirty {
			dirty = warningStyle.Render(" dirty")
		}
		content += "\n" + dimStyle.Render("  "+st.Workspace.Branch+" @ "+shortCommit(st.Workspace.Commit)) + dirty + "\n"
	}

	content += m.renderFooter()
	return containerStyle.Render(content)
}

func (m Model) renderFooter() string {
	return footerStyle.Render(footerKeyStyle.Render("[q]")+" quit") + "\n"
}

func phaseBadge(p state.Phase) string {
	switch p {
	case state.PhaseIdle:
		return dimStyle.Render("● idle")
	case state.PhaseOutput:
		return healthyStyle.Render("✓ output")
	default:
		return warningStyle.Render("● " + string(p))
	}
}

func breakerBadge(s resilience.State) string {
	switch s {
	case resilience.StateClosed:
		return healthyStyle.Render("closed")
	case resilience.StateHalfOpen:
		return warningStyle.Render("half-open")
	default:
		return errorStyle.Render("open")
	}
}

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 85:
		return healthyStyle
	case score >= 70:
		return warningStyle
	default:
		return errorStyle
	}
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// scoreHistory projects QualityHistory into the newest max overall values.
func scoreHistory(st *state.ProjectState, max int) []float64 {
	recs := st.QualityHistory
	if len(recs) > max {
		recs = recs[len(recs)-max:]
	}
	out := make([]float64, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Scores.Overall)
	}
	return out
}

func lastTasks(tasks []state.TaskResult, max int) []state.TaskResult {
	if len(tasks) > max {
		return tasks[len(tasks)-max:]
	}
	return tasks
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
