// Package tui provides the live execution view for prospector.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/scheduler"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)
)

const maxLogLines = 200

// Sink returns an event function for the orchestrator and the channel the
// watch view drains. Events beyond the buffer are dropped rather than
// blocking the scheduler.
func Sink() (scheduler.EventFunc, <-chan scheduler.Event) {
	ch := make(chan scheduler.Event, 256)
	fn := func(e scheduler.Event) {
		select {
		case ch <- e:
		default:
		}
	}
	return fn, ch
}

// Watch is the live execution view: node board, budget meter and a
// scrolling event log, refreshed while the plan runs.
type Watch struct {
	plan   *plan.Plan
	events <-chan scheduler.Event

	snap     plan.Snapshot
	logLines []string

	viewport viewport.Model
	meter    progress.Model

	width       int
	height      int
	doneTicks   int
	initialized bool
}

// NewWatch creates the watch view for a plan that is about to execute.
func NewWatch(p *plan.Plan, events <-chan scheduler.Event) *Watch {
	vp := viewport.New(80, 8)
	meter := progress.New(progress.WithDefaultGradient())

	return &Watch{
		plan:     p,
		events:   events,
		snap:     p.Snapshot(),
		viewport: vp,
		meter:    meter,
	}
}

// Run starts the watch view and blocks until the plan finishes or the user
// quits.
func (w *Watch) Run() error {
	prog := tea.NewProgram(w, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model
func (w *Watch) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return w, tea.Quit
		case "up", "k":
			w.viewport.LineUp(1)
		case "down", "j":
			w.viewport.LineDown(1)
		}

	case tea.WindowSizeMsg:
		w.width = msg.Width
		w.height = msg.Height
		w.viewport.Width = msg.Width - 4
		w.viewport.Height = w.logHeight()
		w.meter.Width = msg.Width - 24
		w.initialized = true

	case tickMsg:
		w.drainEvents()
		w.snap = w.plan.Snapshot()
		if w.snap.Status == plan.PlanCompleted || w.snap.Status == plan.PlanFailed {
			// Let the final board render for a moment before closing.
			w.doneTicks++
			if w.doneTicks > 4 {
				return w, tea.Quit
			}
		}
		return w, tickCmd()
	}

	return w, nil
}

func (w *Watch) drainEvents() {
	for {
		select {
		case e := <-w.events:
			w.appendLog(e)
		default:
			return
		}
	}
}

func (w *Watch) appendLog(e scheduler.Event) {
	nodeRef := ""
	if e.NodeID != "" {
		nodeRef = " " + shortID(e.NodeID)
	}
	if e.TaskType != "" {
		nodeRef += " " + e.TaskType
	}
	line := fmt.Sprintf("%s  %-15s%s  %s",
		e.Timestamp.Format("15:04:05"), e.Type, nodeRef, e.Message)

	w.logLines = append(w.logLines, line)
	if len(w.logLines) > maxLogLines {
		w.logLines = w.logLines[len(w.logLines)-maxLogLines:]
	}
	w.viewport.SetContent(strings.Join(w.logLines, "\n"))
	w.viewport.GotoBottom()
}

func (w *Watch) logHeight() int {
	h := w.height - len(w.snap.Nodes) - 12
	if h < 3 {
		h = 3
	}
	if h > 12 {
		h = 12
	}
	return h
}

// View implements tea.Model
func (w *Watch) View() string {
	if !w.initialized {
		return "starting..."
	}

	var b strings.Builder

	header := titleStyle.Render(fmt.Sprintf("PROSPECTOR  %s", w.snap.Label))
	header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(shortID(w.snap.ID))
	header += "  " + w.formatPlanStatus(w.snap.Status)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", w.width) + "\n")

	// Node board
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-22s %-11s %-8s %9s %9s", "TASK", "STATUS", "RETRIES", "EST", "ACTUAL")) + "\n")
	for _, n := range w.snap.Nodes {
		actual := "-"
		if n.ActualCost != nil {
			actual = fmt.Sprintf("$%.2f", *n.ActualCost)
		}
		retries := "-"
		if n.Retries > 0 {
			retries = fmt.Sprintf("%d/%d", n.Retries, n.MaxRetries)
		}
		b.WriteString(fmt.Sprintf("  %-22s %s %-8s %9s %9s\n",
			truncate(n.TaskType, 22),
			w.formatNodeStatus(n.Status),
			retries,
			fmt.Sprintf("$%.2f", n.EstimatedCost),
			actual,
		))
	}

	// Budget meter
	b.WriteString("\n")
	if w.snap.MaxBudget != nil && *w.snap.MaxBudget > 0 {
		pct := w.snap.TotalActualCost / *w.snap.MaxBudget
		if pct > 1 {
			pct = 1
		}
		b.WriteString(fmt.Sprintf("  Budget %s $%.2f / $%.2f\n",
			w.meter.ViewAs(pct), w.snap.TotalActualCost, *w.snap.MaxBudget))
	} else {
		b.WriteString(fmt.Sprintf("  Spent $%.2f (estimated $%.2f, no budget cap)\n",
			w.snap.TotalActualCost, w.snap.TotalEstimatedCost))
	}

	// Event log
	b.WriteString("\n")
	b.WriteString(panelStyle.Width(w.width - 2).Render(w.viewport.View()))
	b.WriteString("\n")

	if w.snap.ErrorMessage != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(errorColor).Render("  "+w.snap.ErrorMessage) + "\n")
	}

	status := fmt.Sprintf(" %d nodes | ↑↓:scroll log | q:quit", len(w.snap.Nodes))
	if w.doneTicks > 0 {
		status = " finished | closing..."
	}
	b.WriteString(statusBarStyle.Width(w.width).Render(status))
	b.WriteString("\n" + helpStyle.Render(""))

	return b.String()
}

func (w *Watch) formatPlanStatus(status plan.PlanStatus) string {
	switch status {
	case plan.PlanPending:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING")
	case plan.PlanRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING")
	case plan.PlanCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	case plan.PlanFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	default:
		return string(status)
	}
}

func (w *Watch) formatNodeStatus(status plan.Status) string {
	switch status {
	case plan.StatusPending:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING  ")
	case plan.StatusScheduled:
		return lipgloss.NewStyle().Foreground(cyanColor).Render("◔ SCHEDULED")
	case plan.StatusRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING  ")
	case plan.StatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE     ")
	case plan.StatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED   ")
	case plan.StatusSkipped:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("⊘ SKIPPED  ")
	case plan.StatusCancelled:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("⊖ CANCELLED")
	default:
		return string(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
