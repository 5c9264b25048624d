package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/observability"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// Dashboard panel indices.
const (
	panelTasks = iota
	panelApprovals
	panelAlerts
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	report   *core.Report
	alerts   []observability.Alert
	selected int

	loading bool
	flash   string
	err     error
}

// dataLoadedMsg carries a fresh snapshot back to the model.
type dataLoadedMsg struct {
	report *core.Report
	alerts []observability.Alert
	err    error
}

// resolvedMsg reports the outcome of an approve or reject keypress.
type resolvedMsg struct {
	id    string
	state models.ApprovalState
	err   error
}

var (
	activePanelStyle = panelStyle.BorderForeground(lipgloss.Color("62"))
	selectedStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	severityStyles = map[observability.AlertSeverity]lipgloss.Style{
		observability.SeverityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		observability.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		observability.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
	}
)

func newDashboardModel() dashboardModel {
	return dashboardModel{activePanel: panelTasks, loading: true}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadDashboard
}

func (m dashboardModel) pending() []models.ApprovalRequest {
	if m.report == nil {
		return nil
	}
	return m.report.PendingApprovals
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadDashboard
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.pending())-1 {
				m.selected++
			}
			return m, nil
		case "a", "x":
			pending := m.pending()
			if m.activePanel != panelApprovals || len(pending) == 0 {
				return m, nil
			}
			decision := models.DecisionApproved
			if msg.String() == "x" {
				decision = models.DecisionRejected
			}
			return m, resolveFromDashboard(pending[m.selected].ID, decision)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.report = msg.report
		m.alerts = msg.alerts
		m.err = nil
		if n := len(m.pending()); m.selected >= n {
			m.selected = max(n-1, 0)
		}
		return m, nil

	case resolvedMsg:
		if msg.err != nil {
			m.flash = fmt.Sprintf("%s: %v", msg.id, msg.err)
			return m, nil
		}
		m.flash = fmt.Sprintf("%s %s", msg.id, msg.state)
		m.loading = true
		return m, loadDashboard
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" ate dashboard ")
	help := helpStyle.Render("tab: switch panel | j/k: select | a: approve | x: reject | r: refresh | q: quit")
	if m.flash != "" {
		help = mutedStyle.Render(m.flash) + "\n" + help
	}

	if m.loading && m.report == nil {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	tasks := m.renderTasksPanel()
	approvals := m.renderApprovalsPanel()
	alerts := m.renderAlertsPanel()

	availableWidth := m.width - 2
	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.applyPanelStyle(panelTasks, tasks, colWidth-4),
			m.applyPanelStyle(panelApprovals, approvals, colWidth-4),
			m.applyPanelStyle(panelAlerts, alerts, colWidth-4))
	} else {
		panelWidth := max(availableWidth-4, 20)
		body = lipgloss.JoinVertical(lipgloss.Left,
			m.applyPanelStyle(panelTasks, tasks, panelWidth),
			m.applyPanelStyle(panelApprovals, approvals, panelWidth),
			m.applyPanelStyle(panelAlerts, alerts, panelWidth))
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderTasksPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Tasks") + "\n")

	total := 0
	for _, st := range models.AllStates {
		n := m.report.Counts[st]
		total += n
		b.WriteString(stateStyles[st].Render(fmt.Sprintf("  %-18s %d", st, n)) + "\n")
	}
	fmt.Fprintf(&b, "\n  Total: %d", total)

	if len(m.report.ActionsToday) > 0 {
		b.WriteString("\n\n" + headerStyle.Render("Actions today") + "\n")
		for _, ch := range sortedKeys(m.report.ActionsToday) {
			fmt.Fprintf(&b, "  %-18s %d\n", ch, m.report.ActionsToday[ch])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m dashboardModel) renderApprovalsPanel() string {
	var b strings.Builder
	pending := m.pending()
	b.WriteString(headerStyle.Render(fmt.Sprintf("Pending approvals (%d)", len(pending))) + "\n")

	if len(pending) == 0 {
		b.WriteString("  No pending approvals.")
		return b.String()
	}
	for i, a := range pending {
		line := fmt.Sprintf("  %s %s -> %s", shortID(a.ID), a.Action.Kind, a.Action.Target)
		if i == m.selected && m.activePanel == panelApprovals {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("    task %s, expires in %s",
			a.TaskID, a.Expires.Sub(now()).Round(time.Minute))) + "\n")
	}
	if a := m.report.Analytics; a != nil && a.Resolved() > 0 {
		fmt.Fprintf(&b, "\n  Approval rate: %.0f%%", a.ApprovalRate*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts") + "\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}
	for _, a := range m.alerts {
		sev := severityStyles[a.Severity].Render(fmt.Sprintf("[%s]", strings.ToUpper(string(a.Severity))))
		fmt.Fprintf(&b, "  %s %s\n", sev, a.Message)
	}
	fmt.Fprintf(&b, "\n  Total: %d alert(s)", len(m.alerts))
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func loadDashboard() tea.Msg {
	var result dataLoadedMsg
	rep, err := Reporter.Build(core.ReportDashboard)
	if err != nil {
		result.err = fmt.Errorf("loading snapshot: %w", err)
		return result
	}
	result.report = rep

	// Evaluate returns alerts ordered by severity.
	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = alerts
	}
	return result
}

func resolveFromDashboard(id string, decision models.Decision) tea.Cmd {
	return func() tea.Msg {
		req, err := Approvals.Resolve(id, decision, defaultResolver(), "")
		if err != nil {
			return resolvedMsg{id: id, err: err}
		}
		return resolvedMsg{id: id, state: req.State}
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI for tasks, approvals and alerts",
	Long: `Launch an interactive terminal dashboard showing task counts, pending
approvals and active alerts.

Navigate between panels with Tab. In the approvals panel, select a request
with j/k and approve it with a or reject it with x. Refresh with r, quit
with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Reporter == nil || Approvals == nil {
			return fmt.Errorf("engine not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
