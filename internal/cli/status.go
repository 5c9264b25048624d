package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateStyles = map[models.TaskState]lipgloss.Style{
		models.StateNew:              lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		models.StatePlanning:         lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		models.StateExecuting:        lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		models.StateAwaitingApproval: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.StateDone:             lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		models.StateFailed:           lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StateRejected:         lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a snapshot of the engine",
	Long: `Show task counts per state, pending approvals, approval analytics and
today's outbound actions per channel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Reporter == nil {
			return fmt.Errorf("reporter not initialized")
		}
		rep, err := Reporter.Build(core.ReportDashboard)
		if err != nil {
			return fmt.Errorf("building status: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rep))
		return nil
	},
}

func renderStatus(rep *core.Report) string {
	var tasks strings.Builder
	tasks.WriteString(headerStyle.Render("Tasks") + "\n")
	for _, st := range models.AllStates {
		label := stateStyles[st].Render(fmt.Sprintf("%-18s", st))
		fmt.Fprintf(&tasks, "%s %d\n", label, rep.Counts[st])
	}

	var approvals strings.Builder
	approvals.WriteString(headerStyle.Render(fmt.Sprintf("Pending approvals (%d)", len(rep.PendingApprovals))) + "\n")
	if len(rep.PendingApprovals) == 0 {
		approvals.WriteString(mutedStyle.Render("none") + "\n")
	}
	for _, a := range rep.PendingApprovals {
		fmt.Fprintf(&approvals, "%s  %s  expires in %s\n", a.ID, a.TaskID,
			a.Expires.Sub(rep.Generated).Round(time.Minute))
	}
	if a := rep.Analytics; a != nil && a.Resolved() > 0 {
		fmt.Fprintf(&approvals, "\napproval rate %.0f%% over %d resolved\n", a.ApprovalRate*100, a.Resolved())
	}

	var actions strings.Builder
	actions.WriteString(headerStyle.Render("Actions today") + "\n")
	channels := make([]string, 0, len(rep.ActionsToday))
	for ch := range rep.ActionsToday {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	if len(channels) == 0 {
		actions.WriteString(mutedStyle.Render("none") + "\n")
	}
	for _, ch := range channels {
		fmt.Fprintf(&actions, "%-12s %d\n", ch, rep.ActionsToday[ch])
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(strings.TrimRight(tasks.String(), "\n")),
		panelStyle.Render(strings.TrimRight(approvals.String(), "\n")),
		panelStyle.Render(strings.TrimRight(actions.String(), "\n")),
	)
	title := titleStyle.Render("ate status") + " " + mutedStyle.Render(rep.Generated.Format("2006-01-02 15:04 UTC"))
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
