package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

var tasksState string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	Long: `List tasks grouped by state. Use --state to show a single state, or
--state archived for the archive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Tasks == nil {
			return fmt.Errorf("task store not initialized")
		}
		out := cmd.OutOrStdout()

		switch tasksState {
		case "":
			total := 0
			for _, st := range models.AllStates {
				tasks, err := Tasks.List(st)
				if err != nil {
					return fmt.Errorf("listing %s tasks: %w", st, err)
				}
				if len(tasks) == 0 {
					continue
				}
				total += len(tasks)
				printTaskGroup(out, string(st), tasks)
				fmt.Fprintln(out)
			}
			if total == 0 {
				fmt.Fprintln(out, "No tasks found.")
			}
		case "archive", "archived":
			tasks, err := Tasks.ListArchived()
			if err != nil {
				return fmt.Errorf("listing archived tasks: %w", err)
			}
			printTaskGroup(out, "archived", tasks)
		default:
			st := models.TaskState(tasksState)
			if !st.Valid() {
				return fmt.Errorf("unknown state %q", tasksState)
			}
			tasks, err := Tasks.List(st)
			if err != nil {
				return fmt.Errorf("listing %s tasks: %w", st, err)
			}
			printTaskGroup(out, string(st), tasks)
		}
		return nil
	},
}

// printTaskGroup prints a table of tasks under a state heading.
func printTaskGroup(out io.Writer, state string, tasks []models.Task) {
	fmt.Fprintf(out, "== %s (%d) ==\n", strings.ToUpper(state), len(tasks))
	fmt.Fprintf(out, "  %-44s %-7s %-10s %s\n", "ID", "PRI", "SOURCE", "CREATED")
	fmt.Fprintf(out, "  %-44s %-7s %-10s %s\n", "--", "---", "------", "-------")
	for _, t := range tasks {
		fmt.Fprintf(out, "  %-44s %-7s %-10s %s\n", t.ID, t.Priority, t.Source, t.Created.Format("2006-01-02 15:04"))
	}
}

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task with its plan and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Tasks == nil {
			return fmt.Errorf("task store not initialized")
		}
		task, err := Tasks.Get(args[0])
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}
		printTask(cmd.OutOrStdout(), task)
		return nil
	},
}

func printTask(out io.Writer, t *models.Task) {
	state := string(t.State)
	if t.Archived {
		state += " (archived)"
	}
	fmt.Fprintf(out, "Task:     %s\n", t.ID)
	fmt.Fprintf(out, "State:    %s\n", state)
	fmt.Fprintf(out, "Source:   %s\n", t.Source)
	if t.Type != "" {
		fmt.Fprintf(out, "Type:     %s\n", t.Type)
	}
	fmt.Fprintf(out, "Priority: %s\n", t.Priority)
	fmt.Fprintf(out, "Created:  %s\n", t.Created.Format(time.RFC3339))
	fmt.Fprintf(out, "Attempts: %d\n", t.Attempts)
	if t.ApprovalID != "" {
		fmt.Fprintf(out, "Approval: %s\n", t.ApprovalID)
	}
	if t.LastError != "" {
		fmt.Fprintf(out, "Error:    %s\n", t.LastError)
	}
	if t.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", t.Reason)
	}

	if t.Plan != nil && len(t.Plan.Steps) > 0 {
		fmt.Fprintln(out, "\nPlan:")
		for i, s := range t.Plan.Steps {
			mark := " "
			if s.Done {
				mark = "x"
			}
			line := fmt.Sprintf("  [%s] %d. %s", mark, i+1, s.Description)
			if s.Action != nil && s.Action.Channel != "" {
				line += fmt.Sprintf(" -> %s:%s", s.Action.Channel, s.Action.Target)
			}
			if s.RequiresApproval {
				line += " (approval)"
			}
			fmt.Fprintln(out, line)
			if s.Result != "" {
				fmt.Fprintf(out, "        %s\n", s.Result)
			}
		}
	}

	if len(t.History) > 0 {
		fmt.Fprintln(out, "\nHistory:")
		for _, h := range t.History {
			fmt.Fprintf(out, "  %s  %s -> %s\n", h.At.Format("2006-01-02 15:04:05"), h.From, h.To)
		}
	}

	if strings.TrimSpace(t.Payload) != "" {
		fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(t.Payload))
	}
}

func init() {
	tasksCmd.Flags().StringVar(&tasksState, "state", "", "Filter by state (new, planning, executing, awaiting_approval, done, failed, rejected, archived)")
	_ = tasksCmd.RegisterFlagCompletionFunc("state", completeStates)
	showCmd.ValidArgsFunction = completeTaskIDs()
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(showCmd)
}
