package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

var (
	approvalsState  string
	resolveResolver string
	rejectReason    string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List approval requests",
	Long:  `List approval requests in a state. Defaults to pending requests.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Approvals == nil {
			return fmt.Errorf("approval engine not initialized")
		}
		state := models.ApprovalState(approvalsState)
		if !state.Valid() {
			return fmt.Errorf("unknown approval state %q", approvalsState)
		}
		reqs, err := Approvals.List(state)
		if err != nil {
			return fmt.Errorf("listing approvals: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(reqs) == 0 {
			fmt.Fprintf(out, "No %s approvals.\n", state)
			return nil
		}
		for _, r := range reqs {
			printApproval(out, r)
		}
		return nil
	},
}

func printApproval(out io.Writer, r models.ApprovalRequest) {
	reasons := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		reasons[i] = string(reason)
	}
	fmt.Fprintf(out, "%s  [%s] %s\n", r.ID, r.Priority, r.State)
	fmt.Fprintf(out, "  task:    %s (step %d)\n", r.TaskID, r.StepIndex+1)
	if r.Action.Channel != "" {
		fmt.Fprintf(out, "  action:  %s via %s to %s\n", r.Action.Kind, r.Action.Channel, r.Action.Target)
	} else {
		fmt.Fprintf(out, "  action:  %s\n", r.Action.Kind)
	}
	if len(reasons) > 0 {
		fmt.Fprintf(out, "  reasons: %s\n", strings.Join(reasons, ", "))
	}
	if r.State == models.ApprovalPending {
		fmt.Fprintf(out, "  expires: %s (in %s)\n", r.Expires.Format(time.RFC3339), r.Expires.Sub(now()).Round(time.Minute))
	} else if r.Resolver != "" {
		fmt.Fprintf(out, "  by:      %s\n", r.Resolver)
	}
	if r.Note != "" {
		fmt.Fprintf(out, "  note:    %s\n", r.Note)
	}
	fmt.Fprintln(out)
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending request and resume its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd.OutOrStdout(), args[0], models.DecisionApproved, "")
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending request and archive its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd.OutOrStdout(), args[0], models.DecisionRejected, rejectReason)
	},
}

func resolveApproval(out io.Writer, id string, decision models.Decision, reason string) error {
	if Approvals == nil {
		return fmt.Errorf("approval engine not initialized")
	}
	resolver := resolveResolver
	if resolver == "" {
		resolver = defaultResolver()
	}
	req, err := Approvals.Resolve(id, decision, resolver, reason)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}
	fmt.Fprintf(out, "Approval %s %s by %s (task %s)\n", req.ID, req.State, req.Resolver, req.TaskID)
	return nil
}

func defaultResolver() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply decision files and expire overdue approvals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Approvals == nil {
			return fmt.Errorf("approval engine not initialized")
		}
		out := cmd.OutOrStdout()
		if Decisions != nil {
			n, err := Decisions.Drain()
			if err != nil {
				return fmt.Errorf("applying decision files: %w", err)
			}
			if n > 0 {
				fmt.Fprintf(out, "Applied %d decision file(s)\n", n)
			}
		}
		expired, err := Approvals.Sweep(now())
		if err != nil {
			return fmt.Errorf("sweeping approvals: %w", err)
		}
		fmt.Fprintf(out, "Expired %d approval(s)\n", len(expired))
		for _, r := range expired {
			fmt.Fprintf(out, "  %s (task %s)\n", r.ID, r.TaskID)
		}
		return nil
	},
}

func init() {
	approvalsCmd.Flags().StringVar(&approvalsState, "state", string(models.ApprovalPending), "Filter by state (pending, approved, rejected, expired)")
	approveCmd.Flags().StringVar(&resolveResolver, "resolver", "", "Who is resolving the request (default $USER)")
	rejectCmd.Flags().StringVar(&resolveResolver, "resolver", "", "Who is resolving the request (default $USER)")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Reason for the rejection")
	_ = approvalsCmd.RegisterFlagCompletionFunc("state", completeApprovalStates)
	approveCmd.ValidArgsFunction = completePendingApprovals
	rejectCmd.ValidArgsFunction = completePendingApprovals
	rootCmd.AddCommand(approvalsCmd, approveCmd, rejectCmd, sweepCmd)
}
