package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// completeTaskIDs lists live task ids in the given states, or in every
// state when none are given. Each id is described by its source and state.
func completeTaskIDs(states ...models.TaskState) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	if len(states) == 0 {
		states = models.AllStates
	}
	return func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if Tasks == nil || len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var ids []string
		for _, st := range states {
			tasks, err := Tasks.List(st)
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			for _, t := range tasks {
				if strings.HasPrefix(t.ID, toComplete) {
					ids = append(ids, t.ID+"\t"+t.Source+": "+string(t.State))
				}
			}
		}
		sort.Strings(ids)
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}

// completePendingApprovals lists pending approval request ids.
func completePendingApprovals(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Approvals == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	pending, err := Approvals.List(models.ApprovalPending)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var ids []string
	for _, a := range pending {
		if strings.HasPrefix(a.ID, toComplete) {
			ids = append(ids, a.ID+"\t"+a.Action.Kind+" -> "+a.Action.Target)
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

func completeStates(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	states := make([]string, 0, len(models.AllStates)+1)
	for _, st := range models.AllStates {
		states = append(states, string(st))
	}
	states = append(states, "archived")
	return states, cobra.ShellCompDirectiveNoFileComp
}

func completeApprovalStates(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(models.ApprovalPending),
		string(models.ApprovalApproved),
		string(models.ApprovalRejected),
		string(models.ApprovalExpired),
	}, cobra.ShellCompDirectiveNoFileComp
}

func completePriorities(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(models.PriorityUrgent) + "\tClaimed first",
		string(models.PriorityHigh),
		string(models.PriorityNormal),
		string(models.PriorityLow),
	}, cobra.ShellCompDirectiveNoFileComp
}
