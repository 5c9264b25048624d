package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
)

var reportPrint bool

var reportCmd = &cobra.Command{
	Use:       "report [dashboard|briefing|eod|weekly]",
	Short:     "Generate a summary report",
	Long:      `Generate a markdown report under reports/. Defaults to the dashboard.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"dashboard", "briefing", "eod", "weekly"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if Reporter == nil {
			return fmt.Errorf("reporter not initialized")
		}
		kind := core.ReportDashboard
		if len(args) == 1 {
			k, err := core.ParseReportKind(args[0])
			if err != nil {
				return err
			}
			kind = k
		}

		if reportPrint {
			rep, err := Reporter.Build(kind)
			if err != nil {
				return fmt.Errorf("building %s report: %w", kind, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), core.RenderReport(rep))
			return nil
		}

		path, err := Reporter.Generate(kind)
		if err != nil {
			return fmt.Errorf("generating %s report: %w", kind, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportPrint, "print", false, "Print the report instead of writing it")
	rootCmd.AddCommand(reportCmd)
}
