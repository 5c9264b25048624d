package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	atemcp "github.com/valter-silva-au/ai-task-engine/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the ate MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ate MCP server on stdio",
	Long: `Start the ate MCP server on stdio transport.

The server exposes the engine as MCP tools: list_tasks, get_task,
submit_task, list_approvals, resolve_approval, get_analytics, get_metrics
and get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Tasks == nil || Approvals == nil {
			return fmt.Errorf("engine not initialized")
		}

		srv := atemcp.NewServer(atemcp.Deps{
			Tasks:       Tasks,
			Intake:      Intake,
			Approvals:   Approvals,
			MetricsCalc: MetricsCalc,
			AlertEngine: AlertEngine,
		}, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
