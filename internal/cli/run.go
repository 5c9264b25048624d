package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine daemon",
	Long: `Run the task processor, the health supervisor, the approval expiry sweep
and the decision-drop watcher until interrupted.

The HTTP operator API is served as well when http.addr is configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Daemon == nil {
			return fmt.Errorf("engine not initialized")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runDaemon(ctx)
	},
}

func runDaemon(ctx context.Context) error {
	if err := Daemon(ctx); err != nil {
		return fmt.Errorf("running engine: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
