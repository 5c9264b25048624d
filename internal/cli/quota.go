package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota [channel]",
	Short: "Show today's quota usage per channel",
	Long: `Show today's usage against the daily limit for one channel, or for
every configured channel when none is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Limiter == nil {
			return fmt.Errorf("rate limiter not initialized")
		}

		var channels []string
		if len(args) == 1 {
			channels = args
		} else if Config != nil {
			for ch := range Config.Quota.Channels {
				channels = append(channels, ch)
			}
			sort.Strings(channels)
		}
		if len(channels) == 0 {
			return fmt.Errorf("no channel given and no quota limits configured")
		}

		out := cmd.OutOrStdout()
		for _, ch := range channels {
			d, err := Limiter.CheckQuota(ch)
			if err != nil {
				return fmt.Errorf("checking quota for %s: %w", ch, err)
			}
			fmt.Fprintln(out, d.String())
		}
		return nil
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust <identifier>",
	Short: "Check an identifier against the trust policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Trust == nil {
			return fmt.Errorf("trust gate not initialized")
		}
		d := Trust.CheckTrust(args[0])
		if d.Trusted {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: trusted\n", d.Identifier)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: untrusted (%s)\n", d.Identifier, d.Reason)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd, trustCmd)
}
