package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var completionInstall bool

// shellCompletion describes how to generate and install the script for one
// shell. install is empty when the shell has no user-local completion dir.
type shellCompletion struct {
	generate func(w io.Writer) error
	install  []string
	hint     string
}

var completionShells = map[string]shellCompletion{
	"bash": {
		generate: func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
		install:  []string{".local", "share", "bash-completion", "completions", "ate"},
		hint:     `eval "$(ate completion bash)"`,
	},
	"zsh": {
		generate: func(w io.Writer) error { return rootCmd.GenZshCompletion(w) },
		install:  []string{".local", "share", "zsh", "site-functions", "_ate"},
		hint:     `eval "$(ate completion zsh)"`,
	},
	"fish": {
		generate: func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
		install:  []string{".config", "fish", "completions", "ate.fish"},
		hint:     "ate completion fish | source",
	},
	"powershell": {
		generate: func(w io.Writer) error { return rootCmd.GenPowerShellCompletionWithDesc(w) },
		hint:     "ate completion powershell | Out-String | Invoke-Expression",
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Generate or install shell completions",
	Long: `Generate shell completions for ate commands, task ids and approval ids.

Supported shells: bash, zsh, fish, powershell

Print the script (for eval or manual setup):

  ate completion zsh

Install into the user-local completion directory:

  ate completion bash --install`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		sh, ok := completionShells[args[0]]
		if !ok {
			return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", args[0])
		}
		if !completionInstall {
			// The hint goes to stderr so stdout stays eval-able.
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# To load completions in your current session:\n#   %s\n", sh.hint)
			return sh.generate(cmd.OutOrStdout())
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("detecting home directory: %w", err)
		}
		target, err := installCompletion(home, args[0], sh)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s completions installed to %s\n", args[0], target)
		return nil
	},
}

// installCompletion writes the script for shell under home and returns the
// path written.
func installCompletion(home, shell string, sh shellCompletion) (string, error) {
	if len(sh.install) == 0 {
		return "", fmt.Errorf("automatic install is not supported for %s; run 'ate completion %s' and add the output to your profile", shell, shell)
	}
	target := filepath.Join(append([]string{home}, sh.install...)...)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("creating completion directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("creating completion file %s: %w", target, err)
	}
	writeErr := sh.generate(f)
	closeErr := f.Close()
	if writeErr != nil {
		return "", writeErr
	}
	if closeErr != nil {
		return "", fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}
	return target, nil
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Install completions into the user-local completion directory")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}
