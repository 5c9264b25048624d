package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/internal/integration"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

var (
	submitSource   string
	submitPriority string
	submitType     string
	submitFile     string
	submitMeta     []string
	submitInbox    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [payload]",
	Short: "Submit a task to the engine",
	Long: `Submit a task. The payload is taken from the argument, from --file, or
from stdin when the argument is "-".

Submitting identical content from the same source within the dedup window
returns the existing task ID.

With --inbox the task is written as a watcher document into the inbox and is
picked up by the running engine on its next cycle.`,
	Example: `  ate submit --source gmail "Can you send me the Q3 invoice?" --meta reply_to=bob@example.com
  cat message.txt | ate submit --source slack -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Intake == nil && !submitInbox {
			return fmt.Errorf("task intake not initialized")
		}

		payload, err := readPayload(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		meta, err := parseMeta(submitMeta)
		if err != nil {
			return err
		}

		req := models.IntakeRequest{
			Source:       submitSource,
			Timestamp:    now(),
			Payload:      payload,
			PriorityHint: submitPriority,
			Type:         submitType,
			Metadata:     meta,
		}
		if submitInbox {
			return dropInInbox(cmd.OutOrStdout(), req)
		}

		id, created, err := Intake.Submit(req)
		if err != nil {
			return fmt.Errorf("submitting task: %w", err)
		}

		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of existing task %s\n", id)
		}
		return nil
	},
}

func dropInInbox(w io.Writer, req models.IntakeRequest) error {
	if BasePath == "" {
		return fmt.Errorf("base path not initialized")
	}
	dir := filepath.Join(BasePath, "inbox")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating inbox directory: %w", err)
	}
	path, err := integration.WriteIntakeDocument(dir, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Queued %s\n", path)
	return nil
}

func readPayload(stdin io.Reader, args []string) (string, error) {
	switch {
	case submitFile != "":
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", submitFile, err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", fmt.Errorf("a payload argument, --file or - (stdin) is required")
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", p)
		}
		meta[strings.TrimSpace(k)] = v
	}
	return meta, nil
}

func init() {
	submitCmd.Flags().StringVar(&submitSource, "source", "cli", "Task source (e.g. gmail, slack)")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "", "Priority hint (low, normal, high, urgent)")
	submitCmd.Flags().StringVar(&submitType, "type", "", "Task type")
	submitCmd.Flags().StringVar(&submitFile, "file", "", "Read the payload from a file")
	submitCmd.Flags().StringArrayVar(&submitMeta, "meta", nil, "Metadata key=value (repeatable)")
	submitCmd.Flags().BoolVar(&submitInbox, "inbox", false, "Write the task into the inbox instead of submitting it directly")
	_ = submitCmd.RegisterFlagCompletionFunc("priority", completePriorities)
	rootCmd.AddCommand(submitCmd)
}
