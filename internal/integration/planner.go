package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// KeywordPlanner is the built-in planner. It produces the standard five-step
// plan and flags the execute step for approval when the payload mentions a
// sensitive keyword.
type KeywordPlanner struct {
	keywords []string
}

// NewKeywordPlanner creates a KeywordPlanner over the approval keywords.
func NewKeywordPlanner(approvalKeywords []string) *KeywordPlanner {
	kw := make([]string, 0, len(approvalKeywords))
	for _, k := range approvalKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &KeywordPlanner{keywords: kw}
}

// RequiresApproval reports whether payload mentions an approval keyword.
func (p *KeywordPlanner) RequiresApproval(payload string) bool {
	text := strings.ToLower(payload)
	for _, k := range p.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func (p *KeywordPlanner) Plan(ctx context.Context, task models.Task) (*models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if task.Type == "alert" {
		return &models.Plan{
			Steps: []models.Step{
				{Description: "Acknowledge alert", RequiresApproval: true},
				{Description: "Log and archive"},
			},
			RequiresApproval: true,
			Rationale:        objective(task.Payload),
			PendingStep:      -1,
		}, nil
	}

	needsApproval := p.RequiresApproval(task.Payload)
	execute := models.Step{
		Description:      "Execute action",
		RequiresApproval: needsApproval,
		Action: &models.Action{
			Kind:    actionKind(task),
			Content: objective(task.Payload),
		},
	}
	if target := task.Metadata["reply_to"]; target != "" {
		execute.Action.Channel = task.Source
		execute.Action.Target = target
	}

	return &models.Plan{
		Steps: []models.Step{
			{Description: "Identify information needed"},
			{Description: "Draft response/action"},
			{Description: "Get approval (if required)"},
			execute,
			{Description: "Log and archive"},
		},
		Resources:        []string{"tasks/archive for similar tasks"},
		RequiresApproval: needsApproval,
		Rationale:        objective(task.Payload),
		PendingStep:      -1,
	}, nil
}

func actionKind(task models.Task) string {
	if task.Type != "" {
		return task.Type
	}
	return "reply"
}

// objective picks the first meaningful line of the payload.
func objective(payload string) string {
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			continue
		}
		if len(line) > 100 {
			return line[:100] + "..."
		}
		return line
	}
	return "Process the task according to its content"
}

// CommandPlanner delegates planning to an external command. The task is
// written to the command's stdin as JSON and a JSON plan is read from its
// stdout.
type CommandPlanner struct {
	command string
	args    []string
}

// NewCommandPlanner creates a CommandPlanner.
func NewCommandPlanner(command string, args []string) *CommandPlanner {
	return &CommandPlanner{command: command, args: args}
}

// BuildEnv appends ATE_* task variables to the base environment.
func BuildEnv(base []string, task models.Task) []string {
	env := make([]string, len(base), len(base)+4)
	copy(env, base)
	return append(env,
		"ATE_TASK_ID="+task.ID,
		"ATE_TASK_SOURCE="+task.Source,
		"ATE_TASK_PRIORITY="+string(task.Priority),
		"ATE_TASK_TYPE="+task.Type,
	)
}

func (p *CommandPlanner) Plan(ctx context.Context, task models.Task) (*models.Plan, error) {
	input, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encoding task for planner: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Env = BuildEnv(os.Environ(), task)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("planner %s: %w", p.command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("planner %s exited with code %d: %s",
				p.command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("running planner %s: %w", p.command, err)
	}

	var plan models.Plan
	if err := json.Unmarshal(stdout.Bytes(), &plan); err != nil {
		return nil, fmt.Errorf("planner %s returned malformed plan: %w", p.command, err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner %s returned no steps", p.command)
	}
	for i, s := range plan.Steps {
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("planner %s returned step %d without a description", p.command, i+1)
		}
		plan.Steps[i].Done = false
		plan.Steps[i].PreApproved = false
	}
	plan.PendingStep = -1
	return &plan, nil
}
