// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the task engine's operator interface as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/observability"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	Get(id string) (*models.Task, error)
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
}

// Server wraps engine services and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	tasks       TaskReader
	intake      core.TaskIntake
	approvals   core.ApprovalEngine
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// Deps groups the services the MCP server exposes. MetricsCalc and
// AlertEngine may be nil if observability is disabled.
type Deps struct {
	Tasks       TaskReader
	Intake      core.TaskIntake
	Approvals   core.ApprovalEngine
	MetricsCalc observability.MetricsCalculator
	AlertEngine observability.AlertEngine
}

// NewServer creates a new MCP server over deps.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		tasks:       deps.Tasks,
		intake:      deps.Intake,
		approvals:   deps.Approvals,
		metricsCalc: deps.MetricsCalc,
		alertEngine: deps.AlertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "ate", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type getTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier, e.g. gmail-20260301T081500.000000000"`
}

type stepOutput struct {
	Description      string `json:"description"`
	Done             bool   `json:"done"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
	Channel          string `json:"channel,omitempty"`
	Target           string `json:"target,omitempty"`
	Result           string `json:"result,omitempty"`
}

type taskOutput struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Type       string            `json:"type,omitempty"`
	State      string            `json:"state"`
	Priority   string            `json:"priority"`
	Attempts   int               `json:"attempts"`
	Archived   bool              `json:"archived,omitempty"`
	Created    string            `json:"created"`
	ApprovalID string            `json:"approval_id,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Steps      []stepOutput      `json:"steps,omitempty"`
	Payload    string            `json:"payload,omitempty"`
}

type listTasksInput struct {
	State string `json:"state,omitempty" jsonschema:"filter by state (new, planning, executing, awaiting_approval, done, failed, rejected, archived)"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type submitTaskInput struct {
	Source   string            `json:"source" jsonschema:"origin of the task, e.g. gmail or slack"`
	Payload  string            `json:"payload" jsonschema:"free-text task content"`
	Priority string            `json:"priority,omitempty" jsonschema:"optional priority hint (low, normal, high, urgent)"`
	Type     string            `json:"type,omitempty" jsonschema:"optional task type"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"optional metadata such as reply_to"`
}

type submitTaskOutput struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

type listApprovalsInput struct {
	State string `json:"state,omitempty" jsonschema:"filter by state (pending, approved, rejected, expired). Defaults to pending."`
}

type approvalOutput struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id,omitempty"`
	StepIndex int      `json:"step_index"`
	Kind      string   `json:"kind"`
	Channel   string   `json:"channel,omitempty"`
	Target    string   `json:"target,omitempty"`
	Content   string   `json:"content,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	Priority  string   `json:"priority"`
	State     string   `json:"state"`
	Created   string   `json:"created"`
	Expires   string   `json:"expires"`
	Resolver  string   `json:"resolver,omitempty"`
	Note      string   `json:"note,omitempty"`
}

type listApprovalsOutput struct {
	Approvals []approvalOutput `json:"approvals"`
	Count     int              `json:"count"`
}

type resolveApprovalInput struct {
	ApprovalID string `json:"approval_id" jsonschema:"the approval request identifier"`
	Decision   string `json:"decision" jsonschema:"approved or rejected"`
	Resolver   string `json:"resolver,omitempty" jsonschema:"who is resolving the request"`
	Reason     string `json:"reason,omitempty" jsonschema:"reason, recorded for rejections"`
}

type getAnalyticsInput struct{}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	TasksCreated       int            `json:"tasks_created"`
	TasksByOutcome     map[string]int `json:"tasks_by_outcome"`
	TasksBySource      map[string]int `json:"tasks_by_source"`
	ApprovalsRequested int            `json:"approvals_requested"`
	ApprovalsByState   map[string]int `json:"approvals_by_state"`
	WatcherRestarts    int            `json:"watcher_restarts"`
	EventCount         int            `json:"event_count"`
	OldestEvent        string         `json:"oldest_event,omitempty"`
	NewestEvent        string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks with an optional state filter. Without a filter every non-archived task is returned.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by ID, including its plan steps and any pending approval.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "submit_task",
		Description: "Submit a new task. Identical submissions within the dedup window return the existing task ID.",
	}, s.handleSubmitTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_approvals",
		Description: "List approval requests by state. Defaults to pending requests.",
	}, s.handleListApprovals)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "resolve_approval",
		Description: "Approve or reject a pending approval request. Approving resumes the task; rejecting archives it.",
	}, s.handleResolveApproval)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_analytics",
		Description: "Get approval analytics: totals, approval rate, mean response time, action types and rejection reasons.",
	}, s.handleGetAnalytics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (expiring approvals, failed tasks, watcher restarts, backlog size).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListTasks(_ context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	var (
		tasks []models.Task
		err   error
	)
	switch input.State {
	case "":
		for _, st := range models.AllStates {
			batch, lerr := s.tasks.List(st)
			if lerr != nil {
				err = lerr
				break
			}
			tasks = append(tasks, batch...)
		}
	case "archive", "archived":
		tasks, err = s.tasks.ListArchived()
	default:
		st := models.TaskState(input.State)
		if !st.Valid() {
			return errorResult(fmt.Sprintf("invalid state %q", input.State)), listTasksOutput{}, nil
		}
		tasks, err = s.tasks.List(st)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{}, nil
	}

	out := listTasksOutput{
		Tasks: make([]taskOutput, len(tasks)),
		Count: len(tasks),
	}
	for i := range tasks {
		out.Tasks[i] = taskToOutput(&tasks[i], false)
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(_ context.Context, _ *gomcp.CallToolRequest, input getTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.tasks.Get(input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	return nil, taskToOutput(task, true), nil
}

func (s *Server) handleSubmitTask(_ context.Context, _ *gomcp.CallToolRequest, input submitTaskInput) (*gomcp.CallToolResult, submitTaskOutput, error) {
	if s.intake == nil {
		return errorResult("task intake not available"), submitTaskOutput{}, nil
	}
	if input.Source == "" || input.Payload == "" {
		return errorResult("source and payload are required"), submitTaskOutput{}, nil
	}

	id, created, err := s.intake.Submit(models.IntakeRequest{
		Source:       input.Source,
		Timestamp:    time.Now().UTC(),
		Payload:      input.Payload,
		PriorityHint: input.Priority,
		Type:         input.Type,
		Metadata:     input.Metadata,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("submitting task: %s", err)), submitTaskOutput{}, nil
	}
	return nil, submitTaskOutput{ID: id, Created: created}, nil
}

func (s *Server) handleListApprovals(_ context.Context, _ *gomcp.CallToolRequest, input listApprovalsInput) (*gomcp.CallToolResult, listApprovalsOutput, error) {
	state := models.ApprovalState(input.State)
	if state == "" {
		state = models.ApprovalPending
	}
	if !state.Valid() {
		return errorResult(fmt.Sprintf("invalid state %q", input.State)), listApprovalsOutput{}, nil
	}

	reqs, err := s.approvals.List(state)
	if err != nil {
		return errorResult(fmt.Sprintf("listing approvals: %s", err)), listApprovalsOutput{}, nil
	}
	out := listApprovalsOutput{
		Approvals: make([]approvalOutput, len(reqs)),
		Count:     len(reqs),
	}
	for i := range reqs {
		out.Approvals[i] = approvalToOutput(&reqs[i])
	}
	return nil, out, nil
}

func (s *Server) handleResolveApproval(_ context.Context, _ *gomcp.CallToolRequest, input resolveApprovalInput) (*gomcp.CallToolResult, approvalOutput, error) {
	if input.ApprovalID == "" {
		return errorResult("approval_id is required"), approvalOutput{}, nil
	}
	var decision models.Decision
	switch input.Decision {
	case "approved", "approve":
		decision = models.DecisionApproved
	case "rejected", "reject":
		decision = models.DecisionRejected
	default:
		return errorResult(fmt.Sprintf("invalid decision %q: must be approved or rejected", input.Decision)), approvalOutput{}, nil
	}
	resolver := input.Resolver
	if resolver == "" {
		resolver = "mcp"
	}

	req, err := s.approvals.Resolve(input.ApprovalID, decision, resolver, input.Reason)
	if err != nil {
		return errorResult(fmt.Sprintf("resolving approval %s: %s", input.ApprovalID, err)), approvalOutput{}, nil
	}
	return nil, approvalToOutput(req), nil
}

func (s *Server) handleGetAnalytics(_ context.Context, _ *gomcp.CallToolRequest, _ getAnalyticsInput) (*gomcp.CallToolResult, models.ApprovalAnalytics, error) {
	a, err := s.approvals.Analytics()
	if err != nil {
		return errorResult(fmt.Sprintf("loading analytics: %s", err)), models.ApprovalAnalytics{}, nil
	}
	return nil, *a, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		TasksCreated:       metrics.TasksCreated,
		TasksByOutcome:     metrics.TasksByOutcome,
		TasksBySource:      metrics.TasksBySource,
		ApprovalsRequested: metrics.ApprovalsRequested,
		ApprovalsByState:   metrics.ApprovalsByState,
		WatcherRestarts:    metrics.WatcherRestarts,
		EventCount:         metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(t *models.Task, withPayload bool) taskOutput {
	out := taskOutput{
		ID:         t.ID,
		Source:     t.Source,
		Type:       t.Type,
		State:      string(t.State),
		Priority:   string(t.Priority),
		Attempts:   t.Attempts,
		Archived:   t.Archived,
		Created:    t.Created.Format(time.RFC3339),
		ApprovalID: t.ApprovalID,
		LastError:  t.LastError,
		Reason:     t.Reason,
		Metadata:   t.Metadata,
	}
	if t.Plan != nil {
		for _, st := range t.Plan.Steps {
			so := stepOutput{
				Description:      st.Description,
				Done:             st.Done,
				RequiresApproval: st.RequiresApproval,
				Result:           st.Result,
			}
			if st.Action != nil {
				so.Channel = st.Action.Channel
				so.Target = st.Action.Target
			}
			out.Steps = append(out.Steps, so)
		}
	}
	if withPayload {
		out.Payload = t.Payload
	}
	return out
}

func approvalToOutput(r *models.ApprovalRequest) approvalOutput {
	out := approvalOutput{
		ID:        r.ID,
		TaskID:    r.TaskID,
		StepIndex: r.StepIndex,
		Kind:      r.Action.Kind,
		Channel:   r.Action.Channel,
		Target:    r.Action.Target,
		Content:   r.Action.Content,
		Priority:  string(r.Priority),
		State:     string(r.State),
		Created:   r.Created.Format(time.RFC3339),
		Expires:   r.Expires.Format(time.RFC3339),
		Resolver:  r.Resolver,
		Note:      r.Note,
	}
	for _, reason := range r.Reasons {
		out.Reasons = append(out.Reasons, string(reason))
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TasksByOutcome:   make(map[string]int),
		TasksBySource:    make(map[string]int),
		ApprovalsByState: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or
// "24h" into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
