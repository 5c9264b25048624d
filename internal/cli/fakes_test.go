package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// withNow pins the package clock for the duration of the test.
func withNow(t *testing.T) {
	t.Helper()
	orig := now
	now = func() time.Time { return testNow }
	t.Cleanup(func() { now = orig })
}

// execCmd executes a command's RunE with output captured.
func execCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(&bytes.Buffer{})
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

type taskStoreMock struct {
	byState  map[models.TaskState][]models.Task
	archived []models.Task
}

func (m *taskStoreMock) Get(id string) (*models.Task, error) {
	for _, tasks := range m.byState {
		for i := range tasks {
			if tasks[i].ID == id {
				return &tasks[i], nil
			}
		}
	}
	for i := range m.archived {
		if m.archived[i].ID == id {
			return &m.archived[i], nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
}

func (m *taskStoreMock) List(state models.TaskState) ([]models.Task, error) {
	return m.byState[state], nil
}

func (m *taskStoreMock) ListArchived() ([]models.Task, error) { return m.archived, nil }

func (m *taskStoreMock) Counts() (map[models.TaskState]int, error) {
	counts := make(map[models.TaskState]int)
	for st, tasks := range m.byState {
		counts[st] = len(tasks)
	}
	return counts, nil
}

type intakeMock struct {
	got     []models.IntakeRequest
	created bool
}

func (m *intakeMock) Submit(req models.IntakeRequest) (string, bool, error) {
	m.got = append(m.got, req)
	return "cli-20260301T090000.000000000", m.created, nil
}

type approvalsMock struct {
	requests  map[string]*models.ApprovalRequest
	resolved  []string
	swept     []time.Time
	analytics models.ApprovalAnalytics
}

func (m *approvalsMock) Submit(req models.ApprovalRequest) (string, error) {
	if m.requests == nil {
		m.requests = make(map[string]*models.ApprovalRequest)
	}
	m.requests[req.ID] = &req
	return req.ID, nil
}

func (m *approvalsMock) Resolve(id string, decision models.Decision, resolver, reason string) (*models.ApprovalRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, models.ErrNotFound)
	}
	if req.State != models.ApprovalPending {
		return nil, fmt.Errorf("approval %s: %w", id, models.ErrAlreadyResolved)
	}
	req.State = models.ApprovalApproved
	if decision == models.DecisionRejected {
		req.State = models.ApprovalRejected
	}
	req.Resolver = resolver
	req.Note = reason
	m.resolved = append(m.resolved, id)
	return req, nil
}

func (m *approvalsMock) Sweep(at time.Time) ([]models.ApprovalRequest, error) {
	m.swept = append(m.swept, at)
	var expired []models.ApprovalRequest
	for _, req := range m.requests {
		if req.State == models.ApprovalPending && !req.Expires.After(at) {
			req.State = models.ApprovalExpired
			expired = append(expired, *req)
		}
	}
	return expired, nil
}

func (m *approvalsMock) Get(id string) (*models.ApprovalRequest, error) {
	if req, ok := m.requests[id]; ok {
		return req, nil
	}
	return nil, models.ErrNotFound
}

func (m *approvalsMock) List(state models.ApprovalState) ([]models.ApprovalRequest, error) {
	var out []models.ApprovalRequest
	for _, req := range m.requests {
		if req.State == state {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *approvalsMock) Analytics() (*models.ApprovalAnalytics, error) {
	a := m.analytics
	return &a, nil
}

func (m *approvalsMock) Reconcile() (int, error) { return 0, nil }

type reporterMock struct {
	report    *core.Report
	generated []core.ReportKind
}

func (m *reporterMock) Build(kind core.ReportKind) (*core.Report, error) {
	rep := *m.report
	rep.Kind = kind
	return &rep, nil
}

func (m *reporterMock) Generate(kind core.ReportKind) (string, error) {
	m.generated = append(m.generated, kind)
	return "reports/" + string(kind) + ".md", nil
}

type limiterMock struct {
	used map[string]int
}

func (m *limiterMock) CheckQuota(channel string) (core.QuotaDecision, error) {
	return core.QuotaDecision{
		Allowed: m.used[channel] < 5,
		Channel: channel,
		Limit:   5,
		Used:    m.used[channel],
		ResetAt: testNow.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}, nil
}

func (m *limiterMock) Admit(_ context.Context, _ core.ActionEntry, _ func(context.Context) error) (core.QuotaDecision, error) {
	return core.QuotaDecision{}, nil
}

func (m *limiterMock) RecordBypass(core.ActionEntry) error { return nil }

type trustMock struct {
	trusted map[string]bool
}

func (m *trustMock) CheckTrust(id string) core.TrustDecision {
	if m.trusted[id] {
		return core.TrustDecision{Identifier: id, Trusted: true}
	}
	return core.TrustDecision{Identifier: id, Reason: "not in trusted list"}
}

type drainerMock struct{ n int }

func (m *drainerMock) Drain() (int, error) { return m.n, nil }
