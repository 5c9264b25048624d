package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/observability"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

type alertEngineMock struct {
	alerts []observability.Alert
	err    error
}

func (m *alertEngineMock) Evaluate() ([]observability.Alert, error) { return m.alerts, m.err }

func withDashboardDeps(t *testing.T) *approvalsMock {
	t.Helper()
	withNow(t)
	origReporter, origApprovals, origAlerts := Reporter, Approvals, AlertEngine
	t.Cleanup(func() { Reporter, Approvals, AlertEngine = origReporter, origApprovals, origAlerts })

	approvals := &approvalsMock{requests: map[string]*models.ApprovalRequest{
		"req-0001": {ID: "req-0001", TaskID: "gmail-1", State: models.ApprovalPending,
			Action: models.Action{Kind: "reply", Channel: "gmail", Target: "bob@example.com"},
			Expires: testNow.Add(3 * time.Hour)},
	}}
	Approvals = approvals
	Reporter = &reporterMock{report: &core.Report{
		Generated:        testNow,
		Counts:           map[models.TaskState]int{models.StateNew: 2, models.StateAwaitingApproval: 1},
		PendingApprovals: []models.ApprovalRequest{*approvals.requests["req-0001"]},
		ActionsToday:     map[string]int{"slack": 3},
	}}
	AlertEngine = &alertEngineMock{alerts: []observability.Alert{
		{ID: "failed-x", Severity: observability.SeverityHigh, Message: "task x failed"},
	}}
	return approvals
}

func loadedModel(t *testing.T) dashboardModel {
	t.Helper()
	m := newDashboardModel()
	updated, _ := m.Update(loadDashboard())
	updated, _ = updated.(dashboardModel).Update(tea.WindowSizeMsg{Width: 200, Height: 50})
	return updated.(dashboardModel)
}

func TestDashboardModel_Init(t *testing.T) {
	m := newDashboardModel()
	if m.activePanel != panelTasks || !m.loading {
		t.Errorf("initial model = %+v", m)
	}
	if m.Init() == nil {
		t.Error("expected Init to return a load command")
	}
}

func TestDashboardModel_QuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEscape},
	} {
		_, cmd := newDashboardModel().Update(key)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", key)
		}
	}
}

func TestDashboardModel_TabCycles(t *testing.T) {
	var m tea.Model = newDashboardModel()
	for _, want := range []int{panelApprovals, panelAlerts, panelTasks} {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
		if got := m.(dashboardModel).activePanel; got != want {
			t.Errorf("activePanel = %d, want %d", got, want)
		}
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if got := m.(dashboardModel).activePanel; got != panelAlerts {
		t.Errorf("shift+tab activePanel = %d, want %d", got, panelAlerts)
	}
}

func TestDashboardModel_View(t *testing.T) {
	withDashboardDeps(t)
	view := loadedModel(t).View()
	for _, want := range []string{"ate dashboard", "Pending approvals (1)", "req-0001", "bob@example.com", "[HIGH]", "task x failed", "slack"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardModel_ApproveSelected(t *testing.T) {
	approvals := withDashboardDeps(t)
	m := loadedModel(t)

	// Approve keys are ignored outside the approvals panel.
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}}); cmd != nil {
		t.Fatal("approve outside approvals panel should be a no-op")
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	_, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if cmd == nil {
		t.Fatal("expected resolve command")
	}
	msg, ok := cmd().(resolvedMsg)
	if !ok || msg.err != nil || msg.state != models.ApprovalApproved {
		t.Fatalf("resolve msg = %+v", msg)
	}
	if len(approvals.resolved) != 1 || approvals.resolved[0] != "req-0001" {
		t.Errorf("resolved = %v", approvals.resolved)
	}

	after, reload := updated.Update(msg)
	if reload == nil || !strings.Contains(after.(dashboardModel).flash, "approved") {
		t.Errorf("flash = %q", after.(dashboardModel).flash)
	}
}

func TestDashboardModel_LoadError(t *testing.T) {
	withDashboardDeps(t)
	AlertEngine = &alertEngineMock{err: errors.New("log unreadable")}

	m := loadedModel(t)
	if m.err == nil {
		t.Fatal("expected load error")
	}
	if !strings.Contains(m.View(), "log unreadable") {
		t.Error("view does not show the error")
	}
}
