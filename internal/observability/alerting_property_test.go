package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"pgregory.net/rapid"
)

// Raising the backlog threshold never produces more backlog alerts.
func TestProperty_BacklogAlertThresholdMonotonicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "backlog")
		backlog := make([]models.Task, n)
		for i := range backlog {
			backlog[i] = models.Task{ID: fmt.Sprintf("mail-%d", i), State: models.StateNew}
		}
		tasks := &fakeTasks{byState: map[models.TaskState][]models.Task{models.StateNew: backlog}}

		low := rapid.IntRange(0, 20).Draw(rt, "low")
		high := low + rapid.IntRange(0, 20).Draw(rt, "delta")

		thLow := DefaultAlertThresholds()
		thLow.MaxBacklogSize = low
		thHigh := DefaultAlertThresholds()
		thHigh.MaxBacklogSize = high

		alertsLow, err := newTestAlertEngine(tasks, &fakeApprovals{}, nil, thLow).Evaluate()
		if err != nil {
			rt.Fatalf("evaluating: %v", err)
		}
		alertsHigh, err := newTestAlertEngine(tasks, &fakeApprovals{}, nil, thHigh).Evaluate()
		if err != nil {
			rt.Fatalf("evaluating: %v", err)
		}
		if countAlertsByCondition(alertsHigh, "backlog_too_large") > countAlertsByCondition(alertsLow, "backlog_too_large") {
			rt.Errorf("threshold %d produced more backlog alerts than threshold %d", high, low)
		}
		if want := n > low; (countAlertsByCondition(alertsLow, "backlog_too_large") == 1) != want {
			rt.Errorf("backlog %d threshold %d: alert present = %v", n, low, !want)
		}
	})
}

// Every pending approval alerted on expires within the window, and every
// pending approval expiring within the window is alerted on.
func TestProperty_ExpiringAlertsMatchWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 15).Draw(rt, "approvals")
		var pending []models.ApprovalRequest
		inWindow := 0
		th := DefaultAlertThresholds()
		for i := 0; i < n; i++ {
			offset := time.Duration(rapid.IntRange(-60, 600).Draw(rt, fmt.Sprintf("offset_%d", i))) * time.Minute
			req := models.ApprovalRequest{ID: fmt.Sprintf("r%d", i), Expires: alertNow.Add(offset), State: models.ApprovalPending}
			if offset >= 0 && offset <= th.ExpiringWithin {
				inWindow++
			}
			pending = append(pending, req)
		}

		alerts, err := newTestAlertEngine(&fakeTasks{}, &fakeApprovals{pending: pending}, nil, th).Evaluate()
		if err != nil {
			rt.Fatalf("evaluating: %v", err)
		}
		if got := countAlertsByCondition(alerts, "approval_expiring"); got != inWindow {
			rt.Errorf("expiring alerts = %d, want %d", got, inWindow)
		}
	})
}

// For any set of events and time range, Read with Since and Until returns
// only events within the range.
func TestProperty_EventFilterTimeRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log, err := NewJSONLEventLog(t.TempDir() + "/events.jsonl")
		if err != nil {
			rt.Fatalf("creating event log: %v", err)
		}
		defer log.Close()

		base := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
		n := rapid.IntRange(1, 20).Draw(rt, "events")
		for i := 0; i < n; i++ {
			h := rapid.IntRange(0, 48).Draw(rt, fmt.Sprintf("hour_%d", i))
			_ = log.Write(Event{Time: base.Add(time.Duration(h) * time.Hour), Type: "task.created"})
		}

		from := rapid.IntRange(0, 48).Draw(rt, "from")
		to := from + rapid.IntRange(0, 24).Draw(rt, "span")
		since := base.Add(time.Duration(from) * time.Hour)
		until := base.Add(time.Duration(to) * time.Hour)

		events, err := log.Read(EventFilter{Since: &since, Until: &until})
		if err != nil {
			rt.Fatalf("reading: %v", err)
		}
		for _, e := range events {
			if e.Time.Before(since) || e.Time.After(until) {
				rt.Errorf("event at %s outside [%s, %s]", e.Time, since, until)
			}
		}
	})
}

func countAlertsByCondition(alerts []Alert, condition string) int {
	n := 0
	for _, a := range alerts {
		if a.Condition == condition {
			n++
		}
	}
	return n
}
