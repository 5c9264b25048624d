package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	ExpiringWithin time.Duration `yaml:"expiring_within" json:"expiring_within"`
	FailedWindow   time.Duration `yaml:"failed_window" json:"failed_window"`
	RestartWindow  time.Duration `yaml:"restart_window" json:"restart_window"`
	MaxBacklogSize int           `yaml:"max_backlog_size" json:"max_backlog_size"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		ExpiringWithin: 2 * time.Hour,
		FailedWindow:   24 * time.Hour,
		RestartWindow:  time.Hour,
		MaxBacklogSize: 10,
	}
}

// TaskSnapshot is the read side of the task store the alert engine needs.
type TaskSnapshot interface {
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
}

// ApprovalSnapshot is the read side of the approval store.
type ApprovalSnapshot interface {
	List(state models.ApprovalState) ([]models.ApprovalRequest, error)
}

// AlertEngine evaluates alert conditions against store state and the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	tasks      TaskSnapshot
	approvals  ApprovalSnapshot
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine. eventLog may be nil, in which
// case watcher restarts are not checked.
func NewAlertEngine(tasks TaskSnapshot, approvals ApprovalSnapshot, eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		tasks:      tasks,
		approvals:  approvals,
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks all alert conditions, returning any triggered alerts
// ordered by severity.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	expiring, err := ae.checkExpiringApprovals(now)
	if err != nil {
		return nil, fmt.Errorf("checking expiring approvals: %w", err)
	}
	alerts = append(alerts, expiring...)

	failed, err := ae.checkFailedTasks(now)
	if err != nil {
		return nil, fmt.Errorf("checking failed tasks: %w", err)
	}
	alerts = append(alerts, failed...)

	restarts, err := ae.checkWatcherRestarts(now)
	if err != nil {
		return nil, fmt.Errorf("checking watcher restarts: %w", err)
	}
	alerts = append(alerts, restarts...)

	backlog, err := ae.checkBacklogSize(now)
	if err != nil {
		return nil, fmt.Errorf("checking backlog size: %w", err)
	}
	alerts = append(alerts, backlog...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) > severityRank(alerts[j].Severity)
	})
	return alerts, nil
}

func severityRank(s AlertSeverity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

func (ae *alertEngine) checkExpiringApprovals(now time.Time) ([]Alert, error) {
	pending, err := ae.approvals.List(models.ApprovalPending)
	if err != nil {
		return nil, err
	}
	var alerts []Alert
	for _, req := range pending {
		left := req.Expires.Sub(now)
		if left < 0 || left > ae.thresholds.ExpiringWithin {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          "expiring-" + req.ID,
			Condition:   "approval_expiring",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("approval %s for task %s expires in %s", req.ID, req.TaskID, left.Round(time.Minute)),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkFailedTasks reports tasks archived as Failed within the window.
func (ae *alertEngine) checkFailedTasks(now time.Time) ([]Alert, error) {
	archived, err := ae.tasks.ListArchived()
	if err != nil {
		return nil, err
	}
	var alerts []Alert
	for _, t := range archived {
		if t.Summary == nil || t.Summary.Outcome != models.StateFailed {
			continue
		}
		at := t.Summary.Completed
		if t.ArchivedAt != nil {
			at = *t.ArchivedAt
		}
		if now.Sub(at) > ae.thresholds.FailedWindow {
			continue
		}
		msg := fmt.Sprintf("task %s failed after %d attempts", t.ID, t.Attempts)
		if t.LastError != "" {
			msg += ": " + t.LastError
		}
		alerts = append(alerts, Alert{
			ID:          "failed-" + t.ID,
			Condition:   "task_failed",
			Severity:    SeverityHigh,
			Message:     msg,
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

func (ae *alertEngine) checkWatcherRestarts(now time.Time) ([]Alert, error) {
	if ae.eventLog == nil {
		return nil, nil
	}
	since := now.Add(-ae.thresholds.RestartWindow)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Type: "watcher.restarted"})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	var order []string
	for _, e := range events {
		name, _ := e.Data["watcher"].(string)
		if name == "" {
			continue
		}
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	var alerts []Alert
	for _, name := range order {
		alerts = append(alerts, Alert{
			ID:          "restart-" + name,
			Condition:   "watcher_restarted",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("watcher %s restarted %d time(s) in the last %s", name, counts[name], ae.thresholds.RestartWindow),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

func (ae *alertEngine) checkBacklogSize(now time.Time) ([]Alert, error) {
	backlog, err := ae.tasks.List(models.StateNew)
	if err != nil {
		return nil, err
	}
	if len(backlog) <= ae.thresholds.MaxBacklogSize {
		return nil, nil
	}
	return []Alert{{
		ID:          "backlog-size",
		Condition:   "backlog_too_large",
		Severity:    SeverityLow,
		Message:     fmt.Sprintf("%d new tasks waiting (threshold: %d)", len(backlog), ae.thresholds.MaxBacklogSize),
		TriggeredAt: now,
	}}, nil
}
