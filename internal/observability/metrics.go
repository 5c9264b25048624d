package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	TasksCreated       int            `json:"tasks_created"`
	TasksByOutcome     map[string]int `json:"tasks_by_outcome"`
	TasksBySource      map[string]int `json:"tasks_by_source"`
	Transitions        map[string]int `json:"transitions"`
	ApprovalsRequested int            `json:"approvals_requested"`
	ApprovalsByState   map[string]int `json:"approvals_by_state"`
	WatcherRestarts    int            `json:"watcher_restarts"`
	ReportsGenerated   int            `json:"reports_generated"`
	EventCount         int            `json:"event_count"`
	OldestEvent        *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent        *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TasksByOutcome:   make(map[string]int),
		TasksBySource:    make(map[string]int),
		Transitions:      make(map[string]int),
		ApprovalsByState: make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "task.created":
			m.TasksCreated++
			if source, ok := event.Data["source"].(string); ok {
				m.TasksBySource[source]++
			}
		case "task.transitioned":
			from, _ := event.Data["from"].(string)
			to, _ := event.Data["to"].(string)
			if from != "" && to != "" {
				m.Transitions[from+"->"+to]++
			}
		case "task.archived":
			if outcome, ok := event.Data["outcome"].(string); ok {
				m.TasksByOutcome[outcome]++
			}
		case "approval.submitted":
			m.ApprovalsRequested++
		case "approval.resolved":
			if state, ok := event.Data["state"].(string); ok {
				m.ApprovalsByState[state]++
			}
		case "watcher.restarted":
			m.WatcherRestarts++
		case "report.generated":
			m.ReportsGenerated++
		}
	}

	return m, nil
}
