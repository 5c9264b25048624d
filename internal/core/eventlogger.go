package core

import "github.com/valter-silva-au/ai-task-engine/pkg/models"

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// MetricsRecorder receives counters from core services.
type MetricsRecorder interface {
	TaskTransitioned(from, to models.TaskState)
	ApprovalResolved(state models.ApprovalState)
	QuotaDenied(channel string)
	ActionExecuted(channel string)
	WatcherRestarted(name string)
	TasksInState(counts map[models.TaskState]int)
}

type noopMetrics struct{}

func (noopMetrics) TaskTransitioned(models.TaskState, models.TaskState) {}
func (noopMetrics) ApprovalResolved(models.ApprovalState)              {}
func (noopMetrics) QuotaDenied(string)                                 {}
func (noopMetrics) ActionExecuted(string)                              {}
func (noopMetrics) WatcherRestarted(string)                            {}
func (noopMetrics) TasksInState(map[models.TaskState]int)              {}

// logEvent writes to the event log when one is configured. Event log
// failures never fail the caller.
func logEvent(l EventLogger, eventType string, data map[string]any) {
	if l == nil {
		return
	}
	_ = l.LogEvent(eventType, data)
}
