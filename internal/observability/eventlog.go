package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// EventLogFileName is the event log's file name in the base directory.
const EventLogFileName = ".ate_events.jsonl"

// Event represents a single observable event in the engine.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // e.g. "task.created", "approval.resolved"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since  *time.Time
	Until  *time.Time
	Type   string
	Level  string
	TaskID string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using an append-only JSONL file. Each
// Write is a single append so several processes can share the file.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given path.
func NewJSONLEventLog(path string) (EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// NewEvent builds an event with its level and message derived from the type.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Time:    time.Now().UTC(),
		Level:   levelFor(eventType, data),
		Type:    eventType,
		Message: messageFor(eventType, data),
		Data:    data,
	}
}

func levelFor(eventType string, data map[string]any) string {
	switch eventType {
	case "watcher.restarted":
		return "WARN"
	case "task.archived":
		if outcome, _ := data["outcome"].(string); outcome == "failed" {
			return "WARN"
		}
	case "task.transitioned":
		if to, _ := data["to"].(string); to == "failed" {
			return "WARN"
		}
	}
	return "INFO"
}

func messageFor(eventType string, data map[string]any) string {
	str := func(k string) string { s, _ := data[k].(string); return s }
	switch eventType {
	case "task.created":
		return fmt.Sprintf("task %s created from %s", str("task_id"), str("source"))
	case "task.transitioned":
		return fmt.Sprintf("task %s %s -> %s", str("task_id"), str("from"), str("to"))
	case "task.archived":
		return fmt.Sprintf("task %s archived as %s", str("task_id"), str("outcome"))
	case "approval.submitted":
		return fmt.Sprintf("approval %s requested for task %s", str("approval_id"), str("task_id"))
	case "approval.resolved":
		return fmt.Sprintf("approval %s %s", str("approval_id"), str("state"))
	case "watcher.restarted":
		return fmt.Sprintf("watcher %s restarted", str("watcher"))
	case "report.generated":
		return fmt.Sprintf("%s report generated", str("kind"))
	}
	return strings.ReplaceAll(eventType, ".", " ")
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log file line by line and returns the events matching
// filter. Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// matchesEventFilter checks whether an event satisfies all filter criteria.
func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.TaskID != "" {
		if id, _ := event.Data["task_id"].(string); id != filter.TaskID {
			return false
		}
	}
	return true
}
