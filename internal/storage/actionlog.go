package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActionRecord is one successful outbound action.
type ActionRecord struct {
	Time    time.Time `json:"time"`
	Channel string    `json:"channel"`
	TaskID  string    `json:"task_id,omitempty"`
	Target  string    `json:"target,omitempty"`
	Bypass  bool      `json:"bypass,omitempty"`
}

// ActionLog is the durable log of successful outbound actions. Daily quota
// usage is always recomputed from it, never kept in memory.
type ActionLog interface {
	Append(rec ActionRecord) error
	// CountForDay returns the number of actions on channel during the UTC
	// calendar day containing day.
	CountForDay(channel string, day time.Time) (int, error)
	// CountsForDay returns per-channel counts for the UTC day containing day.
	CountsForDay(day time.Time) (map[string]int, error)
}

type jsonlActionLog struct {
	path string
	mu   sync.Mutex
}

// NewActionLog creates an ActionLog backed by basePath/actions.jsonl.
func NewActionLog(basePath string) ActionLog {
	return &jsonlActionLog{path: filepath.Join(basePath, "actions.jsonl")}
}

func (l *jsonlActionLog) Append(rec ActionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling action record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening action log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing action record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing action log: %w", err)
	}
	return f.Close()
}

func (l *jsonlActionLog) CountForDay(channel string, day time.Time) (int, error) {
	counts, err := l.CountsForDay(day)
	if err != nil {
		return 0, err
	}
	return counts[channel], nil
}

func (l *jsonlActionLog) CountsForDay(day time.Time) (map[string]int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	counts := make(map[string]int)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return counts, nil
		}
		return nil, fmt.Errorf("opening action log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ActionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines
		}
		t := rec.Time.UTC()
		if !t.Before(start) && t.Before(end) {
			counts[rec.Channel]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning action log: %w", err)
	}
	return counts, nil
}
