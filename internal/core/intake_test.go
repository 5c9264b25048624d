package core

import (
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

func TestTaskIntake_Submit(t *testing.T) {
	e := newEngine(t, 10, 3)
	ts := time.Date(2026, 3, 1, 8, 15, 0, 123, time.UTC)

	id, created, err := e.intake.Submit(models.IntakeRequest{
		Source:    "Gmail",
		Timestamp: ts,
		Payload:   "Server is down, need help ASAP",
		Metadata:  map[string]string{"reply_to": "ops@example.com"},
	})
	if err != nil || !created {
		t.Fatalf("Submit = %s, %v, %v", id, created, err)
	}
	if id != "gmail-20260301T081500.000000123" {
		t.Errorf("id = %s", id)
	}

	task := e.get(t, id)
	if task.State != models.StateNew || task.Priority != models.PriorityUrgent {
		t.Errorf("task state %s priority %s", task.State, task.Priority)
	}
	if !task.Created.Equal(ts) || task.Metadata["reply_to"] != "ops@example.com" {
		t.Errorf("task = %+v", task)
	}
	if strings.TrimSpace(task.Payload) != "Server is down, need help ASAP" {
		t.Errorf("payload = %q", task.Payload)
	}
	if e.events.count("task.created") != 1 {
		t.Error("task.created not logged")
	}
}

func TestTaskIntake_PriorityHintWins(t *testing.T) {
	e := newEngine(t, 10, 3)
	id, _, err := e.intake.Submit(models.IntakeRequest{Source: "slack", Payload: "urgent!!", PriorityHint: "low"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := e.get(t, id).Priority; got != models.PriorityLow {
		t.Errorf("priority = %s, want low", got)
	}
}

func TestTaskIntake_Validation(t *testing.T) {
	e := newEngine(t, 10, 3)
	if _, _, err := e.intake.Submit(models.IntakeRequest{Source: "  ", Payload: "x"}); err == nil {
		t.Error("expected error for empty source")
	}
	if _, _, err := e.intake.Submit(models.IntakeRequest{Source: "gmail", Payload: "\n "}); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestTaskIntake_DefaultsTimestamp(t *testing.T) {
	e := newEngine(t, 10, 3)
	before := time.Now().UTC()
	id, _, err := e.intake.Submit(models.IntakeRequest{Source: "calendar", Payload: "standup moved"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created := e.get(t, id).Created; created.Before(before) {
		t.Errorf("created %s before submission at %s", created, before)
	}
}

func TestTaskIntake_Dedup(t *testing.T) {
	e := newEngine(t, 10, 3)
	req := models.IntakeRequest{Source: "gmail", Timestamp: time.Now().UTC(), Payload: "same body"}
	first, created, err := e.intake.Submit(req)
	if err != nil || !created {
		t.Fatalf("first Submit = %v, %v", created, err)
	}

	// Same document resubmitted by a restarted watcher, with a new timestamp.
	req.Timestamp = req.Timestamp.Add(time.Second)
	second, created, err := e.intake.Submit(req)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if created || second != first {
		t.Errorf("duplicate created=%v id=%s, want existing %s", created, second, first)
	}
	if e.events.count("task.created") != 1 {
		t.Errorf("task.created logged %d times", e.events.count("task.created"))
	}
}

func TestTaskIntake_SameTimestampDifferentPayload(t *testing.T) {
	e := newEngine(t, 10, 3)
	ts := time.Date(2026, 3, 1, 8, 15, 0, 0, time.UTC)

	first, created, err := e.intake.Submit(models.IntakeRequest{Source: "gmail", Timestamp: ts, Payload: "Invoice from Alice"})
	if err != nil || !created {
		t.Fatalf("first Submit: created=%v err=%v", created, err)
	}
	second, created, err := e.intake.Submit(models.IntakeRequest{Source: "gmail", Timestamp: ts, Payload: "Server down, from Bob"})
	if err != nil || !created {
		t.Fatalf("second Submit: created=%v err=%v", created, err)
	}
	if second == first {
		t.Fatalf("distinct payloads share id %s", first)
	}
	if !strings.HasPrefix(second, first+"-") {
		t.Errorf("second id %s should extend %s", second, first)
	}

	tasks, err := e.tasks.List(models.StateNew)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	payloads := map[string]string{}
	for _, task := range tasks {
		payloads[task.ID] = task.Payload
	}
	if payloads[first] != "Invoice from Alice" || payloads[second] != "Server down, from Bob" {
		t.Errorf("stored payloads = %v", payloads)
	}
	if e.events.count("task.created") != 2 {
		t.Errorf("task.created logged %d times, want 2", e.events.count("task.created"))
	}
}
