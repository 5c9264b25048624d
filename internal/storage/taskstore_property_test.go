package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"pgregory.net/rapid"
)

func genState(t *rapid.T, label string) models.TaskState {
	return models.AllStates[rapid.IntRange(0, len(models.AllStates)-1).Draw(t, label)]
}

// countDocuments returns how many folders (states plus archive) hold id.
func countDocuments(root, id string) int {
	n := 0
	dirs := []string{archiveDir}
	for _, st := range models.AllStates {
		dirs = append(dirs, string(st))
	}
	for _, d := range dirs {
		if _, err := os.Stat(filepath.Join(root, "tasks", d, id+".md")); err == nil {
			n++
		}
	}
	return n
}

// Random transition attempts only ever follow graph edges, and the document
// lives in exactly one folder after every step.
func TestProperty_TransitionsFollowGraph(t *testing.T) {
	parent := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp(parent, "prop")
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		s, err := NewTaskStore(dir, TaskStoreOptions{MaxAttempts: 3})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		id, err := s.Create(models.Task{Source: "prop", Created: time.Unix(1700000000, 0).UTC(), Payload: "p"})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		current := models.StateNew
		attempts := 0
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			from := genState(rt, "from")
			to := genState(rt, "to")
			err := s.Transition(id, from, to)

			switch {
			case !models.CanTransition(from, to):
				if !errors.Is(err, models.ErrInvalidTransition) {
					rt.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
				}
			case from != current:
				if !errors.Is(err, models.ErrConflict) {
					rt.Fatalf("%s -> %s while %s: expected ErrConflict, got %v", from, to, current, err)
				}
			case from == models.StateFailed && to == models.StatePlanning && attempts >= 3:
				if !errors.Is(err, models.ErrRetriesExhausted) {
					rt.Fatalf("expected ErrRetriesExhausted, got %v", err)
				}
			default:
				if err != nil {
					rt.Fatalf("%s -> %s: unexpected error: %v", from, to, err)
				}
				if to == models.StatePlanning {
					attempts++
				}
				current = to
			}

			if n := countDocuments(dir, id); n != 1 {
				rt.Fatalf("task present in %d folders", n)
			}
			got, err := s.Get(id)
			if err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
			if got.State != current {
				rt.Fatalf("state = %s, want %s", got.State, current)
			}
			if got.Attempts != attempts {
				rt.Fatalf("attempts = %d, want %d", got.Attempts, attempts)
			}
		}
	})
}

// Payload and metadata survive a create/get round trip.
func TestProperty_DocumentRoundTrip(t *testing.T) {
	parent := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp(parent, "rt")
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		s, err := NewTaskStore(dir, TaskStoreOptions{})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		payload := rapid.StringMatching(`[A-Za-z0-9 ,.!?]{1,80}`).Draw(rt, "payload")
		source := rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, "source")
		prio := []models.Priority{models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent}[rapid.IntRange(0, 3).Draw(rt, "prio")]

		id, err := s.Create(models.Task{
			Source:   source,
			Priority: prio,
			Payload:  payload,
			Metadata: map[string]string{"reply_to": "a@example.com"},
		})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		got, err := s.Get(id)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if got.Payload != payload {
			rt.Fatalf("payload = %q, want %q", got.Payload, payload)
		}
		if got.Priority != prio || got.Source != source {
			rt.Fatalf("got %+v", got)
		}
		if got.Metadata["reply_to"] != "a@example.com" {
			rt.Fatalf("metadata lost: %v", got.Metadata)
		}
	})
}
