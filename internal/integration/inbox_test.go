package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/storage"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

type intakeRecorder struct {
	reqs    []models.IntakeRequest
	err     error
	created bool
}

func (r *intakeRecorder) Submit(req models.IntakeRequest) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	r.reqs = append(r.reqs, req)
	return models.NewTaskID(req.Source, req.Timestamp), r.created, nil
}

var intakeTime = time.Date(2026, 3, 1, 8, 15, 0, 123, time.UTC)

func writeInboxFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWriteThenParseIntakeDocument(t *testing.T) {
	dir := t.TempDir()
	req := models.IntakeRequest{
		Source:       "gmail",
		Timestamp:    intakeTime,
		Payload:      "Can you confirm the invoice?\n",
		PriorityHint: "high",
		Type:         "reply",
		Metadata:     map[string]string{"reply_to": "alice@example.com"},
	}

	path, err := WriteIntakeDocument(dir, req)
	if err != nil {
		t.Fatalf("WriteIntakeDocument: %v", err)
	}
	if filepath.Base(path) != "gmail-20260301T081500.000000123.md" {
		t.Errorf("file name = %s", filepath.Base(path))
	}

	got, err := ParseIntakeDocument(path)
	if err != nil {
		t.Fatalf("ParseIntakeDocument: %v", err)
	}
	if !got.Timestamp.Equal(req.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, req.Timestamp)
	}
	got.Timestamp = req.Timestamp
	if !reflect.DeepEqual(*got, req) {
		t.Errorf("parsed = %+v, want %+v", *got, req)
	}
}

func TestParseIntakeDocument_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"no-frontmatter.md": "just a body\n",
		"unclosed.md":       "---\nsource: gmail\nbody without a closing delimiter\n",
		"no-source.md":      "---\npriority: high\n---\n\nbody\n",
		"bad-yaml.md":       "---\nsource: [gmail\n---\n\nbody\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeInboxFile(t, dir, name, content)
			if _, err := ParseIntakeDocument(path); err == nil {
				t.Errorf("expected an error for %s", name)
			}
		})
	}
}

func TestParseIntakeDocument_ClosingDelimiterAtEOF(t *testing.T) {
	path := writeInboxFile(t, t.TempDir(), "eof.md", "---\nsource: slack\n---")
	req, err := ParseIntakeDocument(path)
	if err != nil {
		t.Fatalf("ParseIntakeDocument: %v", err)
	}
	if req.Source != "slack" || req.Payload != "" {
		t.Errorf("got source %q payload %q", req.Source, req.Payload)
	}
}

func TestWriteIntakeDocument_SameNameGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	alice := models.IntakeRequest{Source: "gmail", Timestamp: intakeTime, Payload: "Invoice from Alice"}
	bob := models.IntakeRequest{Source: "gmail", Timestamp: intakeTime, Payload: "Server down, from Bob"}

	first, err := WriteIntakeDocument(dir, alice)
	if err != nil {
		t.Fatalf("WriteIntakeDocument: %v", err)
	}
	second, err := WriteIntakeDocument(dir, bob)
	if err != nil {
		t.Fatalf("WriteIntakeDocument: %v", err)
	}
	if first == second {
		t.Fatalf("both documents written to %s", first)
	}
	if filepath.Base(second) != "gmail-20260301T081500.000000123-2.md" {
		t.Errorf("second name = %s", filepath.Base(second))
	}
	for path, want := range map[string]string{first: alice.Payload, second: bob.Payload} {
		req, err := ParseIntakeDocument(path)
		if err != nil {
			t.Fatalf("ParseIntakeDocument(%s): %v", path, err)
		}
		if req.Payload != want {
			t.Errorf("%s payload = %q, want %q", filepath.Base(path), req.Payload, want)
		}
	}
}

func TestInboxSourcePoll(t *testing.T) {
	base := t.TempDir()
	intake := &intakeRecorder{created: true}
	src, err := NewInboxSource(base, intake, nil)
	if err != nil {
		t.Fatalf("NewInboxSource: %v", err)
	}

	good, err := WriteIntakeDocument(src.Dir(), models.IntakeRequest{Source: "slack", Timestamp: intakeTime, Payload: "deploy status?"})
	if err != nil {
		t.Fatalf("WriteIntakeDocument: %v", err)
	}
	bad := writeInboxFile(t, src.Dir(), "broken.md", "no frontmatter here")
	other := writeInboxFile(t, src.Dir(), "notes.txt", "ignored")
	hidden := writeInboxFile(t, src.Dir(), ".partial.md", "---\nsource: gmail\n---\n")

	n, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 || len(intake.reqs) != 1 {
		t.Fatalf("created %d tasks from %d requests, want 1", n, len(intake.reqs))
	}
	if intake.reqs[0].Payload != "deploy status?" {
		t.Errorf("payload = %q", intake.reqs[0].Payload)
	}
	if exists(good) {
		t.Error("ingested document should be removed")
	}
	if exists(bad) || !exists(filepath.Join(src.Dir(), "rejected", "broken.md")) {
		t.Error("malformed document should be moved to rejected/")
	}
	if !exists(other) || !exists(hidden) {
		t.Error("non-markdown and hidden files should be left alone")
	}
}

func TestInboxSourcePoll_DuplicateIsRemovedButNotCounted(t *testing.T) {
	intake := &intakeRecorder{created: false}
	src, err := NewInboxSource(t.TempDir(), intake, nil)
	if err != nil {
		t.Fatalf("NewInboxSource: %v", err)
	}
	path, _ := WriteIntakeDocument(src.Dir(), models.IntakeRequest{Source: "gmail", Timestamp: intakeTime, Payload: "again"})

	n, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("created = %d, want 0 for a duplicate", n)
	}
	if exists(path) {
		t.Error("duplicate document should still be removed")
	}
}

func TestInboxSourcePoll_IntakeErrorRejects(t *testing.T) {
	intake := &intakeRecorder{err: errors.New("payload is required")}
	src, err := NewInboxSource(t.TempDir(), intake, nil)
	if err != nil {
		t.Fatalf("NewInboxSource: %v", err)
	}
	path, _ := WriteIntakeDocument(src.Dir(), models.IntakeRequest{Source: "gmail", Timestamp: intakeTime})

	if _, err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if exists(path) || !exists(filepath.Join(src.Dir(), "rejected", filepath.Base(path))) {
		t.Error("document refused by intake should be moved to rejected/")
	}
}

func TestInboxSourcePoll_SameTimestampKeepsEveryDocument(t *testing.T) {
	base := t.TempDir()
	tasks, err := storage.NewTaskStore(base, storage.TaskStoreOptions{MaxAttempts: 3, DedupWindow: 10 * time.Minute})
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	intake := core.NewTaskIntake(tasks, core.NewPriorityClassifier(nil), nil, nil)
	src, err := NewInboxSource(base, intake, nil)
	if err != nil {
		t.Fatalf("NewInboxSource: %v", err)
	}
	writeInboxFile(t, src.Dir(), "alice.md", "---\nsource: gmail\ntimestamp: 2026-03-01T08:15:00Z\n---\n\nInvoice from Alice\n")
	writeInboxFile(t, src.Dir(), "bob.md", "---\nsource: gmail\ntimestamp: 2026-03-01T08:15:00Z\n---\n\nServer down, from Bob\n")

	n, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 2 {
		t.Errorf("created = %d, want 2", n)
	}
	created, err := tasks.List(models.StateNew)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, task := range created {
		got[task.Payload] = true
	}
	if len(created) != 2 || !got["Invoice from Alice\n"] || !got["Server down, from Bob\n"] {
		t.Errorf("tasks in new = %+v", created)
	}
}
