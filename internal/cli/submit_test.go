package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-task-engine/internal/integration"
)

func withIntake(t *testing.T, m *intakeMock) {
	t.Helper()
	orig := Intake
	Intake = m
	t.Cleanup(func() {
		Intake = orig
		submitSource, submitPriority, submitType, submitFile, submitMeta = "cli", "", "", "", nil
		submitInbox = false
	})
}

func TestSubmitCmd_NilIntake(t *testing.T) {
	orig := Intake
	defer func() { Intake = orig }()
	Intake = nil

	_, err := execCmd(t, submitCmd, "hello")
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestSubmitCmd_FromArgument(t *testing.T) {
	withNow(t)
	m := &intakeMock{created: true}
	withIntake(t, m)
	submitSource = "gmail"
	submitPriority = "high"
	submitMeta = []string{"reply_to=bob@example.com", "thread=42"}

	out, err := execCmd(t, submitCmd, "send the invoice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Created task cli-20260301T090000.000000000") {
		t.Errorf("unexpected output %q", out)
	}
	if len(m.got) != 1 {
		t.Fatalf("expected one submission, got %d", len(m.got))
	}
	req := m.got[0]
	if req.Source != "gmail" || req.PriorityHint != "high" || req.Payload != "send the invoice" {
		t.Errorf("unexpected request %+v", req)
	}
	if !req.Timestamp.Equal(testNow) {
		t.Errorf("Timestamp = %s, want %s", req.Timestamp, testNow)
	}
	if req.Metadata["reply_to"] != "bob@example.com" || req.Metadata["thread"] != "42" {
		t.Errorf("unexpected metadata %v", req.Metadata)
	}
}

func TestSubmitCmd_Duplicate(t *testing.T) {
	withIntake(t, &intakeMock{created: false})

	out, err := execCmd(t, submitCmd, "same text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Duplicate of existing task") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSubmitCmd_FromStdin(t *testing.T) {
	m := &intakeMock{created: true}
	withIntake(t, m)

	var out bytes.Buffer
	submitCmd.SetOut(&out)
	submitCmd.SetIn(strings.NewReader("piped body\n"))
	defer submitCmd.SetOut(nil)
	defer submitCmd.SetIn(nil)

	if err := submitCmd.RunE(submitCmd, []string{"-"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.got) != 1 || m.got[0].Payload != "piped body\n" {
		t.Errorf("unexpected submissions %+v", m.got)
	}
}

func TestSubmitCmd_FromFile(t *testing.T) {
	m := &intakeMock{created: true}
	withIntake(t, m)
	path := filepath.Join(t.TempDir(), "msg.txt")
	if err := os.WriteFile(path, []byte("from a file"), 0o600); err != nil {
		t.Fatal(err)
	}
	submitFile = path

	if _, err := execCmd(t, submitCmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.got) != 1 || m.got[0].Payload != "from a file" {
		t.Errorf("unexpected submissions %+v", m.got)
	}
}

func TestSubmitCmd_RequiresPayload(t *testing.T) {
	withIntake(t, &intakeMock{})

	if _, err := execCmd(t, submitCmd); err == nil {
		t.Fatal("expected an error without a payload")
	}
}

func TestSubmitCmd_InvalidMeta(t *testing.T) {
	m := &intakeMock{}
	withIntake(t, m)
	submitMeta = []string{"no-equals-sign"}

	_, err := execCmd(t, submitCmd, "body")
	if err == nil || !strings.Contains(err.Error(), "invalid --meta") {
		t.Fatalf("expected invalid meta error, got %v", err)
	}
	if len(m.got) != 0 {
		t.Error("nothing should be submitted on a flag error")
	}
}

func TestSubmitCmd_Inbox(t *testing.T) {
	withNow(t)
	m := &intakeMock{created: true}
	withIntake(t, m)
	origBase := BasePath
	BasePath = t.TempDir()
	t.Cleanup(func() { BasePath = origBase })
	submitSource = "whatsapp"
	submitPriority = "urgent"
	submitInbox = true

	out, err := execCmd(t, submitCmd, "call me back asap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.got) != 0 {
		t.Fatalf("inbox submit must not call intake, got %+v", m.got)
	}

	entries, err := os.ReadDir(filepath.Join(BasePath, "inbox"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one inbox document, got %v (%v)", entries, err)
	}
	path := filepath.Join(BasePath, "inbox", entries[0].Name())
	if !strings.Contains(out, path) {
		t.Errorf("output %q does not name %s", out, path)
	}
	req, err := integration.ParseIntakeDocument(path)
	if err != nil {
		t.Fatalf("parsing queued document: %v", err)
	}
	if req.Source != "whatsapp" || req.PriorityHint != "urgent" || strings.TrimSpace(req.Payload) != "call me back asap" {
		t.Errorf("queued request = %+v", req)
	}
}
