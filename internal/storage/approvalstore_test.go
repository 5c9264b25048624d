package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

func newTestApprovalStore(t *testing.T) ApprovalStore {
	t.Helper()
	s, err := NewApprovalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func sampleRequest(id string) models.ApprovalRequest {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return models.ApprovalRequest{
		ID:      id,
		TaskID:  "gmail-20260301T100000.000000000",
		Action:  models.Action{Kind: "send_email", Channel: "gmail", Target: "bob@example.com", Content: "Hello"},
		Reasons: []models.GateReason{models.ReasonTrust},
		Created: created,
		Expires: created.Add(24 * time.Hour),
	}
}

func TestApprovalPutGet(t *testing.T) {
	s := newTestApprovalStore(t)
	if err := s.Put(sampleRequest("apr-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get("apr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != models.ApprovalPending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.Action.Target != "bob@example.com" {
		t.Errorf("target = %q", got.Action.Target)
	}
	if !got.Expires.Equal(got.Created.Add(24 * time.Hour)) {
		t.Errorf("expires = %v", got.Expires)
	}

	if err := s.Put(sampleRequest("apr-1")); !errors.Is(err, models.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestApprovalResolve(t *testing.T) {
	s := newTestApprovalStore(t)
	_ = s.Put(sampleRequest("apr-1"))

	got, err := s.Resolve("apr-1", models.ApprovalApproved, func(r *models.ApprovalRequest) {
		r.Resolver = "alice"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != models.ApprovalApproved || got.Resolver != "alice" {
		t.Errorf("unexpected resolved request: %+v", got)
	}

	_, err = s.Resolve("apr-1", models.ApprovalRejected, nil)
	if !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	_, err = s.Resolve("missing", models.ApprovalRejected, nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.Resolve("apr-1", models.ApprovalPending, nil)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	approved, _ := s.List(models.ApprovalApproved)
	pending, _ := s.List(models.ApprovalPending)
	if len(approved) != 1 || len(pending) != 0 {
		t.Errorf("approved=%d pending=%d", len(approved), len(pending))
	}
}

func TestApprovalBody(t *testing.T) {
	req := sampleRequest("apr-1")
	body := approvalBody(req)
	for _, want := range []string{"send_email", "bob@example.com", "Gated by: trust", "step 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "Resolution") {
		t.Error("pending request should not render a resolution")
	}
}
