package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// ApprovalStore persists approval requests, one folder per ApprovalState.
// Terminal requests are never rewritten.
type ApprovalStore interface {
	// Put stores a new pending request.
	Put(req models.ApprovalRequest) error
	Get(id string) (*models.ApprovalRequest, error)
	List(state models.ApprovalState) ([]models.ApprovalRequest, error)
	// Resolve moves a pending request to a terminal state. It fails with
	// ErrAlreadyResolved when the request has left Pending and ErrNotFound
	// when it does not exist.
	Resolve(id string, to models.ApprovalState, mutate func(*models.ApprovalRequest)) (*models.ApprovalRequest, error)
}

type fileApprovalStore struct {
	root string
}

// NewApprovalStore creates an ApprovalStore rooted at basePath/approvals.
func NewApprovalStore(basePath string) (ApprovalStore, error) {
	s := &fileApprovalStore{root: filepath.Join(basePath, "approvals")}
	dirs := []string{filepath.Join(s.root, ".locks")}
	for _, st := range models.AllApprovalStates {
		dirs = append(dirs, s.stateDir(st))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating approval store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *fileApprovalStore) stateDir(state models.ApprovalState) string {
	return filepath.Join(s.root, string(state))
}

func (s *fileApprovalStore) docPath(state models.ApprovalState, id string) string {
	return filepath.Join(s.stateDir(state), id+".md")
}

func (s *fileApprovalStore) lock(id string) (func() error, error) {
	return lockFile(filepath.Join(s.root, ".locks", id+".lock"))
}

func (s *fileApprovalStore) locate(id string) (models.ApprovalState, error) {
	for _, st := range models.AllApprovalStates {
		if exists(s.docPath(st, id)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("approval %s: %w", id, models.ErrNotFound)
}

func (s *fileApprovalStore) Put(req models.ApprovalRequest) error {
	if req.ID == "" {
		return fmt.Errorf("storing approval: ID must not be empty")
	}
	req.State = models.ApprovalPending

	unlock, err := s.lock(req.ID)
	if err != nil {
		return fmt.Errorf("locking approval %s: %w", req.ID, err)
	}
	defer func() { _ = unlock() }()

	if _, err := s.locate(req.ID); err == nil {
		return fmt.Errorf("storing approval %s: %w", req.ID, models.ErrDuplicateID)
	}
	if err := writeDocument(s.docPath(models.ApprovalPending, req.ID), req, approvalBody(req)); err != nil {
		return fmt.Errorf("storing approval %s: %w", req.ID, err)
	}
	return nil
}

func (s *fileApprovalStore) read(path string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if _, err := readDocument(path, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *fileApprovalStore) Get(id string) (*models.ApprovalRequest, error) {
	state, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	req, err := s.read(s.docPath(state, id))
	if err != nil {
		return nil, fmt.Errorf("reading approval %s: %w", id, err)
	}
	req.State = state
	return req, nil
}

func (s *fileApprovalStore) List(state models.ApprovalState) ([]models.ApprovalRequest, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("listing approvals: unknown state %q", state)
	}
	dir := s.stateDir(state)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var reqs []models.ApprovalRequest
	for _, e := range entries {
		if !isDocument(e) {
			continue
		}
		req, err := s.read(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		req.State = state
		reqs = append(reqs, *req)
	}
	return reqs, nil
}

func (s *fileApprovalStore) Resolve(id string, to models.ApprovalState, mutate func(*models.ApprovalRequest)) (*models.ApprovalRequest, error) {
	if !to.Valid() || to == models.ApprovalPending {
		return nil, fmt.Errorf("resolving approval %s to %q: %w", id, to, models.ErrInvalidTransition)
	}

	unlock, err := s.lock(id)
	if err != nil {
		return nil, fmt.Errorf("locking approval %s: %w", id, err)
	}
	defer func() { _ = unlock() }()

	src := s.docPath(models.ApprovalPending, id)
	req, err := s.read(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			state, lerr := s.locate(id)
			if lerr != nil {
				return nil, lerr
			}
			return nil, fmt.Errorf("approval %s is %s: %w", id, state, models.ErrAlreadyResolved)
		}
		return nil, fmt.Errorf("reading approval %s: %w", id, err)
	}

	if mutate != nil {
		mutate(req)
	}
	req.ID = id
	req.State = to

	if err := writeDocument(src, req, approvalBody(*req)); err != nil {
		return nil, fmt.Errorf("updating approval %s: %w", id, err)
	}
	if err := os.Rename(src, s.docPath(to, id)); err != nil {
		return nil, fmt.Errorf("moving approval %s to %s: %w", id, to, err)
	}
	return req, nil
}

// approvalBody renders the human-readable part of an approval document.
func approvalBody(req models.ApprovalRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Approval Required: %s\n\n", req.Action.Kind)
	if req.TaskID != "" {
		fmt.Fprintf(&sb, "Task: %s (step %d)\n\n", req.TaskID, req.StepIndex+1)
	}
	if len(req.Reasons) > 0 {
		reasons := make([]string, len(req.Reasons))
		for i, r := range req.Reasons {
			reasons[i] = string(r)
		}
		fmt.Fprintf(&sb, "Gated by: %s\n\n", strings.Join(reasons, ", "))
	}
	sb.WriteString("## Action\n\n")
	if req.Action.Channel != "" {
		fmt.Fprintf(&sb, "- Channel: %s\n", req.Action.Channel)
	}
	if req.Action.Target != "" {
		fmt.Fprintf(&sb, "- Target: %s\n", req.Action.Target)
	}
	fmt.Fprintf(&sb, "- Expires: %s\n", req.Expires.Format("2006-01-02 15:04 UTC"))
	if req.Action.Content != "" {
		fmt.Fprintf(&sb, "\n%s\n", req.Action.Content)
	}
	if req.State != models.ApprovalPending {
		fmt.Fprintf(&sb, "\n## Resolution\n\n%s", req.State)
		if req.Resolver != "" {
			fmt.Fprintf(&sb, " by %s", req.Resolver)
		}
		if req.Note != "" {
			fmt.Fprintf(&sb, ": %s", req.Note)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
