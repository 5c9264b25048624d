package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"gopkg.in/yaml.v3"
)

// TaskStore is the durable, folder-as-state task registry. A task's state is
// the folder its document lives in; every state change is a rename between
// folders performed under a per-task file lock.
type TaskStore interface {
	// Create persists a new task in the New state and returns its id.
	Create(task models.Task) (string, error)
	// CreateOnce is Create with intake deduplication: an identical
	// source+payload seen within the dedup window returns the existing id
	// and created=false. A different payload whose derived id is already
	// taken is stored under a disambiguated id instead.
	CreateOnce(task models.Task) (id string, created bool, err error)
	Get(id string) (*models.Task, error)
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
	// Transition moves a task from one state to another, failing with
	// ErrConflict unless the task is currently in from.
	Transition(id string, from, to models.TaskState) error
	// TransitionWith is Transition plus a document rewrite under the same lock.
	TransitionWith(id string, from, to models.TaskState, mutate func(*models.Task)) error
	// Update rewrites a task document in place. The task must still be in
	// task.State.
	Update(task models.Task) error
	// ClaimResume clears the resume flag of an Executing task; exactly one
	// concurrent caller succeeds.
	ClaimResume(id string) error
	Archive(id string, reason string, summary *models.Summary) error
	Counts() (map[models.TaskState]int, error)
}

// TaskStoreOptions configures a TaskStore.
type TaskStoreOptions struct {
	MaxAttempts int
	DedupWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type fileTaskStore struct {
	root        string
	maxAttempts int
	dedupWindow time.Duration
	now         func() time.Time
}

const archiveDir = "archive"

// NewTaskStore creates a TaskStore rooted at basePath/tasks, creating one
// folder per state.
func NewTaskStore(basePath string, opts TaskStoreOptions) (TaskStore, error) {
	s := &fileTaskStore{
		root:        filepath.Join(basePath, "tasks"),
		maxAttempts: opts.MaxAttempts,
		dedupWindow: opts.DedupWindow,
		now:         opts.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	dirs := []string{filepath.Join(s.root, archiveDir), filepath.Join(s.root, ".locks")}
	for _, st := range models.AllStates {
		dirs = append(dirs, s.stateDir(st))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating task store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *fileTaskStore) stateDir(state models.TaskState) string {
	return filepath.Join(s.root, string(state))
}

func (s *fileTaskStore) docPath(state models.TaskState, id string) string {
	return filepath.Join(s.stateDir(state), id+".md")
}

func (s *fileTaskStore) archivePath(id string) string {
	return filepath.Join(s.root, archiveDir, id+".md")
}

func (s *fileTaskStore) lock(id string) (func() error, error) {
	return lockFile(filepath.Join(s.root, ".locks", id+".lock"))
}

func (s *fileTaskStore) Create(task models.Task) (string, error) {
	if task.Source == "" {
		return "", fmt.Errorf("creating task: source must not be empty")
	}
	if task.Created.IsZero() {
		task.Created = s.now()
	}
	if task.ID == "" {
		task.ID = models.NewTaskID(task.Source, task.Created)
	}
	if task.Priority == "" {
		task.Priority = models.PriorityNormal
	}
	task.State = models.StateNew
	task.Attempts = 0
	task.Archived = false

	unlock, err := s.lock(task.ID)
	if err != nil {
		return "", fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	defer func() { _ = unlock() }()

	if _, _, err := s.locate(task.ID); err == nil {
		return "", fmt.Errorf("creating task %s: %w", task.ID, models.ErrDuplicateID)
	}

	if err := writeDocument(s.docPath(models.StateNew, task.ID), task, task.Payload); err != nil {
		return "", fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	return task.ID, nil
}

// dedupEntry is one row of the intake dedup index.
type dedupEntry struct {
	ID   string    `yaml:"id"`
	Seen time.Time `yaml:"seen"`
}

func dedupKey(source, payload string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + payload))
	return hex.EncodeToString(sum[:])
}

func (s *fileTaskStore) CreateOnce(task models.Task) (string, bool, error) {
	unlock, err := lockFile(filepath.Join(s.root, ".locks", ".dedup.lock"))
	if err != nil {
		return "", false, fmt.Errorf("locking dedup index: %w", err)
	}
	defer func() { _ = unlock() }()

	indexPath := filepath.Join(s.root, ".dedup.yaml")
	index := make(map[string]dedupEntry)
	data, err := os.ReadFile(indexPath)
	if err != nil && !os.IsNotExist(err) {
		return "", false, fmt.Errorf("reading dedup index: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &index); err != nil {
			return "", false, fmt.Errorf("parsing dedup index: %w", err)
		}
		if index == nil {
			index = make(map[string]dedupEntry)
		}
	}

	now := s.now()
	for k, e := range index {
		if now.Sub(e.Seen) > s.dedupWindow {
			delete(index, k)
		}
	}

	key := dedupKey(task.Source, task.Payload)
	if e, ok := index[key]; ok {
		return e.ID, false, nil
	}

	if task.Created.IsZero() {
		task.Created = now
	}
	id, err := s.createUnique(task, key)
	if err != nil {
		return "", false, err
	}
	if s.dedupWindow > 0 {
		index[key] = dedupEntry{ID: id, Seen: now}
	}

	out, err := yaml.Marshal(index)
	if err != nil {
		return id, true, fmt.Errorf("marshaling dedup index: %w", err)
	}
	if err := writeFileAtomic(indexPath, out); err != nil {
		return id, true, fmt.Errorf("saving dedup index: %w", err)
	}
	return id, true, nil
}

// maxIDCandidates bounds how many disambiguated ids createUnique tries.
const maxIDCandidates = 50

// createUnique creates task under its derived id. When that id is taken the
// id gets a short content hash suffix, then a counter.
func (s *fileTaskStore) createUnique(task models.Task, key string) (string, error) {
	if task.ID != "" {
		return s.Create(task)
	}
	base := models.NewTaskID(task.Source, task.Created)
	for n := 0; n < maxIDCandidates; n++ {
		task.ID = candidateID(base, key, n)
		id, err := s.Create(task)
		if !errors.Is(err, models.ErrDuplicateID) {
			return id, err
		}
	}
	return "", fmt.Errorf("creating task %s: %w", base, models.ErrDuplicateID)
}

func candidateID(base, key string, n int) string {
	switch n {
	case 0:
		return base
	case 1:
		return base + "-" + key[:8]
	}
	return fmt.Sprintf("%s-%s-%d", base, key[:8], n)
}

// locate finds the document for id. archived reports whether it lives in the
// archive rather than a state folder.
func (s *fileTaskStore) locate(id string) (models.TaskState, bool, error) {
	for _, st := range models.AllStates {
		if exists(s.docPath(st, id)) {
			return st, false, nil
		}
	}
	if exists(s.archivePath(id)) {
		return "", true, nil
	}
	return "", false, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
}

func (s *fileTaskStore) read(path string) (*models.Task, error) {
	var task models.Task
	body, err := readDocument(path, &task)
	if err != nil {
		return nil, err
	}
	task.Payload = body
	return &task, nil
}

func (s *fileTaskStore) Get(id string) (*models.Task, error) {
	state, archived, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	if archived {
		t, err := s.read(s.archivePath(id))
		if err != nil {
			return nil, fmt.Errorf("reading archived task %s: %w", id, err)
		}
		t.Archived = true
		return t, nil
	}
	t, err := s.read(s.docPath(state, id))
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	t.State = state
	return t, nil
}

func (s *fileTaskStore) List(state models.TaskState) ([]models.Task, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("listing tasks: unknown state %q", state)
	}
	return s.scan(s.stateDir(state), state)
}

func (s *fileTaskStore) ListArchived() ([]models.Task, error) {
	tasks, err := s.scan(filepath.Join(s.root, archiveDir), "")
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Archived = true
	}
	return tasks, nil
}

func (s *fileTaskStore) scan(dir string, state models.TaskState) ([]models.Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var tasks []models.Task
	for _, e := range entries {
		if !isDocument(e) {
			continue
		}
		t, err := s.read(filepath.Join(dir, e.Name()))
		if err != nil {
			// Moved away since ReadDir, or malformed.
			continue
		}
		if state != "" {
			t.State = state
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (s *fileTaskStore) Transition(id string, from, to models.TaskState) error {
	return s.TransitionWith(id, from, to, nil)
}

func (s *fileTaskStore) TransitionWith(id string, from, to models.TaskState, mutate func(*models.Task)) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("task %s %s -> %s: %w", id, from, to, models.ErrInvalidTransition)
	}

	unlock, err := s.lock(id)
	if err != nil {
		return fmt.Errorf("locking task %s: %w", id, err)
	}
	defer func() { _ = unlock() }()

	src := s.docPath(from, id)
	task, err := s.read(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.missingFrom(id, from)
		}
		return fmt.Errorf("reading task %s: %w", id, err)
	}

	if to == models.StatePlanning {
		if from == models.StateFailed && task.Attempts >= s.maxAttempts {
			return fmt.Errorf("task %s after %d attempts: %w", id, task.Attempts, models.ErrRetriesExhausted)
		}
		task.Attempts++
	}

	task.State = to
	task.History = append(task.History, models.StateChange{From: from, To: to, At: s.now()})
	if mutate != nil {
		mutate(task)
		task.ID = id
		task.State = to
	}

	// Rewrite in place, then rename: the document is never in two folders.
	if err := writeDocument(src, task, task.Payload); err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if err := os.Rename(src, s.docPath(to, id)); err != nil {
		return fmt.Errorf("moving task %s to %s: %w", id, to, err)
	}
	return nil
}

// missingFrom classifies a task that is not in the expected folder.
func (s *fileTaskStore) missingFrom(id string, from models.TaskState) error {
	state, archived, err := s.locate(id)
	if err != nil {
		return err
	}
	if archived {
		return fmt.Errorf("task %s: %w", id, models.ErrArchived)
	}
	return fmt.Errorf("task %s is %s, not %s: %w", id, state, from, models.ErrConflict)
}

func (s *fileTaskStore) Update(task models.Task) error {
	unlock, err := s.lock(task.ID)
	if err != nil {
		return fmt.Errorf("locking task %s: %w", task.ID, err)
	}
	defer func() { _ = unlock() }()

	path := s.docPath(task.State, task.ID)
	current, err := s.read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.missingFrom(task.ID, task.State)
		}
		return fmt.Errorf("reading task %s: %w", task.ID, err)
	}
	// Attempts and history are owned by transitions.
	task.Attempts = current.Attempts
	task.History = current.History
	if err := writeDocument(path, task, task.Payload); err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	return nil
}

func (s *fileTaskStore) ClaimResume(id string) error {
	unlock, err := s.lock(id)
	if err != nil {
		return fmt.Errorf("locking task %s: %w", id, err)
	}
	defer func() { _ = unlock() }()

	path := s.docPath(models.StateExecuting, id)
	task, err := s.read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.missingFrom(id, models.StateExecuting)
		}
		return fmt.Errorf("reading task %s: %w", id, err)
	}
	if !task.Resume {
		return fmt.Errorf("task %s already claimed: %w", id, models.ErrConflict)
	}
	task.Resume = false
	task.State = models.StateExecuting
	if err := writeDocument(path, task, task.Payload); err != nil {
		return fmt.Errorf("claiming task %s: %w", id, err)
	}
	return nil
}

func (s *fileTaskStore) Archive(id string, reason string, summary *models.Summary) error {
	unlock, err := s.lock(id)
	if err != nil {
		return fmt.Errorf("locking task %s: %w", id, err)
	}
	defer func() { _ = unlock() }()

	state, archived, err := s.locate(id)
	if err != nil {
		return err
	}
	if archived {
		return fmt.Errorf("task %s: %w", id, models.ErrArchived)
	}
	if !state.Terminal() {
		return fmt.Errorf("archiving task %s in state %s: %w", id, state, models.ErrInvalidTransition)
	}

	src := s.docPath(state, id)
	task, err := s.read(src)
	if err != nil {
		return fmt.Errorf("reading task %s: %w", id, err)
	}
	now := s.now()
	task.State = state
	task.Archived = true
	task.ArchivedAt = &now
	task.Resume = false
	if reason != "" {
		task.Reason = reason
	}
	if summary != nil {
		task.Summary = summary
	}

	if err := writeDocument(src, task, task.Payload); err != nil {
		return fmt.Errorf("archiving task %s: %w", id, err)
	}
	if err := os.Rename(src, s.archivePath(id)); err != nil {
		return fmt.Errorf("moving task %s to archive: %w", id, err)
	}
	return nil
}

func (s *fileTaskStore) Counts() (map[models.TaskState]int, error) {
	counts := make(map[models.TaskState]int, len(models.AllStates))
	for _, st := range models.AllStates {
		entries, err := os.ReadDir(s.stateDir(st))
		if err != nil {
			return nil, fmt.Errorf("counting %s tasks: %w", st, err)
		}
		for _, e := range entries {
			if isDocument(e) {
				counts[st]++
			}
		}
	}
	return counts, nil
}
