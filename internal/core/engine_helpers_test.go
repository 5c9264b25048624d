package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-task-engine/internal/storage"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// memActionLog is an in-memory ActionRecorder and ActionCounter.
type memActionLog struct {
	mu      sync.Mutex
	entries []ActionEntry
}

func (l *memActionLog) RecordAction(e ActionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memActionLog) CountActions(channel string, day time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Channel == channel && sameDay(e.Time, day) {
			n++
		}
	}
	return n, nil
}

func (l *memActionLog) CountActionsByChannel(day time.Time) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range l.entries {
		if sameDay(e.Time, day) {
			counts[e.Channel]++
		}
	}
	return counts, nil
}

func (l *memActionLog) bypasses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Bypass {
			n++
		}
	}
	return n
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Truncate(24 * time.Hour).Equal(b.UTC().Truncate(24 * time.Hour))
}

// recordingMetrics counts MetricsRecorder calls.
type recordingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	resolved    map[models.ApprovalState]int
	denied      map[string]int
	executed    map[string]int
	restarts    []string
	inState     map[models.TaskState]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		transitions: make(map[string]int),
		resolved:    make(map[models.ApprovalState]int),
		denied:      make(map[string]int),
		executed:    make(map[string]int),
	}
}

func (m *recordingMetrics) TaskTransitioned(from, to models.TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[string(from)+"->"+string(to)]++
}

func (m *recordingMetrics) ApprovalResolved(s models.ApprovalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[s]++
}

func (m *recordingMetrics) QuotaDenied(ch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[ch]++
}

func (m *recordingMetrics) ActionExecuted(ch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed[ch]++
}

func (m *recordingMetrics) WatcherRestarted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, name)
}

func (m *recordingMetrics) TasksInState(counts map[models.TaskState]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inState = counts
}

// recordingEvents captures LogEvent calls.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

func (e *recordingEvents) count(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.events {
		if t == eventType {
			n++
		}
	}
	return n
}

// staticTrust trusts a fixed set of identifiers.
type staticTrust map[string]bool

func (s staticTrust) CheckTrust(id string) TrustDecision {
	if s[id] {
		return TrustDecision{Identifier: id, Trusted: true}
	}
	return TrustDecision{Identifier: id, Reason: "not in trust policy"}
}

// recordingExecutor records executed actions and optionally fails.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []models.Action
	err      error
}

func (e *recordingExecutor) Execute(_ context.Context, _ string, a models.Action) (models.ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return models.ActionResult{}, e.err
	}
	e.executed = append(e.executed, a)
	return models.ActionResult{Reference: a.Channel + "/out.md", Detail: "queued"}, nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

var errPlanner = errors.New("planner unavailable")

// engine bundles real file-backed stores with core services for tests.
type engine struct {
	base      string
	tasks     storage.TaskStore
	approvals ApprovalEngine
	actions   *memActionLog
	limiter   RateLimiter
	metrics   *recordingMetrics
	events    *recordingEvents
	intake    TaskIntake
}

func newEngine(t *testing.T, limit int, maxAttempts int) *engine {
	t.Helper()
	base := t.TempDir()
	tasks, err := storage.NewTaskStore(base, storage.TaskStoreOptions{MaxAttempts: maxAttempts, DedupWindow: 10 * time.Minute})
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	apprStore, err := storage.NewApprovalStore(base)
	if err != nil {
		t.Fatalf("NewApprovalStore: %v", err)
	}
	e := &engine{
		base:    base,
		tasks:   tasks,
		actions: &memActionLog{},
		metrics: newRecordingMetrics(),
		events:  &recordingEvents{},
	}
	e.approvals = NewApprovalEngine(apprStore, tasks, storage.NewAnalyticsStore(base), ApprovalEngineOptions{
		Expiry:  24 * time.Hour,
		Events:  e.events,
		Metrics: e.metrics,
	})
	e.limiter = NewRateLimiter(e.actions, func(string) int { return limit }, nil, nil)
	e.intake = NewTaskIntake(tasks, NewPriorityClassifier(DefaultConfig().Priority.Keywords), e.events, nil)
	return e
}

func (e *engine) processor(planner Planner, executor Executor, trust TrustGate, maxAttempts int) TaskProcessor {
	return e.processorWith(planner, executor, trust, ProcessorOptions{Workers: 3, MaxAttempts: maxAttempts})
}

func (e *engine) processorWith(planner Planner, executor Executor, trust TrustGate, opts ProcessorOptions) TaskProcessor {
	gate := NewActionGate(trust, e.limiter, e.metrics, nil)
	opts.Events = e.events
	opts.Metrics = e.metrics
	return NewTaskProcessor(e.tasks, e.approvals, planner, executor, gate, opts)
}

func (e *engine) runOnce(t *testing.T, p TaskProcessor) CycleStats {
	t.Helper()
	stats, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return stats
}

func (e *engine) pending(t *testing.T) []models.ApprovalRequest {
	t.Helper()
	reqs, err := e.approvals.List(models.ApprovalPending)
	if err != nil {
		t.Fatalf("listing pending approvals: %v", err)
	}
	return reqs
}

func (e *engine) submit(t *testing.T, source, payload string, meta map[string]string) string {
	t.Helper()
	id, created, err := e.intake.Submit(models.IntakeRequest{
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  meta,
	})
	if err != nil || !created {
		t.Fatalf("Submit: id=%s created=%v err=%v", id, created, err)
	}
	return id
}

func (e *engine) get(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := e.tasks.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return task
}

// outboundPlan returns a one-step plan sending to target over channel.
func outboundPlan(channel, target string, requiresApproval bool) Planner {
	return PlannerFunc(func(_ context.Context, task models.Task) (*models.Plan, error) {
		return &models.Plan{
			Steps: []models.Step{
				{Description: "draft"},
				{Description: "send", RequiresApproval: requiresApproval,
					Action: &models.Action{Kind: "reply", Channel: channel, Target: target, Content: task.Payload}},
			},
			PendingStep: -1,
		}, nil
	})
}
