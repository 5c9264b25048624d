package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// ApprovalEngine manages the pending -> approved | rejected | expired
// sub-lifecycle of approval requests and drives the linked task.
type ApprovalEngine interface {
	// Submit persists a new pending request with its expiry fixed at
	// creation and returns its id.
	Submit(req models.ApprovalRequest) (string, error)
	// Resolve records an operator decision. It fails with ErrNotFound for an
	// unknown id and ErrAlreadyResolved when the request is not pending. When
	// the decision is recorded but the linked task could not be moved, the
	// resolved request is returned together with an ErrTaskNotReleased error;
	// Reconcile retries the release.
	Resolve(id string, decision models.Decision, resolver, reason string) (*models.ApprovalRequest, error)
	// Sweep expires every pending request whose expiry is at or before now
	// and returns the requests it expired.
	Sweep(now time.Time) ([]models.ApprovalRequest, error)
	Get(id string) (*models.ApprovalRequest, error)
	List(state models.ApprovalState) ([]models.ApprovalRequest, error)
	Analytics() (*models.ApprovalAnalytics, error)
	// Reconcile finishes releasing tasks still parked behind a resolved
	// approval, as left by a failed or interrupted release, and returns how
	// many it moved.
	Reconcile() (int, error)
}

// ApprovalEngineOptions configures an ApprovalEngine.
type ApprovalEngineOptions struct {
	Expiry  time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
	Events  EventLogger
	Metrics MetricsRecorder
	// OnApproved is called after an approval releases a task back to
	// Executing, typically to wake the processor.
	OnApproved func(taskID string)
}

type approvalEngine struct {
	approvals  ApprovalRepository
	tasks      TaskRepository
	analytics  AnalyticsRepository
	expiry     time.Duration
	now        func() time.Time
	logger     *zap.Logger
	events     EventLogger
	metrics    MetricsRecorder
	onApproved func(taskID string)
}

// NewApprovalEngine creates an ApprovalEngine.
func NewApprovalEngine(approvals ApprovalRepository, tasks TaskRepository, analytics AnalyticsRepository, opts ApprovalEngineOptions) ApprovalEngine {
	e := &approvalEngine{
		approvals:  approvals,
		tasks:      tasks,
		analytics:  analytics,
		expiry:     opts.Expiry,
		now:        opts.Now,
		logger:     opts.Logger,
		events:     opts.Events,
		metrics:    opts.Metrics,
		onApproved: opts.OnApproved,
	}
	if e.expiry <= 0 {
		e.expiry = 24 * time.Hour
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	return e
}

func (e *approvalEngine) Submit(req models.ApprovalRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Created.IsZero() {
		req.Created = e.now()
	}
	req.Expires = req.Created.Add(e.expiry)
	req.State = models.ApprovalPending
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	if err := e.approvals.Put(req); err != nil {
		return "", err
	}

	if err := e.analytics.Update(func(a *models.ApprovalAnalytics) {
		a.TotalRequests++
		a.ActionTypes[actionType(req.Action)]++
	}); err != nil {
		e.logger.Error("updating approval analytics", zap.String("approval", req.ID), zap.Error(err))
	}

	logEvent(e.events, "approval.submitted", map[string]any{
		"approval_id": req.ID,
		"task_id":     req.TaskID,
		"action":      actionType(req.Action),
		"reasons":     reasonStrings(req.Reasons),
		"expires":     req.Expires.Format(time.RFC3339),
	})
	e.logger.Info("approval requested",
		zap.String("approval", req.ID),
		zap.String("task", req.TaskID),
		zap.Strings("reasons", reasonStrings(req.Reasons)))
	return req.ID, nil
}

func (e *approvalEngine) Resolve(id string, decision models.Decision, resolver, reason string) (*models.ApprovalRequest, error) {
	var to models.ApprovalState
	switch decision {
	case models.DecisionApproved:
		to = models.ApprovalApproved
	case models.DecisionRejected:
		to = models.ApprovalRejected
	default:
		return nil, fmt.Errorf("resolving approval %s: unknown decision %q: %w", id, decision, models.ErrInvalidTransition)
	}

	now := e.now()
	req, err := e.approvals.Resolve(id, to, func(r *models.ApprovalRequest) {
		r.Resolver = resolver
		r.ResolvedAt = &now
		r.Note = reason
	})
	if err != nil {
		return nil, err
	}

	e.recordResolution(req, now)
	if err := e.release(req); err != nil {
		e.logger.Error("releasing linked task", zap.String("approval", id), zap.String("task", req.TaskID), zap.Error(err))
		return req, fmt.Errorf("approval %s %s, task %s: %w: %v", id, req.State, req.TaskID, models.ErrTaskNotReleased, err)
	}
	return req, nil
}

func (e *approvalEngine) Sweep(now time.Time) ([]models.ApprovalRequest, error) {
	pending, err := e.approvals.List(models.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("sweeping approvals: %w", err)
	}

	var expired []models.ApprovalRequest
	for _, p := range pending {
		if now.Before(p.Expires) {
			continue
		}
		note := "Auto-Rejected: expired after " + formatWindow(p.Expires.Sub(p.Created))
		req, err := e.approvals.Resolve(p.ID, models.ApprovalExpired, func(r *models.ApprovalRequest) {
			r.Resolver = "sweep"
			r.ResolvedAt = &now
			r.Note = note
		})
		if err != nil {
			if errors.Is(err, models.ErrAlreadyResolved) || errors.Is(err, models.ErrNotFound) {
				// A human resolution won the race.
				e.logger.Debug("approval resolved before expiry", zap.String("approval", p.ID))
				continue
			}
			return expired, fmt.Errorf("expiring approval %s: %w", p.ID, err)
		}
		e.recordResolution(req, now)
		if err := e.release(req); err != nil {
			e.logger.Error("releasing expired task", zap.String("approval", p.ID), zap.String("task", req.TaskID), zap.Error(err))
		}
		expired = append(expired, *req)
	}
	return expired, nil
}

func (e *approvalEngine) Get(id string) (*models.ApprovalRequest, error) {
	return e.approvals.Get(id)
}

func (e *approvalEngine) List(state models.ApprovalState) ([]models.ApprovalRequest, error) {
	return e.approvals.List(state)
}

func (e *approvalEngine) Analytics() (*models.ApprovalAnalytics, error) {
	return e.analytics.Load()
}

func (e *approvalEngine) Reconcile() (int, error) {
	released := 0
	for _, st := range []models.TaskState{models.StateAwaitingApproval, models.StateRejected} {
		tasks, err := e.tasks.List(st)
		if err != nil {
			return released, fmt.Errorf("listing %s tasks: %w", st, err)
		}
		for _, t := range tasks {
			if t.ApprovalID == "" {
				continue
			}
			req, err := e.approvals.Get(t.ApprovalID)
			if err != nil {
				e.logger.Warn("task links to unknown approval",
					zap.String("task", t.ID), zap.String("approval", t.ApprovalID), zap.Error(err))
				continue
			}
			if req.State == models.ApprovalPending {
				continue
			}
			if err := e.release(req); err != nil {
				e.logger.Error("reconciling task", zap.String("task", t.ID), zap.String("approval", req.ID), zap.Error(err))
				continue
			}
			released++
			e.logger.Info("reconciled task with resolved approval",
				zap.String("task", t.ID), zap.String("approval", req.ID), zap.String("state", string(req.State)))
		}
	}
	return released, nil
}

func (e *approvalEngine) recordResolution(req *models.ApprovalRequest, at time.Time) {
	if err := e.analytics.Update(func(a *models.ApprovalAnalytics) {
		a.Record(req.State, at.Sub(req.Created), req.Note)
	}); err != nil {
		e.logger.Error("updating approval analytics", zap.String("approval", req.ID), zap.Error(err))
	}
	e.metrics.ApprovalResolved(req.State)
	logEvent(e.events, "approval.resolved", map[string]any{
		"approval_id": req.ID,
		"task_id":     req.TaskID,
		"state":       string(req.State),
		"resolver":    req.Resolver,
		"note":        req.Note,
	})
	e.logger.Info("approval resolved",
		zap.String("approval", req.ID),
		zap.String("state", string(req.State)),
		zap.String("resolver", req.Resolver))
}

// release moves the linked task out of AwaitingApproval. Approval resumes
// the pending step with both gates bypassed; rejection and expiry end the
// task in Rejected and archive it. It is safe to repeat: a task that already
// moved on is left alone and a Rejected task that was never archived is
// archived.
func (e *approvalEngine) release(req *models.ApprovalRequest) error {
	if req.TaskID == "" {
		return nil
	}
	task, err := e.tasks.Get(req.TaskID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("approval links to unknown task", zap.String("task", req.TaskID))
			return nil
		}
		return fmt.Errorf("loading task %s: %w", req.TaskID, err)
	}
	if task.ApprovalID != req.ID || task.Archived {
		e.logger.Debug("task no longer waits on this approval",
			zap.String("task", req.TaskID), zap.String("approval", req.ID))
		return nil
	}

	if req.State == models.ApprovalApproved {
		if task.State != models.StateAwaitingApproval {
			return nil
		}
		err := e.tasks.TransitionWith(req.TaskID, models.StateAwaitingApproval, models.StateExecuting, func(t *models.Task) {
			t.Resume = true
			if t.Plan != nil && req.StepIndex >= 0 && req.StepIndex < len(t.Plan.Steps) {
				t.Plan.Steps[req.StepIndex].PreApproved = true
			}
		})
		if err != nil {
			return e.taskError(req.TaskID, err)
		}
		e.metrics.TaskTransitioned(models.StateAwaitingApproval, models.StateExecuting)
		if e.onApproved != nil {
			e.onApproved(req.TaskID)
		}
		return nil
	}

	reason := fmt.Sprintf("approval %s %s", req.ID, req.State)
	if req.Note != "" {
		reason += ": " + req.Note
	}
	switch task.State {
	case models.StateAwaitingApproval:
		err = e.tasks.TransitionWith(req.TaskID, models.StateAwaitingApproval, models.StateRejected, func(t *models.Task) {
			t.Reason = reason
		})
		if err != nil {
			return e.taskError(req.TaskID, err)
		}
		e.metrics.TaskTransitioned(models.StateAwaitingApproval, models.StateRejected)
	case models.StateRejected:
	default:
		return nil
	}

	summary := &models.Summary{Outcome: models.StateRejected, Completed: e.now(), Note: reason}
	if task.Plan != nil {
		summary.Steps = task.Plan.Steps
	}
	if err := e.tasks.Archive(req.TaskID, reason, summary); err != nil {
		return e.taskError(req.TaskID, fmt.Errorf("archiving: %w", err))
	}
	logEvent(e.events, "task.archived", map[string]any{
		"task_id": req.TaskID,
		"outcome": string(models.StateRejected),
	})
	return nil
}

// taskError drops errors meaning the task already moved on.
func (e *approvalEngine) taskError(taskID string, err error) error {
	if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrArchived) {
		e.logger.Debug("linked task already moved on", zap.String("task", taskID), zap.Error(err))
		return nil
	}
	return err
}

func actionType(a models.Action) string {
	if a.Kind == "" {
		return "unknown"
	}
	return a.Kind
}

func reasonStrings(reasons []models.GateReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

// formatWindow renders a duration without trailing zero units: 24h, 1h30m.
func formatWindow(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
