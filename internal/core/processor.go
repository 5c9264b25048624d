package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// CycleStats summarizes one processor cycle.
type CycleStats struct {
	Ingested  int
	Claimed   int
	Completed int
	Gated     int
	Failed    int
}

// TaskProcessor drives tasks from New (and from Executing after an
// approval) to a terminal or approval-pending state with a bounded pool of
// workers.
type TaskProcessor interface {
	// RunOnce runs a single cycle: poll intake sources, then claim and
	// process every ready task, highest priority first.
	RunOnce(ctx context.Context) (CycleStats, error)
	// Run repeats RunOnce every interval, and immediately after Wake, until
	// ctx is cancelled.
	Run(ctx context.Context, interval time.Duration) error
	// Wake asks a running processor to start a cycle now.
	Wake()
	// RecoverInterrupted fails tasks left in Planning or Executing by a
	// previous process so they re-enter the bounded retry path, then releases
	// tasks still parked behind an already resolved approval. Only call it
	// when no other processor is running.
	RecoverInterrupted() (int, error)
}

// ProcessorOptions configures a TaskProcessor.
type ProcessorOptions struct {
	Workers        int
	PlannerTimeout time.Duration
	ActionTimeout  time.Duration
	MaxAttempts    int
	Sources        []IntakeSource
	Logger         *zap.Logger
	Events         EventLogger
	Metrics        MetricsRecorder
	Now            func() time.Time
}

type taskProcessor struct {
	tasks     TaskRepository
	approvals ApprovalEngine
	planner   Planner
	executor  Executor
	gate      ActionGate
	opts      ProcessorOptions
	logger    *zap.Logger
	metrics   MetricsRecorder
	wake      chan struct{}
}

// NewTaskProcessor creates a TaskProcessor.
func NewTaskProcessor(tasks TaskRepository, approvals ApprovalEngine, planner Planner, executor Executor, gate ActionGate, opts ProcessorOptions) TaskProcessor {
	if opts.Workers < 1 {
		opts.Workers = 3
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.PlannerTimeout <= 0 {
		opts.PlannerTimeout = 2 * time.Minute
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	p := &taskProcessor{
		tasks:     tasks,
		approvals: approvals,
		planner:   planner,
		executor:  executor,
		gate:      gate,
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		wake:      make(chan struct{}, 1),
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	return p
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeGated
	outcomeFailed
)

func (p *taskProcessor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *taskProcessor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error("processor cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *taskProcessor) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	for _, src := range p.opts.Sources {
		n, err := src.Poll(ctx)
		if err != nil {
			p.logger.Error("polling intake source", zap.Error(err))
		}
		stats.Ingested += n
	}

	ready, err := p.readyTasks()
	if err != nil {
		return stats, err
	}
	if len(ready) == 0 {
		return stats, nil
	}

	// Go blocks while every worker is busy, so submission order is claim
	// order: higher priorities are claimed first when the pool is saturated.
	workers := pool.NewWithResults[outcome]().WithMaxGoroutines(p.opts.Workers)
	for _, t := range ready {
		if ctx.Err() != nil {
			break
		}
		workers.Go(func() outcome { return p.process(ctx, t) })
	}

	for _, o := range workers.Wait() {
		if o != outcomeSkipped {
			stats.Claimed++
		}
		switch o {
		case outcomeCompleted:
			stats.Completed++
		case outcomeGated:
			stats.Gated++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// readyTasks returns New tasks, Executing tasks released by an approval, and
// Failed tasks still eligible for retry, ordered by priority then age.
func (p *taskProcessor) readyTasks() ([]models.Task, error) {
	var ready []models.Task

	newTasks, err := p.tasks.List(models.StateNew)
	if err != nil {
		return nil, fmt.Errorf("listing new tasks: %w", err)
	}
	ready = append(ready, newTasks...)

	executing, err := p.tasks.List(models.StateExecuting)
	if err != nil {
		return nil, fmt.Errorf("listing executing tasks: %w", err)
	}
	for _, t := range executing {
		if t.Resume {
			ready = append(ready, t)
		}
	}

	failed, err := p.tasks.List(models.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("listing failed tasks: %w", err)
	}
	ready = append(ready, failed...)

	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ready[i].Created.Before(ready[j].Created)
	})
	return ready, nil
}

// process claims t and advances it as far as it can go.
func (p *taskProcessor) process(ctx context.Context, t models.Task) outcome {
	log := p.logger.With(zap.String("task", t.ID))

	switch t.State {
	case models.StateExecuting:
		if err := p.tasks.ClaimResume(t.ID); err != nil {
			p.logClaimError(log, err)
			return outcomeSkipped
		}
		task, err := p.tasks.Get(t.ID)
		if err != nil {
			log.Error("reading claimed task", zap.Error(err))
			return outcomeSkipped
		}
		return p.execute(ctx, task)

	case models.StateFailed:
		err := p.transition(t.ID, models.StateFailed, models.StatePlanning, nil)
		if errors.Is(err, models.ErrRetriesExhausted) {
			p.archiveFailed(log, &t)
			return outcomeSkipped
		}
		if err != nil {
			p.logClaimError(log, err)
			return outcomeSkipped
		}

	default:
		if err := p.transition(t.ID, models.StateNew, models.StatePlanning, nil); err != nil {
			p.logClaimError(log, err)
			return outcomeSkipped
		}
	}

	task, err := p.tasks.Get(t.ID)
	if err != nil {
		log.Error("reading claimed task", zap.Error(err))
		return outcomeSkipped
	}
	return p.plan(ctx, task)
}

func (p *taskProcessor) logClaimError(log *zap.Logger, err error) {
	if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrArchived) {
		log.Debug("task claimed elsewhere", zap.Error(err))
		return
	}
	log.Error("claiming task", zap.Error(err))
}

// plan obtains a plan for a task in Planning and moves it to Executing. A
// plan kept from an earlier attempt is reused so completed steps are not
// repeated.
func (p *taskProcessor) plan(ctx context.Context, task *models.Task) outcome {
	plan := task.Plan
	if plan == nil || len(plan.Steps) == 0 {
		pctx, cancel := context.WithTimeout(ctx, p.opts.PlannerTimeout)
		newPlan, err := p.planner.Plan(pctx, *task)
		cancel()
		if err == nil && (newPlan == nil || len(newPlan.Steps) == 0) {
			err = errors.New("planner returned no steps")
		}
		if err != nil {
			return p.fail(task, models.StatePlanning, &models.PlannerError{TaskID: task.ID, Err: err})
		}
		plan = newPlan
	}
	plan.PendingStep = -1

	if err := p.transition(task.ID, models.StatePlanning, models.StateExecuting, func(t *models.Task) {
		t.Plan = plan
		t.LastError = ""
	}); err != nil {
		p.logger.Error("starting execution", zap.String("task", task.ID), zap.Error(err))
		return outcomeSkipped
	}
	task.Plan = plan
	task.State = models.StateExecuting
	return p.execute(ctx, task)
}

// execute runs the pending steps of an Executing task in order.
func (p *taskProcessor) execute(ctx context.Context, task *models.Task) outcome {
	log := p.logger.With(zap.String("task", task.ID))
	plan := task.Plan
	if plan == nil {
		return p.fail(task, models.StateExecuting, &models.ActionError{TaskID: task.ID, Step: -1, Err: errors.New("task has no plan")})
	}

	for i := plan.NextPending(); i >= 0; i = plan.NextPending() {
		step := &plan.Steps[i]
		var result models.ActionResult
		run := func(ctx context.Context) error {
			if step.Action == nil {
				result = models.ActionResult{Detail: "completed"}
				return nil
			}
			actx, cancel := context.WithTimeout(ctx, p.opts.ActionTimeout)
			defer cancel()
			r, err := p.executor.Execute(actx, task.ID, *step.Action)
			result = r
			return err
		}

		d, err := p.gate.Run(ctx, task.ID, plan, i, run)
		if err != nil {
			return p.fail(task, models.StateExecuting, &models.ActionError{TaskID: task.ID, Step: i, Err: err})
		}
		if !d.Proceed {
			return p.awaitApproval(task, i, d)
		}

		step.Done = true
		step.Result = describeResult(result)
		task.State = models.StateExecuting
		if err := p.tasks.Update(*task); err != nil {
			log.Error("recording step progress", zap.Int("step", i), zap.Error(err))
			return outcomeSkipped
		}
		log.Debug("step completed", zap.Int("step", i), zap.String("result", step.Result))
	}

	if err := p.transition(task.ID, models.StateExecuting, models.StateDone, func(t *models.Task) {
		t.Plan = plan
	}); err != nil {
		log.Error("completing task", zap.Error(err))
		return outcomeSkipped
	}
	summary := &models.Summary{
		Outcome:   models.StateDone,
		Steps:     plan.Steps,
		Completed: p.opts.Now(),
	}
	if err := p.tasks.Archive(task.ID, "", summary); err != nil {
		log.Error("archiving completed task", zap.Error(err))
		return outcomeCompleted
	}
	logEvent(p.opts.Events, "task.archived", map[string]any{
		"task_id": task.ID,
		"outcome": string(models.StateDone),
	})
	log.Info("task completed", zap.Int("steps", len(plan.Steps)))
	return outcomeCompleted
}

// awaitApproval parks the task on step index and submits the approval
// request. The task is moved first so an immediate approval always finds it
// in AwaitingApproval.
func (p *taskProcessor) awaitApproval(task *models.Task, index int, d GateDecision) outcome {
	log := p.logger.With(zap.String("task", task.ID))
	plan := task.Plan
	approvalID := uuid.NewString()

	if err := p.transition(task.ID, models.StateExecuting, models.StateAwaitingApproval, func(t *models.Task) {
		t.Plan = plan
		t.Plan.PendingStep = index
		t.ApprovalID = approvalID
	}); err != nil {
		log.Error("parking task for approval", zap.Error(err))
		return outcomeSkipped
	}

	step := plan.Steps[index]
	action := models.Action{Kind: "step", Content: step.Description}
	if step.Action != nil {
		action = *step.Action
	}
	_, err := p.approvals.Submit(models.ApprovalRequest{
		ID:        approvalID,
		TaskID:    task.ID,
		StepIndex: index,
		Action:    action,
		Reasons:   d.Reasons,
		Priority:  task.Priority,
	})
	if err != nil {
		log.Error("submitting approval request, releasing task for another attempt", zap.Error(err))
		if terr := p.transition(task.ID, models.StateAwaitingApproval, models.StateExecuting, func(t *models.Task) {
			t.Resume = true
			t.ApprovalID = ""
		}); terr != nil {
			log.Error("releasing task", zap.Error(terr))
		}
		return outcomeSkipped
	}

	log.Info("task awaiting approval",
		zap.Int("step", index),
		zap.String("approval", approvalID),
		zap.Strings("reasons", reasonStrings(d.Reasons)))
	return outcomeGated
}

// fail moves a task to Failed with the cause recorded on the document. Once
// the attempt cap is reached the failure is terminal and the task is
// archived.
func (p *taskProcessor) fail(task *models.Task, from models.TaskState, cause error) outcome {
	log := p.logger.With(zap.String("task", task.ID))
	log.Warn("task failed", zap.Int("attempt", task.Attempts), zap.Error(cause))

	plan := task.Plan
	if err := p.transition(task.ID, from, models.StateFailed, func(t *models.Task) {
		t.LastError = cause.Error()
		if plan != nil {
			t.Plan = plan
		}
	}); err != nil {
		log.Error("recording failure", zap.Error(err))
		return outcomeFailed
	}
	task.State = models.StateFailed
	task.LastError = cause.Error()

	if task.Attempts >= p.opts.MaxAttempts {
		p.archiveFailed(log, task)
	}
	return outcomeFailed
}

func (p *taskProcessor) archiveFailed(log *zap.Logger, task *models.Task) {
	reason := fmt.Sprintf("failed after %d attempts", task.Attempts)
	if task.LastError != "" {
		reason += ": " + task.LastError
	}
	summary := &models.Summary{Outcome: models.StateFailed, Completed: p.opts.Now(), Note: reason}
	if task.Plan != nil {
		summary.Steps = task.Plan.Steps
	}
	if err := p.tasks.Archive(task.ID, reason, summary); err != nil {
		log.Error("archiving failed task", zap.Error(err))
		return
	}
	logEvent(p.opts.Events, "task.archived", map[string]any{
		"task_id": task.ID,
		"outcome": string(models.StateFailed),
		"reason":  reason,
	})
	log.Warn("task failed terminally", zap.String("reason", reason))
}

func (p *taskProcessor) transition(id string, from, to models.TaskState, mutate func(*models.Task)) error {
	if err := p.tasks.TransitionWith(id, from, to, mutate); err != nil {
		return err
	}
	p.metrics.TaskTransitioned(from, to)
	logEvent(p.opts.Events, "task.transitioned", map[string]any{
		"task_id": id,
		"from":    string(from),
		"to":      string(to),
	})
	return nil
}

func (p *taskProcessor) RecoverInterrupted() (int, error) {
	recovered := 0
	for _, st := range []models.TaskState{models.StatePlanning, models.StateExecuting} {
		tasks, err := p.tasks.List(st)
		if err != nil {
			return recovered, fmt.Errorf("listing %s tasks: %w", st, err)
		}
		for _, t := range tasks {
			if st == models.StateExecuting && t.Resume {
				continue
			}
			err := p.transition(t.ID, st, models.StateFailed, func(task *models.Task) {
				task.LastError = "interrupted while " + string(st)
			})
			if err != nil {
				p.logClaimError(p.logger.With(zap.String("task", t.ID)), err)
				continue
			}
			recovered++
			p.logger.Warn("recovered interrupted task", zap.String("task", t.ID), zap.String("state", string(st)))
		}
	}

	released, err := p.approvals.Reconcile()
	recovered += released
	if err != nil {
		return recovered, fmt.Errorf("reconciling approvals: %w", err)
	}
	return recovered, nil
}

func describeResult(r models.ActionResult) string {
	switch {
	case r.Reference != "" && r.Detail != "":
		return r.Detail + " (" + r.Reference + ")"
	case r.Reference != "":
		return r.Reference
	case r.Detail != "":
		return r.Detail
	}
	return "completed"
}
