package core

import (
	"context"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// Planner turns a task into an ordered plan. It is an external capability;
// the engine only inspects the step list and the approval flags.
type Planner interface {
	Plan(ctx context.Context, task models.Task) (*models.Plan, error)
}

// Executor performs a single action after it has passed the gate.
type Executor interface {
	Execute(ctx context.Context, taskID string, action models.Action) (models.ActionResult, error)
}

// IntakeSource feeds new tasks into the engine, e.g. an inbox folder that
// watchers drop documents into. Poll returns the number of tasks created.
type IntakeSource interface {
	Poll(ctx context.Context) (int, error)
}

// PlannerFunc adapts an ordinary function to the Planner interface.
type PlannerFunc func(ctx context.Context, task models.Task) (*models.Plan, error)

func (f PlannerFunc) Plan(ctx context.Context, task models.Task) (*models.Plan, error) {
	return f(ctx, task)
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc func(ctx context.Context, taskID string, action models.Action) (models.ActionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, taskID string, action models.Action) (models.ActionResult, error) {
	return f(ctx, taskID, action)
}
