package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the stores and the engine.
var (
	ErrConflict          = errors.New("conflict")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyResolved   = errors.New("already resolved")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrArchived          = errors.New("archived")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrTaskNotReleased   = errors.New("linked task not released")
)

// PlannerError reports a failed planner invocation.
type PlannerError struct {
	TaskID string
	Err    error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("planner failed for %s: %v", e.TaskID, e.Err)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// ActionError reports a failed action execution.
type ActionError struct {
	TaskID string
	Step   int
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action failed for %s step %d: %v", e.TaskID, e.Step, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
