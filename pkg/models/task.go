package models

import (
	"strings"
	"time"
)

// TaskState represents the lifecycle state of a task. The state of a stored
// task is the folder its document lives in.
type TaskState string

const (
	StateNew              TaskState = "new"
	StatePlanning         TaskState = "planning"
	StateExecuting        TaskState = "executing"
	StateAwaitingApproval TaskState = "awaiting_approval"
	StateDone             TaskState = "done"
	StateFailed           TaskState = "failed"
	StateRejected         TaskState = "rejected"
)

// AllStates lists every task state in lifecycle order.
var AllStates = []TaskState{
	StateNew,
	StatePlanning,
	StateExecuting,
	StateAwaitingApproval,
	StateDone,
	StateFailed,
	StateRejected,
}

// transitions is the directed state graph. Failed -> Planning is the retry
// edge and is additionally bounded by the attempt cap.
var transitions = map[TaskState][]TaskState{
	StateNew:              {StatePlanning},
	StatePlanning:         {StateExecuting, StateAwaitingApproval, StateFailed},
	StateExecuting:        {StateAwaitingApproval, StateDone, StateFailed},
	StateAwaitingApproval: {StateExecuting, StateRejected},
	StateFailed:           {StatePlanning},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions other than
// the bounded retry edge out of Failed.
func (s TaskState) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StateFailed
}

// Priority represents the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for claiming; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// ParsePriority maps a free-form hint to a Priority. ok is false for
// unrecognised hints.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent", "critical":
		return PriorityUrgent, true
	case "high":
		return PriorityHigh, true
	case "normal", "medium":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	}
	return "", false
}

// Task is the unit of inbound work tracked through the lifecycle.
type Task struct {
	ID       string            `yaml:"id" json:"id"`
	Source   string            `yaml:"source" json:"source"`
	Type     string            `yaml:"type,omitempty" json:"type,omitempty"`
	Created  time.Time         `yaml:"created" json:"created"`
	Priority Priority          `yaml:"priority" json:"priority"`
	State    TaskState         `yaml:"state" json:"state"`
	Attempts int               `yaml:"attempts" json:"attempts"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	Plan       *Plan         `yaml:"plan,omitempty" json:"plan,omitempty"`
	ApprovalID string        `yaml:"approval_id,omitempty" json:"approval_id,omitempty"`
	Resume     bool          `yaml:"resume,omitempty" json:"resume,omitempty"`
	LastError  string        `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	Reason     string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	Summary    *Summary      `yaml:"summary,omitempty" json:"summary,omitempty"`
	Archived   bool          `yaml:"archived,omitempty" json:"archived,omitempty"`
	ArchivedAt *time.Time    `yaml:"archived_at,omitempty" json:"archived_at,omitempty"`
	History    []StateChange `yaml:"history,omitempty" json:"history,omitempty"`

	// Payload is the free-text body of the task document.
	Payload string `yaml:"-" json:"payload"`
}

// StateChange records one transition in the task's audit trail.
type StateChange struct {
	From TaskState `yaml:"from" json:"from"`
	To   TaskState `yaml:"to" json:"to"`
	At   time.Time `yaml:"at" json:"at"`
}

// Plan is the ordered step list produced by the planner for a task.
type Plan struct {
	Steps            []Step   `yaml:"steps" json:"steps"`
	Resources        []string `yaml:"resources,omitempty" json:"resources,omitempty"`
	RequiresApproval bool     `yaml:"requires_approval" json:"requires_approval"`
	Rationale        string   `yaml:"rationale,omitempty" json:"rationale,omitempty"`
	// PendingStep is the index of the step waiting on approval, -1 if none.
	PendingStep int `yaml:"pending_step" json:"pending_step"`
}

// Step is a single plan step. Steps with an Action that names a channel are
// outbound and subject to gating.
type Step struct {
	Description      string  `yaml:"description" json:"description"`
	Done             bool    `yaml:"done" json:"done"`
	RequiresApproval bool    `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
	PreApproved      bool    `yaml:"pre_approved,omitempty" json:"pre_approved,omitempty"`
	Action           *Action `yaml:"action,omitempty" json:"action,omitempty"`
	Result           string  `yaml:"result,omitempty" json:"result,omitempty"`
}

// Outbound reports whether executing the step reaches an external channel.
func (s Step) Outbound() bool {
	return s.Action != nil && s.Action.Channel != ""
}

// NextPending returns the index of the first step not yet done, or -1.
func (p *Plan) NextPending() int {
	for i, s := range p.Steps {
		if !s.Done {
			return i
		}
	}
	return -1
}

// Action is the payload handed to the action executor.
type Action struct {
	Kind    string `yaml:"kind" json:"kind"`
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`
	Target  string `yaml:"target,omitempty" json:"target,omitempty"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
}

// ActionResult is what an executor reports for a completed action.
type ActionResult struct {
	Reference string `yaml:"reference,omitempty" json:"reference,omitempty"`
	Detail    string `yaml:"detail,omitempty" json:"detail,omitempty"`
}

// Summary is the terminal record attached to an archived task.
type Summary struct {
	Outcome   TaskState `yaml:"outcome" json:"outcome"`
	Steps     []Step    `yaml:"steps,omitempty" json:"steps,omitempty"`
	Completed time.Time `yaml:"completed" json:"completed"`
	Note      string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// IntakeRequest is a raw task document submitted by a watcher.
type IntakeRequest struct {
	Source       string            `yaml:"source" json:"source"`
	Timestamp    time.Time         `yaml:"timestamp" json:"timestamp"`
	Payload      string            `yaml:"-" json:"payload"`
	PriorityHint string            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Type         string            `yaml:"type,omitempty" json:"type,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}
