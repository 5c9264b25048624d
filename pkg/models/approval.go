package models

import "time"

// ApprovalState is the sub-lifecycle state of an ApprovalRequest.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalExpired  ApprovalState = "expired"
)

// AllApprovalStates lists every approval state.
var AllApprovalStates = []ApprovalState{
	ApprovalPending,
	ApprovalApproved,
	ApprovalRejected,
	ApprovalExpired,
}

// Valid reports whether s is a known approval state.
func (s ApprovalState) Valid() bool {
	for _, known := range AllApprovalStates {
		if s == known {
			return true
		}
	}
	return false
}

// Decision is an operator resolution of a pending request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// GateReason names why an outbound action was routed to approval.
type GateReason string

const (
	ReasonQuota  GateReason = "quota"
	ReasonTrust  GateReason = "trust"
	ReasonPolicy GateReason = "policy"
)

// ApprovalRequest is a gated action awaiting human resolution.
type ApprovalRequest struct {
	ID        string        `yaml:"id" json:"id"`
	TaskID    string        `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	StepIndex int           `yaml:"step_index" json:"step_index"`
	Action    Action        `yaml:"action" json:"action"`
	Reasons   []GateReason  `yaml:"reasons,omitempty" json:"reasons,omitempty"`
	Priority  Priority      `yaml:"priority" json:"priority"`
	Created   time.Time     `yaml:"created" json:"created"`
	Expires   time.Time     `yaml:"expires" json:"expires"`
	State     ApprovalState `yaml:"state" json:"state"`

	Resolver   string     `yaml:"resolver,omitempty" json:"resolver,omitempty"`
	ResolvedAt *time.Time `yaml:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	Note       string     `yaml:"note,omitempty" json:"note,omitempty"`
}

// ApprovalAnalytics is the running aggregate over approval resolutions.
type ApprovalAnalytics struct {
	TotalRequests       int            `json:"total_requests"`
	Approved            int            `json:"approved_requests"`
	Rejected            int            `json:"rejected_requests"`
	Expired             int            `json:"expired_requests"`
	AverageResponseSecs float64        `json:"average_response_time"`
	ActionTypes         map[string]int `json:"action_types"`
	RejectionReasons    map[string]int `json:"rejection_reasons"`
	ApprovalRate        float64        `json:"approval_rate"`
}

// Resolved returns the number of requests that reached a terminal state.
func (a *ApprovalAnalytics) Resolved() int {
	return a.Approved + a.Rejected + a.Expired
}

// Record folds one terminal resolution into the aggregate. latency is the
// time between creation and resolution.
func (a *ApprovalAnalytics) Record(state ApprovalState, latency time.Duration, reason string) {
	n := float64(a.Resolved())
	a.AverageResponseSecs = (a.AverageResponseSecs*n + latency.Seconds()) / (n + 1)

	switch state {
	case ApprovalApproved:
		a.Approved++
	case ApprovalRejected:
		a.Rejected++
	case ApprovalExpired:
		a.Expired++
	}
	if reason != "" && state != ApprovalApproved {
		if a.RejectionReasons == nil {
			a.RejectionReasons = make(map[string]int)
		}
		a.RejectionReasons[reason]++
	}
	a.ApprovalRate = float64(a.Approved) / float64(a.Resolved())
}
