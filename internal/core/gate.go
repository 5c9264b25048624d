package core

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// GateDecision is the outcome of running a plan step through the action
// gate. When Proceed is false the action did not run and Reasons says why.
type GateDecision struct {
	Proceed  bool
	Bypassed bool
	Reasons  []models.GateReason
	Quota    *QuotaDecision
	Trust    *TrustDecision
}

// ActionGate combines the policy flag, the trust gate, and the rate limiter
// in front of every plan step.
type ActionGate interface {
	// Run executes exec for plan.Steps[index] when the step is permitted. A
	// pre-approved step bypasses trust and quota once and is recorded as a
	// bypass.
	Run(ctx context.Context, taskID string, plan *models.Plan, index int, exec func(context.Context) error) (GateDecision, error)
}

type actionGate struct {
	trust   TrustGate
	limiter RateLimiter
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewActionGate creates an ActionGate. metrics and logger may be nil.
func NewActionGate(trust TrustGate, limiter RateLimiter, metrics MetricsRecorder, logger *zap.Logger) ActionGate {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &actionGate{trust: trust, limiter: limiter, metrics: metrics, logger: logger}
}

func (g *actionGate) Run(ctx context.Context, taskID string, plan *models.Plan, index int, exec func(context.Context) error) (GateDecision, error) {
	if index < 0 || index >= len(plan.Steps) {
		return GateDecision{}, fmt.Errorf("task %s has no step %d", taskID, index)
	}
	step := plan.Steps[index]

	if step.PreApproved {
		if err := exec(ctx); err != nil {
			return GateDecision{}, err
		}
		if step.Outbound() {
			entry := ActionEntry{Channel: step.Action.Channel, TaskID: taskID, Target: step.Action.Target}
			if err := g.limiter.RecordBypass(entry); err != nil {
				g.logger.Error("recording pre-approved action", zap.String("task", taskID), zap.Error(err))
			}
			g.metrics.ActionExecuted(step.Action.Channel)
		}
		return GateDecision{Proceed: true, Bypassed: true}, nil
	}

	var d GateDecision
	if step.RequiresApproval || (plan.RequiresApproval && step.Outbound()) {
		d.Reasons = append(d.Reasons, models.ReasonPolicy)
	}

	if !step.Outbound() {
		if len(d.Reasons) > 0 {
			return d, nil
		}
		if err := exec(ctx); err != nil {
			return GateDecision{}, err
		}
		d.Proceed = true
		return d, nil
	}

	channel := step.Action.Channel
	trust := g.trust.CheckTrust(step.Action.Target)
	d.Trust = &trust
	if !trust.Trusted {
		d.Reasons = append(d.Reasons, models.ReasonTrust)
	}

	if len(d.Reasons) > 0 {
		// Already routed to approval: report quota too, without consuming it.
		q, err := g.limiter.CheckQuota(channel)
		if err != nil {
			return GateDecision{}, err
		}
		d.Quota = &q
		if !q.Allowed {
			d.Reasons = append(d.Reasons, models.ReasonQuota)
			g.metrics.QuotaDenied(channel)
		}
		return d, nil
	}

	entry := ActionEntry{Channel: channel, TaskID: taskID, Target: step.Action.Target}
	q, err := g.limiter.Admit(ctx, entry, exec)
	d.Quota = &q
	if err != nil {
		return GateDecision{}, err
	}
	if !q.Allowed {
		d.Reasons = append(d.Reasons, models.ReasonQuota)
		g.metrics.QuotaDenied(channel)
		return d, nil
	}
	g.metrics.ActionExecuted(channel)
	d.Proceed = true
	return d, nil
}
