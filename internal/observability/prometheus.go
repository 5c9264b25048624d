package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// Collectors holds the Prometheus metrics for the engine. All metrics are
// prefixed with "ate_".
//
// Metrics:
//   - ate_task_transitions_total{from,to}
//   - ate_approvals_resolved_total{state}
//   - ate_quota_denials_total{channel}
//   - ate_actions_executed_total{channel}
//   - ate_watcher_restarts_total{watcher}
//   - ate_tasks_in_state{state}
type Collectors struct {
	registry *prometheus.Registry

	Transitions      *prometheus.CounterVec
	ApprovalsByState *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	ActionsExecuted  *prometheus.CounterVec
	WatcherRestarts  *prometheus.CounterVec
	TasksInStateG    *prometheus.GaugeVec
}

// NewCollectors registers the engine metrics on a fresh registry, so
// several engines (or tests) can coexist in one process.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collectors{
		registry: reg,
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ate_task_transitions_total",
				Help: "Total number of task state transitions",
			},
			[]string{"from", "to"},
		),
		ApprovalsByState: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ate_approvals_resolved_total",
				Help: "Total number of approval requests resolved, by final state",
			},
			[]string{"state"},
		),
		QuotaDenials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ate_quota_denials_total",
				Help: "Total number of outbound actions routed to approval by quota",
			},
			[]string{"channel"},
		),
		ActionsExecuted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ate_actions_executed_total",
				Help: "Total number of outbound actions executed",
			},
			[]string{"channel"},
		),
		WatcherRestarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ate_watcher_restarts_total",
				Help: "Total number of watcher process restarts",
			},
			[]string{"watcher"},
		),
		TasksInStateG: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ate_tasks_in_state",
				Help: "Number of task documents per state at the last summary",
			},
			[]string{"state"},
		),
	}
}

func (c *Collectors) TaskTransitioned(from, to models.TaskState) {
	c.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collectors) ApprovalResolved(state models.ApprovalState) {
	c.ApprovalsByState.WithLabelValues(string(state)).Inc()
}

func (c *Collectors) QuotaDenied(channel string) {
	c.QuotaDenials.WithLabelValues(channel).Inc()
}

func (c *Collectors) ActionExecuted(channel string) {
	c.ActionsExecuted.WithLabelValues(channel).Inc()
}

func (c *Collectors) WatcherRestarted(name string) {
	c.WatcherRestarts.WithLabelValues(name).Inc()
}

// TasksInState sets the per-state gauge. States absent from counts are
// reset to zero.
func (c *Collectors) TasksInState(counts map[models.TaskState]int) {
	for _, s := range models.AllStates {
		c.TasksInStateG.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collectors in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
