// Package observability provides the event log, metrics, alerting and
// logging for the task engine. Events are persisted as JSON Lines (JSONL);
// report metrics are derived on demand from the event log, while live
// counters are exported to Prometheus.
package observability
