package cli

import (
	"context"
	"time"

	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/observability"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// TaskStore is the task store surface the CLI reads from.
type TaskStore interface {
	Get(id string) (*models.Task, error)
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
	Counts() (map[models.TaskState]int, error)
}

// DecisionDrainer applies operator decision files.
type DecisionDrainer interface {
	Drain() (int, error)
}

// Service instances, set during app initialization in app.go.
var (
	BasePath  string
	Config    *models.EngineConfig
	Tasks     TaskStore
	Intake    core.TaskIntake
	Approvals core.ApprovalEngine
	Limiter   core.RateLimiter
	Trust     core.TrustGate
	Reporter  core.Reporter
	Actions   core.ActionCounter
	Decisions DecisionDrainer

	// Daemon runs the engine until ctx is cancelled.
	Daemon func(ctx context.Context) error
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }
