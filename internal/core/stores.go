package core

import (
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// TaskRepository is the durable task registry as seen by core services.
// This interface is defined locally in core to avoid importing storage.
type TaskRepository interface {
	CreateOnce(task models.Task) (id string, created bool, err error)
	Get(id string) (*models.Task, error)
	List(state models.TaskState) ([]models.Task, error)
	ListArchived() ([]models.Task, error)
	Transition(id string, from, to models.TaskState) error
	TransitionWith(id string, from, to models.TaskState, mutate func(*models.Task)) error
	Update(task models.Task) error
	ClaimResume(id string) error
	Archive(id string, reason string, summary *models.Summary) error
	Counts() (map[models.TaskState]int, error)
}

// ApprovalRepository persists approval requests.
// This interface is defined locally in core to avoid importing storage.
type ApprovalRepository interface {
	Put(req models.ApprovalRequest) error
	Get(id string) (*models.ApprovalRequest, error)
	List(state models.ApprovalState) ([]models.ApprovalRequest, error)
	Resolve(id string, to models.ApprovalState, mutate func(*models.ApprovalRequest)) (*models.ApprovalRequest, error)
}

// AnalyticsRepository persists the running approval analytics.
type AnalyticsRepository interface {
	Load() (*models.ApprovalAnalytics, error)
	Update(fn func(*models.ApprovalAnalytics)) error
}
