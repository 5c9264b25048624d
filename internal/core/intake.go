package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// TaskIntake accepts raw task documents from watchers and creates tasks in
// the New state. Submitting an identical document within the dedup window
// returns the existing id with created=false.
type TaskIntake interface {
	Submit(req models.IntakeRequest) (id string, created bool, err error)
}

type taskIntake struct {
	tasks      TaskRepository
	classifier PriorityClassifier
	events     EventLogger
	logger     *zap.Logger
	now        func() time.Time
}

// NewTaskIntake creates a TaskIntake. events and logger may be nil.
func NewTaskIntake(tasks TaskRepository, classifier PriorityClassifier, events EventLogger, logger *zap.Logger) TaskIntake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &taskIntake{
		tasks:      tasks,
		classifier: classifier,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (in *taskIntake) Submit(req models.IntakeRequest) (string, bool, error) {
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		return "", false, fmt.Errorf("submitting task: source is required")
	}
	if strings.TrimSpace(req.Payload) == "" {
		return "", false, fmt.Errorf("submitting task from %s: payload is required", req.Source)
	}
	created := req.Timestamp.UTC()
	if req.Timestamp.IsZero() {
		created = in.now()
	}

	task := models.Task{
		Source:   req.Source,
		Type:     req.Type,
		Created:  created,
		Priority: in.classifier.Classify(req.Payload, req.PriorityHint),
		Metadata: req.Metadata,
		Payload:  req.Payload,
	}

	id, isNew, err := in.tasks.CreateOnce(task)
	if err != nil {
		return "", false, fmt.Errorf("submitting task from %s: %w", req.Source, err)
	}
	if !isNew {
		in.logger.Debug("duplicate intake document", zap.String("task", id), zap.String("source", req.Source))
		return id, false, nil
	}

	logEvent(in.events, "task.created", map[string]any{
		"task_id":  id,
		"source":   task.Source,
		"priority": string(task.Priority),
	})
	in.logger.Info("task created",
		zap.String("task", id),
		zap.String("source", task.Source),
		zap.String("priority", string(task.Priority)))
	return id, true, nil
}
