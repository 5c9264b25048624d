package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/ai-task-engine/internal/storage"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"golang.org/x/time/rate"
)

// outboxFrontmatter is the frontmatter of an outbound action document.
type outboxFrontmatter struct {
	TaskID  string    `yaml:"task_id"`
	Kind    string    `yaml:"kind"`
	Channel string    `yaml:"channel"`
	Target  string    `yaml:"target,omitempty"`
	Created time.Time `yaml:"created"`
	Status  string    `yaml:"status"`
}

// OutboxExecutor executes outbound actions by writing them as documents into
// outbox/<channel>/, where delivery collaborators pick them up. Calls per
// channel are paced by a token-bucket limiter.
type OutboxExecutor struct {
	dir    string
	pacing time.Duration
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOutboxExecutor creates an OutboxExecutor. outboxDir is relative to
// basePath unless absolute.
func NewOutboxExecutor(basePath, outboxDir string, pacing time.Duration) (*OutboxExecutor, error) {
	if outboxDir == "" {
		outboxDir = "outbox"
	}
	if !filepath.IsAbs(outboxDir) {
		outboxDir = filepath.Join(basePath, outboxDir)
	}
	if err := os.MkdirAll(outboxDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating outbox directory: %w", err)
	}
	return &OutboxExecutor{
		dir:      outboxDir,
		pacing:   pacing,
		now:      func() time.Time { return time.Now().UTC() },
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (e *OutboxExecutor) limiter(channel string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[channel]
	if !ok {
		limit := rate.Inf
		if e.pacing > 0 {
			limit = rate.Every(e.pacing)
		}
		l = rate.NewLimiter(limit, 1)
		e.limiters[channel] = l
	}
	return l
}

// Execute writes the action to the outbox. Actions without a channel are
// internal and complete immediately.
func (e *OutboxExecutor) Execute(ctx context.Context, taskID string, action models.Action) (models.ActionResult, error) {
	if action.Channel == "" {
		return models.ActionResult{Detail: "completed"}, nil
	}
	if err := e.limiter(action.Channel).Wait(ctx); err != nil {
		return models.ActionResult{}, fmt.Errorf("waiting for %s pacing: %w", action.Channel, err)
	}

	dir := filepath.Join(e.dir, action.Channel)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return models.ActionResult{}, fmt.Errorf("creating outbox channel directory: %w", err)
	}

	now := e.now()
	kind := action.Kind
	if kind == "" {
		kind = "message"
	}
	fm := outboxFrontmatter{
		TaskID:  taskID,
		Kind:    kind,
		Channel: action.Channel,
		Target:  action.Target,
		Created: now,
		Status:  "queued",
	}
	content, err := storage.RenderDocument(fm, action.Content)
	if err != nil {
		return models.ActionResult{}, fmt.Errorf("rendering outbox document: %w", err)
	}

	name := fmt.Sprintf("%s-%s.md", taskID, now.Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return models.ActionResult{}, fmt.Errorf("writing outbox document: %w", err)
	}

	return models.ActionResult{
		Reference: filepath.Join(action.Channel, name),
		Detail:    "queued for delivery via " + action.Channel,
	}, nil
}
