package integration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/storage"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// inboxFrontmatter is the frontmatter watchers write on intake documents.
type inboxFrontmatter struct {
	Source    string            `yaml:"source"`
	Timestamp time.Time         `yaml:"timestamp"`
	Priority  string            `yaml:"priority,omitempty"`
	Type      string            `yaml:"type,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

// InboxSource ingests intake documents that watchers drop into an inbox
// directory. Accepted documents are removed; malformed ones are moved to
// inbox/rejected/ so they are not retried forever.
type InboxSource struct {
	dir    string
	intake core.TaskIntake
	logger *zap.Logger
}

// NewInboxSource creates an InboxSource reading basePath/inbox.
func NewInboxSource(basePath string, intake core.TaskIntake, logger *zap.Logger) (*InboxSource, error) {
	dir := filepath.Join(basePath, "inbox")
	if err := os.MkdirAll(filepath.Join(dir, "rejected"), 0o750); err != nil {
		return nil, fmt.Errorf("creating inbox directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxSource{dir: dir, intake: intake, logger: logger}, nil
}

// Dir returns the inbox directory.
func (s *InboxSource) Dir() string { return s.dir }

// Poll ingests every document currently in the inbox.
func (s *InboxSource) Poll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading inbox directory: %w", err)
	}

	created := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.dir, name)

		req, err := ParseIntakeDocument(path)
		if err != nil {
			s.reject(path, err)
			continue
		}
		id, isNew, err := s.intake.Submit(*req)
		if err != nil {
			s.reject(path, err)
			continue
		}
		if isNew {
			created++
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Error("removing ingested inbox document", zap.String("file", name), zap.Error(err))
		}
		s.logger.Debug("ingested inbox document", zap.String("file", name), zap.String("task", id), zap.Bool("new", isNew))
	}
	return created, nil
}

func (s *InboxSource) reject(path string, cause error) {
	dest := filepath.Join(s.dir, "rejected", filepath.Base(path))
	s.logger.Warn("rejecting inbox document", zap.String("file", filepath.Base(path)), zap.Error(cause))
	if err := os.Rename(path, dest); err != nil {
		s.logger.Error("moving rejected inbox document", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
}

// ParseIntakeDocument reads a watcher document: YAML frontmatter with
// source, timestamp, priority and type, followed by the payload.
func ParseIntakeDocument(path string) (*models.IntakeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fm inboxFrontmatter
	body, err := storage.ParseDocument(data, &fm)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if fm.Source == "" {
		return nil, fmt.Errorf("parsing %s: source is required", filepath.Base(path))
	}
	return &models.IntakeRequest{
		Source:       fm.Source,
		Timestamp:    fm.Timestamp,
		Payload:      body,
		PriorityHint: fm.Priority,
		Type:         fm.Type,
		Metadata:     fm.Metadata,
	}, nil
}

// WriteIntakeDocument renders an intake request as a watcher document. It is
// the inverse of ParseIntakeDocument. A document already queued under the
// same name is never overwritten; the new one gets a numbered suffix.
func WriteIntakeDocument(dir string, req models.IntakeRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	fm := inboxFrontmatter{
		Source:    req.Source,
		Timestamp: req.Timestamp,
		Priority:  req.PriorityHint,
		Type:      req.Type,
		Metadata:  req.Metadata,
	}
	content, err := storage.RenderDocument(fm, req.Payload)
	if err != nil {
		return "", err
	}

	base := models.NewTaskID(req.Source, req.Timestamp)
	for n := 1; n <= maxInboxSuffix; n++ {
		name := base + ".md"
		if n > 1 {
			name = fmt.Sprintf("%s-%d.md", base, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("writing intake document: %w", err)
		}
		_, werr := f.Write(content)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("writing intake document %s: %w", name, errors.Join(werr, cerr))
		}
		return path, nil
	}
	return "", fmt.Errorf("writing intake document: %d documents already queued as %s", maxInboxSuffix, base)
}

const maxInboxSuffix = 100
