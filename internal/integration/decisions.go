package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DecisionFile is an operator decision dropped into approvals/decisions/ as
// <approval-id>.yaml.
type DecisionFile struct {
	Decision string `yaml:"decision"`
	Resolver string `yaml:"resolver,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
}

// ApprovalResolver resolves approval requests.
type ApprovalResolver interface {
	Resolve(id string, decision models.Decision, resolver, reason string) (*models.ApprovalRequest, error)
}

// DecisionWatcher turns decision files into approval resolutions. Files are
// picked up as they appear (fsnotify) and on every Drain.
type DecisionWatcher struct {
	dir      string
	resolver ApprovalResolver
	logger   *zap.Logger
}

// NewDecisionWatcher creates a DecisionWatcher over basePath/approvals/decisions.
func NewDecisionWatcher(basePath string, resolver ApprovalResolver, logger *zap.Logger) (*DecisionWatcher, error) {
	dir := filepath.Join(basePath, "approvals", "decisions")
	if err := os.MkdirAll(filepath.Join(dir, "invalid"), 0o750); err != nil {
		return nil, fmt.Errorf("creating decisions directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionWatcher{dir: dir, resolver: resolver, logger: logger}, nil
}

// Dir returns the decision drop directory.
func (w *DecisionWatcher) Dir() string { return w.dir }

// ParseDecision maps decision wording to a Decision.
func ParseDecision(s string) (models.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "yes":
		return models.DecisionApproved, nil
	case "rejected", "reject", "no":
		return models.DecisionRejected, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

func isDecisionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// Drain processes every decision file currently in the drop folder and
// returns the number of approvals resolved. Unparseable files are moved to
// decisions/invalid/.
func (w *DecisionWatcher) Drain() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("reading decisions directory: %w", err)
	}
	resolved := 0
	for _, e := range entries {
		if e.IsDir() || !isDecisionFile(e.Name()) {
			continue
		}
		ok, err := w.handle(filepath.Join(w.dir, e.Name()))
		if err != nil {
			var perr *decisionParseError
			if errors.As(err, &perr) {
				w.quarantine(filepath.Join(w.dir, e.Name()), err)
			}
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// Watch resolves decision files as they are written until ctx is cancelled.
func (w *DecisionWatcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating decisions watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	if _, err := w.Drain(); err != nil {
		w.logger.Error("draining decisions", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isDecisionFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// A parse failure may be a half-written file; Drain quarantines
			// it later if it stays broken.
			_, _ = w.handle(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("decisions watcher error", zap.Error(err))
		}
	}
}

type decisionParseError struct{ err error }

func (e *decisionParseError) Error() string { return e.err.Error() }
func (e *decisionParseError) Unwrap() error { return e.err }

// handle applies one decision file. It reports whether an approval was
// resolved. The file is removed once the decision is final, including when
// the approval was already resolved or does not exist.
func (w *DecisionWatcher) handle(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var df DecisionFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return false, &decisionParseError{err: fmt.Errorf("parsing %s: %w", filepath.Base(path), err)}
	}
	decision, err := ParseDecision(df.Decision)
	if err != nil {
		return false, &decisionParseError{err: fmt.Errorf("parsing %s: %w", filepath.Base(path), err)}
	}
	if df.Resolver == "" {
		df.Resolver = "decision-file"
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	_, err = w.resolver.Resolve(id, decision, df.Resolver, df.Reason)
	switch {
	case err == nil:
		w.logger.Info("approval resolved from decision file", zap.String("approval", id), zap.String("decision", string(decision)))
	case errors.Is(err, models.ErrTaskNotReleased):
		w.logger.Warn("approval resolved from decision file, task release pending", zap.String("approval", id), zap.Error(err))
	case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrNotFound):
		w.logger.Warn("ignoring decision file", zap.String("approval", id), zap.Error(err))
	default:
		w.logger.Error("resolving approval from decision file", zap.String("approval", id), zap.Error(err))
		return false, err
	}

	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		w.logger.Error("removing decision file", zap.String("file", path), zap.Error(rerr))
	}
	return err == nil || errors.Is(err, models.ErrTaskNotReleased), nil
}

func (w *DecisionWatcher) quarantine(path string, cause error) {
	w.logger.Warn("moving invalid decision file", zap.String("file", filepath.Base(path)), zap.Error(cause))
	if err := os.Rename(path, filepath.Join(w.dir, "invalid", filepath.Base(path))); err != nil {
		w.logger.Error("moving invalid decision file", zap.Error(err))
	}
}
