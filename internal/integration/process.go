package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// WatcherStatus describes one managed watcher process.
type WatcherStatus struct {
	Name     string    `json:"name"`
	Alive    bool      `json:"alive"`
	PID      int       `json:"pid,omitempty"`
	Restarts int       `json:"restarts"`
	Started  time.Time `json:"started,omitempty"`
	LastExit string    `json:"last_exit,omitempty"`
}

type watcherProc struct {
	cfg      models.WatcherConfig
	cmd      *exec.Cmd
	done     chan struct{}
	exitErr  error
	started  time.Time
	restarts int
}

func (p *watcherProc) alive() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ProcessManager starts external watcher processes and tracks their
// liveness. Each watcher's output is appended to logDir/<name>.log.
type ProcessManager struct {
	logDir string
	logger *zap.Logger

	mu    sync.Mutex
	procs map[string]*watcherProc
	order []string
}

// NewProcessManager creates a ProcessManager for the configured watchers.
func NewProcessManager(watchers []models.WatcherConfig, logDir string, logger *zap.Logger) *ProcessManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ProcessManager{logDir: logDir, logger: logger, procs: make(map[string]*watcherProc)}
	for _, w := range watchers {
		if _, dup := m.procs[w.Name]; dup {
			continue
		}
		m.procs[w.Name] = &watcherProc{cfg: w}
		m.order = append(m.order, w.Name)
	}
	return m
}

func (m *ProcessManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *ProcessManager) Alive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	return ok && p.alive()
}

func (m *ProcessManager) StartAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		if m.Alive(name) {
			continue
		}
		if err := m.start(ctx, name, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *ProcessManager) Restart(ctx context.Context, name string) error {
	return m.start(ctx, name, true)
}

func (m *ProcessManager) start(ctx context.Context, name string, restart bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.procs[name]
	if !ok {
		return fmt.Errorf("unknown watcher %q", name)
	}
	if p.alive() {
		return nil
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	if m.logDir != "" {
		if err := os.MkdirAll(m.logDir, 0o750); err != nil {
			return fmt.Errorf("creating watcher log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(m.logDir, name+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening log for watcher %s: %w", name, err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		defer f.Close() // the child holds its own descriptor
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting watcher %s: %w", name, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done
	p.started = time.Now().UTC()
	if restart {
		p.restarts++
	}
	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		p.exitErr = err
		m.mu.Unlock()
		close(done)
		m.logger.Info("watcher exited", zap.String("watcher", name), zap.Error(err))
	}()

	m.logger.Info("watcher started", zap.String("watcher", name), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// StopAll interrupts every running watcher and kills any that has not exited
// within five seconds.
func (m *ProcessManager) StopAll() {
	m.mu.Lock()
	var running []*watcherProc
	for _, name := range m.order {
		if p := m.procs[name]; p.alive() {
			running = append(running, p)
		}
	}
	m.mu.Unlock()

	for _, p := range running {
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	}
}

// Status reports every managed watcher.
func (m *ProcessManager) Status() []WatcherStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WatcherStatus, 0, len(m.order))
	for _, name := range m.order {
		p := m.procs[name]
		st := WatcherStatus{Name: name, Alive: p.alive(), Restarts: p.restarts, Started: p.started}
		if st.Alive {
			st.PID = p.cmd.Process.Pid
		}
		if p.exitErr != nil {
			st.LastExit = p.exitErr.Error()
		}
		out = append(out, st)
	}
	return out
}
