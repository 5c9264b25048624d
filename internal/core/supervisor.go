package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"go.uber.org/zap"
)

// WatcherManager starts and restarts the external watcher processes.
type WatcherManager interface {
	// StartAll launches every registered watcher that is not running.
	StartAll(ctx context.Context) error
	Names() []string
	Alive(name string) bool
	Restart(ctx context.Context, name string) error
	StopAll()
}

// AlertNotifier relays supervisor alerts to operators outside the task flow.
type AlertNotifier interface {
	NotifyAlert(message string) error
}

// ScheduledJob is an additional periodic job run by the supervisor's
// scheduler, such as the approval expiry sweep.
type ScheduledJob struct {
	Name string
	Spec string
	Run  func()
}

// SupervisorOptions configures a HealthSupervisor.
type SupervisorOptions struct {
	Cadences models.SupervisorConfig
	Jobs     []ScheduledJob
	Notifier AlertNotifier
	Logger   *zap.Logger
	Events   EventLogger
	Metrics  MetricsRecorder
	Now      func() time.Time
}

// HealthSupervisor keeps watcher processes alive and produces scheduled
// summary reports. Each tick is an independent unit of work.
type HealthSupervisor interface {
	Start(ctx context.Context) error
	Stop()
	// CheckHealth restarts every dead watcher, raises a high-priority alert
	// task for each restart, and returns the restarted names.
	CheckHealth(ctx context.Context) []string
	// Summarize writes a report of the given kind. Failures are logged and
	// reported but never change engine state.
	Summarize(kind ReportKind) (string, error)
}

type healthSupervisor struct {
	watchers WatcherManager
	intake   TaskIntake
	tasks    TaskRepository
	reporter Reporter
	opts     SupervisorOptions
	logger   *zap.Logger
	metrics  MetricsRecorder

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewHealthSupervisor creates a HealthSupervisor. watchers may be nil when no
// watcher processes are configured.
func NewHealthSupervisor(watchers WatcherManager, intake TaskIntake, tasks TaskRepository, reporter Reporter, opts SupervisorOptions) HealthSupervisor {
	s := &healthSupervisor{
		watchers: watchers,
		intake:   intake,
		tasks:    tasks,
		reporter: reporter,
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.opts.Now == nil {
		s.opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *healthSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return fmt.Errorf("supervisor already started")
	}

	if s.watchers != nil {
		if err := s.watchers.StartAll(ctx); err != nil {
			s.logger.Error("starting watchers", zap.Error(err))
		}
	}

	c := cron.New()
	jobs := []ScheduledJob{
		{Name: "health", Spec: s.opts.Cadences.HealthCadence, Run: func() { s.CheckHealth(ctx) }},
		{Name: "dashboard", Spec: s.opts.Cadences.DashboardCadence, Run: func() { _, _ = s.Summarize(ReportDashboard) }},
		{Name: "briefing", Spec: s.opts.Cadences.BriefingCadence, Run: func() { _, _ = s.Summarize(ReportBriefing) }},
		{Name: "eod", Spec: s.opts.Cadences.EODCadence, Run: func() { _, _ = s.Summarize(ReportEOD) }},
		{Name: "weekly", Spec: s.opts.Cadences.WeeklyCadence, Run: func() { _, _ = s.Summarize(ReportWeekly) }},
	}
	jobs = append(jobs, s.opts.Jobs...)
	for _, j := range jobs {
		if j.Spec == "" {
			continue
		}
		if err := c.AddFunc(j.Spec, j.Run); err != nil {
			return fmt.Errorf("scheduling %s job %q: %w", j.Name, j.Spec, err)
		}
		s.logger.Debug("scheduled job", zap.String("job", j.Name), zap.String("spec", j.Spec))
	}
	c.Start()
	s.scheduler = c
	return nil
}

func (s *healthSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
	if s.watchers != nil {
		s.watchers.StopAll()
	}
}

func (s *healthSupervisor) CheckHealth(ctx context.Context) []string {
	if s.watchers == nil {
		return nil
	}
	var restarted []string
	for _, name := range s.watchers.Names() {
		if s.watchers.Alive(name) {
			continue
		}
		err := s.watchers.Restart(ctx, name)
		s.metrics.WatcherRestarted(name)
		logEvent(s.opts.Events, "watcher.restarted", map[string]any{
			"watcher": name,
			"ok":      err == nil,
		})

		msg := fmt.Sprintf("Watcher %s was not running and has been restarted.", name)
		if err != nil {
			msg = fmt.Sprintf("Watcher %s was not running and could not be restarted: %v", name, err)
			s.logger.Error("restarting watcher", zap.String("watcher", name), zap.Error(err))
		} else {
			s.logger.Warn("restarted watcher", zap.String("watcher", name))
		}
		restarted = append(restarted, name)

		if _, _, aerr := s.intake.Submit(models.IntakeRequest{
			Source:       "health",
			Type:         "alert",
			Timestamp:    s.opts.Now(),
			PriorityHint: string(models.PriorityHigh),
			Payload:      msg,
			Metadata:     map[string]string{"watcher": name},
		}); aerr != nil {
			s.logger.Error("raising restart alert", zap.String("watcher", name), zap.Error(aerr))
		}
		if s.opts.Notifier != nil {
			if nerr := s.opts.Notifier.NotifyAlert(msg); nerr != nil {
				s.logger.Warn("notifying restart", zap.Error(nerr))
			}
		}
	}
	return restarted
}

func (s *healthSupervisor) Summarize(kind ReportKind) (string, error) {
	if counts, err := s.tasks.Counts(); err == nil {
		s.metrics.TasksInState(counts)
	}
	path, err := s.reporter.Generate(kind)
	if err != nil {
		s.logger.Error("generating report", zap.String("kind", string(kind)), zap.Error(err))
		return "", err
	}
	logEvent(s.opts.Events, "report.generated", map[string]any{
		"kind": string(kind),
		"path": path,
	})
	s.logger.Info("report generated", zap.String("kind", string(kind)), zap.String("path", path))
	return path, nil
}
