// Package internal provides the App struct that wires all components of the
// task engine together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/valter-silva-au/ai-task-engine/internal/api"
	"github.com/valter-silva-au/ai-task-engine/internal/cli"
	"github.com/valter-silva-au/ai-task-engine/internal/core"
	"github.com/valter-silva-au/ai-task-engine/internal/integration"
	"github.com/valter-silva-au/ai-task-engine/internal/observability"
	"github.com/valter-silva-au/ai-task-engine/internal/storage"
	"go.uber.org/zap"
)

// App holds all service dependencies of the task engine.
type App struct {
	BasePath string
	Logger   *zap.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	Tasks     storage.TaskStore
	ApprStore storage.ApprovalStore
	ActionLog storage.ActionLog

	// Core services
	Approvals  core.ApprovalEngine
	Limiter    core.RateLimiter
	Trust      core.TrustGate
	Gate       core.ActionGate
	Intake     core.TaskIntake
	Processor  core.TaskProcessor
	Reporter   core.Reporter
	Supervisor core.HealthSupervisor

	// Integration services
	Inbox     *integration.InboxSource
	Outbox    *integration.OutboxExecutor
	Watchers  *integration.ProcessManager
	Decisions *integration.DecisionWatcher

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Collectors  *observability.Collectors

	API *api.Server

	pollInterval time.Duration
	httpAddr     string
}

// NewApp creates and wires all components of the engine. basePath is the
// root directory holding the task folders, approvals, reports and logs.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	app.pollInterval = cfg.Processor.PollInterval
	app.httpAddr = cfg.HTTP.Addr

	app.Logger, err = observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger := app.Logger

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, observability.EventLogFileName))
	if err != nil {
		// Non-fatal: run without the event log.
		logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	app.Collectors = observability.NewCollectors()
	if cfg.Notifications.SlackWebhook != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}

	// --- Storage layer ---
	app.Tasks, err = storage.NewTaskStore(basePath, storage.TaskStoreOptions{
		MaxAttempts: cfg.Processor.MaxAttempts,
		DedupWindow: cfg.Intake.DedupWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	app.ApprStore, err = storage.NewApprovalStore(basePath)
	if err != nil {
		return nil, fmt.Errorf("opening approval store: %w", err)
	}
	app.ActionLog = storage.NewActionLog(basePath)
	actions := &actionLogAdapter{log: app.ActionLog}

	// --- Core services ---
	app.Approvals = core.NewApprovalEngine(app.ApprStore, app.Tasks, storage.NewAnalyticsStore(basePath), core.ApprovalEngineOptions{
		Expiry:  cfg.Approval.Expiry,
		Logger:  logger.Named("approvals"),
		Events:  events,
		Metrics: app.Collectors,
		OnApproved: func(string) {
			if app.Processor != nil {
				app.Processor.Wake()
			}
		},
	})
	app.Limiter = core.NewRateLimiter(actions, cfg.Quota.Limit, nil, logger.Named("quota"))
	app.Trust = core.NewTrustGate(resolvePath(basePath, cfg.Trust.PolicyPath), logger.Named("trust"))
	app.Gate = core.NewActionGate(app.Trust, app.Limiter, app.Collectors, logger.Named("gate"))
	app.Intake = core.NewTaskIntake(app.Tasks, core.NewPriorityClassifier(cfg.Priority.Keywords), events, logger.Named("intake"))

	// --- Integration services ---
	app.Inbox, err = integration.NewInboxSource(basePath, app.Intake, logger.Named("inbox"))
	if err != nil {
		return nil, fmt.Errorf("opening inbox: %w", err)
	}
	app.Outbox, err = integration.NewOutboxExecutor(basePath, cfg.Actions.OutboxDir, cfg.Actions.Pacing)
	if err != nil {
		return nil, fmt.Errorf("opening outbox: %w", err)
	}
	app.Decisions, err = integration.NewDecisionWatcher(basePath, app.Approvals, logger.Named("decisions"))
	if err != nil {
		return nil, fmt.Errorf("opening decisions directory: %w", err)
	}

	var planner core.Planner = integration.NewKeywordPlanner(cfg.Approval.Keywords)
	if cfg.Planner.Command != "" {
		planner = integration.NewCommandPlanner(cfg.Planner.Command, cfg.Planner.Args)
	}

	app.Processor = core.NewTaskProcessor(app.Tasks, app.Approvals, planner, app.Outbox, app.Gate, core.ProcessorOptions{
		Workers:        cfg.Processor.Workers,
		PlannerTimeout: cfg.Processor.PlannerTimeout,
		ActionTimeout:  cfg.Processor.ActionTimeout,
		MaxAttempts:    cfg.Processor.MaxAttempts,
		Sources:        []core.IntakeSource{app.Inbox},
		Logger:         logger.Named("processor"),
		Events:         events,
		Metrics:        app.Collectors,
	})

	app.Reporter = core.NewReporter(basePath, app.Tasks, app.Approvals, actions)

	var watchers core.WatcherManager
	if len(cfg.Supervisor.Watchers) > 0 {
		app.Watchers = integration.NewProcessManager(cfg.Supervisor.Watchers, filepath.Join(basePath, "logs"), logger.Named("watchers"))
		watchers = app.Watchers
	}
	var alerts core.AlertNotifier
	if app.Notifier != nil {
		alerts = observability.NewAlertNotifier(app.Notifier)
	}
	app.Supervisor = core.NewHealthSupervisor(watchers, app.Intake, app.Tasks, app.Reporter, core.SupervisorOptions{
		Cadences: cfg.Supervisor,
		Jobs: []core.ScheduledJob{{
			Name: "approval-sweep",
			Spec: "@every " + cfg.Approval.SweepInterval.String(),
			Run:  app.sweep,
		}},
		Notifier: alerts,
		Logger:   logger.Named("supervisor"),
		Events:   events,
		Metrics:  app.Collectors,
	})

	app.AlertEngine = observability.NewAlertEngine(app.Tasks, app.Approvals, app.EventLog, observability.DefaultAlertThresholds())
	app.API = api.NewServer(app.Tasks, app.Approvals, app.Intake, app.Collectors.Handler(), logger.Named("api"))
	if app.Watchers != nil {
		app.API.SetWatchers(app.Watchers)
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Tasks = app.Tasks
	cli.Intake = app.Intake
	cli.Approvals = app.Approvals
	cli.Limiter = app.Limiter
	cli.Trust = app.Trust
	cli.Reporter = app.Reporter
	cli.Actions = actions
	cli.Decisions = app.Decisions
	cli.Daemon = app.Run

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// sweep applies pending decision files, expires overdue approvals, then
// finishes any task release a failed resolution left behind.
func (a *App) sweep() {
	if _, err := a.Decisions.Drain(); err != nil {
		a.Logger.Error("draining decisions", zap.Error(err))
	}
	if _, err := a.Approvals.Sweep(time.Now().UTC()); err != nil {
		a.Logger.Error("sweeping approvals", zap.Error(err))
	}
	if _, err := a.Approvals.Reconcile(); err != nil {
		a.Logger.Error("reconciling approvals", zap.Error(err))
	}
}

// Run recovers tasks interrupted by a previous process, then runs the
// processor, the supervisor, the decision watcher and the HTTP API until ctx
// is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	n, err := a.Processor.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recovering interrupted tasks: %w", err)
	}
	if n > 0 {
		a.Logger.Info("recovered interrupted tasks", zap.Int("count", n))
	}

	if err := a.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer a.Supervisor.Stop()

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return a.Processor.Run(ctx, a.pollInterval)
	})
	p.Go(func(ctx context.Context) error {
		return a.Decisions.Watch(ctx)
	})
	if a.httpAddr != "" {
		p.Go(func(ctx context.Context) error {
			a.Logger.Info("serving operator API", zap.String("addr", a.httpAddr))
			return a.API.ListenAndServe(ctx, a.httpAddr)
		})
	}

	a.Logger.Info("engine running", zap.String("base", a.BasePath))
	err = p.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases resources held by the App, such as the event log file handle.
func (a *App) Close() error {
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the engine's base directory. It checks the
// ATE_HOME env var, then the nearest ancestor containing .engineconfig, then
// falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("ATE_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

func resolvePath(basePath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(basePath, p)
}

// --- Adapters ---

// actionLogAdapter adapts storage.ActionLog to core.ActionRecorder and
// core.ActionCounter.
type actionLogAdapter struct {
	log storage.ActionLog
}

func (a *actionLogAdapter) RecordAction(entry core.ActionEntry) error {
	return a.log.Append(storage.ActionRecord{
		Time:    entry.Time,
		Channel: entry.Channel,
		TaskID:  entry.TaskID,
		Target:  entry.Target,
		Bypass:  entry.Bypass,
	})
}

func (a *actionLogAdapter) CountActions(channel string, day time.Time) (int, error) {
	return a.log.CountForDay(channel, day)
}

func (a *actionLogAdapter) CountActionsByChannel(day time.Time) (map[string]int, error) {
	return a.log.CountsForDay(day)
}

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.NewEvent(eventType, data))
}
