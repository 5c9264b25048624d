package models

import "time"

// EngineConfig holds system-wide settings read from .engineconfig via Viper.
type EngineConfig struct {
	Processor     ProcessorConfig     `yaml:"processor" mapstructure:"processor"`
	Intake        IntakeConfig        `yaml:"intake" mapstructure:"intake"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Approval      ApprovalConfig      `yaml:"approval" mapstructure:"approval"`
	Trust         TrustConfig         `yaml:"trust" mapstructure:"trust"`
	Priority      PriorityConfig      `yaml:"priority" mapstructure:"priority"`
	Supervisor    SupervisorConfig    `yaml:"supervisor" mapstructure:"supervisor"`
	Actions       ActionsConfig       `yaml:"actions" mapstructure:"actions"`
	Planner       PlannerConfig       `yaml:"planner" mapstructure:"planner"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	HTTP          HTTPConfig          `yaml:"http" mapstructure:"http"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
}

// ProcessorConfig controls the worker pool.
type ProcessorConfig struct {
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PlannerTimeout time.Duration `yaml:"planner_timeout" mapstructure:"planner_timeout"`
	ActionTimeout  time.Duration `yaml:"action_timeout" mapstructure:"action_timeout"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// IntakeConfig controls task intake.
type IntakeConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"`
}

// QuotaConfig holds per-channel daily limits.
type QuotaConfig struct {
	DefaultDailyLimit int            `yaml:"default_daily_limit" mapstructure:"default_daily_limit"`
	Channels          map[string]int `yaml:"channels,omitempty" mapstructure:"channels"`
}

// Limit returns the daily limit configured for channel.
func (q QuotaConfig) Limit(channel string) int {
	if n, ok := q.Channels[channel]; ok {
		return n
	}
	return q.DefaultDailyLimit
}

// ApprovalConfig controls the approval sub-lifecycle.
type ApprovalConfig struct {
	Expiry        time.Duration `yaml:"expiry" mapstructure:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	Keywords      []string      `yaml:"keywords,omitempty" mapstructure:"keywords"`
}

// TrustConfig locates the trust policy document.
type TrustConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// PriorityConfig holds the keyword lists used to derive task priority.
type PriorityConfig struct {
	Keywords map[Priority][]string `yaml:"keywords,omitempty" mapstructure:"keywords"`
}

// WatcherConfig describes an external watcher process kept alive by the
// health supervisor.
type WatcherConfig struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args,omitempty" mapstructure:"args"`
}

// SupervisorConfig holds the supervisor cadences as cron specs.
type SupervisorConfig struct {
	HealthCadence    string          `yaml:"health_cadence" mapstructure:"health_cadence"`
	DashboardCadence string          `yaml:"dashboard_cadence" mapstructure:"dashboard_cadence"`
	BriefingCadence  string          `yaml:"briefing_cadence" mapstructure:"briefing_cadence"`
	EODCadence       string          `yaml:"eod_cadence" mapstructure:"eod_cadence"`
	WeeklyCadence    string          `yaml:"weekly_cadence" mapstructure:"weekly_cadence"`
	Watchers         []WatcherConfig `yaml:"watchers,omitempty" mapstructure:"watchers"`
}

// ActionsConfig controls outbound action delivery.
type ActionsConfig struct {
	Pacing    time.Duration `yaml:"pacing" mapstructure:"pacing"`
	OutboxDir string        `yaml:"outbox_dir" mapstructure:"outbox_dir"`
}

// PlannerConfig selects an external planner command. Empty Command selects
// the built-in keyword planner.
type PlannerConfig struct {
	Command string   `yaml:"command,omitempty" mapstructure:"command"`
	Args    []string `yaml:"args,omitempty" mapstructure:"args"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig controls the operator HTTP API. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// NotificationsConfig holds outbound alert notification settings.
type NotificationsConfig struct {
	SlackWebhook string `yaml:"slack_webhook,omitempty" mapstructure:"slack_webhook"`
}
