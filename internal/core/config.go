// Package core contains the business logic of the task engine: the
// configuration layer, priority classification, the rate limiter and trust
// gate, the approval workflow, the task processor, and the health supervisor.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// ConfigFileName is the name of the engine configuration file in the base
// directory. It is YAML with or without a .yaml extension.
const ConfigFileName = ".engineconfig"

// ConfigurationManager loads and validates the engine configuration.
type ConfigurationManager interface {
	Load() (*models.EngineConfig, error)
	Validate(cfg *models.EngineConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .engineconfig from basePath. ATE_-prefixed environment variables override
// file values (ATE_PROCESSOR_WORKERS overrides processor.workers).
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns an EngineConfig populated with the stated defaults.
func DefaultConfig() *models.EngineConfig {
	return &models.EngineConfig{
		Processor: models.ProcessorConfig{
			Workers:        3,
			PollInterval:   30 * time.Second,
			PlannerTimeout: 2 * time.Minute,
			ActionTimeout:  time.Minute,
			MaxAttempts:    3,
		},
		Intake: models.IntakeConfig{DedupWindow: 10 * time.Minute},
		Quota:  models.QuotaConfig{DefaultDailyLimit: 50},
		Approval: models.ApprovalConfig{
			Expiry:        24 * time.Hour,
			SweepInterval: time.Minute,
			Keywords: []string{
				"email", "send", "payment", "financial", "money", "invoice",
				"social media", "post", "marketing", "customer", "client",
			},
		},
		Trust: models.TrustConfig{PolicyPath: "policy/trust.yaml"},
		Priority: models.PriorityConfig{
			Keywords: map[models.Priority][]string{
				models.PriorityUrgent: {"urgent", "asap", "emergency", "critical"},
				models.PriorityHigh:   {"help", "important", "deadline"},
				models.PriorityLow:    {"fyi", "newsletter", "no rush"},
			},
		},
		Supervisor: models.SupervisorConfig{
			HealthCadence:    "@every 30m",
			DashboardCadence: "@every 5m",
			BriefingCadence:  "0 0 8 * * *",
			EODCadence:       "0 0 18 * * *",
			WeeklyCadence:    "0 0 20 * * 0",
		},
		Actions: models.ActionsConfig{Pacing: time.Second, OutboxDir: "outbox"},
		Logging: models.LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the configuration file. A missing file yields the defaults.
func (cm *viperConfigManager) Load() (*models.EngineConfig, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("ATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("processor.workers", cfg.Processor.Workers)
	v.SetDefault("processor.poll_interval", cfg.Processor.PollInterval)
	v.SetDefault("processor.planner_timeout", cfg.Processor.PlannerTimeout)
	v.SetDefault("processor.action_timeout", cfg.Processor.ActionTimeout)
	v.SetDefault("processor.max_attempts", cfg.Processor.MaxAttempts)
	v.SetDefault("intake.dedup_window", cfg.Intake.DedupWindow)
	v.SetDefault("quota.default_daily_limit", cfg.Quota.DefaultDailyLimit)
	v.SetDefault("approval.expiry", cfg.Approval.Expiry)
	v.SetDefault("approval.sweep_interval", cfg.Approval.SweepInterval)
	v.SetDefault("approval.keywords", cfg.Approval.Keywords)
	v.SetDefault("trust.policy_path", cfg.Trust.PolicyPath)
	for p, words := range cfg.Priority.Keywords {
		v.SetDefault("priority.keywords."+string(p), words)
	}
	v.SetDefault("supervisor.health_cadence", cfg.Supervisor.HealthCadence)
	v.SetDefault("supervisor.dashboard_cadence", cfg.Supervisor.DashboardCadence)
	v.SetDefault("supervisor.briefing_cadence", cfg.Supervisor.BriefingCadence)
	v.SetDefault("supervisor.eod_cadence", cfg.Supervisor.EODCadence)
	v.SetDefault("supervisor.weekly_cadence", cfg.Supervisor.WeeklyCadence)
	v.SetDefault("actions.pacing", cfg.Actions.Pacing)
	v.SetDefault("actions.outbox_dir", cfg.Actions.OutboxDir)
	v.SetDefault("planner.command", "")
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("http.addr", "")
	v.SetDefault("notifications.slack_webhook", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg.Processor.Workers = v.GetInt("processor.workers")
	cfg.Processor.PollInterval = v.GetDuration("processor.poll_interval")
	cfg.Processor.PlannerTimeout = v.GetDuration("processor.planner_timeout")
	cfg.Processor.ActionTimeout = v.GetDuration("processor.action_timeout")
	cfg.Processor.MaxAttempts = v.GetInt("processor.max_attempts")
	cfg.Intake.DedupWindow = v.GetDuration("intake.dedup_window")
	cfg.Quota.DefaultDailyLimit = v.GetInt("quota.default_daily_limit")
	cfg.Approval.Expiry = v.GetDuration("approval.expiry")
	cfg.Approval.SweepInterval = v.GetDuration("approval.sweep_interval")
	cfg.Approval.Keywords = v.GetStringSlice("approval.keywords")
	cfg.Trust.PolicyPath = v.GetString("trust.policy_path")
	for _, p := range []models.Priority{models.PriorityUrgent, models.PriorityHigh, models.PriorityNormal, models.PriorityLow} {
		key := "priority.keywords." + string(p)
		if v.IsSet(key) {
			cfg.Priority.Keywords[p] = v.GetStringSlice(key)
		}
	}
	cfg.Supervisor.HealthCadence = v.GetString("supervisor.health_cadence")
	cfg.Supervisor.DashboardCadence = v.GetString("supervisor.dashboard_cadence")
	cfg.Supervisor.BriefingCadence = v.GetString("supervisor.briefing_cadence")
	cfg.Supervisor.EODCadence = v.GetString("supervisor.eod_cadence")
	cfg.Supervisor.WeeklyCadence = v.GetString("supervisor.weekly_cadence")
	cfg.Actions.Pacing = v.GetDuration("actions.pacing")
	cfg.Actions.OutboxDir = v.GetString("actions.outbox_dir")
	cfg.Planner.Command = v.GetString("planner.command")
	cfg.Planner.Args = v.GetStringSlice("planner.args")
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.Notifications.SlackWebhook = v.GetString("notifications.slack_webhook")

	if v.IsSet("quota.channels") {
		if err := v.UnmarshalKey("quota.channels", &cfg.Quota.Channels); err != nil {
			return nil, fmt.Errorf("parsing quota.channels: %w", err)
		}
	}
	if v.IsSet("supervisor.watchers") {
		if err := v.UnmarshalKey("supervisor.watchers", &cfg.Supervisor.Watchers); err != nil {
			return nil, fmt.Errorf("parsing supervisor.watchers: %w", err)
		}
	}

	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks cfg for invalid values and reports all of them at once.
func (cm *viperConfigManager) Validate(cfg *models.EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Processor.Workers < 1 {
		errs = append(errs, fmt.Sprintf("processor.workers must be at least 1, got %d", cfg.Processor.Workers))
	}
	if cfg.Processor.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("processor.max_attempts must be at least 1, got %d", cfg.Processor.MaxAttempts))
	}
	if cfg.Processor.PlannerTimeout <= 0 || cfg.Processor.ActionTimeout <= 0 {
		errs = append(errs, "processor timeouts must be positive")
	}
	if cfg.Quota.DefaultDailyLimit < 0 {
		errs = append(errs, fmt.Sprintf("quota.default_daily_limit must be non-negative, got %d", cfg.Quota.DefaultDailyLimit))
	}
	for ch, n := range cfg.Quota.Channels {
		if n < 0 {
			errs = append(errs, fmt.Sprintf("quota.channels.%s must be non-negative, got %d", ch, n))
		}
	}
	if cfg.Approval.Expiry <= 0 {
		errs = append(errs, "approval.expiry must be positive")
	}

	cadences := map[string]string{
		"supervisor.health_cadence":    cfg.Supervisor.HealthCadence,
		"supervisor.dashboard_cadence": cfg.Supervisor.DashboardCadence,
		"supervisor.briefing_cadence":  cfg.Supervisor.BriefingCadence,
		"supervisor.eod_cadence":       cfg.Supervisor.EODCadence,
		"supervisor.weekly_cadence":    cfg.Supervisor.WeeklyCadence,
	}
	for key, spec := range cadences {
		if spec == "" {
			continue // disabled
		}
		if _, err := cron.Parse(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid schedule: %v", key, spec, err))
		}
	}

	for i, w := range cfg.Supervisor.Watchers {
		if w.Name == "" || w.Command == "" {
			errs = append(errs, fmt.Sprintf("supervisor.watchers[%d] needs both name and command", i))
		}
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid, must be one of: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid, must be json or console", cfg.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
