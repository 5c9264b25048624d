package core

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// Values written to .engineconfig are read back unchanged.
func TestProperty_ConfigRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		workers := rapid.IntRange(1, 64).Draw(rt, "workers")
		attempts := rapid.IntRange(1, 10).Draw(rt, "attempts")
		limit := rapid.IntRange(0, 1000).Draw(rt, "limit")
		slack := rapid.IntRange(0, 100).Draw(rt, "slack")
		level := rapid.SampledFrom([]string{"debug", "info", "warn", "error"}).Draw(rt, "level")

		dir := t.TempDir()
		writeFile(t, dir, ConfigFileName, fmt.Sprintf(`processor:
  workers: %d
  max_attempts: %d
quota:
  default_daily_limit: %d
  channels:
    slack: %d
logging:
  level: %s
`, workers, attempts, limit, slack, level))

		cm := NewConfigurationManager(dir)
		cfg, err := cm.Load()
		if err != nil {
			rt.Fatalf("Load: %v", err)
		}
		if cfg.Processor.Workers != workers || cfg.Processor.MaxAttempts != attempts {
			rt.Errorf("processor = %+v", cfg.Processor)
		}
		if cfg.Quota.DefaultDailyLimit != limit || cfg.Quota.Limit("slack") != slack {
			rt.Errorf("quota = %+v", cfg.Quota)
		}
		if cfg.Logging.Level != level {
			rt.Errorf("level = %q, want %q", cfg.Logging.Level, level)
		}
		if err := cm.Validate(cfg); err != nil {
			rt.Errorf("loaded config should validate: %v", err)
		}
	})
}

// Negative worker counts never validate.
func TestProperty_ValidateRejectsBadWorkers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.Processor.Workers = rapid.IntRange(-100, 0).Draw(rt, "workers")
		if err := NewConfigurationManager("").Validate(cfg); err == nil {
			rt.Errorf("workers=%d validated", cfg.Processor.Workers)
		}
	})
}
