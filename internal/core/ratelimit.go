package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ActionEntry is one successful outbound action as seen by the rate limiter.
type ActionEntry struct {
	Time    time.Time
	Channel string
	TaskID  string
	Target  string
	Bypass  bool
}

// ActionRecorder is the subset of the durable action log the rate limiter
// needs.
type ActionRecorder interface {
	RecordAction(entry ActionEntry) error
	CountActions(channel string, day time.Time) (int, error)
}

// QuotaDecision is the outcome of a quota check. Allowed=false is the
// QuotaExceeded outcome and carries the limit and the window reset time.
type QuotaDecision struct {
	Allowed bool
	Channel string
	Limit   int
	Used    int
	ResetAt time.Time
}

func (d QuotaDecision) String() string {
	if d.Allowed {
		return fmt.Sprintf("%s: %d/%d used", d.Channel, d.Used, d.Limit)
	}
	return fmt.Sprintf("%s: quota exceeded (%d/%d), resets %s", d.Channel, d.Used, d.Limit, d.ResetAt.Format(time.RFC3339))
}

// RateLimiter enforces per-channel daily quotas. Usage is recomputed from
// the action log on every check, so it survives restarts.
type RateLimiter interface {
	CheckQuota(channel string) (QuotaDecision, error)
	// Admit runs action only when the channel is under quota and records it
	// on success. Check, action, and record are serialized per channel, so
	// concurrent callers can never jointly exceed the limit.
	Admit(ctx context.Context, entry ActionEntry, action func(context.Context) error) (QuotaDecision, error)
	// RecordBypass records a pre-approved action that skipped admission.
	RecordBypass(entry ActionEntry) error
}

type dailyRateLimiter struct {
	log    ActionRecorder
	limits func(channel string) int
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*sync.Mutex
}

// NewRateLimiter creates a RateLimiter. limits maps a channel to its daily
// limit. now may be nil.
func NewRateLimiter(log ActionRecorder, limits func(channel string) int, now func() time.Time, logger *zap.Logger) RateLimiter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dailyRateLimiter{
		log:      log,
		limits:   limits,
		now:      now,
		logger:   logger,
		channels: make(map[string]*sync.Mutex),
	}
}

func (r *dailyRateLimiter) channelLock(channel string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.channels[channel]
	if !ok {
		m = &sync.Mutex{}
		r.channels[channel] = m
	}
	return m
}

func (r *dailyRateLimiter) decide(channel string) (QuotaDecision, error) {
	now := r.now().UTC()
	used, err := r.log.CountActions(channel, now)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("counting %s actions: %w", channel, err)
	}
	limit := r.limits(channel)
	return QuotaDecision{
		Allowed: used < limit,
		Channel: channel,
		Limit:   limit,
		Used:    used,
		ResetAt: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}, nil
}

func (r *dailyRateLimiter) CheckQuota(channel string) (QuotaDecision, error) {
	return r.decide(channel)
}

func (r *dailyRateLimiter) Admit(ctx context.Context, entry ActionEntry, action func(context.Context) error) (QuotaDecision, error) {
	lock := r.channelLock(entry.Channel)
	lock.Lock()
	defer lock.Unlock()

	d, err := r.decide(entry.Channel)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		r.logger.Info("quota exceeded",
			zap.String("channel", entry.Channel),
			zap.Int("limit", d.Limit),
			zap.Time("reset_at", d.ResetAt))
		return d, nil
	}

	if err := action(ctx); err != nil {
		return d, err
	}

	entry.Time = r.now().UTC()
	if err := r.log.RecordAction(entry); err != nil {
		return d, fmt.Errorf("recording %s action: %w", entry.Channel, err)
	}
	d.Used++
	return d, nil
}

func (r *dailyRateLimiter) RecordBypass(entry ActionEntry) error {
	lock := r.channelLock(entry.Channel)
	lock.Lock()
	defer lock.Unlock()

	entry.Time = r.now().UTC()
	entry.Bypass = true
	if err := r.log.RecordAction(entry); err != nil {
		return fmt.Errorf("recording %s action: %w", entry.Channel, err)
	}
	return nil
}
