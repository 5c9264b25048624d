package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRateLimiter_AdmitUntilLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
	log := &memActionLog{}
	rl := NewRateLimiter(log, func(string) int { return 2 }, fixedClock(now), nil)

	ran := 0
	action := func(context.Context) error { ran++; return nil }
	for i := 0; i < 2; i++ {
		d, err := rl.Admit(context.Background(), ActionEntry{Channel: "gmail", TaskID: "t"}, action)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !d.Allowed || d.Used != i+1 {
			t.Fatalf("Admit %d = %+v, want allowed with used %d", i, d, i+1)
		}
	}

	d, err := rl.Admit(context.Background(), ActionEntry{Channel: "gmail"}, action)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d.Allowed {
		t.Fatal("third action admitted over a limit of 2")
	}
	if ran != 2 {
		t.Errorf("action ran %d times, want 2", ran)
	}
	wantReset := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %s, want %s", d.ResetAt, wantReset)
	}

	// Other channels are counted separately.
	other, err := rl.CheckQuota("slack")
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	if !other.Allowed || other.Used != 0 {
		t.Errorf("slack quota = %+v", other)
	}
}

func TestRateLimiter_FailedActionNotCounted(t *testing.T) {
	log := &memActionLog{}
	rl := NewRateLimiter(log, func(string) int { return 1 }, nil, nil)

	boom := errors.New("smtp down")
	_, err := rl.Admit(context.Background(), ActionEntry{Channel: "gmail"}, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Admit error = %v, want %v", err, boom)
	}
	d, err := rl.CheckQuota("gmail")
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	if d.Used != 0 || !d.Allowed {
		t.Errorf("failed action consumed quota: %+v", d)
	}
}

func TestRateLimiter_ResetsAtMidnight(t *testing.T) {
	log := &memActionLog{}
	clock := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	rl := NewRateLimiter(log, func(string) int { return 1 }, func() time.Time { return clock }, nil)

	if _, err := rl.Admit(context.Background(), ActionEntry{Channel: "gmail"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d, _ := rl.CheckQuota("gmail"); d.Allowed {
		t.Fatal("quota should be exhausted before midnight")
	}
	clock = clock.Add(2 * time.Minute)
	if d, _ := rl.CheckQuota("gmail"); !d.Allowed {
		t.Errorf("quota should reset after midnight, got %+v", d)
	}
}

func TestRateLimiter_BypassCountsTowardUsage(t *testing.T) {
	log := &memActionLog{}
	rl := NewRateLimiter(log, func(string) int { return 1 }, nil, nil)

	if err := rl.RecordBypass(ActionEntry{Channel: "gmail", TaskID: "t"}); err != nil {
		t.Fatalf("RecordBypass: %v", err)
	}
	if log.bypasses() != 1 {
		t.Errorf("bypass entries = %d, want 1", log.bypasses())
	}
	d, err := rl.CheckQuota("gmail")
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	if d.Allowed {
		t.Errorf("bypassed action not counted: %+v", d)
	}
}

func TestRateLimiter_ConcurrentAdmitNeverExceedsLimit(t *testing.T) {
	const limit, callers = 5, 40
	log := &memActionLog{}
	rl := NewRateLimiter(log, func(string) int { return limit }, nil, nil)

	var allowed, ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.Admit(context.Background(), ActionEntry{Channel: "gmail"}, func(context.Context) error {
				ran.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit || ran.Load() != limit {
		t.Errorf("allowed=%d ran=%d, want %d", allowed.Load(), ran.Load(), limit)
	}
}

// For any limit and number of attempts, admitted actions never exceed the
// limit and every attempt under the limit is admitted.
func TestProperty_AdmitBoundedByLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(0, 10).Draw(rt, "limit")
		attempts := rapid.IntRange(0, 20).Draw(rt, "attempts")
		rl := NewRateLimiter(&memActionLog{}, func(string) int { return limit }, nil, nil)

		admitted := 0
		for i := 0; i < attempts; i++ {
			d, err := rl.Admit(context.Background(), ActionEntry{Channel: "slack"}, func(context.Context) error { return nil })
			if err != nil {
				rt.Fatalf("Admit: %v", err)
			}
			if d.Allowed {
				admitted++
			}
		}
		want := attempts
		if limit < want {
			want = limit
		}
		if admitted != want {
			rt.Errorf("admitted %d of %d with limit %d", admitted, attempts, limit)
		}
	})
}
