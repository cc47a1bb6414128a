package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestClock_RemainingFromAbsolutes(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	c := NewClock(base, 10*time.Minute, func() time.Time { return now })

	if got := c.Remaining(); got != 10*time.Minute {
		t.Fatalf("remaining = %v, want 10m", got)
	}

	// Jumping the wall clock (process suspended and resumed) self-corrects
	// because remaining is recomputed, never decremented.
	now = base.Add(7 * time.Minute)
	if got := c.Remaining(); got != 3*time.Minute {
		t.Fatalf("remaining after jump = %v, want 3m", got)
	}

	now = base.Add(time.Hour)
	if got := c.Remaining(); got != 0 {
		t.Fatalf("remaining past deadline = %v, want 0", got)
	}
}

func TestClock_ExpireFiresExactlyOnceAndNeverEarly(t *testing.T) {
	start := time.Now()
	c := NewClock(start, 60*time.Millisecond, nil)
	c.interval = 5 * time.Millisecond

	var fired int32
	done := make(chan struct{})
	c.Start(func() {
		if c.Remaining() != 0 {
			t.Error("onExpire fired before remaining reached zero")
		}
		if atomic.AddInt32(&fired, 1) == 1 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onExpire never fired")
	}

	// Give any duplicate invocation time to show up.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("onExpire fired %d times, want exactly 1", n)
	}
}

func TestClock_PastDeadlineFiresOnFirstTick(t *testing.T) {
	// Deadline already in the past: immediate expiry, not an error.
	c := NewClock(time.Now().Add(-time.Hour), time.Minute, nil)
	c.interval = time.Millisecond

	done := make(chan struct{})
	c.Start(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expired clock did not fire on first tick")
	}
}

func TestClock_StopPreventsExpiry(t *testing.T) {
	c := NewClock(time.Now(), 20*time.Millisecond, nil)
	c.interval = 5 * time.Millisecond

	var fired int32
	c.Start(func() { atomic.AddInt32(&fired, 1) })
	c.Stop()
	c.Stop() // idempotent

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("stopped clock still fired onExpire")
	}
}

func TestClock_WarningTiers(t *testing.T) {
	base := time.Now()
	now := base
	c := NewClock(base, 10*time.Minute, func() time.Time { return now })

	tests := []struct {
		elapsed time.Duration
		want    WarningTier
	}{
		{elapsed: 0, want: WarningNone},
		{elapsed: 8 * time.Minute, want: WarningNone},
		{elapsed: 9*time.Minute + 1*time.Second, want: WarningLow},
		{elapsed: 9*time.Minute + 31*time.Second, want: WarningCritical},
		{elapsed: 11 * time.Minute, want: WarningCritical},
	}
	for _, tc := range tests {
		now = base.Add(tc.elapsed)
		if got := c.Warning(); got != tc.want {
			t.Fatalf("elapsed %v: tier = %v, want %v", tc.elapsed, got, tc.want)
		}
	}
}
