package session

import (
	"sync"
	"time"
)

// WarningTier classifies remaining time for presentation only. It has no
// effect on correctness.
type WarningTier int

const (
	WarningNone WarningTier = iota
	// WarningLow is entered at 60 seconds remaining or less.
	WarningLow
	// WarningCritical is entered at 30 seconds remaining or less.
	WarningCritical
)

func (t WarningTier) String() string {
	switch t {
	case WarningLow:
		return "low"
	case WarningCritical:
		return "critical"
	default:
		return "none"
	}
}

const (
	warningLowThreshold      = 60 * time.Second
	warningCriticalThreshold = 30 * time.Second
)

// Clock tracks the hard deadline of a session. Remaining time is always
// recomputed from the absolute start instant and duration, never by
// decrementing a counter, so a suspended and resumed process self-corrects.
//
// The expiry callback fires at most once, on the first tick at which
// remaining time reaches zero. If the deadline is already in the past when
// Start is called, it fires on the very first tick.
type Clock struct {
	start    time.Time
	duration time.Duration
	now      func() time.Time
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	fireOnce sync.Once
}

// NewClock creates a clock for a session that began at start and runs for
// duration. now is injectable for tests; pass nil for time.Now.
func NewClock(start time.Time, duration time.Duration, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{
		start:    start,
		duration: duration,
		now:      now,
		interval: time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins 1 Hz recomputation and invokes onExpire exactly once when
// remaining time first reaches zero. onExpire is called from the clock's
// goroutine.
func (c *Clock) Start(onExpire func()) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				if c.Remaining() > 0 {
					continue
				}
				c.fireOnce.Do(onExpire)
				return
			}
		}
	}()
}

// Stop halts recomputation. Safe to call more than once; a stopped clock
// never fires onExpire afterwards.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Remaining returns the time left, clamped at zero. Safe to call from any
// goroutine since start and duration are immutable.
func (c *Clock) Remaining() time.Duration {
	r := c.start.Add(c.duration).Sub(c.now())
	if r < 0 {
		return 0
	}
	return r
}

// Warning returns the presentation tier for the current remaining time.
func (c *Clock) Warning() WarningTier {
	r := c.Remaining()
	switch {
	case r <= warningCriticalThreshold:
		return WarningCritical
	case r <= warningLowThreshold:
		return WarningLow
	default:
		return WarningNone
	}
}
