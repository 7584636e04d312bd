package session

import "time"

// IdleTimer signals once no activity has been recorded for its interval.
// Touch only moves a deadline forward; the single underlying timer re-checks
// that deadline when it wakes, so bursts of activity never stack timers.
//
// An IdleTimer is confined to one goroutine, which selects on C and calls
// Fired after every receive.
type IdleTimer struct {
	interval time.Duration
	timer    *time.Timer
	deadline time.Time
	armed    bool
}

func NewIdleTimer(interval time.Duration) *IdleTimer {
	t := time.NewTimer(interval)
	t.Stop()
	return &IdleTimer{
		interval: interval,
		timer:    t,
	}
}

func (t *IdleTimer) C() <-chan time.Time {
	return t.timer.C
}

// Touch records activity now.
func (t *IdleTimer) Touch() {
	t.deadline = time.Now().Add(t.interval)
	if !t.armed {
		t.timer.Reset(t.interval)
		t.armed = true
	}
}

// Fired consumes one wake-up and reports whether the idle deadline has
// actually passed. When it has not, the timer is re-armed for the remainder.
func (t *IdleTimer) Fired() bool {
	t.armed = false
	if t.deadline.IsZero() {
		return false
	}
	if remaining := time.Until(t.deadline); remaining > 0 {
		t.timer.Reset(remaining)
		t.armed = true
		return false
	}
	t.deadline = time.Time{}
	return true
}

// Stop disarms the timer and forgets the deadline.
func (t *IdleTimer) Stop() {
	t.timer.Stop()
	t.armed = false
	t.deadline = time.Time{}
}

func (t *IdleTimer) Armed() bool {
	return t.armed
}
