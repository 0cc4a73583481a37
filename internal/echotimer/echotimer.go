// Package echotimer implements the liveness timers for the SSTP and PPP
// layers. A timer is ticked on every received frame of its layer and checked
// from the demultiplexer loop; when a silence exceeds the interval an echo
// request is emitted, and a silence past the reply deadline is reported as
// dead.
package echotimer

import "time"

// Interval is the echo interval used for both layers.
const Interval = 20 * time.Second

// Timer tracks liveness for one layer. It is used from a single task, so it
// needs no locking: the demultiplexer both ticks and checks it.
type Timer struct {
	interval      time.Duration
	echoFn        func() error
	lastTicked    time.Time
	deadline      time.Time
	awaitingReply bool

	// timeNow is replaceable for testing.
	timeNow func() time.Time
}

// New creates a [Timer] that emits an echo via echoFn after interval of
// silence. The timer starts as just ticked.
func New(interval time.Duration, echoFn func() error) *Timer {
	t := &Timer{
		interval: interval,
		echoFn:   echoFn,
		timeNow:  time.Now,
	}
	t.lastTicked = t.timeNow()
	return t
}

// Tick records layer activity and clears any pending reply wait.
func (t *Timer) Tick() {
	t.lastTicked = t.timeNow()
	t.awaitingReply = false
}

// CheckAlive returns false when the layer missed the echo deadline. When the
// silence exceeds the interval and no echo is in flight, it emits one and
// arms the deadline; an echo emission failure also counts as dead.
func (t *Timer) CheckAlive() bool {
	now := t.timeNow()
	if now.Sub(t.lastTicked) <= t.interval {
		return true
	}
	if t.awaitingReply {
		return !now.After(t.deadline)
	}
	if err := t.echoFn(); err != nil {
		return false
	}
	t.awaitingReply = true
	t.deadline = now.Add(t.interval)
	return true
}
