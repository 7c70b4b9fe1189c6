// Package timer holds the single phase deadline of a rubata session.
//
// Every arm of the timer carries a generation number. Stopping, pausing,
// restarting or restoring the timer bumps the generation, so an expiry that was
// already in flight when the timer changed is reported with a stale generation
// and the owner can drop it with IsCurrent.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ExpiryFunc is invoked from a timer goroutine when an armed deadline passes.
type ExpiryFunc func(gen uint64)

// State is the runtime state of a Timer.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Timer tracks one deadline at a time.
type Timer struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	onExpire ExpiryFunc

	gen       uint64
	state     State
	expiresAt time.Time
	remaining time.Duration

	ct     clockwork.Timer
	cancel chan struct{}
}

// New creates an idle timer. onExpire may be nil.
func New(clock clockwork.Clock, onExpire ExpiryFunc) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock, onExpire: onExpire}
}

// Start arms a new deadline at now+d, replacing any previous one.
func (t *Timer) Start(d time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarmLocked()
	t.gen++
	t.state = StateRunning
	t.remaining = 0
	t.expiresAt = t.clock.Now().Add(d)
	t.armLocked(d, t.gen)
	return t.expiresAt
}

// Pause cancels the armed expiry and freezes the remaining duration.
// Pausing a timer that is not running returns the frozen value unchanged.
func (t *Timer) Pause() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return t.remaining
	}
	t.disarmLocked()
	t.gen++
	rem := t.expiresAt.Sub(t.clock.Now())
	if rem < 0 {
		rem = 0
	}
	t.remaining = rem
	t.expiresAt = time.Time{}
	t.state = StatePaused
	return rem
}

// Resume re-arms a paused timer at now+remaining. A timer that is not paused
// keeps its current deadline.
func (t *Timer) Resume() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePaused {
		return t.expiresAt
	}
	t.gen++
	t.state = StateRunning
	t.expiresAt = t.clock.Now().Add(t.remaining)
	t.armLocked(t.remaining, t.gen)
	t.remaining = 0
	return t.expiresAt
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarmLocked()
	t.gen++
	t.state = StateIdle
	t.expiresAt = time.Time{}
	t.remaining = 0
}

// Restore rebuilds the runtime state from persisted session fields. A paused
// timer keeps pausedRemaining; a deadline already in the past fires at once.
func (t *Timer) Restore(expiresAt *time.Time, pausedRemaining time.Duration, paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarmLocked()
	t.gen++
	switch {
	case paused:
		t.state = StatePaused
		t.remaining = pausedRemaining
		t.expiresAt = time.Time{}
	case expiresAt != nil:
		t.state = StateRunning
		t.remaining = 0
		t.expiresAt = *expiresAt
		t.armLocked(expiresAt.Sub(t.clock.Now()), t.gen)
	default:
		t.state = StateIdle
		t.remaining = 0
		t.expiresAt = time.Time{}
	}
}

// IsCurrent reports whether gen belongs to the armed deadline.
func (t *Timer) IsCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateRunning && gen == t.gen
}

// ExpiresAt returns the armed deadline, zero when not running.
func (t *Timer) ExpiresAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiresAt
}

// Remaining returns the time left before expiry, or the frozen value when paused.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateRunning:
		rem := t.expiresAt.Sub(t.clock.Now())
		if rem < 0 {
			return 0
		}
		return rem
	case StatePaused:
		return t.remaining
	default:
		return 0
	}
}

// State returns the runtime state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) armLocked(d time.Duration, gen uint64) {
	if d <= 0 {
		go t.fire(gen)
		return
	}

	ct := t.clock.NewTimer(d)
	cancel := make(chan struct{})
	t.ct = ct
	t.cancel = cancel

	go func() {
		select {
		case <-ct.Chan():
			t.fire(gen)
		case <-cancel:
		}
	}()

	log.Debug().
		Uint64("generation", gen).
		Dur("duration", d).
		Msg("armed phase timer")
}

// disarmLocked stops the clock timer before the cancel channel is closed so a
// fake clock no longer counts it as a waiter.
func (t *Timer) disarmLocked() {
	if t.ct != nil {
		stopAndDrainTimer(t.ct)
		t.ct = nil
	}
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
}

func (t *Timer) fire(gen uint64) {
	if t.onExpire != nil {
		t.onExpire(gen)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
