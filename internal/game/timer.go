package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PhaseTimer is a session's single countdown. It is anchored to the server
// clock at Start and fires onExpire exactly once unless cancelled first;
// onTick fires every second with the remaining time for countdown broadcasts.
//
// Callbacks run on the timer's own goroutine. Callers that mutate session
// state must post back into the session loop and guard against stale fires
// with a generation check, since Cancel does not wait for an in-flight
// callback to return.
type PhaseTimer struct {
	clock clockwork.Clock

	mu   sync.Mutex
	stop chan struct{}
}

func NewPhaseTimer(clock clockwork.Clock) *PhaseTimer {
	return &PhaseTimer{clock: clock}
}

// Start begins a countdown of d, cancelling any previous one.
func (t *PhaseTimer) Start(d time.Duration, onTick func(remaining time.Duration), onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	stop := make(chan struct{})
	t.stop = stop

	go t.run(d, stop, onTick, onExpire)
}

func (t *PhaseTimer) run(d time.Duration, stop chan struct{}, onTick func(time.Duration), onExpire func()) {
	deadline := t.clock.Now().Add(d)

	timer := t.clock.NewTimer(d)
	defer timer.Stop()

	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-timer.Chan():
			// A cancel that raced the fire wins: never expire a countdown
			// that was already stopped.
			select {
			case <-stop:
				return
			default:
			}
			onExpire()
			return

		case <-ticker.Chan():
			remaining := deadline.Sub(t.clock.Now())
			if remaining <= 0 {
				// The expiry case owns ending the countdown.
				continue
			}
			if onTick != nil {
				onTick(remaining)
			}
		}
	}
}

// Cancel stops the countdown. Safe to call when no countdown is running,
// and mandatory on session teardown so no expiry fires into a dead session.
func (t *PhaseTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

func (t *PhaseTimer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
