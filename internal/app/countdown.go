package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// CountdownState is the state of the local countdown.
type CountdownState string

const (
	CountdownIdle    CountdownState = "IDLE"
	CountdownRunning CountdownState = "RUNNING"
	CountdownExpired CountdownState = "EXPIRED"
	// CountdownStopped is terminal: the guard finalized for another reason.
	CountdownStopped CountdownState = "STOPPED"
)

// Countdown is a display-and-trigger clock. It ticks locally and is snapped
// to the store's remaining time on every reconciliation. Reaching zero
// triggers onExpire exactly once.
type Countdown struct {
	session        *Session
	store          AssessmentStore
	clock          clockwork.Clock
	tick           time.Duration
	reconcileEvery time.Duration
	onExpire       func()

	mu        sync.Mutex
	state     CountdownState
	remaining int
	stopCh    chan struct{}
}

type reconcileResult struct {
	remaining int
	err       error
}

func newCountdown(session *Session, store AssessmentStore, clock clockwork.Clock, tick, reconcileEvery time.Duration, onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	return &Countdown{
		session:        session,
		store:          store,
		clock:          clock,
		tick:           tick,
		reconcileEvery: reconcileEvery,
		onExpire:       onExpire,
		state:          CountdownIdle,
		stopCh:         make(chan struct{}),
	}
}

// Start moves IDLE to RUNNING from the given remaining seconds.
func (c *Countdown) Start(ctx context.Context, remaining int) {
	c.mu.Lock()
	if c.state != CountdownIdle {
		c.mu.Unlock()
		return
	}
	c.remaining = max(remaining, 0)
	c.state = CountdownRunning
	expired := c.expireIfZeroLocked()
	c.publishLocked()
	c.mu.Unlock()

	if expired {
		go c.onExpire()
		return
	}
	go c.run(ctx)
}

// Stop halts the countdown before its next tick. It does not wait for the
// loop to exit, so it is safe to call from the expiry callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case CountdownIdle, CountdownRunning:
		c.state = CountdownStopped
		close(c.stopCh)
		c.publishLocked()
	}
}

// State returns the current state and local remaining seconds.
func (c *Countdown) State() (CountdownState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.remaining
}

func (c *Countdown) run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()

	var reconcile <-chan time.Time
	if c.reconcileEvery > 0 {
		rt := c.clock.NewTicker(c.reconcileEvery)
		defer rt.Stop()
		reconcile = rt.Chan()
	}

	results := make(chan reconcileResult, 1)
	fetching := false
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if c.handleTick() {
				c.onExpire()
				return
			}
		case <-reconcile:
			if fetching {
				continue
			}
			fetching = true
			go c.fetchRemaining(ctx, results)
		case r := <-results:
			fetching = false
			if r.err != nil {
				log.Debug().Str("attempt_id", c.session.AttemptID()).Err(r.err).Msg("remaining time reconciliation failed")
				continue
			}
			if c.applyServerRemaining(r.remaining) {
				c.onExpire()
				return
			}
		}
	}
}

func (c *Countdown) fetchRemaining(ctx context.Context, out chan<- reconcileResult) {
	remaining, err := c.store.GetRemainingTime(ctx, c.session.AttemptID())
	out <- reconcileResult{remaining: remaining, err: err}
}

// handleTick decrements the counter and reports whether it just expired.
func (c *Countdown) handleTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CountdownRunning {
		return false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	expired := c.expireIfZeroLocked()
	c.publishLocked()
	return expired
}

// applyServerRemaining snaps the local counter to the authoritative value.
// Results arriving after a stop or expiry are ignored.
func (c *Countdown) applyServerRemaining(remaining int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CountdownRunning {
		return false
	}
	remaining = max(remaining, 0)
	if drift := remaining - c.remaining; drift != 0 {
		log.Debug().
			Str("attempt_id", c.session.AttemptID()).
			Int("local", c.remaining).
			Int("server", remaining).
			Int("drift", drift).
			Msg("countdown snapped to server time")
	}
	c.remaining = remaining
	expired := c.expireIfZeroLocked()
	c.publishLocked()
	return expired
}

func (c *Countdown) expireIfZeroLocked() bool {
	if c.state == CountdownRunning && c.remaining == 0 {
		c.state = CountdownExpired
		return true
	}
	return false
}

func (c *Countdown) publishLocked() {
	c.session.setCountdown(c.state, c.remaining)
}
