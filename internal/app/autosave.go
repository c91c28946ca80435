package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attempt-engine/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Autosaver turns answer changes into per-question, last-write-wins
// persistence calls. Each question has at most one call in flight; changes
// that land during a round trip are sent afterwards as the full current
// selection. Questions are independent of each other.
type Autosaver struct {
	session     *Session
	store       AssessmentStore
	clock       clockwork.Clock
	debounce    time.Duration
	maxFailures int

	mu     sync.Mutex
	slots  map[string]*saveSlot
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

type saveSlot struct {
	running  bool
	pending  bool
	failures int
}

func newAutosaver(session *Session, store AssessmentStore, clock clockwork.Clock, debounce time.Duration, maxFailures int) *Autosaver {
	ctx, cancel := context.WithCancel(session.ctx)
	return &Autosaver{
		session:     session,
		store:       store,
		clock:       clock,
		debounce:    debounce,
		maxFailures: maxFailures,
		slots:       make(map[string]*saveSlot),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Change updates the local answer synchronously, then schedules persistence.
func (a *Autosaver) Change(questionID string, next func(current []string) []string) error {
	if _, err := a.session.updateAnswer(questionID, next); err != nil {
		return err
	}
	a.enqueue(questionID)
	return nil
}

// Flush re-enqueues every question whose latest selection is not confirmed.
func (a *Autosaver) Flush() {
	for _, questionID := range a.session.unsavedQuestions() {
		a.enqueue(questionID)
	}
}

// Supersede cancels in-flight saves. Called when a submit takes over the
// full answer set; later saves get a fresh context.
func (a *Autosaver) Supersede() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.cancel()
	a.ctx, a.cancel = context.WithCancel(a.session.ctx)
}

// Close cancels outstanding saves and waits for their workers to exit.
func (a *Autosaver) Close() {
	a.mu.Lock()
	a.closed = true
	a.cancel()
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Autosaver) enqueue(questionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	slot, ok := a.slots[questionID]
	if !ok {
		slot = &saveSlot{}
		a.slots[questionID] = slot
	}
	slot.pending = true
	if slot.running {
		return
	}
	slot.running = true
	a.wg.Add(1)
	go a.run(questionID, slot)
}

func (a *Autosaver) run(questionID string, slot *saveSlot) {
	defer a.wg.Done()
	for {
		ctx := a.currentContext()
		if a.debounce > 0 {
			select {
			case <-a.clock.After(a.debounce):
			case <-ctx.Done():
			}
		}

		a.mu.Lock()
		slot.pending = false
		a.mu.Unlock()

		if ctx.Err() == nil {
			a.saveOnce(ctx, questionID, slot)
		}

		a.mu.Lock()
		if !slot.pending || a.closed {
			slot.running = false
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()
	}
}

func (a *Autosaver) saveOnce(ctx context.Context, questionID string, slot *saveSlot) {
	attemptID, selected, ok := a.session.answerForSave(questionID)
	if !ok {
		return
	}
	err := a.store.SaveAnswer(ctx, attemptID, questionID, selected)
	switch {
	case err == nil:
		a.mu.Lock()
		slot.failures = 0
		degraded := a.degradedLocked()
		a.mu.Unlock()
		a.session.markSaved(questionID, selected, degraded)
	case ctx.Err() != nil || errors.Is(err, domain.ErrAttemptSubmitted):
		// Superseded by a submit or session close; the submit carries this answer.
		log.Debug().Str("attempt_id", attemptID).Str("question_id", questionID).Err(err).Msg("autosave superseded")
	default:
		a.mu.Lock()
		slot.failures++
		failures := slot.failures
		degraded := a.degradedLocked()
		a.mu.Unlock()
		log.Warn().
			Str("attempt_id", attemptID).
			Str("question_id", questionID).
			Int("consecutive_failures", failures).
			Err(err).
			Msg("autosave failed")
		a.session.markSaveFailed(fmt.Sprintf("progress for question %s not saved yet", questionID), degraded)
	}
}

func (a *Autosaver) currentContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// degradedLocked reports whether some question has failed maxFailures times in a row.
func (a *Autosaver) degradedLocked() bool {
	if a.maxFailures <= 0 {
		return false
	}
	for _, slot := range a.slots {
		if slot.failures >= a.maxFailures {
			return true
		}
	}
	return false
}
