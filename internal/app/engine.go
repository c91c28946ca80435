package app

import (
	"context"
	"fmt"
	"time"

	"attempt-engine/internal/domain"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	TickInterval      time.Duration
	ReconcileInterval time.Duration
	AutosaveDebounce  time.Duration
	// AutosaveMaxFailures flags the session as degraded after this many
	// consecutive failures for one question. Zero disables the flag.
	AutosaveMaxFailures int
	PassThreshold       float64
	Clock               clockwork.Clock
}

// DefaultOptions are the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		TickInterval:        time.Second,
		ReconcileInterval:   15 * time.Second,
		AutosaveMaxFailures: 3,
		PassThreshold:       0.6,
	}
}

// Engine runs timed attempts. One implementation serves every quiz; quiz data
// drives question types and duration.
type Engine struct {
	resolver *Resolver
	store    AssessmentStore
	sessions SessionRepository
	opts     Options
	sf       singleflight.Group
}

func NewEngine(store AssessmentStore, quizzes QuizRepository, sessions SessionRepository, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		resolver: NewResolver(store, quizzes),
		store:    store,
		sessions: sessions,
		opts:     opts,
	}
}

// Start enters a quiz for a caller: it attaches to the live session if one
// exists, otherwise resolves the attempt, rehydrates answers and starts the
// countdown. Every successful Start must be paired with Session.Release.
func (e *Engine) Start(ctx context.Context, quizID, callerID string) (*Session, error) {
	key := SessionKey(quizID, callerID)
	if session, ok := e.sessions.Get(key); ok && session.live() && session.acquire() {
		return session, nil
	}

	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		if session, ok := e.sessions.Get(key); ok && session.live() {
			return session, nil
		}
		res, err := e.resolver.Resolve(ctx, quizID, callerID)
		if err != nil {
			return nil, err
		}
		session := e.assemble(key, res)
		e.sessions.Put(key, session)
		// Answers are in place before the first tick.
		session.countdown.Start(session.ctx, res.Attempt.RemainingSeconds)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	session := v.(*Session)
	if !session.acquire() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionClosed, key)
	}
	return session, nil
}

func (e *Engine) assemble(key string, res Resolution) *Session {
	session := newSession(key, res, e.opts.Clock, e.opts.PassThreshold)
	session.onClose = func(s *Session) { e.sessions.Delete(key, s) }

	session.autosave = newAutosaver(session, e.store, e.opts.Clock, e.opts.AutosaveDebounce, e.opts.AutosaveMaxFailures)
	session.countdown = newCountdown(session, e.store, e.opts.Clock, e.opts.TickInterval, e.opts.ReconcileInterval, func() {
		_, _ = session.guard.Finalize(session.ctx, CauseTimeout)
	})
	session.guard = newSubmissionGuard(session, e.store, session.countdown, session.autosave)
	return session
}
