package app

import (
	"context"
	"fmt"

	"attempt-engine/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Cause records what triggered a finalize.
type Cause string

const (
	CauseUser    Cause = "USER"
	CauseTimeout Cause = "TIMEOUT"
)

// SubmissionGuard is the single-flight, idempotent finalizer of an attempt.
type SubmissionGuard struct {
	session   *Session
	store     AssessmentStore
	countdown *Countdown
	autosave  *Autosaver
	sf        singleflight.Group
}

func newSubmissionGuard(session *Session, store AssessmentStore, countdown *Countdown, autosave *Autosaver) *SubmissionGuard {
	return &SubmissionGuard{
		session:   session,
		store:     store,
		countdown: countdown,
		autosave:  autosave,
	}
}

// Finalize submits the attempt once. Concurrent calls share the in-flight
// submit; calls after success return the stored result. After a failure the
// attempt stays in progress and a later call retries.
//
// The submit runs on a context detached from both ctx and session close, so
// neither a caller giving up nor the last Release aborts it; ctx only bounds
// the wait. The store is expected to bound its own calls.
func (g *SubmissionGuard) Finalize(ctx context.Context, cause Cause) (domain.SubmissionResult, error) {
	if res, ok := g.session.submittedResult(); ok {
		return res, nil
	}

	ch := g.sf.DoChan("finalize", func() (interface{}, error) {
		return g.finalize(cause)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return domain.SubmissionResult{}, r.Err
		}
		if r.Shared {
			log.Debug().Str("attempt_id", g.session.AttemptID()).Str("cause", string(cause)).Msg("finalize joined in-flight submit")
		}
		return r.Val.(domain.SubmissionResult), nil
	case <-ctx.Done():
		return domain.SubmissionResult{}, ctx.Err()
	}
}

func (g *SubmissionGuard) finalize(cause Cause) (domain.SubmissionResult, error) {
	// Re-check under the session lock in case another flight finished between
	// the caller's pre-check and this one starting.
	attemptID, answers, done, err := g.session.beginSubmit()
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if done != nil {
		return *done, nil
	}

	g.countdown.Stop()
	g.autosave.Supersede()

	logger := log.With().Str("attempt_id", attemptID).Str("cause", string(cause)).Logger()
	logger.Info().Int("answers", len(answers)).Msg("submitting attempt")

	res, err := g.store.SubmitAttempt(context.WithoutCancel(g.session.ctx), attemptID, answers)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", domain.ErrSubmitFailed, err)
		g.session.failSubmit(wrapped)
		g.autosave.Flush()
		logger.Error().Err(err).Msg("submit failed, attempt remains in progress")
		return domain.SubmissionResult{}, wrapped
	}

	g.session.completeSubmit(res)
	logger.Info().Int("score", res.Score).Int("max_score", res.MaxScore).Msg("attempt submitted")
	return res, nil
}
