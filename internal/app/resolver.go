package app

import (
	"context"
	"fmt"

	"attempt-engine/internal/domain"
	"github.com/rs/zerolog/log"
)

// Resolution is what the Resolver decided at entry.
type Resolution struct {
	Attempt domain.Attempt
	Quiz    domain.Quiz
	Resumed bool
}

// Resolver decides whether to resume the caller's in-progress attempt or to
// create a new one.
type Resolver struct {
	store   AssessmentStore
	quizzes QuizRepository
}

func NewResolver(store AssessmentStore, quizzes QuizRepository) *Resolver {
	return &Resolver{store: store, quizzes: quizzes}
}

// Resolve determines attempt identity. Any failure is fatal for entry and
// wrapped in domain.ErrStartFailed; callers may retry.
func (r *Resolver) Resolve(ctx context.Context, quizID, callerID string) (Resolution, error) {
	quiz, err := r.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: load quiz: %w", domain.ErrStartFailed, err)
	}

	existing, found, err := r.store.FindInProgressAttempt(ctx, quizID, callerID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: find attempt: %w", domain.ErrStartFailed, err)
	}
	if found {
		attempt := existing.Clone()
		if attempt.Answers == nil {
			attempt.Answers = domain.Answers{}
		}
		log.Info().
			Str("attempt_id", attempt.ID).
			Str("quiz_id", quizID).
			Str("caller_id", callerID).
			Int("remaining_seconds", attempt.RemainingSeconds).
			Int("answers", len(attempt.Answers)).
			Msg("resuming attempt")
		return Resolution{Attempt: attempt, Quiz: quiz, Resumed: true}, nil
	}

	created, err := r.store.CreateAttempt(ctx, quizID, callerID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: create attempt: %w", domain.ErrStartFailed, err)
	}
	attempt := created.Clone()
	if attempt.DurationSeconds == 0 {
		attempt.DurationSeconds = quiz.DurationSeconds
	}
	attempt.RemainingSeconds = attempt.DurationSeconds
	attempt.Status = domain.AttemptInProgress
	if attempt.Answers == nil {
		attempt.Answers = domain.Answers{}
	}
	log.Info().
		Str("attempt_id", attempt.ID).
		Str("quiz_id", quizID).
		Str("caller_id", callerID).
		Int("duration_seconds", attempt.DurationSeconds).
		Msg("created attempt")
	return Resolution{Attempt: attempt, Quiz: quiz}, nil
}
