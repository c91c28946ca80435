package app

import (
	"context"

	"attempt-engine/internal/domain"
)

// AssessmentStore is the remote assessment service the engine talks to.
// Implementations live in infra (memory, Redis) and transport (HTTP client).
type AssessmentStore interface {
	// FindInProgressAttempt returns the caller's IN_PROGRESS attempt, if any.
	FindInProgressAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, bool, error)
	// CreateAttempt starts a new attempt. If one is already in progress for the
	// pair it is returned instead.
	CreateAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, error)
	// SaveAnswer stores the full selection for one question. Repeatable.
	SaveAnswer(ctx context.Context, attemptID, questionID string, selected []string) error
	// SubmitAttempt finalizes the attempt with the full answer set. Idempotent per attempt.
	SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmissionResult, error)
	// GetRemainingTime reports the authoritative remaining seconds.
	GetRemainingTime(ctx context.Context, attemptID string) (int, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionRepository holds the live sessions of this process, keyed by SessionKey.
type SessionRepository interface {
	Get(key string) (*Session, bool)
	Put(key string, session *Session)
	// Delete removes the entry only if it still points at session.
	Delete(key string, session *Session)
}

// SessionKey identifies the live session for a caller taking a quiz.
func SessionKey(quizID, callerID string) string {
	return quizID + ":" + callerID
}
