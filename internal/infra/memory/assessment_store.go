package memory

import (
	"context"
	"sync"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// AssessmentStore is an in-process implementation of app.AssessmentStore.
// It enforces one IN_PROGRESS attempt per (quiz, caller) and makes submit
// idempotent per attempt.
type AssessmentStore struct {
	quizzes app.QuizRepository
	clock   clockwork.Clock

	mu         sync.RWMutex
	attempts   map[string]*storedAttempt
	inProgress map[string]string // quizID:callerID -> attemptID
}

type storedAttempt struct {
	attempt domain.Attempt
	result  *domain.SubmissionResult
}

func NewAssessmentStore(quizzes app.QuizRepository) *AssessmentStore {
	return NewAssessmentStoreWithClock(quizzes, clockwork.NewRealClock())
}

// NewAssessmentStoreWithClock allows deterministic remaining time in tests.
func NewAssessmentStoreWithClock(quizzes app.QuizRepository, clock clockwork.Clock) *AssessmentStore {
	return &AssessmentStore{
		quizzes:    quizzes,
		clock:      clock,
		attempts:   make(map[string]*storedAttempt),
		inProgress: make(map[string]string),
	}
}

func (s *AssessmentStore) FindInProgressAttempt(_ context.Context, quizID, callerID string) (domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.inProgress[app.SessionKey(quizID, callerID)]
	if !ok {
		return domain.Attempt{}, false, nil
	}
	stored := s.attempts[id]
	return s.viewLocked(stored), true, nil
}

func (s *AssessmentStore) CreateAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := app.SessionKey(quizID, callerID)
	if id, ok := s.inProgress[key]; ok {
		return s.viewLocked(s.attempts[id]), nil
	}
	attempt := domain.Attempt{
		ID:              uuid.NewString(),
		QuizID:          quizID,
		CallerID:        callerID,
		Status:          domain.AttemptInProgress,
		Answers:         domain.Answers{},
		StartedAt:       s.clock.Now().UTC(),
		DurationSeconds: quiz.DurationSeconds,
	}
	s.attempts[attempt.ID] = &storedAttempt{attempt: attempt}
	s.inProgress[key] = attempt.ID
	return s.viewLocked(s.attempts[attempt.ID]), nil
}

func (s *AssessmentStore) SaveAnswer(_ context.Context, attemptID, questionID string, selected []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if stored.attempt.Status == domain.AttemptSubmitted {
		return domain.ErrAttemptSubmitted
	}
	normalized := domain.NormalizeSelection(selected)
	if len(normalized) == 0 {
		delete(stored.attempt.Answers, questionID)
		return nil
	}
	stored.attempt.Answers[questionID] = normalized
	return nil
}

func (s *AssessmentStore) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmissionResult, error) {
	s.mu.RLock()
	stored, ok := s.attempts[attemptID]
	var quizID string
	if ok {
		quizID = stored.attempt.QuizID
	}
	s.mu.RUnlock()
	if !ok {
		return domain.SubmissionResult{}, domain.ErrAttemptNotFound
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stored.result != nil {
		return *stored.result, nil
	}
	final := make(domain.Answers, len(answers))
	for questionID, selected := range answers {
		if normalized := domain.NormalizeSelection(selected); len(normalized) > 0 {
			final[questionID] = normalized
		}
	}
	result := domain.Grade(quiz, attemptID, final, s.clock.Now().UTC())
	stored.result = &result
	stored.attempt.Answers = final
	stored.attempt.Status = domain.AttemptSubmitted
	delete(s.inProgress, app.SessionKey(stored.attempt.QuizID, stored.attempt.CallerID))
	return result, nil
}

func (s *AssessmentStore) GetRemainingTime(_ context.Context, attemptID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.attempts[attemptID]
	if !ok {
		return 0, domain.ErrAttemptNotFound
	}
	return s.remainingLocked(stored.attempt), nil
}

// Attempt returns the stored attempt, for inspection in tests and tooling.
func (s *AssessmentStore) Attempt(attemptID string) (domain.Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, false
	}
	return s.viewLocked(stored), true
}

func (s *AssessmentStore) viewLocked(stored *storedAttempt) domain.Attempt {
	attempt := stored.attempt.Clone()
	attempt.RemainingSeconds = s.remainingLocked(stored.attempt)
	return attempt
}

func (s *AssessmentStore) remainingLocked(attempt domain.Attempt) int {
	if attempt.Status == domain.AttemptSubmitted {
		return 0
	}
	return domain.RemainingSeconds(attempt.StartedAt, attempt.DurationSeconds, s.clock.Now())
}
