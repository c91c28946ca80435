package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"attempt-engine/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

// fakeStore wraps the memory store with failure injection and gates that
// hold calls open until the test releases them.
type fakeStore struct {
	*memory.AssessmentStore

	mu            sync.Mutex
	saves         []saveCall
	failSave      map[string]bool
	holdSave      chan struct{}
	saveStarted   chan string
	failSubmits   int
	holdSubmit    chan struct{}
	submitStarted chan struct{}
	submits       int
	submitted     domain.Answers
}

type saveCall struct {
	questionID string
	selected   []string
}

func (s *fakeStore) SaveAnswer(ctx context.Context, attemptID, questionID string, selected []string) error {
	s.mu.Lock()
	s.saves = append(s.saves, saveCall{questionID: questionID, selected: append([]string(nil), selected...)})
	fail := s.failSave[questionID]
	hold := s.holdSave
	s.mu.Unlock()

	if hold != nil {
		select {
		case s.saveStarted <- questionID:
		default:
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("network down")
	}
	return s.AssessmentStore.SaveAnswer(ctx, attemptID, questionID, selected)
}

func (s *fakeStore) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmissionResult, error) {
	s.mu.Lock()
	s.submits++
	s.submitted = answers.Clone()
	fail := s.failSubmits > 0
	if fail {
		s.failSubmits--
	}
	hold := s.holdSubmit
	s.mu.Unlock()

	if hold != nil {
		select {
		case s.submitStarted <- struct{}{}:
		default:
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return domain.SubmissionResult{}, ctx.Err()
		}
	}
	if fail {
		return domain.SubmissionResult{}, errors.New("store unavailable")
	}
	return s.AssessmentStore.SubmitAttempt(ctx, attemptID, answers)
}

func (s *fakeStore) savesFor(questionID string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for _, call := range s.saves {
		if call.questionID == questionID {
			out = append(out, call.selected)
		}
	}
	return out
}

func (s *fakeStore) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

type harness struct {
	engine   *app.Engine
	store    *fakeStore
	sessions *memory.SessionStore
	clock    clockwork.Clock
}

func newHarness(t *testing.T, clock clockwork.Clock, tune func(*app.Options)) *harness {
	t.Helper()
	quizzes := memory.NewQuizRepositoryWithClock(memory.NewStaticQuizLoader(testQuizzes()), time.Hour, clock)
	store := &fakeStore{
		AssessmentStore: memory.NewAssessmentStoreWithClock(quizzes, clock),
		failSave:        map[string]bool{},
		saveStarted:     make(chan string, 8),
		submitStarted:   make(chan struct{}, 8),
	}
	sessions := memory.NewSessionStore()

	opts := app.DefaultOptions()
	opts.AutosaveDebounce = 0
	opts.Clock = clock
	if tune != nil {
		tune(&opts)
	}
	return &harness{
		engine:   app.NewEngine(store, quizzes, sessions, opts),
		store:    store,
		sessions: sessions,
		clock:    clock,
	}
}

func (h *harness) start(t *testing.T, quizID, callerID string) *app.Session {
	t.Helper()
	session, err := h.engine.Start(context.Background(), quizID, callerID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return session
}

// waitSnapshot polls until cond holds for the session snapshot.
func waitSnapshot(t *testing.T, session *app.Session, what string, cond func(app.Snapshot) bool) app.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := session.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func allSaved(snap app.Snapshot) bool { return len(snap.Unsaved) == 0 }

func testQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Basics",
			DurationSeconds: 600,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Type:   domain.QuestionSingle,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
					},
				},
				{
					ID:     "q2",
					Prompt: "Which are even?",
					Type:   domain.QuestionMultiple,
					Options: []domain.Option{
						{ID: "a", Text: "2", Correct: true},
						{ID: "b", Text: "3"},
						{ID: "c", Text: "4", Correct: true},
					},
					Points: 2,
				},
				{
					ID:     "q3",
					Prompt: "Is Go garbage collected?",
					Type:   domain.QuestionSingle,
					Options: []domain.Option{
						{ID: "x", Text: "No"},
						{ID: "y", Text: "Yes", Correct: true},
					},
				},
			},
		},
		"sprint": {
			ID:              "sprint",
			Title:           "One second",
			DurationSeconds: 1,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "Quick!",
					Type:   domain.QuestionSingle,
					Options: []domain.Option{
						{ID: "o1", Text: "Now", Correct: true},
						{ID: "o2", Text: "Later"},
					},
				},
			},
		},
	}
}
