package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"attempt-engine/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Phase is the engine-side status rendered by the UI.
type Phase string

const (
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseSubmitted  Phase = "SUBMITTED"
	// PhaseError means the last submit failed; the attempt is still in
	// progress and answers remain editable.
	PhaseError Phase = "ERROR"
)

func (p Phase) editable() bool {
	return p == PhaseInProgress || p == PhaseError
}

// Snapshot is an immutable view of a session for rendering.
type Snapshot struct {
	Attempt          domain.Attempt `json:"attempt"`
	Phase            Phase          `json:"phase"`
	Resumed          bool           `json:"resumed"`
	Countdown        CountdownState `json:"countdown"`
	Unsaved          []string       `json:"unsaved,omitempty"`
	AutosaveDegraded bool           `json:"autosaveDegraded,omitempty"`
	Notice           string         `json:"notice,omitempty"`
	Error            string         `json:"error,omitempty"`
	Result           *ResultView    `json:"result,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Session owns the local view of one attempt and the components working on it.
// It is created at entry and destroyed on release (navigation away).
type Session struct {
	key           string
	quiz          domain.Quiz
	clock         clockwork.Clock
	passThreshold float64
	onClose       func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	autosave  *Autosaver
	countdown *Countdown
	guard     *SubmissionGuard

	// mu is always the innermost lock: components may call into the session
	// while holding their own locks, never the other way around.
	mu             sync.RWMutex
	attempt        domain.Attempt
	phase          Phase
	resumed        bool
	countdownState CountdownState
	unsaved        map[string]struct{}
	degraded       bool
	notice         string
	lastErr        string
	result         *domain.SubmissionResult
	view           *ResultView
	refs           int
	closed         bool
	subscribers    map[chan Snapshot]struct{}
}

func newSession(key string, res Resolution, clock clockwork.Clock, passThreshold float64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	attempt := res.Attempt.Clone()
	if attempt.Answers == nil {
		attempt.Answers = domain.Answers{}
	}
	return &Session{
		key:            key,
		quiz:           res.Quiz,
		clock:          clock,
		passThreshold:  passThreshold,
		ctx:            ctx,
		cancel:         cancel,
		attempt:        attempt,
		phase:          PhaseInProgress,
		resumed:        res.Resumed,
		countdownState: CountdownIdle,
		unsaved:        make(map[string]struct{}),
		subscribers:    make(map[chan Snapshot]struct{}),
	}
}

// Key returns the registry key of this session.
func (s *Session) Key() string { return s.key }

// Quiz returns the reference data the attempt runs against.
func (s *Session) Quiz() domain.Quiz { return s.quiz }

// AttemptID returns the attempt identity adopted by the Resolver.
func (s *Session) AttemptID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt.ID
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives snapshots. The latest snapshot is
// delivered immediately. The caller must invoke cancel to avoid leaks.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// ChangeAnswer replaces the selection for a question (onAnswerChange).
func (s *Session) ChangeAnswer(questionID string, selected []string) error {
	return s.autosave.Change(questionID, func([]string) []string { return selected })
}

// SelectOption applies a click on an option: SINGLE questions replace the
// selection, MULTIPLE questions toggle membership.
func (s *Session) SelectOption(questionID, optionID string) error {
	question, ok := s.quiz.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	return s.autosave.Change(questionID, func(current []string) []string {
		if question.Type != domain.QuestionMultiple {
			return []string{optionID}
		}
		next := make([]string, 0, len(current)+1)
		found := false
		for _, id := range current {
			if id == optionID {
				found = true
				continue
			}
			next = append(next, id)
		}
		if !found {
			next = append(next, optionID)
		}
		return next
	})
}

// SaveProgress retries persistence of every question not yet confirmed saved.
func (s *Session) SaveProgress() {
	s.autosave.Flush()
}

// Submit finalizes the attempt on user request (onSubmitRequested).
func (s *Session) Submit(ctx context.Context) (ResultView, error) {
	if _, err := s.guard.Finalize(ctx, CauseUser); err != nil {
		return ResultView{}, err
	}
	view, _ := s.Result()
	return view, nil
}

// Result returns the presented result once the attempt is submitted.
func (s *Session) Result() (ResultView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return ResultView{}, false
	}
	return *s.view, true
}

// Release detaches one holder. The last release stops the countdown and
// autosave and removes the session from its registry; it never submits.
func (s *Session) Release() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.countdown.Stop()
	s.autosave.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.refs++
	return true
}

// live reports whether a new holder should attach to this session rather
// than resolving a fresh attempt.
func (s *Session) live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.phase != PhaseSubmitted
}

// updateAnswer is the only writer of attempt answers, driven by the Autosaver.
func (s *Session) updateAnswer(questionID string, next func(current []string) []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if !s.phase.editable() {
		return nil, domain.ErrNotEditable
	}
	current := append([]string(nil), s.attempt.Answers[questionID]...)
	selected, err := s.quiz.ValidateSelection(questionID, next(current))
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		delete(s.attempt.Answers, questionID)
	} else {
		s.attempt.Answers[questionID] = selected
	}
	s.unsaved[questionID] = struct{}{}
	s.broadcastLocked()
	return selected, nil
}

// answerForSave returns the current selection, or ok=false once the attempt
// may no longer be written (stale-write guard).
func (s *Session) answerForSave(questionID string) (string, []string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.phase.editable() {
		return "", nil, false
	}
	return s.attempt.ID, append([]string{}, s.attempt.Answers[questionID]...), true
}

func (s *Session) markSaved(questionID string, saved []string, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain.SameSelection(domain.NormalizeSelection(s.attempt.Answers[questionID]), saved) {
		delete(s.unsaved, questionID)
	}
	s.degraded = degraded
	if len(s.unsaved) == 0 {
		s.notice = ""
	}
	s.broadcastLocked()
}

func (s *Session) markSaveFailed(notice string, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = notice
	s.degraded = degraded
	s.broadcastLocked()
}

func (s *Session) unsavedQuestions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.unsaved))
	for id := range s.unsaved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// setCountdown is the only writer of remaining time, driven by the Countdown.
func (s *Session) setCountdown(state CountdownState, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt.Status == domain.AttemptSubmitted {
		return
	}
	s.countdownState = state
	if remaining >= 0 {
		s.attempt.RemainingSeconds = remaining
	}
	s.broadcastLocked()
}

// beginSubmit performs the check-and-set that makes finalize single-shot. It
// returns the stored result when the attempt is already submitted.
func (s *Session) beginSubmit() (string, domain.Answers, *domain.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		res := *s.result
		return "", nil, &res, nil
	}
	if s.closed {
		return "", nil, nil, domain.ErrSessionClosed
	}
	if !s.phase.editable() {
		return "", nil, nil, domain.ErrNotEditable
	}
	s.phase = PhaseSubmitting
	s.lastErr = ""
	s.broadcastLocked()
	return s.attempt.ID, s.attempt.Answers.Clone(), nil, nil
}

func (s *Session) failSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseError
	s.lastErr = err.Error()
	s.broadcastLocked()
}

func (s *Session) completeSubmit(res domain.SubmissionResult) {
	view := Present(res, s.quiz, s.passThreshold)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &res
	s.view = &view
	s.phase = PhaseSubmitted
	s.attempt.Status = domain.AttemptSubmitted
	s.unsaved = make(map[string]struct{})
	s.notice = ""
	s.lastErr = ""
	s.broadcastLocked()
}

func (s *Session) submittedResult() (domain.SubmissionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return domain.SubmissionResult{}, false
	}
	return *s.result, true
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest snapshot so slow renderers never block writers.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	unsaved := make([]string, 0, len(s.unsaved))
	for id := range s.unsaved {
		unsaved = append(unsaved, id)
	}
	sort.Strings(unsaved)

	snap := Snapshot{
		Attempt:          s.attempt.Clone(),
		Phase:            s.phase,
		Resumed:          s.resumed,
		Countdown:        s.countdownState,
		Unsaved:          unsaved,
		AutosaveDegraded: s.degraded,
		Notice:           s.notice,
		Error:            s.lastErr,
		UpdatedAt:        s.clock.Now(),
	}
	if s.view != nil {
		view := *s.view
		snap.Result = &view
	}
	return snap
}
