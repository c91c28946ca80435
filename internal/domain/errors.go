package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates an answer references an unknown question ID.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates an answer references an unknown option ID.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidSelection is returned when a SINGLE question receives more than one option.
	ErrInvalidSelection = errors.New("single-choice question accepts at most one option")

	// ErrAttemptNotFound is returned when an attempt ID is unknown to the store.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptSubmitted is returned by stores when a write targets a finalized attempt.
	ErrAttemptSubmitted = errors.New("attempt already submitted")

	// ErrStartFailed wraps any failure that prevents an attempt from being entered.
	ErrStartFailed = errors.New("could not start attempt")
	// ErrSubmitFailed wraps a failed submit call; the attempt is still in progress.
	ErrSubmitFailed = errors.New("not submitted, please retry")
	// ErrNotEditable is returned for answer changes while submitting or after submission.
	ErrNotEditable = errors.New("attempt is not editable")
	// ErrSessionClosed is returned when a released session is used.
	ErrSessionClosed = errors.New("attempt session closed")
)
