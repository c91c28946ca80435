package domain

import (
	"sort"
	"time"
)

// AttemptStatus is the store-side lifecycle of an attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
)

// QuestionType controls how selecting an option changes the selection.
type QuestionType string

const (
	// QuestionSingle replaces the selection with the chosen option.
	QuestionSingle QuestionType = "SINGLE"
	// QuestionMultiple toggles the chosen option in the selection.
	QuestionMultiple QuestionType = "MULTIPLE"
)

// Answers maps a question ID to its selected option IDs.
type Answers map[string][]string

// Clone returns a deep copy safe to hand to another goroutine.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for questionID, selected := range a {
		out[questionID] = append([]string(nil), selected...)
	}
	return out
}

// Attempt is one caller's timed session against one quiz.
type Attempt struct {
	ID               string        `json:"id"`
	QuizID           string        `json:"quizId"`
	CallerID         string        `json:"callerId"`
	Status           AttemptStatus `json:"status"`
	Answers          Answers       `json:"answers"`
	RemainingSeconds int           `json:"remainingSeconds"`
	StartedAt        time.Time     `json:"startedAt"`
	DurationSeconds  int           `json:"durationSeconds"`
}

// Clone returns a copy that shares no mutable state with a.
func (a Attempt) Clone() Attempt {
	a.Answers = a.Answers.Clone()
	return a
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question is immutable reference data fetched once per attempt.
type Question struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Type    QuestionType `json:"type"`
	Options []Option     `json:"options"`
	Points  int          `json:"points"` // defaults to 1 if zero
}

// Option looks up an option by ID.
func (q Question) Option(id string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// Weight is the number of points a correct answer earns.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Quiz is a timed collection of questions.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"durationSeconds"`
	Questions       []Question `json:"questions"`
}

// Question looks up a question by ID.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Public returns a copy without answer keys, suitable for quiz takers.
func (q Quiz) Public() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		options := make([]Option, len(question.Options))
		for j, opt := range question.Options {
			options[j] = Option{ID: opt.ID, Text: opt.Text}
		}
		question.Options = options
		out.Questions[i] = question
	}
	return out
}

// ValidateSelection checks a selection against the question it targets and
// returns it in normalized form.
func (q Quiz) ValidateSelection(questionID string, selected []string) ([]string, error) {
	question, ok := q.Question(questionID)
	if !ok {
		return nil, ErrQuestionNotFound
	}
	normalized := NormalizeSelection(selected)
	for _, optionID := range normalized {
		if _, ok := question.Option(optionID); !ok {
			return nil, ErrOptionNotFound
		}
	}
	if question.Type != QuestionMultiple && len(normalized) > 1 {
		return nil, ErrInvalidSelection
	}
	return normalized, nil
}

// NormalizeSelection deduplicates and sorts option IDs so that two selections
// of the same set compare equal.
func NormalizeSelection(selected []string) []string {
	seen := make(map[string]struct{}, len(selected))
	out := make([]string, 0, len(selected))
	for _, id := range selected {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameSelection reports whether two normalized selections are equal.
func SameSelection(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// QuestionOutcome is the graded result for one question.
type QuestionOutcome struct {
	QuestionID string   `json:"questionId"`
	Selected   []string `json:"selected"`
	Correct    bool     `json:"correct"`
	Awarded    int      `json:"awarded"`
}

// SubmissionResult is produced once by a successful submit and never mutated.
type SubmissionResult struct {
	AttemptID   string            `json:"attemptId"`
	Score       int               `json:"score"`
	MaxScore    int               `json:"maxScore"`
	CompletedAt time.Time         `json:"completedAt"`
	Outcomes    []QuestionOutcome `json:"outcomes"`
}

// RemainingSeconds computes the whole seconds left before the deadline,
// rounded up and never negative.
func RemainingSeconds(startedAt time.Time, durationSeconds int, now time.Time) int {
	left := startedAt.Add(time.Duration(durationSeconds) * time.Second).Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}
