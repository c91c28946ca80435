package domain

import "time"

// Grade scores a full answer set against the quiz answer key. Unknown
// questions in answers are ignored; unanswered questions score zero.
func Grade(quiz Quiz, attemptID string, answers Answers, completedAt time.Time) SubmissionResult {
	result := SubmissionResult{
		AttemptID:   attemptID,
		CompletedAt: completedAt,
		Outcomes:    make([]QuestionOutcome, 0, len(quiz.Questions)),
	}
	for _, question := range quiz.Questions {
		selected := NormalizeSelection(answers[question.ID])
		points := question.Weight()
		result.MaxScore += points

		outcome := QuestionOutcome{QuestionID: question.ID, Selected: selected}
		if len(selected) > 0 && SameSelection(selected, correctOptions(question)) {
			outcome.Correct = true
			outcome.Awarded = points
			result.Score += points
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result
}

func correctOptions(q Question) []string {
	ids := make([]string, 0, 1)
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return NormalizeSelection(ids)
}
