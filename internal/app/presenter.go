package app

import (
	"time"

	"attempt-engine/internal/domain"
)

// ResultView is the display model for a submitted attempt.
type ResultView struct {
	AttemptID   string               `json:"attemptId"`
	QuizID      string               `json:"quizId"`
	Title       string               `json:"title"`
	Score       int                  `json:"score"`
	MaxScore    int                  `json:"maxScore"`
	Percent     float64              `json:"percent"`
	Threshold   float64              `json:"threshold"`
	Passed      bool                 `json:"passed"`
	CompletedAt time.Time            `json:"completedAt"`
	Questions   []QuestionResultView `json:"questions"`
}

// QuestionResultView is one row of the result screen.
type QuestionResultView struct {
	QuestionID string       `json:"questionId"`
	Prompt     string       `json:"prompt"`
	Selected   []OptionView `json:"selected"`
	Answered   bool         `json:"answered"`
	Correct    bool         `json:"correct"`
	Awarded    int          `json:"awarded"`
	Points     int          `json:"points"`
}

// OptionView is an option as shown on the result screen.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Present builds the result screen from a submission result and the cached
// quiz. passThreshold is a fraction in [0,1] of the maximum score.
func Present(result domain.SubmissionResult, quiz domain.Quiz, passThreshold float64) ResultView {
	outcomes := make(map[string]domain.QuestionOutcome, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		outcomes[outcome.QuestionID] = outcome
	}

	view := ResultView{
		AttemptID:   result.AttemptID,
		QuizID:      quiz.ID,
		Title:       quiz.Title,
		Score:       result.Score,
		MaxScore:    result.MaxScore,
		Threshold:   passThreshold,
		CompletedAt: result.CompletedAt,
		Questions:   make([]QuestionResultView, 0, len(quiz.Questions)),
	}
	if result.MaxScore > 0 {
		view.Percent = float64(result.Score) / float64(result.MaxScore)
	}
	view.Passed = result.MaxScore > 0 && view.Percent >= passThreshold

	for _, question := range quiz.Questions {
		outcome := outcomes[question.ID]
		row := QuestionResultView{
			QuestionID: question.ID,
			Prompt:     question.Prompt,
			Selected:   make([]OptionView, 0, len(outcome.Selected)),
			Answered:   len(outcome.Selected) > 0,
			Correct:    outcome.Correct,
			Awarded:    outcome.Awarded,
			Points:     question.Weight(),
		}
		for _, optionID := range outcome.Selected {
			opt, ok := question.Option(optionID)
			if !ok {
				opt = domain.Option{ID: optionID}
			}
			row.Selected = append(row.Selected, OptionView{ID: opt.ID, Text: opt.Text})
		}
		view.Questions = append(view.Questions, row)
	}
	return view
}
