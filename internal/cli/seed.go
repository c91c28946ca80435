package cli

import "attempt-engine/internal/domain"

// sampleQuizzes backs the server when no Postgres is configured and seeds it
// with `migrate --seed`.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Warm-up",
			DurationSeconds: 600,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Type:   domain.QuestionSingle,
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Prompt: "Which of these are prime?",
					Type:   domain.QuestionMultiple,
					Options: []domain.Option{
						{ID: "o1", Text: "2", Correct: true},
						{ID: "o2", Text: "9"},
						{ID: "o3", Text: "11", Correct: true},
						{ID: "o4", Text: "15"},
					},
					Points: 2,
				},
				{
					ID:     "q3",
					Prompt: "Which HTTP method is idempotent?",
					Type:   domain.QuestionSingle,
					Options: []domain.Option{
						{ID: "o1", Text: "POST"},
						{ID: "o2", Text: "PUT", Correct: true},
						{ID: "o3", Text: "PATCH"},
					},
					Points: 1,
				},
			},
		},
	}
}
