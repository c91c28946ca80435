package app_test

import (
	"testing"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
)

func TestPresentBuildsResultInQuizOrder(t *testing.T) {
	quiz := testQuizzes()["quiz-1"]
	answers := domain.Answers{"q2": {"c", "a"}, "q1": {"o1"}}
	result := domain.Grade(quiz, "at-1", answers, time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC))

	view := app.Present(result, quiz, 0.5)
	if view.Score != 2 || view.MaxScore != 4 {
		t.Fatalf("expected 2/4, got %d/%d", view.Score, view.MaxScore)
	}
	if view.Percent != 0.5 || !view.Passed {
		t.Fatalf("expected 50%% to pass a 0.5 threshold, got %v passed=%v", view.Percent, view.Passed)
	}
	if len(view.Questions) != 3 || view.Questions[0].QuestionID != "q1" || view.Questions[2].QuestionID != "q3" {
		t.Fatalf("expected quiz order, got %+v", view.Questions)
	}

	q1 := view.Questions[0]
	if q1.Correct || !q1.Answered || q1.Selected[0].Text != "3" {
		t.Fatalf("unexpected q1 row %+v", q1)
	}
	q2 := view.Questions[1]
	if !q2.Correct || q2.Awarded != 2 || len(q2.Selected) != 2 {
		t.Fatalf("unexpected q2 row %+v", q2)
	}
	q3 := view.Questions[2]
	if q3.Answered || q3.Correct || len(q3.Selected) != 0 {
		t.Fatalf("unexpected q3 row %+v", q3)
	}

	if failed := app.Present(result, quiz, 0.6); failed.Passed {
		t.Fatalf("expected 50%% to fail a 0.6 threshold")
	}
}

func TestPresentEmptyQuizNeverPasses(t *testing.T) {
	view := app.Present(domain.SubmissionResult{AttemptID: "at-1"}, domain.Quiz{ID: "empty"}, 0)
	if view.Passed || view.Percent != 0 {
		t.Fatalf("expected empty quiz to fail, got %+v", view)
	}
}
