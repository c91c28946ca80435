package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const txRetries = 3

// AssessmentStore keeps attempts in Redis so several engine processes can
// share them.
//
// Layout:
//
//	HSET attempt:{id}          quiz_id caller_id status started_at duration
//	HSET attempt:{id}:answers  {questionID} {json option IDs}
//	SET  attempt:{id}:result   {json SubmissionResult}
//	SET  attempt:active:{quizID}:{callerID} {id}   (WATCHed to keep one in progress)
type AssessmentStore struct {
	client    *redis.Client
	quizzes   app.QuizRepository
	clock     clockwork.Clock
	retention time.Duration
}

func NewAssessmentStore(client *redis.Client, quizzes app.QuizRepository, retention time.Duration) *AssessmentStore {
	return NewAssessmentStoreWithClock(client, quizzes, retention, clockwork.NewRealClock())
}

// NewAssessmentStoreWithClock allows deterministic remaining time in tests.
func NewAssessmentStoreWithClock(client *redis.Client, quizzes app.QuizRepository, retention time.Duration, clock clockwork.Clock) *AssessmentStore {
	return &AssessmentStore{client: client, quizzes: quizzes, clock: clock, retention: retention}
}

func (s *AssessmentStore) FindInProgressAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, bool, error) {
	id, err := s.client.Get(ctx, activeKey(quizID, callerID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("lookup active attempt: %w", err)
	}
	attempt, err := s.load(ctx, id)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}
	if attempt.Status != domain.AttemptInProgress {
		return domain.Attempt{}, false, nil
	}
	return attempt, true, nil
}

func (s *AssessmentStore) CreateAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}

	id := uuid.NewString()
	startedAt := s.clock.Now().UTC()
	ttl := s.keyTTL(quiz.DurationSeconds)

	// The attempt hash is written before the active marker, so a marker never
	// points at an attempt that does not exist yet.
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, attemptKey(id),
			"quiz_id", quizID,
			"caller_id", callerID,
			"status", string(domain.AttemptInProgress),
			"started_at", startedAt.Format(time.RFC3339Nano),
			"duration", quiz.DurationSeconds,
		)
		if ttl > 0 {
			pipe.Expire(ctx, attemptKey(id), ttl)
		}
		return nil
	})
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}

	marker := activeKey(quizID, callerID)
	var existingID string
	err = s.watch(ctx, func(tx *redis.Tx) error {
		existingID = ""
		current, err := tx.Get(ctx, marker).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != "" {
			status, err := tx.HGet(ctx, attemptKey(current), "status").Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if domain.AttemptStatus(status) == domain.AttemptInProgress {
				existingID = current
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, marker, id, ttl)
			return nil
		})
		return err
	}, marker)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("reserve attempt: %w", err)
	}
	if existingID != "" {
		_ = s.client.Del(ctx, attemptKey(id)).Err()
		return s.load(ctx, existingID)
	}

	return domain.Attempt{
		ID:               id,
		QuizID:           quizID,
		CallerID:         callerID,
		Status:           domain.AttemptInProgress,
		Answers:          domain.Answers{},
		RemainingSeconds: quiz.DurationSeconds,
		StartedAt:        startedAt,
		DurationSeconds:  quiz.DurationSeconds,
	}, nil
}

func (s *AssessmentStore) SaveAnswer(ctx context.Context, attemptID, questionID string, selected []string) error {
	normalized := domain.NormalizeSelection(selected)
	payload, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	return s.watch(ctx, func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, attemptKey(attemptID), "status").Result()
		if errors.Is(err, redis.Nil) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return err
		}
		if domain.AttemptStatus(status) == domain.AttemptSubmitted {
			return domain.ErrAttemptSubmitted
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(normalized) == 0 {
				pipe.HDel(ctx, answersKey(attemptID), questionID)
			} else {
				pipe.HSet(ctx, answersKey(attemptID), questionID, payload)
			}
			if s.retention > 0 {
				pipe.Expire(ctx, answersKey(attemptID), s.retention+time.Hour)
			}
			return nil
		})
		return err
	}, attemptKey(attemptID))
}

func (s *AssessmentStore) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmissionResult, error) {
	if res, ok, err := s.storedResult(ctx, s.client, attemptID); err != nil || ok {
		return res, err
	}

	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	var result domain.SubmissionResult
	err = s.watch(ctx, func(tx *redis.Tx) error {
		if res, ok, err := s.storedResult(ctx, tx, attemptID); err != nil || ok {
			result = res
			return err
		}

		final := make(domain.Answers, len(answers))
		for questionID, selected := range answers {
			if normalized := domain.NormalizeSelection(selected); len(normalized) > 0 {
				final[questionID] = normalized
			}
		}
		graded := domain.Grade(quiz, attemptID, final, s.clock.Now().UTC())
		payload, err := json.Marshal(graded)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, resultKey(attemptID), payload, s.retention)
			pipe.HSet(ctx, attemptKey(attemptID), "status", string(domain.AttemptSubmitted), "completed_at", graded.CompletedAt.Format(time.RFC3339Nano))
			pipe.Del(ctx, answersKey(attemptID))
			for questionID, selected := range final {
				raw, _ := json.Marshal(selected)
				pipe.HSet(ctx, answersKey(attemptID), questionID, raw)
			}
			pipe.Del(ctx, activeKey(attempt.QuizID, attempt.CallerID))
			if s.retention > 0 {
				pipe.Expire(ctx, attemptKey(attemptID), s.retention)
				pipe.Expire(ctx, answersKey(attemptID), s.retention)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = graded
		return nil
	}, attemptKey(attemptID), resultKey(attemptID))
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return result, nil
}

func (s *AssessmentStore) GetRemainingTime(ctx context.Context, attemptID string) (int, error) {
	attempt, err := s.loadHeader(ctx, s.client, attemptID)
	if err != nil {
		return 0, err
	}
	return attempt.RemainingSeconds, nil
}

func (s *AssessmentStore) load(ctx context.Context, attemptID string) (domain.Attempt, error) {
	attempt, err := s.loadHeader(ctx, s.client, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	raw, err := s.client.HGetAll(ctx, answersKey(attemptID)).Result()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load answers: %w", err)
	}
	for questionID, encoded := range raw {
		var selected []string
		if err := json.Unmarshal([]byte(encoded), &selected); err != nil {
			return domain.Attempt{}, fmt.Errorf("decode answer %s: %w", questionID, err)
		}
		attempt.Answers[questionID] = selected
	}
	return attempt, nil
}

func (s *AssessmentStore) loadHeader(ctx context.Context, cmd redis.Cmdable, attemptID string) (domain.Attempt, error) {
	fields, err := cmd.HGetAll(ctx, attemptKey(attemptID)).Result()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	if len(fields) == 0 {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	startedAt, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("decode started_at: %w", err)
	}
	duration, err := strconv.Atoi(fields["duration"])
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("decode duration: %w", err)
	}
	attempt := domain.Attempt{
		ID:              attemptID,
		QuizID:          fields["quiz_id"],
		CallerID:        fields["caller_id"],
		Status:          domain.AttemptStatus(fields["status"]),
		Answers:         domain.Answers{},
		StartedAt:       startedAt,
		DurationSeconds: duration,
	}
	if attempt.Status != domain.AttemptSubmitted {
		attempt.RemainingSeconds = domain.RemainingSeconds(startedAt, duration, s.clock.Now())
	}
	return attempt, nil
}

func (s *AssessmentStore) storedResult(ctx context.Context, cmd redis.Cmdable, attemptID string) (domain.SubmissionResult, bool, error) {
	raw, err := cmd.Get(ctx, resultKey(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SubmissionResult{}, false, nil
	}
	if err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("load result: %w", err)
	}
	var res domain.SubmissionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("decode result: %w", err)
	}
	return res, true, nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed underneath it.
func (s *AssessmentStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < txRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// keyTTL keeps attempt keys for the attempt's duration plus retention. Zero
// retention keeps them forever.
func (s *AssessmentStore) keyTTL(durationSeconds int) time.Duration {
	if s.retention <= 0 {
		return 0
	}
	return time.Duration(durationSeconds)*time.Second + s.retention
}

func attemptKey(id string) string { return "attempt:" + id }

func answersKey(id string) string { return "attempt:" + id + ":answers" }

func resultKey(id string) string { return "attempt:" + id + ":result" }

func activeKey(quizID, callerID string) string {
	return "attempt:active:" + quizID + ":" + callerID
}
