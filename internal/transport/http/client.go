package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attempt-engine/internal/domain"
)

// StoreClient implements app.AssessmentStore and app.QuizRepository against a
// remote store API.
type StoreClient struct {
	baseURL string
	http    *http.Client
}

func NewStoreClient(baseURL string, client *http.Client) *StoreClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &StoreClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *StoreClient) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := c.do(ctx, http.MethodGet, "/api/quizzes/"+url.PathEscape(quizID), "", nil, &quiz)
	return quiz, err
}

func (c *StoreClient) FindInProgressAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, bool, error) {
	var attempt domain.Attempt
	err := c.do(ctx, http.MethodGet, "/api/quizzes/"+url.PathEscape(quizID)+"/attempts/current", callerID, nil, &attempt)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, true, nil
}

func (c *StoreClient) CreateAttempt(ctx context.Context, quizID, callerID string) (domain.Attempt, error) {
	var attempt domain.Attempt
	err := c.do(ctx, http.MethodPost, "/api/quizzes/"+url.PathEscape(quizID)+"/attempts", callerID, nil, &attempt)
	return attempt, err
}

func (c *StoreClient) SaveAnswer(ctx context.Context, attemptID, questionID string, selected []string) error {
	path := "/api/attempts/" + url.PathEscape(attemptID) + "/answers/" + url.PathEscape(questionID)
	return c.do(ctx, http.MethodPut, path, "", saveAnswerRequest{OptionIDs: selected}, nil)
}

func (c *StoreClient) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmissionResult, error) {
	var result domain.SubmissionResult
	err := c.do(ctx, http.MethodPost, "/api/attempts/"+url.PathEscape(attemptID)+"/submit", "", submitRequest{Answers: answers}, &result)
	return result, err
}

func (c *StoreClient) GetRemainingTime(ctx context.Context, attemptID string) (int, error) {
	var resp remainingResponse
	err := c.do(ctx, http.MethodGet, "/api/attempts/"+url.PathEscape(attemptID)+"/remaining", "", nil, &resp)
	return resp.RemainingSeconds, err
}

func (c *StoreClient) do(ctx context.Context, method, path, callerID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if callerID != "" {
		req.Header.Set(CallerHeader, callerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if err, ok := errorForCode(body.Code); ok {
		return err
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("store api: %d %s", resp.StatusCode, body.Error)
}
