package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"attempt-engine/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallerHeader carries the caller identity on store API requests.
const CallerHeader = "X-Caller-ID"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorCodes are stable across the API and StoreClient; the client maps a
// code back to the same sentinel.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrQuizNotFound, "quiz_not_found", http.StatusNotFound},
	{domain.ErrAttemptNotFound, "attempt_not_found", http.StatusNotFound},
	{domain.ErrAttemptSubmitted, "attempt_submitted", http.StatusConflict},
	{domain.ErrQuestionNotFound, "question_not_found", http.StatusUnprocessableEntity},
	{domain.ErrOptionNotFound, "option_not_found", http.StatusUnprocessableEntity},
	{domain.ErrInvalidSelection, "invalid_selection", http.StatusUnprocessableEntity},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			writeJSON(w, c.status, errorBody{Error: err.Error(), Code: c.code})
			return
		}
	}
	log.Error().Err(err).Msg("store api request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: code})
}

func errorForCode(code string) (error, bool) {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err, true
		}
	}
	return nil, false
}
