package http

import (
	"encoding/json"
	"net/http"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type saveAnswerRequest struct {
	OptionIDs []string `json:"optionIds"`
}

type submitRequest struct {
	Answers domain.Answers `json:"answers"`
}

type remainingResponse struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// API exposes an AssessmentStore over HTTP so engines in other processes can
// use it through StoreClient.
type API struct {
	store   app.AssessmentStore
	quizzes app.QuizRepository
}

// NewAPIRouter returns the store routes, meant to be mounted under /api.
func NewAPIRouter(store app.AssessmentStore, quizzes app.QuizRepository) chi.Router {
	api := &API{store: store, quizzes: quizzes}

	r := chi.NewRouter()
	r.Get("/quizzes/{quizID}", api.getQuiz)
	r.Route("/quizzes/{quizID}/attempts", func(r chi.Router) {
		r.Use(requireCaller)
		r.Get("/current", api.currentAttempt)
		r.Post("/", api.createAttempt)
	})
	r.Route("/attempts/{attemptID}", func(r chi.Router) {
		r.Put("/answers/{questionID}", api.saveAnswer)
		r.Post("/submit", api.submit)
		r.Get("/remaining", api.remaining)
	})
	return r
}

func (a *API) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.quizzes.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz.Public())
}

func (a *API) currentAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, found, err := a.store.FindInProgressAttempt(r.Context(), chi.URLParam(r, "quizID"), r.Header.Get(CallerHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, domain.ErrAttemptNotFound)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (a *API) createAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := a.store.CreateAttempt(r.Context(), chi.URLParam(r, "quizID"), r.Header.Get(CallerHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (a *API) saveAnswer(w http.ResponseWriter, r *http.Request) {
	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid_body", "invalid answer payload")
		return
	}
	attemptID, questionID := chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID")
	if err := a.store.SaveAnswer(r.Context(), attemptID, questionID, req.OptionIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid_body", "invalid submit payload")
		return
	}
	result, err := a.store.SubmitAttempt(r.Context(), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) remaining(w http.ResponseWriter, r *http.Request) {
	remaining, err := a.store.GetRemainingTime(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remainingResponse{RemainingSeconds: remaining})
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(CallerHeader) == "" {
			badRequest(w, "missing_caller", "missing "+CallerHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request through zerolog.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// NewRouter assembles the full HTTP surface: health, store API and the
// websocket gateway.
func NewRouter(api chi.Router, ws *WSHandler, allowedOrigins ...string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", CallerHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if api != nil {
		r.Mount("/api", api)
	}
	if ws != nil {
		r.Get("/ws", ws.ServeWS)
	}
	return r
}
