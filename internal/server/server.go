// Package server exposes learning sessions over HTTP: one route per learner
// intent, a websocket stream of outline updates and an xlsx progress report.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/orchestrator"
	"github.com/p-n-ai/pai-learn/internal/session"
)

const (
	readyTimeout = 3 * time.Second
	maxBodyBytes = 1 << 20
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server routes HTTP requests to learning sessions.
type Server struct {
	sessions *session.Manager
	checks   map[string]Check
	mux      *http.ServeMux
}

// New creates a server over sessions. checks are run by /readyz.
func New(sessions *session.Manager, checks map[string]Check) *Server {
	s := &Server{
		sessions: sessions,
		checks:   checks,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	s.mux.HandleFunc("GET /v1/enrollments", s.handleListSessions)
	s.mux.HandleFunc("POST /v1/enrollments/{id}/session", s.handleOpen)
	s.mux.HandleFunc("DELETE /v1/enrollments/{id}/session", s.handleClose)
	s.mux.HandleFunc("GET /v1/enrollments/{id}/outline", s.handleOutline)
	s.mux.HandleFunc("POST /v1/enrollments/{id}/syllabus", s.handleRefreshSyllabus)
	s.mux.HandleFunc("POST /v1/enrollments/{id}/reset", s.handleReset)
	s.mux.HandleFunc("GET /v1/enrollments/{id}/report", s.handleReport)
	s.mux.HandleFunc("GET /v1/enrollments/{id}/stream", s.handleStream)

	topic := "/v1/enrollments/{id}/topics/{module}/{topic}"
	s.mux.HandleFunc("GET "+topic, s.topicHandler(s.handleTopic))
	s.mux.HandleFunc("POST "+topic+"/navigate", s.topicHandler(s.handleNavigate))
	s.mux.HandleFunc("POST "+topic+"/completion", s.topicHandler(s.handleToggleCompletion))
	s.mux.HandleFunc("PUT "+topic+"/view", s.topicHandler(s.handleSetView))
	s.mux.HandleFunc("POST "+topic+"/content", s.topicHandler(s.handleGenerateContent))
	s.mux.HandleFunc("POST "+topic+"/quiz", s.topicHandler(s.handleGenerateQuiz))
	s.mux.HandleFunc("POST "+topic+"/quiz/evaluation", s.topicHandler(s.handleEvaluateQuiz))
	s.mux.HandleFunc("POST "+topic+"/video", s.topicHandler(s.handleGenerateVideo))
	s.mux.HandleFunc("POST "+topic+"/video/poll", s.topicHandler(s.handlePollVideo))
	s.mux.HandleFunc("POST "+topic+"/resources", s.topicHandler(s.handleFetchResources))
	s.mux.HandleFunc("POST "+topic+"/remediation", s.topicHandler(s.handleGenerateRemediation))
	s.mux.HandleFunc("POST "+topic+"/notes", s.topicHandler(s.handleCreateNote))
}

// ServeHTTP tags every request with a request id and logs it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(backend.RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(backend.RequestIDHeader, id)

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	slog.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		slog.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// topicRequest carries the resolved session and key of a topic route.
type topicRequest struct {
	session *session.Session
	key     curriculum.TopicKey
}

type topicHandlerFunc func(w http.ResponseWriter, r *http.Request, tr topicRequest)

// topicHandler resolves the session and topic key of the route before
// calling next.
func (s *Server) topicHandler(next topicHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		module, err1 := strconv.Atoi(r.PathValue("module"))
		topic, err2 := strconv.Atoi(r.PathValue("topic"))
		if err1 != nil || err2 != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "module and topic must be integers")
			return
		}
		key := sess.TopicKey(module, topic)
		if err := sess.CheckTopic(key); err != nil {
			writeError(w, err)
			return
		}
		next(w, r, topicRequest{session: sess, key: key})
	}
}

// errorEnvelope is the body of every error response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: msg, Code: code}})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, session.ErrUnknownEnrollment):
		writeErrorCode(w, http.StatusNotFound, "unknown_enrollment", err.Error())
	case errors.Is(err, session.ErrUnknownTopic):
		writeErrorCode(w, http.StatusNotFound, "unknown_topic", err.Error())
	case errors.Is(err, session.ErrUnknownResource):
		writeErrorCode(w, http.StatusNotFound, "unknown_resource", err.Error())
	case errors.Is(err, orchestrator.ErrMissingPrerequisite):
		writeErrorCode(w, http.StatusConflict, "missing_prerequisite", err.Error())
	case errors.Is(err, orchestrator.ErrInFlight):
		writeErrorCode(w, http.StatusConflict, "in_flight", err.Error())
	case errors.Is(err, orchestrator.ErrClosed):
		writeErrorCode(w, http.StatusServiceUnavailable, "closed", err.Error())
	case errors.As(err, &apiErr):
		writeErrorCode(w, http.StatusBadGateway, "backend_error", apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorCode(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func accepted(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
