// Package server exposes the pipeline over HTTP: a streaming chat
// endpoint plus read endpoints for persisted conversation state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	"github.com/pattarawat/steward/agent/orchestrator"
	streamx "github.com/pattarawat/steward/agent/stream"
	logx "github.com/pattarawat/steward/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Config struct {
	Addr            string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
}

// ChatService is the run entrypoint the chat endpoint drives.
type ChatService interface {
	HandleMessage(ctx context.Context, req orchestrator.Request, out orchestrator.RunStream)
}

type Deps struct {
	Runs          ChatService
	Conversations contractx.ConversationStore
	Tasks         contractx.TaskStore
}

type Server struct {
	runs          ChatService
	conversations contractx.ConversationStore
	tasks         contractx.TaskStore
	log           zerolog.Logger
}

func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Runs == nil {
		return nil, errors.New("chat service is required")
	}
	if deps.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if deps.Tasks == nil {
		return nil, errors.New("task store is required")
	}

	s := &Server{
		runs:          deps.Runs,
		conversations: deps.Conversations,
		tasks:         deps.Tasks,
		log:           logx.Component("server"),
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/chat", s.handleChat)
	r.Route("/v1/conversations/{conversationID}", func(r chi.Router) {
		r.Get("/messages", s.handleMessages)
		r.Get("/tasks", s.handleTasks)
	})
	return r, nil
}

// handleChat upgrades the response to SSE and drives one run. Failures
// after the upgrade travel as error frames, not status codes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	mux := streamx.NewMux(newSSEWriter(w, flusher))
	s.runs.HandleMessage(r.Context(), req, mux)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationFromPath(w, r)
	if !ok {
		return
	}

	msgs, err := s.conversations.Messages(r.Context(), id, pageLimit(r))
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", id).Msg("failed to load messages")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        msgs,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationFromPath(w, r)
	if !ok {
		return
	}

	tasks, err := s.tasks.ListTasks(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", id).Msg("failed to list tasks")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"tasks":           tasks,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// conversationFromPath resolves and verifies the path id, writing the
// failure response itself when the id is bad or unknown.
func (s *Server) conversationFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "conversationID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}

	exists, err := s.conversations.ConversationExists(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", id).Msg("failed to check conversation")
		writeError(w, http.StatusInternalServerError, "failed to check conversation")
		return 0, false
	}
	if !exists {
		writeError(w, http.StatusNotFound, "conversation not found")
		return 0, false
	}
	return id, true
}

func pageLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
