// Package httpapi implements the HTTP API (C13): a thin gorilla/mux binding
// of §6.1's flat endpoint set onto the Persistence Store, Question Gate, and
// Job Queue. Grounded on the reference gateway package's layering idiom
// (request-scoped logging, panic recovery, correlation id) generalized from
// multi-channel message routing to a plain net/http handler set, since this
// spec has no chat-channel adapters to route between (§1).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentcore/internal/activity"
	"github.com/haasonsaas/agentcore/internal/jobqueue"
	"github.com/haasonsaas/agentcore/internal/questiongate"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Resumer continues a job that is parked waiting for an answer, used when
// the HTTP API's gate has no live in-process waiter for the job (a restart
// happened between the job pausing and the answer arriving). Implemented by
// the Agent Runtime's Resume method.
type Resumer interface {
	Resume(ctx context.Context, jobID string, ans questiongate.Answer) error
}

// Server wires the store/gate/queue into an http.Handler implementing §6.1.
type Server struct {
	st      store.Store
	queue   *jobqueue.Queue
	gate    *questiongate.Gate
	resumer Resumer
	reader  *activity.Reader
	logger  *slog.Logger
	router  *mux.Router
}

// New builds the HTTP API's router. resumer may be nil; without it, an
// answer arriving with no live in-process waiter is durably recorded on the
// job but left for the next OldestPendingWithoutRunningPeer-style recovery
// path to pick up instead of being resumed inline.
func New(st store.Store, queue *jobqueue.Queue, gate *questiongate.Gate, resumer Resumer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		st:      st,
		queue:   queue,
		gate:    gate,
		resumer: resumer,
		reader:  activity.NewReader(st),
		logger:  logger.With("component", "httpapi"),
	}
	s.router = mux.NewRouter()
	s.router.Use(s.requestIDMiddleware, s.recoverMiddleware, s.logMiddleware)

	s.router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/activity", s.handleJobActivity).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/respond", s.handleRespond).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.router.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	s.router.HandleFunc("/conversations/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/conversations/{id}/fork", s.handleFork).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic handling request", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, models.ErrFatal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

type errorBody struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForStoreErr(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, store.ErrIllegalTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// chatRequest is the §6.1 POST /chat body.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrInvalidArgs, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, models.ErrInvalidArgs, "message is required")
		return
	}

	ctx := r.Context()
	convID := req.ConversationID
	if convID == "" {
		conv, err := s.st.CreateConversation(ctx, models.Conversation{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
			return
		}
		convID = conv.ID
	}

	job, err := s.st.CreateJob(ctx, convID, req.Message)
	if err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	s.queue.Wake()
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobActivity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, models.ErrInvalidArgs, "since must be an integer")
			return
		}
		since = parsed
	}
	page, err := s.reader.Since(r.Context(), id, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type respondRequest struct {
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrInvalidArgs, "invalid JSON body")
		return
	}

	job, err := s.st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	if job.Status != models.JobWaitingForInput && job.Status != models.JobOAuthPending {
		writeError(w, http.StatusConflict, models.ErrInvalidArgs, "job is not waiting for input")
		return
	}

	ans := questiongate.Answer{Text: req.Text, Payload: req.Payload}
	err = s.gate.Resolve(id, ans)
	if errors.Is(err, questiongate.ErrAlreadyAnswered) {
		// No live worker goroutine waiting on this job (process restart) —
		// resume it directly from the store instead of through the gate.
		if s.resumer == nil {
			writeError(w, http.StatusConflict, models.ErrFatal, "no live waiter and no resumer configured for this job")
			return
		}
		if err := s.resumer.Resume(r.Context(), id, ans); err != nil {
			writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "delivered"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, models.ErrInvalidArgs, "job is already terminal")
		return
	}

	if job.Status == models.JobWaitingForInput || job.Status == models.JobOAuthPending {
		s.gate.Abandon(id)
	}
	// Claim the cancelled transition in the store before interrupting the
	// worker goroutine: this way the runtime, if it's still live and
	// notices ctx.Done() a moment later, finds the job already terminal and
	// treats its own finalization as a no-op rather than racing to set
	// JobFailed first.
	if err := s.st.UpdateJobStatus(r.Context(), id, models.JobCancelled, store.JobUpdate{}); err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	s.queue.Cancel(id)
	_ = activity.NewRecorder(s.st, id).Emit(r.Context(), models.ActivityCancelled, "cancelled")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.st.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, models.ErrInvalidArgs, "since must be an integer")
			return
		}
		since = parsed
	}
	messages, err := s.st.ReadMessages(r.Context(), id, since, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	src, err := s.st.GetConversation(ctx, id)
	if err != nil {
		writeError(w, statusForStoreErr(err), models.ErrInvalidArgs, err.Error())
		return
	}
	messages, err := s.st.ReadMessages(ctx, id, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}

	fork, err := s.st.CreateConversation(ctx, models.Conversation{
		ForkedFrom:           id,
		BranchNumber:         src.BranchNumber + 1,
		Summary:              src.Summary,
		SummaryUpToMessageID: src.SummaryUpToMessageID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
		return
	}
	for _, m := range messages {
		m.ConversationID = fork.ID
		if _, err := s.st.AppendMessage(ctx, m); err != nil {
			writeError(w, http.StatusInternalServerError, models.ErrFatal, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, fork)
}
