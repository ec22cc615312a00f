// Package server exposes conversation sessions to browser clients over a JSON
// API and a WebSocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/session"
)

// Server routes requests to the sessions of a registry.
type Server struct {
	reg *session.Registry
}

// New creates a server backed by reg.
func New(reg *session.Registry) *Server {
	return &Server{reg: reg}
}

// Handler returns the full route table wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /sessions/{id}/draft", s.handleSetDraft)
	mux.HandleFunc("PUT /sessions/{id}/mode", s.handleSetMode)
	mux.HandleFunc("POST /sessions/{id}/keywords", s.handleSelectKeyword)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleSubmit)

	// socket attached to an existing session, or owning a fresh one
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleSessionWS)
	mux.HandleFunc("GET /ws", s.handleOwnedWS)

	return chainMiddlewares(mux, withRecover, withCORS, withLogging)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.L.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Mode string `json:"mode,omitempty"`
}

type draftRequest struct {
	Text string `json:"text"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

type submitRequest struct {
	Text *string `json:"text,omitempty"` // nil sends the current draft
}

type submitResponse struct {
	Accepted         bool          `json:"accepted"`
	UserMessage      *chat.Message `json:"user_message,omitempty"`
	AssistantMessage *chat.Message `json:"assistant_message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.reg.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	var opts []session.Option
	if req.Mode != "" {
		mode, err := chat.ParseMode(req.Mode)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		opts = append(opts, session.WithMode(mode))
	}

	sess := s.reg.Create(opts...)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Delete(r.PathValue("id")); err != nil {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDraft(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	sess.SetDraft(req.Text)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	mode, err := chat.ParseMode(req.Mode)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	sess.SetMode(mode)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSelectKeyword(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req keywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Keyword == "" {
		badRequest(w, "keyword is required")
		return
	}
	sess.SelectKeyword(req.Keyword)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	text := sess.Snapshot().Draft
	if req.Text != nil {
		text = *req.Text
	}

	turn, err := sess.Submit(r.Context(), text)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	if turn == nil {
		writeJSON(w, http.StatusOK, submitResponse{Accepted: false})
		return
	}

	resp := submitResponse{Accepted: true, UserMessage: &turn.User}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	// a failed turn is still a logged assistant message, so the error is not an HTTP failure
	reply, err := turn.Wait(r.Context())
	if err != nil && !reply.Failed() {
		logger.L.Warn("client left before the reply", "session_id", sess.ID(), "error", err)
		return
	}
	resp.AssistantMessage = &reply
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		notFound(w)
		return nil, false
	}
	return sess, true
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var modeErr *chat.InvalidModeError
	switch {
	case errors.As(err, &modeErr):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, session.ErrClosed):
		notFound(w)
	default:
		logger.L.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decodeOptional decodes a JSON body, accepting an empty one.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "invalid_argument", msg)
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "session not found")
}
