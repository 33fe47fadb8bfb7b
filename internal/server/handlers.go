package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/QalaTech/speki-sub001/internal/decompose"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/loop"
)

// maxBodyBytes bounds request bodies. Feedback text is the largest payload.
const maxBodyBytes = 1 << 20

type artifactRequest struct {
	Workspace string `json:"workspace"`
	Artifact  string `json:"artifact"`
}

type feedbackRequest struct {
	Workspace string `json:"workspace"`
	Artifact  string `json:"artifact"`
	Feedback  string `json:"feedback"`
}

type loopRequest struct {
	Workspace     string     `json:"workspace"`
	MaxIterations int        `json:"maxIterations,omitempty"`
	Phase         loop.Phase `json:"phase,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart implements POST /api/decompose/start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req decompose.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ack, err := s.orch.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// handleState implements GET /api/decompose/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := s.orch.State(r.Context(), q.Get("workspace"), q.Get("artifact"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRetryReview implements POST /api/decompose/retry-review.
func (s *Server) handleRetryReview(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ack, err := s.orch.RetryReview(r.Context(), req.Workspace, req.Artifact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// handleRevise implements POST /api/decompose/revise.
func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ack, err := s.orch.Revise(r.Context(), req.Workspace, req.Artifact, req.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// handleApprove implements POST /api/decompose/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.orch.Approve(r.Context(), req.Workspace, req.Artifact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSaveFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	fb, err := s.orch.SaveFeedback(r.Context(), req.Workspace, req.Artifact, req.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fb, err := s.orch.Feedback(r.Context(), q.Get("workspace"), q.Get("artifact"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// handleGenerating implements GET /api/decompose/generating.
func (s *Server) handleGenerating(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		s.writeError(w, errors.NewValidationError("workspace is required").WithField("workspace"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"generating": s.orch.IsGenerating(workspace)})
}

// handleLoopStart lets a task loop announce itself so approvals can raise
// its iteration ceiling.
func (s *Server) handleLoopStart(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, err := s.orch.Resolve(req.Workspace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, ok := s.loops.Start(ws.ID(), req.MaxIterations)
	if !ok {
		writeJSON(w, http.StatusConflict, session)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLoopAdvance(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, err := s.orch.Resolve(req.Workspace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, ok := s.loops.Advance(ws.ID())
	if !ok {
		s.writeError(w, errors.NewNotFoundError("loop", ws.ID()))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLoopFinish(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, err := s.orch.Resolve(req.Workspace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	phase := req.Phase
	if phase == "" {
		phase = loop.PhaseComplete
	}
	if phase == loop.PhaseWorking {
		s.writeError(w, errors.NewValidationError("a finished loop cannot be working").WithField("phase"))
		return
	}
	if !s.loops.Finish(ws.ID(), phase) {
		s.writeError(w, errors.NewNotFoundError("loop", ws.ID()))
		return
	}
	session, _ := s.loops.Get(ws.ID())
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLoopGet(w http.ResponseWriter, r *http.Request) {
	ws, err := s.orch.Resolve(r.URL.Query().Get("workspace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, ok := s.loops.Get(ws.ID())
	if !ok {
		s.writeError(w, errors.NewNotFoundError("loop", ws.ID()))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// decodeBody reads a JSON request body into v. It writes a 400 response and
// returns false when the body is missing, too large or malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read body"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

// statusFor maps an operation error onto an HTTP status.
func statusFor(err error) int {
	var notFound *errors.NotFoundError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrRunActive), errors.Is(err, errors.ErrQueueLocked):
		return http.StatusConflict
	case errors.Is(err, decompose.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Retryable: errors.IsRetryable(err)}
	if status == http.StatusInternalServerError {
		if errors.GetSeverity(err) >= errors.SeverityError {
			s.logger.Error("request failed", "error", err)
		} else {
			s.logger.Warn("request failed", "error", err)
		}
		if !errors.IsUserFacing(err) {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
