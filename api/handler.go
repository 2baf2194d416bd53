// Package api exposes the session signal surface over HTTP: new messages,
// resumes, buffer appends, cancellation, and the status query. Event
// streaming lives in the stream package; this package only carries
// request/response signals.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scoutflow/scoutflow/checkpoint"
	"github.com/scoutflow/scoutflow/session"
	"github.com/scoutflow/scoutflow/types"
)

// Response is the uniform JSON envelope for every endpoint.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo carries a machine-readable failure to API clients.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler routes session signal requests to the manager.
type Handler struct {
	manager *session.Manager
	logger  *zap.Logger
}

// NewHandler creates an API handler. A nil logger defaults to a nop logger.
func NewHandler(manager *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		logger:  logger.With(zap.String("component", "api")),
	}
}

// Register mounts the session routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/{id}/messages", h.handleNewMessage)
	mux.HandleFunc("POST /sessions/{id}/resume", h.handleResume)
	mux.HandleFunc("POST /sessions/{id}/buffer", h.handleBufferAppend)
	mux.HandleFunc("POST /sessions/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /sessions/{id}/status", h.handleStatus)
}

type messageRequest struct {
	Content         string `json:"content"`
	RunID           string `json:"run_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

func (h *Handler) handleNewMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		h.writeError(w, types.NewError(types.KindNonRetryable, "content is required"))
		return
	}

	err := h.manager.Send(r.Context(), r.PathValue("id"), session.NewMessage{
		Content:         req.Content,
		RunID:           req.RunID,
		ParentMessageID: req.ParentMessageID,
	})
	h.finishSignal(w, r, err)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var payload session.ResumePayload
	if !h.decode(w, r, &payload) {
		return
	}

	err := h.manager.Send(r.Context(), r.PathValue("id"), session.Resume{Payload: payload})
	h.finishSignal(w, r, err)
}

func (h *Handler) handleBufferAppend(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		h.writeError(w, types.NewError(types.KindNonRetryable, "content is required"))
		return
	}

	err := h.manager.Send(r.Context(), r.PathValue("id"), session.BufferAppend{
		Content:         req.Content,
		RunID:           req.RunID,
		ParentMessageID: req.ParentMessageID,
	})
	h.finishSignal(w, r, err)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.manager.Send(r.Context(), r.PathValue("id"), session.Cancel{Reason: req.Reason})
	h.finishSignal(w, r, err)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	status, err := h.manager.Status(r.Context(), sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, Response{
			Success:   false,
			Error:     &ErrorInfo{Kind: "not_found", Message: "unknown session " + sessionID},
			Timestamp: time.Now(),
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, status)
}

// finishSignal turns the manager's synchronous Send result into a response.
// A terminal run failure (cancelled, edit loop exceeded) is reported to the
// signal's sender here; observers see the matching error event on the
// stream.
func (h *Handler) finishSignal(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	status, serr := h.manager.Status(r.Context(), r.PathValue("id"))
	if serr != nil {
		h.writeSuccess(w, nil)
		return
	}
	h.writeSuccess(w, status)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) {
		// An absent body means all-defaults (a bare cancel, for example).
		return true
	}
	if err != nil {
		h.writeError(w, types.NewError(types.KindNonRetryable, "invalid JSON body").WithCause(err))
		return false
	}
	return true
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	h.logger.Warn("request failed",
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	h.writeJSON(w, statusFor(kind), Response{
		Success:   false,
		Error:     &ErrorInfo{Kind: string(kind), Message: err.Error()},
		Timestamp: time.Now(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindNonRetryable:
		return http.StatusBadRequest
	case types.KindInvalidResume:
		return http.StatusConflict
	case types.KindEditLoopExceeded:
		return http.StatusUnprocessableEntity
	case types.KindCancelled:
		return http.StatusConflict
	case types.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
