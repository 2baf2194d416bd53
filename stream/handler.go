// Package stream serves a session's event stream to WebSocket consumers.
// A consumer attaching mid-session first receives a status frame (current
// lifecycle state) and then live events; missed history is not replayed,
// matching the broker's contract.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/scoutflow/scoutflow/broker"
	"github.com/scoutflow/scoutflow/session"
)

// frameStatus is the type tag of the initial status frame.
const frameStatus = "status"

// frame is the wire envelope for everything the handler writes: either a
// status frame or an event frame.
type frame struct {
	Type   string          `json:"type"`
	Status *session.Status `json:"status,omitempty"`
	Event  *broker.Event   `json:"event,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket streams of session events.
// The session id comes from the "session_id" query parameter.
type Handler struct {
	manager *session.Manager
	broker  broker.Broker
	logger  *zap.Logger
}

// NewHandler creates a stream handler. A nil logger defaults to a nop
// logger.
func NewHandler(manager *session.Manager, b broker.Broker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		broker:  b,
		logger:  logger.With(zap.String("component", "stream_handler")),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	ctx := r.Context()
	wc := &wsConn{conn: conn}
	defer wc.close(websocket.StatusNormalClosure, "closing")

	// Status first, so a reconnecting consumer learns where the session
	// stands before any live event (or gap) arrives.
	status, err := h.manager.Status(ctx, sessionID)
	if err == nil {
		if werr := wc.writeJSON(ctx, frame{Type: frameStatus, Status: &status}); werr != nil {
			return
		}
	} else {
		h.logger.Debug("no status for session",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	sub, err := h.broker.Subscribe(ctx, sessionID)
	if err != nil {
		h.logger.Warn("subscribe failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		wc.close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	// Reads are only used to notice the peer going away.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := wc.writeJSON(ctx, frame{Type: string(ev.Type), Event: &ev}); err != nil {
				h.logger.Debug("write failed, dropping consumer",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
		}
	}
}

// wsConn serializes writes; the WebSocket connection does not support
// concurrent writers.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsConn) writeJSON(ctx context.Context, f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close(code, reason)
}
