package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"jsonwatch/internal/logging"
	"jsonwatch/internal/stream"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsReadLimit     = 4096
	wsPongQueueSize = 8
)

// StreamHandler upgrades /api/stream/{path} requests to WebSocket
// connections and relays file change events for the requested path.
type StreamHandler struct {
	Manager        *stream.Manager
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w, cacheControlNoStore)

	if !validateToken(r, h.AuthToken) {
		writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	if h.Manager == nil {
		writeJSONError(w, &apiError{Status: http.StatusInternalServerError, Message: "stream manager unavailable"})
		return
	}

	path := resolveWatchedPath(h.Manager, strings.TrimPrefix(r.URL.Path, "/api/stream/"))
	if path == "" {
		writeJSONError(w, &apiError{Status: http.StatusBadRequest, Message: "file path is required"})
		return
	}

	// Reject before the upgrade so the client sees a plain 404.
	if !h.Manager.Watched(path) {
		writeJSONError(w, &apiError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("file is not watched: %s", path),
		})
		return
	}

	content, err := h.Manager.Content(path)
	if err != nil {
		writeJSONError(w, &apiError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("file is not watched: %s", path),
		})
		return
	}

	updates, cancel := h.Manager.Subscribe(path)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, h.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logDebug("websocket upgrade failed", path, err)
		return
	}

	session := &streamSession{
		conn:    conn,
		path:    path,
		updates: updates,
		cancel:  cancel,
		pongs:   make(chan struct{}, wsPongQueueSize),
		done:    make(chan struct{}),
		logger:  h.Logger,
	}
	session.run(content)
}

type streamSession struct {
	conn    *websocket.Conn
	path    string
	updates <-chan stream.Change
	cancel  func()
	pongs   chan struct{}
	done    chan struct{}
	logger  *logging.Logger
}

func (s *streamSession) run(initial any) {
	defer s.cancel()
	defer s.conn.Close()

	if err := s.writeChange(stream.Change{
		EventType: stream.ChangeInitial,
		Path:      s.path,
		Timestamp: time.Now().UTC(),
		Content:   initial,
	}); err != nil {
		return
	}

	go s.readLoop()
	s.writeLoop()
}

// writeLoop is the only goroutine writing to the connection. A closed
// updates channel means the broadcaster dropped this subscriber.
func (s *streamSession) writeLoop() {
	for {
		select {
		case change, ok := <-s.updates:
			if !ok {
				s.logDebug("subscriber dropped, closing stream")
				s.writeClose(websocket.ClosePolicyViolation, "subscriber too slow")
				return
			}
			if err := s.writeChange(change); err != nil {
				return
			}
		case <-s.pongs:
			if err := s.writeChange(stream.Change{
				EventType: stream.ChangePong,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *streamSession) readLoop() {
	defer close(s.done)
	s.conn.SetReadLimit(wsReadLimit)
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage && string(payload) == "ping" {
			select {
			case s.pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (s *streamSession) writeChange(change stream.Change) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(change); err != nil {
		s.logDebug("websocket write failed")
		return err
	}
	return nil
}

func (s *streamSession) writeClose(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

func (s *streamSession) logDebug(message string) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(message, map[string]string{
		"category": "stream",
		"path":     s.path,
	})
}

func (h *StreamHandler) logDebug(message, path string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug(message, map[string]string{
		"category": "stream",
		"path":     path,
		"error":    err.Error(),
	})
}
