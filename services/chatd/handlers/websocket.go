// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsTurnRequest is one chat turn requested over the socket.
type wsTurnRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
}

// wsEventWriter emits the same hash-chained envelopes as the SSE writer,
// one JSON frame per event. Keep-alives are WebSocket ping control frames.
type wsEventWriter struct {
	conn     *websocket.Conn
	prevHash string
	mu       sync.Mutex
}

func (w *wsEventWriter) WriteEvent(event string, data map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev, err := buildEvent(w.prevHash, event, data)
	if err != nil {
		return err
	}
	if err := w.conn.WriteJSON(ev); err != nil {
		return err
	}
	w.prevHash = ev.Hash
	return nil
}

func (w *wsEventWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

var _ EventWriter = (*wsEventWriter)(nil)

// ChatWebSocket handles GET /v1/chat/ws. Each JSON frame from the client
// requests one turn; the server answers with the same typed event stream
// the SSE endpoint produces. The connection survives across turns.
func (h *Handlers) ChatWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	h.logger.Info("websocket client connected")

	writer := &wsEventWriter{conn: ws}

	for {
		var req wsTurnRequest
		if err := ws.ReadJSON(&req); err != nil {
			h.logger.Info("websocket client disconnected", "error", err.Error())
			return
		}

		content := strings.TrimSpace(req.Content)
		if req.SessionID == "" || content == "" {
			writer.WriteEvent(datatypes.EventError,
				map[string]any{"message": "session_id and content are required"})
			continue
		}
		if _, err := h.store.GetSession(c.Request.Context(), req.SessionID); err != nil {
			writer.WriteEvent(datatypes.EventError,
				map[string]any{"message": "session not found"})
			continue
		}

		observability.ActiveStreams.Inc()
		stopPing := startKeepAlive(c.Request.Context(), writer, h.cfg.SSEHeartbeat)

		start := time.Now()
		status := "ok"
		if err := h.runTurn(c.Request.Context(), writer, req.SessionID, content, req.Model, start); err != nil {
			status = "error"
			h.logger.Error("websocket turn failed",
				"session_id", req.SessionID,
				"error", err)
		}
		observability.TurnsTotal.WithLabelValues(status).Inc()
		observability.TurnDuration.Observe(time.Since(start).Seconds())

		stopPing()
		observability.ActiveStreams.Dec()
	}
}
