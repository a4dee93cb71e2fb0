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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// CreateSession handles POST /v1/sessions.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req datatypes.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := h.store.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("session create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions handles GET /v1/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions, err := h.store.ListSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("session list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession handles GET /v1/sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	session, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// RenameSession handles PATCH /v1/sessions/:id/rename.
func (h *Handlers) RenameSession(c *gin.Context) {
	var req datatypes.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.Param("id")
	if err := h.store.RenameSession(c.Request.Context(), sessionID, req.Title); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("session rename failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renamed", "session_id": sessionID, "title": req.Title})
}

// ReorderSessions handles POST /v1/sessions/reorder.
func (h *Handlers) ReorderSessions(c *gin.Context) {
	var req datatypes.ReorderSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.ReorderSessions(c.Request.Context(), req.SessionIDs); err != nil {
		h.logger.Error("session reorder failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reorder sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reordered", "count": len(req.SessionIDs)})
}

// DeleteSession handles DELETE /v1/sessions/:id. Deleting a session
// cascades to its messages, memories, and attachments. Partial cascade
// failures are logged and reported, never silently dropped.
func (h *Handlers) DeleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if err := h.store.DeleteSession(ctx, sessionID); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("session delete failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}

	memoriesDeleted := 0
	if h.memory != nil {
		n, err := h.memory.DeleteForSession(ctx, sessionID)
		if err != nil {
			h.logger.Warn("memory cascade delete failed", "session_id", sessionID, "error", err)
		}
		memoriesDeleted = n
	}
	filesDeleted := 0
	if h.files != nil {
		n, err := h.files.DeleteForSession(ctx, sessionID)
		if err != nil {
			h.logger.Warn("attachment cascade delete failed", "session_id", sessionID, "error", err)
		}
		filesDeleted = n
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "deleted",
		"session_id":       sessionID,
		"memories_deleted": memoriesDeleted,
		"files_deleted":    filesDeleted,
	})
}

// ListMessages handles GET /v1/sessions/:id/messages with limit and before
// cursor parameters.
func (h *Handlers) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be a millisecond timestamp"})
			return
		}
		before = n
	}

	messages, err := h.store.ListMessages(c.Request.Context(), sessionID, limit, before)
	if err != nil {
		h.logger.Error("message list failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}
