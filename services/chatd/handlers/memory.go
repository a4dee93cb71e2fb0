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
	"github.com/KodiakAI/KodiakChat/services/chatd/observability"
)

// AddMemory handles POST /v1/memory.
func (h *Handlers) AddMemory(c *gin.Context) {
	var req datatypes.AddMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	confidence := req.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	mem, err := h.memory.Add(c.Request.Context(), req.SessionID, req.Content,
		datatypes.MemorySourceManual, req.Category, confidence)
	if err != nil {
		if datatypes.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("memory add failed", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add memory"})
		return
	}
	observability.MemoryOpsTotal.WithLabelValues("add").Inc()
	c.JSON(http.StatusCreated, mem)
}

// ListMemory handles GET /v1/memory?session_id=&category=.
func (h *Handlers) ListMemory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	var (
		memories []datatypes.Memory
		err      error
	)
	if category := c.Query("category"); category != "" {
		memories, err = h.memory.ListByCategory(c.Request.Context(), sessionID, category)
	} else {
		memories, err = h.memory.ListAll(c.Request.Context(), sessionID)
	}
	if err != nil {
		h.logger.Error("memory list failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list memories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
}

// SearchMemory handles GET /v1/memory/search?session_id=&q=&limit=.
func (h *Handlers) SearchMemory(c *gin.Context) {
	sessionID := c.Query("session_id")
	query := c.Query("q")
	if sessionID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and q are required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	memories, err := h.memory.Search(c.Request.Context(), sessionID, query, limit)
	if err != nil {
		h.logger.Error("memory search failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "memory search failed"})
		return
	}
	observability.MemoryOpsTotal.WithLabelValues("search").Inc()
	c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
}

// EnableMemory handles PATCH /v1/memory/:id/enable.
func (h *Handlers) EnableMemory(c *gin.Context) {
	h.setMemoryEnabled(c, true)
}

// DisableMemory handles PATCH /v1/memory/:id/disable.
func (h *Handlers) DisableMemory(c *gin.Context) {
	h.setMemoryEnabled(c, false)
}

func (h *Handlers) setMemoryEnabled(c *gin.Context, enabled bool) {
	memoryID := c.Param("id")
	if err := h.memory.SetEnabled(c.Request.Context(), memoryID, enabled); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
			return
		}
		h.logger.Error("memory toggle failed", "memory_id", memoryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update memory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "memory_id": memoryID, "enabled": enabled})
}

// DeleteMemory handles DELETE /v1/memory/:id.
func (h *Handlers) DeleteMemory(c *gin.Context) {
	memoryID := c.Param("id")
	if err := h.memory.Delete(c.Request.Context(), memoryID); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
			return
		}
		h.logger.Error("memory delete failed", "memory_id", memoryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete memory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "memory_id": memoryID})
}

// CompressMemory handles POST /v1/memory/compress. The compressed summary
// replaces the session's individual memories.
func (h *Handlers) CompressMemory(c *gin.Context) {
	var req datatypes.CompressMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mem, err := h.memory.Compress(c.Request.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("memory compress failed", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "memory compression failed"})
		return
	}
	if mem == nil {
		c.JSON(http.StatusOK, gin.H{"status": "nothing_to_compress", "session_id": req.SessionID})
		return
	}
	observability.MemoryOpsTotal.WithLabelValues("compress").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "compressed", "memory": mem})
}
