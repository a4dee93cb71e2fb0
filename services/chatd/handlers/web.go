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
)

// WebSearch handles GET /v1/web/search?session_id=&q=&limit=. Provider
// routing and quota accounting follow the session's rules.
func (h *Handlers) WebSearch(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID := c.Query("session_id")
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
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

	rules := h.sessionRules(ctx, sessionID)
	results, err := h.web.Search(ctx, sessionID, query, limit, rules)
	if err != nil {
		h.logger.Error("web search failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "web search failed"})
		return
	}

	quotas, err := h.web.QuotaStatus(ctx)
	if err != nil {
		h.logger.Warn("quota status lookup failed", "error", err)
		quotas = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
		"quotas":  quotas,
	})
}

// WebQuotas handles GET /v1/web/quotas.
func (h *Handlers) WebQuotas(c *gin.Context) {
	quotas, err := h.web.QuotaStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("quota status lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch quotas"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotas": quotas})
}
