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

	"github.com/gin-gonic/gin"
)

// ListModels handles GET /v1/models.
func (h *Handlers) ListModels(c *gin.Context) {
	if h.models == nil {
		c.JSON(http.StatusOK, gin.H{"models": []any{}, "active": ""})
		return
	}
	models, err := h.models.ListModels(c.Request.Context())
	if err != nil {
		h.logger.Error("model list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list models"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"models": models,
		"active": h.models.ActiveModel(),
	})
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"ner_strategy": string(h.guard.ActiveStrategy()),
		"mlock":        IsMlockAvailable(),
	})
}
