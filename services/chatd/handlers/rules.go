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

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// allowedBinaryExtensions are the binary formats the upload endpoint will
// accept for text extraction. Everything else is decoded as text.
var allowedBinaryExtensions = []string{".pdf", ".docx", ".doc"}

// GetRules handles GET /v1/rules.
func (h *Handlers) GetRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.GlobalRules())
}

// UpdateRules handles PUT /v1/rules. The new defaults apply to sessions
// created afterwards; existing sessions keep their own rules blob.
func (h *Handlers) UpdateRules(c *gin.Context) {
	var rules datatypes.RulesConfig
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.SetGlobalRules(rules)
	h.logger.Info("global rules updated")
	c.JSON(http.StatusOK, rules)
}

// GetSessionRules handles GET /v1/rules/:sessionId. An unknown session
// returns the defaults rather than an error, matching client expectations
// during session bootstrap.
func (h *Handlers) GetSessionRules(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusOK, h.GlobalRules())
			return
		}
		h.logger.Error("session rules fetch failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch session rules"})
		return
	}
	c.JSON(http.StatusOK, session.Rules)
}

// UpdateSessionRules handles PUT /v1/rules/:sessionId.
func (h *Handlers) UpdateSessionRules(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var rules datatypes.RulesConfig
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.UpdateSessionRules(c.Request.Context(), sessionID, rules); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("session rules update failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update session rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetClientConfig handles GET /v1/rules/client-config. Clients call this at
// startup so their upload limits match server validation.
func (h *Handlers) GetClientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fileUpload": gin.H{
			"maxSizeMB":               h.cfg.FileUploadMaxSizeMB,
			"allowedBinaryExtensions": allowedBinaryExtensions,
			"maxExtractChars":         h.cfg.FileUploadMaxChars,
		},
	})
}
