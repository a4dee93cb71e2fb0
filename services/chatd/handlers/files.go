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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/files"
)

// UploadFile handles POST /v1/files/upload. The multipart body carries the
// raw file plus a session_id field; text is extracted server-side, capped,
// stored as an attachment, and split into embedded memory chunks.
func (h *Handlers) UploadFile(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	maxBytes := int64(h.cfg.FileUploadMaxSizeMB) * 1024 * 1024
	if fileHeader.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":       "file exceeds the upload size limit",
			"max_size_mb": h.cfg.FileUploadMaxSizeMB,
		})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload"})
		return
	}
	defer src.Close()

	raw, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	if int64(len(raw)) > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":       "file exceeds the upload size limit",
			"max_size_mb": h.cfg.FileUploadMaxSizeMB,
		})
		return
	}

	text, err := files.DecodeText(raw, fileHeader.Filename)
	if err != nil {
		if datatypes.IsUnsupportedFormatError(err) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	extracted := files.TruncateContent(text, h.cfg.FileUploadMaxChars)

	att, err := h.files.Store(ctx, sessionID, fileHeader.Filename, "", extracted)
	if err != nil {
		h.logger.Error("attachment store failed",
			"session_id", sessionID, "filename", fileHeader.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store attachment"})
		return
	}

	// Chunk ingestion enriches memory recall; its failure never fails
	// the upload itself.
	chunks := 0
	if h.ingestor != nil {
		n, err := h.ingestor.IngestChunks(ctx, sessionID, fileHeader.Filename, extracted)
		if err != nil {
			h.logger.Warn("chunk ingestion failed",
				"session_id", sessionID, "filename", fileHeader.Filename, "error", err)
		}
		chunks = n
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":           "uploaded",
		"file_id":          att.ID,
		"filename":         att.Filename,
		"file_type":        att.FileType,
		"original_size":    len(raw),
		"extracted_length": len(extracted),
		"chunks_indexed":   chunks,
	})
}

// AttachFile handles POST /v1/sessions/:id/attachments. The client sends
// already-extracted text, typically a paste.
func (h *Handlers) AttachFile(c *gin.Context) {
	sessionID := c.Param("id")

	var req datatypes.AttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content := files.TruncateContent(req.Content, h.cfg.FileUploadMaxChars)
	att, err := h.files.Store(c.Request.Context(), sessionID, req.Filename, "", content)
	if err != nil {
		if datatypes.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("attachment store failed",
			"session_id", sessionID, "filename", req.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store attachment"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":   "attached",
		"file_id":  att.ID,
		"filename": att.Filename,
		"length":   att.SizeChars,
	})
}

// ListFiles handles GET /v1/sessions/:id/attachments. Content is omitted
// from the listing.
func (h *Handlers) ListFiles(c *gin.Context) {
	sessionID := c.Param("id")
	atts, err := h.files.ListMetadata(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("attachment list failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attachments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": atts, "count": len(atts)})
}

// DeleteFile handles DELETE /v1/sessions/:id/attachments/:fileId.
func (h *Handlers) DeleteFile(c *gin.Context) {
	sessionID := c.Param("id")
	fileID := c.Param("fileId")
	if err := h.files.Delete(c.Request.Context(), sessionID, fileID); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		h.logger.Error("attachment delete failed",
			"session_id", sessionID, "file_id", fileID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete attachment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "file_id": fileID})
}
