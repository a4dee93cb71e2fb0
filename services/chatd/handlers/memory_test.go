// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

func memoryRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/memory", h.ListMemory)
	r.POST("/v1/memory", h.AddMemory)
	r.GET("/v1/memory/search", h.SearchMemory)
	r.POST("/v1/memory/compress", h.CompressMemory)
	r.PATCH("/v1/memory/:id/enable", h.EnableMemory)
	r.PATCH("/v1/memory/:id/disable", h.DisableMemory)
	r.DELETE("/v1/memory/:id", h.DeleteMemory)
	return r
}

func TestAddMemory(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	var gotSource string
	var gotConfidence float64
	mocks.memory.AddFunc = func(ctx context.Context, sessionID, content, source, category string, confidence float64) (*datatypes.Memory, error) {
		gotSource, gotConfidence = source, confidence
		return &datatypes.Memory{ID: "mem-1", SessionID: sessionID, Content: content,
			Source: source, Category: category, Confidence: confidence, Enabled: true}, nil
	}

	rec := doJSON(t, memoryRouter(h), http.MethodPost, "/v1/memory",
		map[string]any{"session_id": "sess-1", "content": "prefers dark mode"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var mem datatypes.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mem))
	assert.Equal(t, "mem-1", mem.ID)
	assert.Equal(t, datatypes.MemorySourceManual, gotSource)

	// Omitted confidence defaults to full trust.
	assert.Equal(t, 1.0, gotConfidence)
}

func TestAddMemory_MissingContent(t *testing.T) {
	h, _ := newFullTestHandlers(t)
	rec := doJSON(t, memoryRouter(h), http.MethodPost, "/v1/memory",
		map[string]any{"session_id": "sess-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMemory_MissingSession(t *testing.T) {
	h, _ := newFullTestHandlers(t)
	rec := doJSON(t, memoryRouter(h), http.MethodGet, "/v1/memory", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMemory_CategoryFilter(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	var gotCategory string
	mocks.memory.ListByCategoryFunc = func(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error) {
		gotCategory = category
		return []datatypes.Memory{{ID: "mem-1", SessionID: sessionID, Category: category}}, nil
	}

	rec := doJSON(t, memoryRouter(h), http.MethodGet,
		"/v1/memory?session_id=sess-1&category=important", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "important", gotCategory)

	var resp struct {
		Memories []datatypes.Memory `json:"memories"`
		Count    int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestSearchMemory(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	var gotQuery string
	var gotLimit int
	mocks.memory.SearchFunc = func(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error) {
		gotQuery, gotLimit = query, limit
		return []datatypes.Memory{{ID: "mem-1", Content: "dark mode"}}, nil
	}

	rec := doJSON(t, memoryRouter(h), http.MethodGet,
		"/v1/memory/search?session_id=sess-1&q=theme&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "theme", gotQuery)
	assert.Equal(t, 5, gotLimit)
}

func TestSearchMemory_MissingQuery(t *testing.T) {
	h, _ := newFullTestHandlers(t)
	rec := doJSON(t, memoryRouter(h), http.MethodGet, "/v1/memory/search?session_id=sess-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMemory_BadLimit(t *testing.T) {
	h, _ := newFullTestHandlers(t)
	rec := doJSON(t, memoryRouter(h), http.MethodGet,
		"/v1/memory/search?session_id=sess-1&q=theme&limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnableMemory_NotFound(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	mocks.memory.SetEnabledFunc = func(ctx context.Context, memoryID string, enabled bool) error {
		return &datatypes.NotFoundError{Kind: "memory", ID: memoryID}
	}

	rec := doJSON(t, memoryRouter(h), http.MethodPatch, "/v1/memory/missing/enable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisableMemory(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	var gotEnabled bool
	mocks.memory.SetEnabledFunc = func(ctx context.Context, memoryID string, enabled bool) error {
		gotEnabled = enabled
		return nil
	}

	rec := doJSON(t, memoryRouter(h), http.MethodPatch, "/v1/memory/mem-1/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gotEnabled)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "updated", resp["status"])
	assert.Equal(t, false, resp["enabled"])
}

func TestDeleteMemory(t *testing.T) {
	h, _ := newFullTestHandlers(t)
	rec := doJSON(t, memoryRouter(h), http.MethodDelete, "/v1/memory/mem-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deleted", resp["status"])
	assert.Equal(t, "mem-1", resp["memory_id"])
}

func TestCompressMemory(t *testing.T) {
	h, mocks := newFullTestHandlers(t)
	mocks.memory.CompressFunc = func(ctx context.Context, sessionID string) (*datatypes.Memory, error) {
		return &datatypes.Memory{ID: "mem-sum", SessionID: sessionID,
			Source: datatypes.MemorySourceCompress}, nil
	}

	rec := doJSON(t, memoryRouter(h), http.MethodPost, "/v1/memory/compress",
		map[string]string{"session_id": "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "compressed", resp["status"])
}

func TestCompressMemory_NothingToCompress(t *testing.T) {
	h, _ := newFullTestHandlers(t)

	rec := doJSON(t, memoryRouter(h), http.MethodPost, "/v1/memory/compress",
		map[string]string{"session_id": "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "nothing_to_compress", resp["status"])
}
