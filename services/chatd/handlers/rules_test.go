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

func rulesRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/rules", h.GetRules)
	r.PUT("/v1/rules", h.UpdateRules)
	r.GET("/v1/rules/client-config", h.GetClientConfig)
	r.GET("/v1/rules/:sessionId", h.GetSessionRules)
	r.PUT("/v1/rules/:sessionId", h.UpdateSessionRules)
	return r
}

func TestGlobalRules_Roundtrip(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)
	r := rulesRouter(h)

	rec := doJSON(t, r, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rules datatypes.RulesConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.True(t, rules.SearxNG, "defaults enable searxng")
	assert.False(t, rules.ReasoningEnabled)

	rules.ReasoningEnabled = true
	rules.WebSearchLimit = 7
	rec = doJSON(t, r, http.MethodPut, "/v1/rules", rules)
	require.Equal(t, http.StatusOK, rec.Code)

	updated := h.GlobalRules()
	assert.True(t, updated.ReasoningEnabled)
	assert.Equal(t, 7, updated.WebSearchLimit)
}

func TestSessionRules_UnknownSessionFallsBack(t *testing.T) {
	h, store, _, _, _ := newTestHandlers(t)
	store.GetSessionFunc = func(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
		return nil, &datatypes.NotFoundError{Kind: "session", ID: sessionID}
	}

	rec := doJSON(t, rulesRouter(h), http.MethodGet, "/v1/rules/missing", nil)
	require.Equal(t, http.StatusOK, rec.Code, "unknown session returns defaults, not 404")

	var rules datatypes.RulesConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.True(t, rules.DuckDuckGo)
}

func TestUpdateSessionRules(t *testing.T) {
	h, store, _, _, _ := newTestHandlers(t)
	var got datatypes.RulesConfig
	store.UpdateSessionRulesFunc = func(ctx context.Context, sessionID string, rules datatypes.RulesConfig) error {
		got = rules
		return nil
	}

	rules := datatypes.DefaultRules()
	rules.Tavily = true
	rec := doJSON(t, rulesRouter(h), http.MethodPut, "/v1/rules/s1", rules)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.Tavily)
}

func TestClientConfig(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := doJSON(t, rulesRouter(h), http.MethodGet, "/v1/rules/client-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		FileUpload struct {
			MaxSizeMB               int      `json:"maxSizeMB"`
			AllowedBinaryExtensions []string `json:"allowedBinaryExtensions"`
			MaxExtractChars         int      `json:"maxExtractChars"`
		} `json:"fileUpload"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, h.cfg.FileUploadMaxSizeMB, payload.FileUpload.MaxSizeMB)
	assert.Equal(t, h.cfg.FileUploadMaxChars, payload.FileUpload.MaxExtractChars)
	assert.Contains(t, payload.FileUpload.AllowedBinaryExtensions, ".pdf")
}
