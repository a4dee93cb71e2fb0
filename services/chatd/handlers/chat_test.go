// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/verification"
)

func streamRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/sessions/:id/stream", h.StreamChat)
	return r
}

func doStream(t *testing.T, h *Handlers, sessionID, content string) (*httptest.ResponseRecorder, []datatypes.StreamEvent) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/v1/sessions/%s/stream?content=%s", sessionID, url.QueryEscape(content)), nil)
	streamRouter(h).ServeHTTP(rec, req)
	return rec, parseSSEEvents(t, rec.Body.String())
}

func eventTypes(events []datatypes.StreamEvent) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Event)
	}
	return types
}

func TestStreamChat_FullTurn(t *testing.T) {
	h, store, _, _, client := newTestHandlers(t)

	rec, events := doStream(t, h, "s1", "What is the answer?")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	types := eventTypes(events)
	assert.Equal(t, []string{
		"status", "token", "token", "answer_complete",
		"verification_starting", "verification_complete", "done",
	}, types)

	// Hash chain spans the whole turn.
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash, "chain broken at event %d", i)
	}

	// Both messages persisted, user first.
	require.Len(t, store.appended, 2)
	assert.Equal(t, "user", store.appended[0].Role)
	assert.Equal(t, "What is the answer?", store.appended[0].Content)
	assert.Equal(t, "assistant", store.appended[1].Role)
	assert.Equal(t, "Hello, world.", store.appended[1].Content)

	meta := store.appended[1].Meta
	require.NotNil(t, meta)
	assert.Equal(t, 0.7, meta.ConfidenceInitial)
	require.NotNil(t, meta.FactualGuard)
	assert.Equal(t, "NONE", meta.FactualGuard.Risk)
	require.NotNil(t, meta.ReasoningVeto)
	assert.Equal(t, "none", meta.ReasoningVeto.Level)

	// Reasoning is disabled by default, so generation ran exactly once.
	assert.Equal(t, 1, client.calls)

	done := events[len(events)-1]
	assert.Equal(t, "combined", done.Data["source_used"])
	assert.Equal(t, float64(13), done.Data["answer_length"])
}

func TestStreamChat_RiskCapsConfidence(t *testing.T) {
	h, store, _, guard, _ := newTestHandlers(t)
	guard.unverified = []string{"Atlantis", "Elbonia"}
	guard.risk = verification.RiskMedium
	guard.cap = 0.6

	_, events := doStream(t, h, "s1", "Tell me about Atlantis")

	var verif *datatypes.StreamEvent
	for i := range events {
		if events[i].Event == "verification_complete" {
			verif = &events[i]
		}
	}
	require.NotNil(t, verif)
	assert.Equal(t, "MED", verif.Data["risk_level"])
	assert.Equal(t, float64(2), verif.Data["unverified_count"])
	assert.Equal(t, 0.6, verif.Data["confidence_cap"])

	require.Len(t, store.appended, 2)
	meta := store.appended[1].Meta
	require.NotNil(t, meta)
	assert.Equal(t, 0.6, meta.ConfidenceInitial, "confidence capped to the guard's limit")
	assert.Equal(t, []string{"Atlantis", "Elbonia"}, meta.FactualGuard.UnverifiedEntities)
}

func TestStreamChat_ReasoningPass(t *testing.T) {
	h, store, _, _, client := newTestHandlers(t)
	rules := datatypes.DefaultRules()
	rules.ReasoningEnabled = true
	store.GetSessionFunc = func(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
		return &datatypes.ChatSession{ID: sessionID, Rules: rules}, nil
	}

	_, events := doStream(t, h, "s1", "Why?")

	types := eventTypes(events)
	assert.Contains(t, types, "reasoning_starting")
	assert.Contains(t, types, "reasoning_token")
	assert.Equal(t, "done", types[len(types)-1])
	assert.Equal(t, 2, client.calls, "answer pass plus reasoning pass")

	require.Len(t, store.appended, 2)
	meta := store.appended[1].Meta
	require.NotNil(t, meta)
	assert.Equal(t, "Hello, world.", meta.Reasoning)
}

func TestStreamChat_HardVetoStaysDiagnostic(t *testing.T) {
	h, store, _, _, client := newTestHandlers(t)
	client.tokens = []string{"I cannot confirm this."}
	rules := datatypes.DefaultRules()
	rules.ReasoningEnabled = true
	store.GetSessionFunc = func(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
		return &datatypes.ChatSession{ID: sessionID, Rules: rules}, nil
	}

	_, events := doStream(t, h, "s1", "Is this true?")

	require.Len(t, store.appended, 2)
	meta := store.appended[1].Meta
	require.NotNil(t, meta)
	require.NotNil(t, meta.ReasoningVeto)
	assert.Equal(t, "hard", meta.ReasoningVeto.Level)
	assert.Equal(t, 0.0, meta.ReasoningVeto.ConfidenceCap)

	// The veto is recorded but never enforced: final confidence only
	// reflects the factual guard's cap.
	assert.Equal(t, 0.7, meta.ConfidenceInitial)
	assert.Equal(t, 0.7, meta.ConfidenceFinal)

	done := events[len(events)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, 0.7, done.Data["confidence_final"])
}

func TestStreamChat_MissingContent(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/stream", nil)
	streamRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChat_SessionNotFound(t *testing.T) {
	h, store, _, _, _ := newTestHandlers(t)
	store.GetSessionFunc = func(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
		return nil, &datatypes.NotFoundError{Kind: "session", ID: sessionID}
	}

	rec, _ := doStream(t, h, "missing", "hello")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamChat_GenerationFailure(t *testing.T) {
	h, store, _, _, client := newTestHandlers(t)
	client.tokens = nil
	client.streamErr = "model exploded"

	_, events := doStream(t, h, "s1", "hello")

	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, "error", types[len(types)-1])
	assert.NotContains(t, types, "done")

	// The user message survives the failed generation.
	require.Len(t, store.appended, 1)
	assert.Equal(t, "user", store.appended[0].Role)
}

func TestStreamChat_UserSaveFailure(t *testing.T) {
	h, store, _, _, _ := newTestHandlers(t)
	store.AppendMessageFunc = func(ctx context.Context, msg *datatypes.ChatMessage) error {
		return fmt.Errorf("weaviate down")
	}

	_, events := doStream(t, h, "s1", "hello")
	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, []string{"error"}, types, "nothing streams after a failed user save")
}
