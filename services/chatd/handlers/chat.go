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
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KodiakAI/KodiakChat/services/chatd/assembly"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/observability"
	"github.com/KodiakAI/KodiakChat/services/chatd/verification"
	"github.com/KodiakAI/KodiakChat/services/llm"
)

// reasoningSystemPrompt frames the post-answer reasoning generation pass.
const reasoningSystemPrompt = "You are an AI assistant explaining your reasoning process. " +
	"Be clear, honest, and concise."

// StreamChat runs one full conversational turn over SSE.
//
// # Description
//
// The turn proceeds in phases: persist the user message, assemble context,
// stream the answer, verify entities against factual sources, optionally
// generate and stream a reasoning pass, persist the assistant message with
// full provenance, then emit the done event. The user message stays
// persisted even when a later phase fails.
//
// # Edge cases
//
//   - Missing content query parameter is a 400 before any SSE output.
//   - Generation failure emits a terminal error event; nothing is saved.
//   - Save failure after generation emits a terminal error event.
//   - Reasoning failure degrades to a placeholder, the turn still completes.
func (h *Handlers) StreamChat(c *gin.Context) {
	sessionID := c.Param("id")
	content := strings.TrimSpace(c.Query("content"))
	model := c.Query("model")

	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if _, err := h.store.GetSession(c.Request.Context(), sessionID); err != nil {
		if datatypes.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	SetSSEHeaders(c.Writer)
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()

	stopPing := startKeepAlive(c.Request.Context(), sse, h.cfg.SSEHeartbeat)
	defer stopPing()

	start := time.Now()
	status := "ok"
	if err := h.runTurn(c.Request.Context(), sse, sessionID, content, model, start); err != nil {
		status = "error"
		h.logger.Error("chat turn failed",
			"session_id", sessionID,
			"error", err)
	}
	observability.TurnsTotal.WithLabelValues(status).Inc()
	observability.TurnDuration.Observe(time.Since(start).Seconds())
}

// startKeepAlive pings the SSE stream until the returned stop function is
// called or ctx is cancelled. Pings are comments and never disturb the
// event hash chain.
func startKeepAlive(ctx context.Context, sse EventWriter, interval time.Duration) func() {
	if interval <= 0 {
		interval = keepAliveInterval
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := sse.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (h *Handlers) runTurn(ctx context.Context, sse EventWriter, sessionID, content, model string, start time.Time) error {
	ctx, span := tracer.Start(ctx, "handlers.runTurn",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	client, err := h.newClient(model)
	if err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Model unavailable"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "client construction failed")
		return err
	}

	// Step 1: persist the user message with the latest attachment preview.
	userMessageID := uuid.New().String()
	tracker := verification.NewTracker(sessionID, userMessageID)

	userMsg := &datatypes.ChatMessage{
		ID:        userMessageID,
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
	if name, preview := h.latestAttachmentPreview(ctx, sessionID); name != "" {
		userMsg.AttachmentName = name
		userMsg.AttachmentPreview = preview
	}
	if err := h.store.AppendMessage(ctx, userMsg); err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Save failed: " + err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "user message save failed")
		return err
	}
	tracker.LogStep("User message received and saved", "SAVE_MESSAGE", "database", 1.0,
		fmt.Sprintf("Message length: %d chars", len(content)))

	sse.WriteEvent(datatypes.EventStatus, map[string]any{"message": "Assembling context..."})

	// Step 2: assemble context from every enabled source.
	res, err := h.assembler.Assemble(ctx, content, sessionID)
	if err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Context assembly failed"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "assembly failed")
		return err
	}
	if len(res.SourcesConsidered) > 0 {
		names := sortedKeys(res.SourcesConsidered)
		tracker.LogStep("Context assembled from "+strings.Join(names, ", "),
			"BUILD_CONTEXT", "multi", 0.95,
			fmt.Sprintf("%d sources, confidence %.2f", len(names), res.Confidence))
		for _, name := range names {
			tracker.LogSourceEvaluation(name, res.SourcesConsidered[name])
		}
	}

	// Step 3: stream the answer into locked memory.
	acc := NewTokenAccumulator(h.logger)
	defer acc.Destroy()

	prompt := res.Prompt
	if res.SystemPrompt != "" {
		prompt = res.SystemPrompt + "\n\n" + res.Prompt
	}
	err = client.GenerateStream(ctx, prompt, llm.GenerationParams{}, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			if err := acc.Write(ev.Content); err != nil {
				return err
			}
			observability.TokensStreamed.WithLabelValues("answer").Inc()
			return sse.WriteEvent(datatypes.EventToken, map[string]any{"content": ev.Content})
		case llm.StreamEventError:
			return fmt.Errorf("generation stream error: %s", ev.Error)
		default:
			return nil
		}
	})
	if err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Generation failed"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return err
	}

	answer, contentHash, err := acc.Finalize()
	if err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Generation failed"})
		span.RecordError(err)
		return err
	}
	sse.WriteEvent(datatypes.EventAnswerComplete, map[string]any{
		"length":       len(answer),
		"content_hash": contentHash,
	})

	// Step 4: verify the completed answer against factual sources.
	sse.WriteEvent(datatypes.EventVerificationStarting,
		map[string]any{"message": "Verifying answer against sources..."})

	unverified := h.guard.Validate(ctx, answer, nil, res.FactualBlocks)
	tracker.LogStep("Validated answer for unverified claims", "VALIDATE_ENTITIES", "internal", 0.9,
		fmt.Sprintf("Found %d unverified items", len(unverified)))
	for _, entity := range topN(unverified, 3) {
		tracker.LogUncertainty("Unverified: " + entity)
	}

	guardEval := h.guard.AssessRisk(unverified)
	observability.VerificationRisk.WithLabelValues(string(guardEval.Risk)).Inc()

	confidence := res.Confidence
	if guardEval.Risk != verification.RiskNone {
		confidence = math.Min(confidence, guardEval.ConfidenceCap)
		tracker.LogUncertainty(fmt.Sprintf("Factual risk %s: confidence capped to %.2f",
			guardEval.Risk, guardEval.ConfidenceCap))
	}

	flags := h.guard.DetectUncertainty("combined", confidence, answer)
	flagTexts := make([]string, 0, len(flags))
	for _, f := range flags {
		flagTexts = append(flagTexts, f.Aspect)
	}
	for _, f := range topN(flagTexts, 3) {
		tracker.LogUncertainty(f)
	}

	sse.WriteEvent(datatypes.EventVerificationComplete, map[string]any{
		"risk_level":        string(guardEval.Risk),
		"unverified_count":  len(unverified),
		"confidence_cap":    guardEval.ConfidenceCap,
		"has_uncertainties": len(flags) > 0,
	})
	tracker.LogStep("Verified answer against factual sources", "VERIFY_ANSWER", "internal", 0.95,
		"Risk level: "+string(guardEval.Risk))

	// Step 5: optional reasoning pass.
	reasoningEnabled := h.sessionRules(ctx, sessionID).ReasoningEnabled
	reasoning := ""
	if reasoningEnabled {
		reasoning = h.generateReasoning(ctx, sse, client, reasoningInput{
			sessionID:  sessionID,
			userQuery:  content,
			answer:     answer,
			result:     res,
			confidence: confidence,
			unverified: len(unverified),
			risk:       string(guardEval.Risk),
		})
	}

	veto := verification.VetoResult{Level: verification.VetoNone, ConfidenceCap: 1.0, Reason: "Reasoning disabled"}
	if reasoningEnabled {
		veto = verification.AssessVeto(reasoning, confidence, answer)
	}

	chain := tracker.Finalize(answer, confidence, client.ModelName(), float64(time.Since(start).Milliseconds()))
	span.SetAttributes(
		attribute.String("verification.risk", string(guardEval.Risk)),
		attribute.Float64("turn.confidence", confidence),
		attribute.Int("reasoning.steps", len(chain.Steps)),
	)

	// Step 6: persist the assistant message with full provenance. Final
	// confidence takes the factual guard's cap; the veto is provenance only.
	meta := &datatypes.AssistantMeta{
		SourcesConsidered: res.SourcesConsidered,
		SourceRelevance:   res.SourceRelevance,
		LoadedSources:     res.LoadedSources,
		ConfidenceInitial: confidence,
		ConfidenceFinal:   confidence * guardEval.ConfidenceCap,
		FactualGuard: &datatypes.FactualGuardMeta{
			Risk:               string(guardEval.Risk),
			ConfidenceCap:      guardEval.ConfidenceCap,
			UnverifiedEntities: topN(unverified, 5),
		},
		UncertaintyFlags: topN(flagTexts, 5),
		ReasoningVeto: &datatypes.ReasoningVetoMeta{
			Level:          string(veto.Level),
			ConfidenceCap:  veto.ConfidenceCap,
			Reason:         veto.Reason,
			MatchedSignals: veto.MatchedSignals,
			ShouldRefuse:   veto.ShouldRefuse,
		},
		Reasoning:      reasoning,
		ReasoningChain: tracker.Summary(),
	}
	assistantMsg := &datatypes.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   strings.TrimSpace(answer),
		CreatedAt: time.Now().UnixMilli(),
		Meta:      meta,
	}
	if err := h.store.AppendMessage(ctx, assistantMsg); err != nil {
		sse.WriteEvent(datatypes.EventError, map[string]any{"message": "Save failed: " + err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "assistant message save failed")
		return err
	}

	// Auto-memory failures never fail the turn.
	if h.memory != nil {
		if mem, err := h.memory.AutoMemoryIfNeeded(ctx, sessionID, content, answer); err != nil {
			h.logger.Warn("auto-memory failed", "session_id", sessionID, "error", err)
		} else if mem != nil {
			observability.MemoryOpsTotal.WithLabelValues("auto").Inc()
		}
	}

	// Step 7: done event with the full provenance payload.
	return sse.WriteEvent(datatypes.EventDone, map[string]any{
		"source_used":         "combined",
		"sources_used":        sortedKeys(res.SourcesConsidered),
		"sources_considered":  res.SourcesConsidered,
		"source_relevance":    res.SourceRelevance,
		"loaded_sources":      res.LoadedSources,
		"reasoning_veto":      veto,
		"confidence_initial":  confidence,
		"confidence_final":    confidence * guardEval.ConfidenceCap,
		"factual_guard": map[string]any{
			"risk":                string(guardEval.Risk),
			"cap":                 guardEval.ConfidenceCap,
			"unverified_entities": topN(unverified, 5),
		},
		"uncertainty_flags":   topN(flagTexts, 5),
		"source_conflicts":    []string{},
		"reasoning_chain":     tracker.Summary(),
		"answer_length":       len(answer),
		"has_factual_content": res.HasFactualContent(),
	})
}

type reasoningInput struct {
	sessionID  string
	userQuery  string
	answer     string
	result     *assembly.AssemblyResult
	confidence float64
	unverified int
	risk       string
}

// generateReasoning streams the post-answer reasoning pass. Failures
// degrade to a placeholder string so the turn still completes.
func (h *Handlers) generateReasoning(ctx context.Context, sse EventWriter, client llm.LLMClient, in reasoningInput) string {
	sse.WriteEvent(datatypes.EventReasoningStarting,
		map[string]any{"message": "Generating reasoning..."})

	primaryAnswer := ""
	if in.result.FollowUp {
		if last, err := h.store.LastAssistantMessage(ctx, in.sessionID); err == nil && last != nil {
			primaryAnswer = last.Content
		}
	}
	prompt := assembly.BuildReasoningPrompt(assembly.ReasoningPromptInput{
		UserQuery:        in.userQuery,
		Answer:           in.answer,
		SourcesUsed:      in.result.SourcesConsidered,
		LoadedSources:    in.result.LoadedSources,
		Confidence:       in.confidence,
		UnverifiedCount:  in.unverified,
		Risk:             in.risk,
		FollowUp:         in.result.FollowUp,
		PrimaryAnswer:    primaryAnswer,
		AnswerExcerptMax: h.cfg.ReasoningExcerptMax,
	})
	prompt = reasoningSystemPrompt + "\n\n" + prompt

	var sb strings.Builder
	err := client.GenerateStream(ctx, prompt, llm.GenerationParams{}, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			sb.WriteString(ev.Content)
			observability.TokensStreamed.WithLabelValues("reasoning").Inc()
			return sse.WriteEvent(datatypes.EventReasoningToken, map[string]any{"content": ev.Content})
		case llm.StreamEventError:
			return fmt.Errorf("reasoning stream error: %s", ev.Error)
		default:
			return nil
		}
	})
	if err != nil {
		h.logger.Warn("reasoning generation failed",
			"session_id", in.sessionID, "error", err)
		return "[Reasoning generation failed]"
	}
	return sb.String()
}

// sessionRules loads the per-session rules, falling back to the process
// defaults when the session cannot be read.
func (h *Handlers) sessionRules(ctx context.Context, sessionID string) datatypes.RulesConfig {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return h.GlobalRules()
	}
	return session.Rules
}

// latestAttachmentPreview returns the newest attachment's filename and a
// truncated preview of its content. Lookup failures are soft.
func (h *Handlers) latestAttachmentPreview(ctx context.Context, sessionID string) (string, string) {
	if h.files == nil {
		return "", ""
	}
	atts, err := h.files.ListAttachments(ctx, sessionID)
	if err != nil {
		h.logger.Warn("attachment lookup failed", "session_id", sessionID, "error", err)
		return "", ""
	}
	if len(atts) == 0 {
		return "", ""
	}
	return atts[0].Filename, truncateRunes(atts[0].Content, datatypes.AttachmentPreviewChars)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
