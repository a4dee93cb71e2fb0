// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory stores and retrieves long-term memories per session.
//
// # Description
//
// Memories are short facts and preferences persisted in the MemoryChunk
// class with an embedding computed exactly once at creation. Retrieval
// uses nearVector search; the raw certainty Weaviate returns is mapped
// back to cosine similarity before the score threshold is applied, so the
// threshold means the same thing as a direct cosine comparison.
//
// # Assumptions
//
//   - The MemoryChunk class exists with vectorizer "none"; every stored
//     object carries a client-supplied vector.
//   - A memory stored without a vector (embedder outage) is listable but
//     unreachable by semantic search.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakChat/pkg/textutil"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/llm"
)

var tracer = otel.Tracer("kodiak.chatd.memory")

const (
	classMemory = "MemoryChunk"

	// listMax bounds listing queries; a session accumulates at most a few
	// hundred memories before compression.
	listMax = 500

	// searchCandidates bounds how many vectors one search scores.
	searchCandidates = 200

	// defaultConfidence is assigned when the caller does not supply one.
	defaultConfidence = 0.8

	// Auto-memory trigger floors. Turns shorter than these carry nothing
	// worth keeping.
	autoMinAssistantChars    = 20
	autoMinConversationChars = 60
)

var memoryFields = []graphql.Field{
	{Name: "memory_id"},
	{Name: "session_id"},
	{Name: "content"},
	{Name: "category"},
	{Name: "source"},
	{Name: "confidence"},
	{Name: "enabled"},
	{Name: "deprecated"},
	{Name: "created_at"},
	{Name: "last_referenced_at"},
	{Name: "_additional { id certainty }"},
}

// Summarizer produces one-shot completions for memory compression and
// auto-memory synthesis.
type Summarizer interface {
	Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error)
}

// Service manages the memory lifecycle for chat sessions.
type Service struct {
	client     *weaviate.Client
	embedder   datatypes.Embedder
	summarizer Summarizer
	cfg        *config.Config
	logger     *slog.Logger
}

// NewService creates a memory service. The summarizer may be nil; compress
// and auto-memory then report an error instead of synthesizing.
func NewService(client *weaviate.Client, embedder datatypes.Embedder, summarizer Summarizer, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:     client,
		embedder:   embedder,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// ===== Writes =====

// Add stores a new memory with a freshly computed embedding.
func (s *Service) Add(ctx context.Context, sessionID, content, source, category string, confidence float64) (*datatypes.Memory, error) {
	ctx, span := tracer.Start(ctx, "memory.Add")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &datatypes.ValidationError{Field: "content", Message: "content cannot be empty"}
	}
	if len(content) > s.cfg.MemoryContentMax {
		content = content[:s.cfg.MemoryContentMax]
	}
	if source == "" {
		source = datatypes.MemorySourceManual
	}
	if category == "" {
		category = "other"
	}
	if confidence <= 0 {
		confidence = defaultConfidence
	}
	confidence = clamp01(confidence)

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding memory content: %w", err)
	}

	now := time.Now().UnixMilli()
	mem := &datatypes.Memory{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		Content:          content,
		Category:         category,
		Source:           source,
		Confidence:       confidence,
		Enabled:          true,
		CreatedAt:        now,
		LastReferencedAt: now,
		Vector:           vector,
	}

	props := datatypes.MemoryChunkProperties{
		MemoryID:         mem.ID,
		SessionID:        mem.SessionID,
		Content:          mem.Content,
		Category:         mem.Category,
		Source:           mem.Source,
		Confidence:       mem.Confidence,
		Enabled:          true,
		Deprecated:       false,
		CreatedAt:        mem.CreatedAt,
		LastReferencedAt: mem.LastReferencedAt,
	}

	_, err = s.client.Data().Creator().
		WithClassName(classMemory).
		WithProperties(props.ToMap()).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory create failed")
		return nil, fmt.Errorf("storing memory: %w", err)
	}

	span.SetAttributes(attribute.String("memory.id", mem.ID))
	s.logger.Info("memory added",
		"session_id", sessionID,
		"source", source,
		"category", category,
		"preview", textutil.Preview(content, 60, ""))
	return mem, nil
}

// AddSynthesized stores a system-generated memory. Unlike Add, an embedding
// failure degrades to storing the memory without a vector rather than
// failing the caller's turn.
func (s *Service) AddSynthesized(ctx context.Context, sessionID, content, source, category string, confidence float64) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &datatypes.ValidationError{Field: "content", Message: "content cannot be empty"}
	}
	if len(content) > s.cfg.MemoryContentMax {
		content = content[:s.cfg.MemoryContentMax]
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding synthesized memory failed, storing without vector", "error", err)
		vector = nil
	}

	now := time.Now().UnixMilli()
	props := datatypes.MemoryChunkProperties{
		MemoryID:         uuid.New().String(),
		SessionID:        sessionID,
		Content:          content,
		Category:         category,
		Source:           source,
		Confidence:       clamp01(confidence),
		Enabled:          true,
		Deprecated:       false,
		CreatedAt:        now,
		LastReferencedAt: now,
	}

	creator := s.client.Data().Creator().
		WithClassName(classMemory).
		WithProperties(props.ToMap())
	if vector != nil {
		creator = creator.WithVector(vector)
	}
	if _, err := creator.Do(ctx); err != nil {
		return fmt.Errorf("storing synthesized memory: %w", err)
	}

	s.logger.Info("synthesized memory added",
		"session_id", sessionID,
		"source", source,
		"preview", textutil.Preview(content, 60, ""))
	return nil
}

// SetEnabled toggles a memory without deleting it. Disabled memories stay
// listable but are excluded from search and context selection.
func (s *Service) SetEnabled(ctx context.Context, memoryID string, enabled bool) error {
	weaviateID, err := s.weaviateID(ctx, memoryID)
	if err != nil {
		return err
	}
	err = s.client.Data().Updater().
		WithMerge().
		WithClassName(classMemory).
		WithID(weaviateID).
		WithProperties(map[string]interface{}{"enabled": enabled}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("updating memory %s: %w", memoryID, err)
	}
	return nil
}

// Delete permanently removes one memory.
func (s *Service) Delete(ctx context.Context, memoryID string) error {
	weaviateID, err := s.weaviateID(ctx, memoryID)
	if err != nil {
		return err
	}
	err = s.client.Data().Deleter().
		WithClassName(classMemory).
		WithID(weaviateID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting memory %s: %w", memoryID, err)
	}
	return nil
}

// DeleteForSession removes every memory linked to a session. Called from
// session deletion so memories never outlive their session.
func (s *Service) DeleteForSession(ctx context.Context, sessionID string) (int, error) {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(classMemory).
		WithOutput("minimal").
		WithWhere(whereSessionID(sessionID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting memories for session %s: %w", sessionID, err)
	}
	deleted := 0
	if resp != nil && resp.Results != nil {
		deleted = int(resp.Results.Successful)
	}
	s.logger.Info("session memories deleted", "session_id", sessionID, "count", deleted)
	return deleted, nil
}

// ===== Reads =====

// ListAll returns every memory for a session, enabled or not, oldest first.
func (s *Service) ListAll(ctx context.Context, sessionID string) ([]datatypes.Memory, error) {
	return s.list(ctx, whereSessionID(sessionID))
}

// ListEnabled returns the active memories for a session, oldest first.
func (s *Service) ListEnabled(ctx context.Context, sessionID string) ([]datatypes.Memory, error) {
	return s.list(ctx, whereActive(sessionID))
}

// ListByCategory returns the active memories in one category, oldest first.
func (s *Service) ListByCategory(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			whereActive(sessionID),
			filters.Where().
				WithPath([]string{"category"}).
				WithOperator(filters.Equal).
				WithValueString(category),
		})
	return s.list(ctx, where)
}

func (s *Service) list(ctx context.Context, where *filters.WhereBuilder) ([]datatypes.Memory, error) {
	sortBy := graphql.Sort{Path: []string{"created_at"}, Order: graphql.Asc}

	result, err := s.client.GraphQL().Get().
		WithClassName(classMemory).
		WithFields(memoryFields...).
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(listMax).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("querying memories: %s", result.Errors[0].Message)
	}

	results, err := decodeMemoryResults(result.Data)
	if err != nil {
		return nil, err
	}

	memories := make([]datatypes.Memory, 0, len(results))
	for _, r := range results {
		memories = append(memories, memoryFromResult(r))
	}
	return memories, nil
}

// Search finds memories semantically similar to the query.
//
// # Description
//
// The query is embedded once and matched with nearVector against the
// session's active memories. Weaviate reports certainty in [0,1]; cosine
// similarity is recovered as 2*certainty-1 and compared against the score
// threshold. Results come back best first, truncated per item so one
// verbose memory cannot crowd out the rest of the context block.
//
// # Edge cases
//
//   - Empty query returns no results without touching the database.
//   - limit <= 0 falls back to the configured search limit.
//   - Embedding failure returns the error; the caller decides whether to
//     degrade.
func (s *Service) Search(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.cfg.MemorySearchLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(classMemory).
		WithFields(memoryFields...).
		WithWhere(whereActive(sessionID)).
		WithNearVector(nearVector).
		WithLimit(searchCandidates).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory search failed")
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("searching memories: %s", result.Errors[0].Message)
	}

	results, err := decodeMemoryResults(result.Data)
	if err != nil {
		return nil, err
	}

	matched := filterByScore(results, s.cfg.MemoryScoreThreshold)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	memories := make([]datatypes.Memory, 0, len(matched))
	for _, r := range matched {
		mem := memoryFromResult(r)
		mem.Content = truncateItem(mem.Content, s.cfg.MemoryMaxPerItem)
		memories = append(memories, mem)
	}

	span.SetAttributes(
		attribute.Int("memory.candidates", len(results)),
		attribute.Int("memory.returned", len(memories)),
	)
	s.logger.Debug("memory search complete",
		"session_id", sessionID,
		"candidates", len(results),
		"matched", len(matched),
		"returned", len(memories))
	return memories, nil
}

// ===== Compression and auto-memory =====

const compressPromptFormat = `Summarize the following memories into a concise,
structured long-term memory.
Do not lose important facts.
Do not add explanation.

Memories:
%s
`

// Compress merges a session's active memories into one summary memory and
// disables the originals. Needs at least two memories; with fewer it
// returns nil without changes.
func (s *Service) Compress(ctx context.Context, sessionID string) (*datatypes.Memory, error) {
	ctx, span := tracer.Start(ctx, "memory.Compress")
	defer span.End()

	if s.summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}

	memories, err := s.ListEnabled(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(memories) < 2 {
		return nil, nil
	}

	var lines []string
	for _, m := range memories {
		lines = append(lines, "- "+m.Content)
	}
	prompt := fmt.Sprintf(compressPromptFormat, strings.Join(lines, "\n"))

	summary, err := s.summarizer.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compression summary failed")
		return nil, fmt.Errorf("summarizing memories: %w", err)
	}

	// Disable originals only after the summary exists.
	for _, m := range memories {
		if err := s.SetEnabled(ctx, m.ID, false); err != nil {
			s.logger.Warn("disabling compressed memory failed", "memory_id", m.ID, "error", err)
		}
	}

	compressed, err := s.Add(ctx, sessionID, summary, datatypes.MemorySourceCompress, "other", defaultConfidence)
	if err != nil {
		return nil, err
	}
	s.logger.Info("memories compressed",
		"session_id", sessionID,
		"merged", len(memories))
	return compressed, nil
}

// ShouldRemember decides whether a finished turn is worth persisting.
// Explicit user signals win in both directions; otherwise length floors
// filter out trivial exchanges.
func (s *Service) ShouldRemember(userText, assistantText string) bool {
	if len(strings.TrimSpace(assistantText)) < autoMinAssistantChars {
		return false
	}
	if len(userText)+len(assistantText) < autoMinConversationChars {
		return false
	}

	normalized := strings.ToLower(strings.TrimSpace(userText))
	if strings.Contains(normalized, "dont remember") ||
		strings.Contains(normalized, "don't remember") {
		return false
	}
	for _, accept := range []string{"remember", "save this", "keep in mind"} {
		if strings.Contains(normalized, accept) {
			return true
		}
	}
	return true
}

const summarizePromptFormat = `Summarize the following content into a single concise fact.
Do NOT add explanation.

Content:
%s
`

// AutoMemoryIfNeeded synthesizes one memory from a completed turn. Errors
// are returned for logging but must never fail the turn that triggered it.
func (s *Service) AutoMemoryIfNeeded(ctx context.Context, sessionID, userText, assistantText string) (*datatypes.Memory, error) {
	if !s.ShouldRemember(userText, assistantText) {
		s.logger.Debug("auto memory criteria not met", "session_id", sessionID)
		return nil, nil
	}

	combined := fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)

	summary := ""
	if s.summarizer != nil {
		generated, err := s.summarizer.Generate(ctx, fmt.Sprintf(summarizePromptFormat, combined), llm.GenerationParams{})
		if err == nil {
			summary = strings.TrimSpace(generated)
		} else {
			s.logger.Warn("auto memory summarization failed, falling back to truncation", "error", err)
		}
	}
	if summary == "" {
		summary = textutil.Truncate(combined, s.cfg.MemoryContentMax, false)
	}

	return s.Add(ctx, sessionID, summary, datatypes.MemorySourceAuto, "preference_or_fact", defaultConfidence)
}

// ===== Helpers =====

func whereSessionID(sessionID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)
}

// whereActive selects memories that are enabled and not deprecated.
func whereActive(sessionID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			whereSessionID(sessionID),
			filters.Where().
				WithPath([]string{"enabled"}).
				WithOperator(filters.Equal).
				WithValueBoolean(true),
			filters.Where().
				WithPath([]string{"deprecated"}).
				WithOperator(filters.Equal).
				WithValueBoolean(false),
		})
}

func decodeMemoryResults(data any) ([]datatypes.MemoryChunkResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling memory query data: %w", err)
	}
	var resp struct {
		Get struct {
			MemoryChunk []datatypes.MemoryChunkResult `json:"MemoryChunk"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling memory query data: %w", err)
	}
	return resp.Get.MemoryChunk, nil
}

// memoryFromResult maps a query row to the API type. Missing enabled and
// deprecated flags default to active, matching rows written before those
// fields existed.
func memoryFromResult(r datatypes.MemoryChunkResult) datatypes.Memory {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	deprecated := false
	if r.Deprecated != nil {
		deprecated = *r.Deprecated
	}
	return datatypes.Memory{
		ID:               r.MemoryID,
		SessionID:        r.SessionID,
		Content:          r.Content,
		Category:         r.Category,
		Source:           r.Source,
		Confidence:       r.Confidence,
		Enabled:          enabled,
		Deprecated:       deprecated,
		CreatedAt:        r.CreatedAt,
		LastReferencedAt: r.LastReferencedAt,
	}
}

// filterByScore keeps results whose cosine similarity clears the
// threshold. Weaviate certainty is (cos+1)/2, so cos = 2*certainty-1.
// Rows without a certainty (no vector stored) never match.
func filterByScore(results []datatypes.MemoryChunkResult, threshold float64) []datatypes.MemoryChunkResult {
	var matched []datatypes.MemoryChunkResult
	for _, r := range results {
		if r.Additional.Certainty == nil {
			continue
		}
		cos := 2*float64(*r.Additional.Certainty) - 1
		if cos >= threshold {
			matched = append(matched, r)
		}
	}
	return matched
}

func truncateItem(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	return content[:maxChars] + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Service) weaviateID(ctx context.Context, memoryID string) (string, error) {
	where := filters.Where().
		WithPath([]string{"memory_id"}).
		WithOperator(filters.Equal).
		WithValueString(memoryID)

	result, err := s.client.GraphQL().Get().
		WithClassName(classMemory).
		WithFields(graphql.Field{Name: "_additional { id }"}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return "", fmt.Errorf("resolving memory %s: %s", memoryID, result.Errors[0].Message)
	}

	results, err := decodeMemoryResults(result.Data)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", &datatypes.NotFoundError{Kind: "memory", ID: memoryID}
	}
	return results[0].Additional.ID, nil
}
