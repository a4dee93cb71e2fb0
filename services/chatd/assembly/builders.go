// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembly

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// contextLimits are the per-turn limits after session rule overrides.
type contextLimits struct {
	historyMessages int
	historyPerMsg   int
	historyTotalMax int
	memoryItems     int
	memoryTotalMax  int
	webResults      int
	webSnippetMax   int
	webTotalMax     int
	webMaxQueries   int
	fileMaxChars    int
}

// =============================================================================
// History (contextual)
// =============================================================================

// buildHistoryBlock formats recent conversation turns as "ROLE: content"
// lines. History never contributes evidence, only continuity.
func (a *Assembler) buildHistoryBlock(ctx context.Context, sessionID string, limits contextLimits) ContextBlock {
	msgs, err := a.history.ListMessages(ctx, sessionID, limits.historyMessages, 0)
	if err != nil {
		a.logger.Warn("history builder failed", "session_id", sessionID, "error", err)
		return ContextBlock{Source: SourceHistory, Warning: err.Error()}
	}

	if len(msgs) == 0 {
		return ContextBlock{
			Source:   SourceHistory,
			Content:  HistoryContextHeader + "\nStatus: FIRST CONVERSATION",
			Metadata: map[string]any{"messages_count": 0, "first_conversation": true},
		}
	}

	// Messages arrive oldest first; the aggregate budget keeps the newest
	// when the block overflows.
	lines := make([]string, 0, len(msgs))
	totalChars := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		content := msgs[i].Content
		if limits.historyPerMsg > 0 && len(content) > limits.historyPerMsg {
			content = content[:limits.historyPerMsg]
		}
		line := strings.ToUpper(msgs[i].Role) + ": " + content
		if limits.historyTotalMax > 0 && len(lines) > 0 && totalChars+len(line) > limits.historyTotalMax {
			break
		}
		lines = append(lines, line)
		totalChars += len(line)
	}
	slices.Reverse(lines)

	return ContextBlock{
		Source:     SourceHistory,
		Content:    HistoryContextHeader + "\n" + strings.Join(lines, "\n"),
		Confidence: config.ConfidenceHistory,
		Metadata:   map[string]any{"messages_count": len(lines)},
	}
}

// =============================================================================
// Memory (factual)
// =============================================================================

// buildMemoryBlock combines always-included important memories with semantic
// search hits for the query, de-duplicated by ID.
func (a *Assembler) buildMemoryBlock(ctx context.Context, sessionID, query string, limits contextLimits) ContextBlock {
	var combined []datatypes.Memory
	seen := make(map[string]bool)

	important, err := a.memory.ListByCategory(ctx, sessionID, datatypes.MemoryCategoryImportant)
	if err != nil {
		a.logger.Warn("important memory lookup failed", "session_id", sessionID, "error", err)
	}
	for _, m := range important {
		if !seen[m.ID] {
			seen[m.ID] = true
			combined = append(combined, m)
		}
	}

	hits, err := a.memory.Search(ctx, sessionID, query, limits.memoryItems)
	if err != nil {
		a.logger.Warn("memory search failed", "session_id", sessionID, "error", err)
	}
	for _, m := range hits {
		if !seen[m.ID] {
			seen[m.ID] = true
			combined = append(combined, m)
		}
	}

	// Important memories lead and search hits follow in rank order, so the
	// aggregate budget drops the least relevant tail.
	lines := make([]string, 0, len(combined))
	totalChars := 0
	for _, m := range combined {
		if m.Content == "" {
			continue
		}
		category := strings.ToUpper(m.Category)
		if category == "" {
			category = "OTHER"
		}
		source := strings.ToUpper(m.Source)
		if source == "" {
			source = "MANUAL"
		}
		line := fmt.Sprintf("[MEMORY: %s | %s] %s", category, source, m.Content)
		if limits.memoryTotalMax > 0 && len(lines) > 0 && totalChars+len(line) > limits.memoryTotalMax {
			break
		}
		lines = append(lines, line)
		totalChars += len(line)
	}

	if len(lines) == 0 {
		return ContextBlock{
			Source:     SourceMemory,
			Confidence: config.ConfidenceEmptyMem,
			Metadata:   map[string]any{"items_count": 0},
			Warning:    "No memories found",
		}
	}

	return ContextBlock{
		Source:     SourceMemory,
		Content:    MemoryContextHeader + "\n" + strings.Join(lines, "\n\n"),
		Confidence: config.ConfidenceMemory,
		Metadata: map[string]any{
			"items_count":     len(lines),
			"important_count": len(important),
		},
	}
}

// =============================================================================
// Web (factual)
// =============================================================================

// buildWebBlock searches the web for the user query plus up to two key
// points extracted from URL content, ranks the merged results, and formats
// "[provider] snippet" lines under the shared caps.
func (a *Assembler) buildWebBlock(ctx context.Context, sessionID, query string, keyPoints []string, limits contextLimits, rules datatypes.RulesConfig) ContextBlock {
	queries := []string{query}
	for i, kp := range keyPoints {
		if i >= 2 {
			break
		}
		queries = append(queries, kp)
	}
	if limits.webMaxQueries > 0 && len(queries) > limits.webMaxQueries {
		queries = queries[:limits.webMaxQueries]
	}

	var results []datatypes.SearchResult
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		res, err := a.web.Search(ctx, sessionID, q, limits.webResults, rules)
		if err != nil {
			a.logger.Debug("web search failed", "session_id", sessionID, "query", q, "error", err)
			continue
		}
		if len(res) > limits.webResults {
			res = res[:limits.webResults]
		}
		results = append(results, res...)
		if len(results) >= limits.webResults {
			break
		}
	}

	if len(results) == 0 {
		return ContextBlock{
			Source:     SourceWeb,
			Confidence: config.ConfidenceEmptyWeb,
			Metadata:   map[string]any{"results_count": 0},
			Warning:    "No web results",
		}
	}

	ranked := RankSearchResults(results, query)
	if len(ranked) > limits.webResults {
		ranked = ranked[:limits.webResults]
	}

	var lines []string
	providers := make(map[string]bool)
	totalChars := 0
	for _, res := range ranked {
		provider := res.Source
		if provider == "" {
			provider = "unknown"
		}
		providers[provider] = true

		snippet := res.Snippet
		if limits.webSnippetMax > 0 && len(snippet) > limits.webSnippetMax {
			snippet = snippet[:limits.webSnippetMax]
		}
		if limits.webTotalMax > 0 && totalChars+len(snippet) > limits.webTotalMax {
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", provider, snippet))
		totalChars += len(snippet)
	}

	if len(lines) == 0 {
		return ContextBlock{
			Source:     SourceWeb,
			Confidence: config.ConfidenceEmptyWeb,
			Metadata:   map[string]any{"results_count": 0},
			Warning:    "Web results too large",
		}
	}

	providerNames := make([]string, 0, len(providers))
	for p := range providers {
		providerNames = append(providerNames, p)
	}

	return ContextBlock{
		Source:     SourceWeb,
		Content:    WebContextHeader + "\n" + strings.Join(lines, "\n\n"),
		Confidence: config.ConfidenceWeb,
		Metadata: map[string]any{
			"results_count": len(lines),
			"web_sources":   providerNames,
		},
	}
}

// =============================================================================
// Files (factual, highest priority)
// =============================================================================

// buildFileBlock formats one file for the prompt. File content is the
// primary source of truth for the turn, so the block closes with an
// explicit read instruction.
func buildFileBlock(file FileInfo, limits contextLimits) ContextBlock {
	if file.Content == "" {
		return ContextBlock{Source: SourceFile, Warning: "File has no content"}
	}

	content := file.Content
	if limits.fileMaxChars > 0 && len(content) > limits.fileMaxChars {
		content = content[:limits.fileMaxChars] + "\n[Truncated]"
	}

	fileType := file.FileType
	if fileType == "" {
		fileType = "unknown"
	}

	formatted := fmt.Sprintf("UPLOADED FILE: %s\nType: %s\nSize: %d characters\n\n%s\n\n%s",
		file.Filename, fileType, len(content), content, FileContextInstruction)

	return ContextBlock{
		Source:     SourceFile,
		Content:    formatted,
		Confidence: config.ConfidenceFile,
		Metadata:   map[string]any{"filename": file.Filename},
	}
}

// =============================================================================
// Follow-up (contextual)
// =============================================================================

// buildFollowUpBlock wraps the previous assistant answer as primary context
// for reference resolution. It contributes no confidence.
func buildFollowUpBlock(primaryAnswer string) ContextBlock {
	if primaryAnswer == "" {
		return ContextBlock{Source: SourceFollowUp, Warning: "No previous answer"}
	}
	return ContextBlock{
		Source:     SourceFollowUp,
		Content:    PrimaryContextHeader + "\n\n" + primaryAnswer,
		Confidence: config.ConfidenceFollowUp,
		Metadata:   map[string]any{"answer_length": len(primaryAnswer)},
	}
}
