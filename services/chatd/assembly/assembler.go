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
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/KodiakAI/KodiakChat/pkg/textutil"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

var tracer = otel.Tracer("kodiak.chatd.assembly")

var promptSeparator = strings.Repeat("=", 80)

// Assembler builds the augmented prompt for one chat turn.
type Assembler struct {
	cfg     *config.Config
	history HistoryProvider
	memory  MemorySearcher
	web     WebSearcher
	files   AttachmentLister
	logger  *slog.Logger
}

// NewAssembler wires the assembler. All dependencies are required except
// the logger.
func NewAssembler(cfg *config.Config, history HistoryProvider, memory MemorySearcher, web WebSearcher, files AttachmentLister, logger *slog.Logger) (*Assembler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if history == nil || memory == nil || web == nil || files == nil {
		return nil, fmt.Errorf("all source providers are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:     cfg,
		history: history,
		memory:  memory,
		web:     web,
		files:   files,
		logger:  logger,
	}, nil
}

// Assemble builds the system prompt, the augmented prompt, and the turn
// metadata for the given user text.
//
// # Description
//
// The pipeline: load session rules, strip any inline file from the
// message, collect stored attachments, extract URL content (which also
// seeds web search key points and is saved to memory), then fan the
// history, web, and memory builders out concurrently. Blocks are composed
// in a fixed order regardless of completion order: files first, then the
// follow-up primary context when active, then URL extraction, history,
// web, and memory. Confidence is aggregated from factual sources only.
//
// # Edge cases
//
//   - Empty or whitespace-only input returns an empty result, no error.
//   - Builder failures degrade the block to empty with a warning; the turn
//     never fails because one source did.
func (a *Assembler) Assemble(ctx context.Context, userText, sessionID string) (*AssemblyResult, error) {
	ctx, span := tracer.Start(ctx, "assembly.Assemble")
	defer span.End()

	userText = strings.TrimSpace(userText)
	if userText == "" {
		return &AssemblyResult{
			SourcesConsidered: map[string]float64{},
			SourceRelevance:   map[string]float64{},
			LoadedSources:     map[string]datatypes.LoadedSource{},
		}, nil
	}

	rules, custom := a.sessionRules(ctx, sessionID)
	limits := a.limitsFor(rules)

	systemPrompt := config.SystemInstructions
	if custom != "" {
		systemPrompt += "\n\nCUSTOM INSTRUCTIONS:\n" + custom
	}

	// Inline file, stored attachments.
	cleanText, inlineFile := ExtractInlineFile(userText)
	if inlineFile != nil {
		userText = cleanText
		a.logger.Info("inline file detected",
			"session_id", sessionID,
			"filename", inlineFile.Filename,
			"chars", inlineFile.Length)
	}
	fileInfos := a.collectFiles(ctx, sessionID, inlineFile)

	// Previous assistant answer for follow-up resolution.
	primaryAnswer := a.primaryAnswer(ctx, sessionID)

	// URL extraction runs before web search so its key points can seed the
	// search queries.
	extracted, keyPoints := a.extractURLContent(ctx, sessionID, userText, rules)

	// Concurrent source fan-out. Builders degrade instead of failing, so
	// the group never returns an error.
	var histBlock, webBlock, memBlock ContextBlock
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		histBlock = a.buildHistoryBlock(gctx, sessionID, limits)
		return nil
	})
	g.Go(func() error {
		if rules.WebSearchEnabled() {
			webBlock = a.buildWebBlock(gctx, sessionID, userText, keyPoints, limits, rules)
		} else {
			webBlock = ContextBlock{Source: SourceWeb, Warning: "Web search disabled"}
		}
		return nil
	})
	g.Go(func() error {
		memBlock = a.buildMemoryBlock(gctx, sessionID, userText, limits)
		return nil
	})
	_ = g.Wait()

	// Fixed composition order.
	var blocks []string
	var factualBlocks []string
	sourcesConsidered := make(map[string]float64)

	if extracted != "" {
		display := extracted
		if a.cfg.URLExtractMaxChars > 0 && len(display) > a.cfg.URLExtractMaxChars {
			display = display[:a.cfg.URLExtractMaxChars] + "\n[Truncated]"
		}
		block := ExtractContextHeader + "\n" + display
		blocks = append(blocks, block)
		factualBlocks = append(factualBlocks, block)
		sourcesConsidered[string(SourceURLExtract)] = config.ConfidenceURLExtract
	}

	if histBlock.Content != "" {
		blocks = append(blocks, histBlock.Content)
		sourcesConsidered[string(SourceHistory)] = histBlock.Confidence
	}
	if webBlock.Content != "" {
		blocks = append(blocks, webBlock.Content)
		factualBlocks = append(factualBlocks, webBlock.Content)
		sourcesConsidered[string(SourceWeb)] = webBlock.Confidence
	}
	if memBlock.Content != "" {
		blocks = append(blocks, memBlock.Content)
		factualBlocks = append(factualBlocks, memBlock.Content)
		sourcesConsidered[string(SourceMemory)] = memBlock.Confidence
	}

	// File blocks jump the queue: uploaded content is the primary source
	// of truth for the turn.
	var fileBlocks []string
	for _, f := range fileInfos {
		fb := buildFileBlock(f, limits)
		if fb.Content != "" {
			fileBlocks = append(fileBlocks, fb.Content)
			factualBlocks = append(factualBlocks, fb.Content)
			sourcesConsidered[string(SourceFile)] = fb.Confidence
		}
	}
	if len(fileBlocks) > 0 {
		blocks = append(fileBlocks, blocks...)
	}

	// Follow-up primary context sits right after the files (or first when
	// there are none).
	isFollowUp := false
	continuationHint := ""
	if rules.FollowUpEnabled && primaryAnswer != "" {
		isFollowUp = true
		continuationHint = ContinuationHintFollowUp
		fb := buildFollowUpBlock(primaryAnswer)
		insertAt := 0
		if len(fileBlocks) > 0 {
			insertAt = 1
		}
		blocks = append(blocks[:insertAt], append([]string{fb.Content}, blocks[insertAt:]...)...)
		a.logger.Info("follow-up mode active", "session_id", sessionID)
	}

	// Frozen source snapshot for the confidence cross-check and the
	// provenance metadata.
	webCount := metaInt(webBlock.Metadata, "results_count")
	memCount := metaInt(memBlock.Metadata, "items_count")
	_, hasWeb := sourcesConsidered[string(SourceWeb)]
	_, hasMem := sourcesConsidered[string(SourceMemory)]
	_, hasHist := sourcesConsidered[string(SourceHistory)]
	loadedSources := map[string]datatypes.LoadedSource{
		string(SourceFile):   {Available: len(fileInfos) > 0, Count: len(fileInfos)},
		string(SourceMemory): {Available: hasMem, Count: memCount},
		string(SourceWeb):    {Available: hasWeb, Count: webCount},
		"history":            {Available: hasHist},
		"follow_up":          {Available: isFollowUp},
	}

	sourceRelevance := make(map[string]float64)
	if _, ok := sourcesConsidered[string(SourceFile)]; ok {
		sourceRelevance[string(SourceFile)] = config.RelevanceFile
	}
	if hasMem {
		sourceRelevance[string(SourceMemory)] = config.RelevanceMemory
	}
	if hasWeb {
		sourceRelevance[string(SourceWeb)] = config.RelevanceWeb
	}
	if _, ok := sourcesConsidered[string(SourceURLExtract)]; ok {
		sourceRelevance[string(SourceURLExtract)] = config.RelevanceURLExtract
	}

	confidence := WeightedConfidence(sourcesConsidered, sourceRelevance, loadedSources)

	prompt := a.composePrompt(userText, continuationHint, blocks, sourcesConsidered, len(fileInfos), confidence)

	span.SetAttributes(
		attribute.Int("assembly.sources", len(sourcesConsidered)),
		attribute.Int("assembly.prompt_chars", len(prompt)),
		attribute.Float64("assembly.confidence", confidence),
	)
	a.logger.Info("prompt assembled",
		"session_id", sessionID,
		"chars", len(prompt),
		"sources", len(sourcesConsidered),
		"confidence", confidence)

	return &AssemblyResult{
		SystemPrompt:      systemPrompt,
		Prompt:            prompt,
		Query:             userText,
		SourcesConsidered: sourcesConsidered,
		SourceRelevance:   sourceRelevance,
		LoadedSources:     loadedSources,
		FactualBlocks:     factualBlocks,
		Confidence:        confidence,
		FollowUp:          isFollowUp,
		FileCount:         len(fileInfos),
		WebCount:          webCount,
		MemCount:          memCount,
	}, nil
}

// composePrompt renders the final prompt layout: continuation hint, context
// summary, the joined blocks, and the user query, hard-capped at the global
// prompt ceiling.
func (a *Assembler) composePrompt(userText, continuationHint string, blocks []string, sources map[string]float64, fileCount int, confidence float64) string {
	preview := userText
	ellipsis := ""
	if a.cfg.QueryPreviewMax > 0 && len(preview) > a.cfg.QueryPreviewMax {
		preview = preview[:a.cfg.QueryPreviewMax]
		ellipsis = "..."
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)

	summary := fmt.Sprintf("CONTEXT SUMMARY\nQuery: %s%s\nSources: %s\nFiles: %d\nConfidence: %.2f",
		preview, ellipsis, strings.Join(names, ", "), fileCount, confidence)

	context := "No context available."
	if len(blocks) > 0 {
		context = strings.Join(blocks, "\n\n")
	}

	prompt := fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s\n\n%s\n\n%s\n\nUSER QUERY: %s\n\nA:\n",
		continuationHint, promptSeparator, summary, promptSeparator, context, promptSeparator, userText)

	if a.cfg.PromptMaxTotal > 0 && len(prompt) > a.cfg.PromptMaxTotal {
		prompt = prompt[:a.cfg.PromptMaxTotal] + "\n[Truncated]"
	}
	return prompt
}

// =============================================================================
// Pipeline steps
// =============================================================================

// sessionRules loads the per-session rules, falling back to defaults when
// the session cannot be loaded.
func (a *Assembler) sessionRules(ctx context.Context, sessionID string) (datatypes.RulesConfig, string) {
	session, err := a.history.GetSession(ctx, sessionID)
	if err != nil {
		a.logger.Warn("session rules unavailable, using defaults", "session_id", sessionID, "error", err)
		return datatypes.DefaultRules(), ""
	}
	return session.Rules, session.Rules.CustomInstructions
}

// limitsFor resolves the effective limits: nonzero session rule values
// override the configured defaults.
func (a *Assembler) limitsFor(rules datatypes.RulesConfig) contextLimits {
	limits := contextLimits{
		historyMessages: a.cfg.HistoryLimit,
		historyPerMsg:   a.cfg.HistoryMaxPerMsg,
		historyTotalMax: a.cfg.HistoryMaxTotal,
		memoryItems:     a.cfg.MemorySearchLimit,
		memoryTotalMax:  a.cfg.MemoryMaxTotal,
		webResults:      a.cfg.WebSearchLimit,
		webSnippetMax:   a.cfg.WebSnippetMax,
		webTotalMax:     a.cfg.WebTotalMax,
		webMaxQueries:   a.cfg.WebMaxQueries,
		fileMaxChars:    a.cfg.FileUploadMaxChars,
	}
	if rules.HistoryLimit > 0 {
		limits.historyMessages = rules.HistoryLimit
	}
	if rules.MemorySearchLimit > 0 {
		limits.memoryItems = rules.MemorySearchLimit
	}
	if rules.WebSearchLimit > 0 {
		limits.webResults = rules.WebSearchLimit
	}
	if rules.FileUploadMaxChars > 0 {
		limits.fileMaxChars = rules.FileUploadMaxChars
	}
	return limits
}

// collectFiles gathers the inline file plus stored attachments, inline
// first, de-duplicated by identity key.
func (a *Assembler) collectFiles(ctx context.Context, sessionID string, inline *FileInfo) []FileInfo {
	var files []FileInfo
	seen := make(map[string]bool)

	if inline != nil {
		seen[fmt.Sprintf("inline:%s:%d", inline.Filename, inline.Length)] = true
		files = append(files, *inline)
	}

	attachments, err := a.files.ListAttachments(ctx, sessionID)
	if err != nil {
		a.logger.Warn("failed to load file attachments", "session_id", sessionID, "error", err)
		return files
	}
	for _, att := range attachments {
		if att.Content == "" {
			continue
		}
		length := att.SizeChars
		if length == 0 {
			length = len(att.Content)
		}
		key := fmt.Sprintf("%s:%s:%d", att.ID, att.Filename, length)
		if seen[key] {
			continue
		}
		seen[key] = true
		files = append(files, FileInfo{
			ID:       att.ID,
			Filename: att.Filename,
			FileType: att.FileType,
			Content:  att.Content,
			Length:   length,
		})
	}
	return files
}

// primaryAnswer returns the most recent non-empty assistant answer.
func (a *Assembler) primaryAnswer(ctx context.Context, sessionID string) string {
	msg, err := a.history.LastAssistantMessage(ctx, sessionID)
	if err != nil {
		a.logger.Warn("failed to retrieve primary answer", "session_id", sessionID, "error", err)
		return ""
	}
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.Content)
}

// extractURLContent fetches content for URLs pasted into the message,
// derives key points for smart web search, and saves the extraction to
// memory for future turns. Never fails the turn.
func (a *Assembler) extractURLContent(ctx context.Context, sessionID, userText string, rules datatypes.RulesConfig) (string, []string) {
	extracted, err := a.web.Extract(ctx, sessionID, userText, rules)
	if err != nil {
		a.logger.Debug("url extraction failed", "session_id", sessionID, "error", err)
		return "", nil
	}
	if strings.TrimSpace(extracted) == "" {
		return "", nil
	}

	keyPoints := textutil.ExtractKeyPoints(extracted, a.cfg.ExtractKeyPointsMax)

	toSave := extracted
	if a.cfg.URLExtractMemoryChars > 0 && len(toSave) > a.cfg.URLExtractMemoryChars {
		toSave = toSave[:a.cfg.URLExtractMemoryChars]
	}
	if err := a.memory.AddSynthesized(ctx, sessionID, toSave,
		datatypes.MemorySourceURLExtraction, datatypes.MemoryCategoryImportant,
		config.ConfidenceURLExtract); err != nil {
		a.logger.Debug("failed to save url extraction to memory", "session_id", sessionID, "error", err)
	}

	a.logger.Info("url content extracted",
		"session_id", sessionID,
		"chars", len(extracted),
		"key_points", len(keyPoints))
	return extracted, keyPoints
}

func metaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	if v, ok := m[key].(int); ok {
		return v
	}
	return 0
}
