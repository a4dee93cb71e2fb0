// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assembly builds the augmented prompt for a chat turn from the
// available context sources: uploaded files, extracted URLs, conversation
// history, semantic memory, and web search.
//
// # Description
//
// The Assembler fans source builders out concurrently, then composes the
// resulting blocks in a fixed order so the prompt layout never depends on
// which builder finished first. Files and URL extractions are factual
// sources and feed confidence aggregation and post-hoc verification;
// history and follow-up context are contextual only.
//
// # Assumptions
//
//   - Source builders never fail a turn. A builder that cannot produce
//     content returns an empty block with a warning, and the turn proceeds
//     with the sources that did load.
package assembly

import (
	"context"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// ContextSource identifies which retrieval path produced a context block.
type ContextSource string

const (
	SourceHistory    ContextSource = "history"
	SourceMemory     ContextSource = "memory"
	SourceWeb        ContextSource = "web"
	SourceFile       ContextSource = "file"
	SourceURLExtract ContextSource = "url-extract"
	SourceFollowUp   ContextSource = "follow-up"
)

// factualSources are the sources whose content can ground verifiable claims.
// History and follow-up context carry continuity, not evidence.
var factualSources = map[string]bool{
	string(SourceFile):       true,
	string(SourceMemory):     true,
	string(SourceWeb):        true,
	string(SourceURLExtract): true,
}

// IsFactualSource reports whether the named source counts as evidence for
// confidence aggregation and entity verification.
func IsFactualSource(name string) bool {
	return factualSources[name]
}

// ContextBlock is the output of a single source builder.
type ContextBlock struct {
	Source     ContextSource
	Content    string
	Confidence float64
	Metadata   map[string]any
	Warning    string
}

// FileInfo describes one file participating in the turn, either pasted
// inline or loaded from the attachment store.
type FileInfo struct {
	ID       string
	Filename string
	FileType string
	Content  string
	Length   int
}

// AssemblyResult is the complete output of one assembly pass.
type AssemblyResult struct {
	SystemPrompt string
	Prompt       string

	// Query is the user text with any inline file section stripped.
	Query string

	SourcesConsidered map[string]float64
	SourceRelevance   map[string]float64
	LoadedSources     map[string]datatypes.LoadedSource

	// FactualBlocks holds the raw content of factual source blocks for
	// post-hoc entity verification.
	FactualBlocks []string

	Confidence float64
	FollowUp   bool
	FileCount  int
	WebCount   int
	MemCount   int
}

// HasFactualContent reports whether any evidence-bearing source loaded.
func (r *AssemblyResult) HasFactualContent() bool {
	for name := range r.SourcesConsidered {
		if IsFactualSource(name) {
			return true
		}
	}
	return false
}

// =============================================================================
// Dependency contracts
// =============================================================================

// HistoryProvider supplies session state and message history.
// *conversation.Store satisfies this.
type HistoryProvider interface {
	GetSession(ctx context.Context, sessionID string) (*datatypes.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, limit int, before int64) ([]datatypes.ChatMessage, error)
	LastAssistantMessage(ctx context.Context, sessionID string) (*datatypes.ChatMessage, error)
}

// MemorySearcher supplies semantic memory recall for the turn.
type MemorySearcher interface {
	Search(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error)
	ListByCategory(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error)
	AddSynthesized(ctx context.Context, sessionID, content, source, category string, confidence float64) error
}

// WebSearcher supplies web search and URL content extraction.
type WebSearcher interface {
	Search(ctx context.Context, sessionID, query string, limit int, rules datatypes.RulesConfig) ([]datatypes.SearchResult, error)
	Extract(ctx context.Context, sessionID, text string, rules datatypes.RulesConfig) (string, error)
}

// AttachmentLister supplies stored file attachments for a session.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error)
}
