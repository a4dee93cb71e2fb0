// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the chatd HTTP surface.
//
// # Description
//
// Each handler file covers one resource group (sessions, chat streaming,
// memory, files, rules, web, models). Handlers depend on narrow interfaces
// so tests can substitute fakes without a Weaviate or Ollama instance.
//
// # Assumptions
//
//   - Routes are registered by the routes package on a gin engine.
//   - All stores degrade with typed errors from the datatypes package.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/KodiakAI/KodiakChat/services/chatd/assembly"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/verification"
	"github.com/KodiakAI/KodiakChat/services/llm"
)

var tracer = otel.Tracer("kodiak.chatd.handlers")

// ConversationStore persists sessions and messages.
type ConversationStore interface {
	CreateSession(ctx context.Context, title string) (*datatypes.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*datatypes.ChatSession, error)
	ListSessions(ctx context.Context) ([]datatypes.ChatSession, error)
	RenameSession(ctx context.Context, sessionID, title string) error
	UpdateSessionRules(ctx context.Context, sessionID string, rules datatypes.RulesConfig) error
	TouchSession(ctx context.Context, sessionID string) error
	ReorderSessions(ctx context.Context, sessionIDs []string) error
	DeleteSession(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, msg *datatypes.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int, before int64) ([]datatypes.ChatMessage, error)
	LastAssistantMessage(ctx context.Context, sessionID string) (*datatypes.ChatMessage, error)
}

// ContextAssembler builds the augmented prompt for a turn.
type ContextAssembler interface {
	Assemble(ctx context.Context, userText, sessionID string) (*assembly.AssemblyResult, error)
}

// AnswerGuard runs post-hoc entity verification on a completed answer.
type AnswerGuard interface {
	Validate(ctx context.Context, answer string, contextBlocks, factualBlocks []string) []string
	AssessRisk(unverified []string) verification.GuardResult
	DetectUncertainty(sourceUsed string, confidence float64, responseText string) []verification.UncertaintyFlag
	ActiveStrategy() verification.Strategy
}

// MemoryManager is the long-term memory surface the handlers need.
type MemoryManager interface {
	Add(ctx context.Context, sessionID, content, source, category string, confidence float64) (*datatypes.Memory, error)
	SetEnabled(ctx context.Context, memoryID string, enabled bool) error
	Delete(ctx context.Context, memoryID string) error
	DeleteForSession(ctx context.Context, sessionID string) (int, error)
	ListAll(ctx context.Context, sessionID string) ([]datatypes.Memory, error)
	ListByCategory(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error)
	Search(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error)
	Compress(ctx context.Context, sessionID string) (*datatypes.Memory, error)
	AutoMemoryIfNeeded(ctx context.Context, sessionID, userText, assistantText string) (*datatypes.Memory, error)
}

// AttachmentStore persists extracted file text per session.
type AttachmentStore interface {
	Store(ctx context.Context, sessionID, filename, fileType, content string) (*datatypes.FileAttachment, error)
	Delete(ctx context.Context, sessionID, fileID string) error
	DeleteForSession(ctx context.Context, sessionID string) (int, error)
	ListAttachments(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error)
	ListMetadata(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error)
}

// ChunkIngestor splits attachment text into embedded memory chunks.
type ChunkIngestor interface {
	IngestChunks(ctx context.Context, sessionID, filename, content string) (int, error)
}

// WebSearcher runs provider-routed web search with quota accounting.
type WebSearcher interface {
	Search(ctx context.Context, sessionID, query string, limit int, rules datatypes.RulesConfig) ([]datatypes.SearchResult, error)
	QuotaStatus(ctx context.Context) ([]datatypes.QuotaStatus, error)
}

// ModelCatalog lists generation models and names the active one.
type ModelCatalog interface {
	ActiveModel() string
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// ClientFactory returns a generation client for the requested model. An
// empty model selects the configured default.
type ClientFactory func(model string) (llm.LLMClient, error)

// Deps collects everything the handler set needs. Store, Assembler, Guard,
// NewClient, and Config are required.
type Deps struct {
	Store     ConversationStore
	Assembler ContextAssembler
	Guard     AnswerGuard
	Memory    MemoryManager
	Files     AttachmentStore
	Ingestor  ChunkIngestor
	Web       WebSearcher
	Models    ModelCatalog
	NewClient ClientFactory
	Config    *config.Config
	Logger    *slog.Logger
}

// Handlers holds the shared handler state.
type Handlers struct {
	store     ConversationStore
	assembler ContextAssembler
	guard     AnswerGuard
	memory    MemoryManager
	files     AttachmentStore
	ingestor  ChunkIngestor
	web       WebSearcher
	models    ModelCatalog
	newClient ClientFactory
	cfg       *config.Config
	logger    *slog.Logger

	// Global default rules are process state. Sessions snapshot them at
	// creation; the persistent copy lives in each session's rules blob.
	rulesMu     sync.RWMutex
	globalRules datatypes.RulesConfig
}

// New validates deps and builds the handler set.
func New(deps Deps) (*Handlers, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("context assembler is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("answer guard is required")
	}
	if deps.NewClient == nil {
		return nil, fmt.Errorf("client factory is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{
		store:       deps.Store,
		assembler:   deps.Assembler,
		guard:       deps.Guard,
		memory:      deps.Memory,
		files:       deps.Files,
		ingestor:    deps.Ingestor,
		web:         deps.Web,
		models:      deps.Models,
		newClient:   deps.NewClient,
		cfg:         deps.Config,
		logger:      deps.Logger,
		globalRules: datatypes.DefaultRules(),
	}, nil
}

// GlobalRules returns a copy of the process-wide default rules.
func (h *Handlers) GlobalRules() datatypes.RulesConfig {
	h.rulesMu.RLock()
	defer h.rulesMu.RUnlock()
	return h.globalRules
}

// SetGlobalRules replaces the process-wide default rules.
func (h *Handlers) SetGlobalRules(rules datatypes.RulesConfig) {
	h.rulesMu.Lock()
	defer h.rulesMu.Unlock()
	h.globalRules = rules
}
