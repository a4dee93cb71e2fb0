// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/KodiakAI/KodiakChat/services/chatd/assembly"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/verification"
	"github.com/KodiakAI/KodiakChat/services/llm"
)

// =============================================================================
// Mocks
// =============================================================================

// mockStore implements ConversationStore with overridable functions. The
// zero value answers every call with empty success.
type mockStore struct {
	CreateSessionFunc        func(ctx context.Context, title string) (*datatypes.ChatSession, error)
	GetSessionFunc           func(ctx context.Context, sessionID string) (*datatypes.ChatSession, error)
	ListSessionsFunc         func(ctx context.Context) ([]datatypes.ChatSession, error)
	RenameSessionFunc        func(ctx context.Context, sessionID, title string) error
	UpdateSessionRulesFunc   func(ctx context.Context, sessionID string, rules datatypes.RulesConfig) error
	TouchSessionFunc         func(ctx context.Context, sessionID string) error
	ReorderSessionsFunc      func(ctx context.Context, sessionIDs []string) error
	DeleteSessionFunc        func(ctx context.Context, sessionID string) error
	AppendMessageFunc        func(ctx context.Context, msg *datatypes.ChatMessage) error
	ListMessagesFunc         func(ctx context.Context, sessionID string, limit int, before int64) ([]datatypes.ChatMessage, error)
	LastAssistantMessageFunc func(ctx context.Context, sessionID string) (*datatypes.ChatMessage, error)

	appended []datatypes.ChatMessage
}

func (m *mockStore) CreateSession(ctx context.Context, title string) (*datatypes.ChatSession, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, title)
	}
	return &datatypes.ChatSession{ID: "new-session", Title: title, Rules: datatypes.DefaultRules()}, nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return &datatypes.ChatSession{ID: sessionID, Title: "test", Rules: datatypes.DefaultRules()}, nil
}

func (m *mockStore) ListSessions(ctx context.Context) ([]datatypes.ChatSession, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx)
	}
	return nil, nil
}

func (m *mockStore) RenameSession(ctx context.Context, sessionID, title string) error {
	if m.RenameSessionFunc != nil {
		return m.RenameSessionFunc(ctx, sessionID, title)
	}
	return nil
}

func (m *mockStore) UpdateSessionRules(ctx context.Context, sessionID string, rules datatypes.RulesConfig) error {
	if m.UpdateSessionRulesFunc != nil {
		return m.UpdateSessionRulesFunc(ctx, sessionID, rules)
	}
	return nil
}

func (m *mockStore) TouchSession(ctx context.Context, sessionID string) error {
	if m.TouchSessionFunc != nil {
		return m.TouchSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *mockStore) ReorderSessions(ctx context.Context, sessionIDs []string) error {
	if m.ReorderSessionsFunc != nil {
		return m.ReorderSessionsFunc(ctx, sessionIDs)
	}
	return nil
}

func (m *mockStore) DeleteSession(ctx context.Context, sessionID string) error {
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *mockStore) AppendMessage(ctx context.Context, msg *datatypes.ChatMessage) error {
	if m.AppendMessageFunc != nil {
		return m.AppendMessageFunc(ctx, msg)
	}
	m.appended = append(m.appended, *msg)
	return nil
}

func (m *mockStore) ListMessages(ctx context.Context, sessionID string, limit int, before int64) ([]datatypes.ChatMessage, error) {
	if m.ListMessagesFunc != nil {
		return m.ListMessagesFunc(ctx, sessionID, limit, before)
	}
	return nil, nil
}

func (m *mockStore) LastAssistantMessage(ctx context.Context, sessionID string) (*datatypes.ChatMessage, error) {
	if m.LastAssistantMessageFunc != nil {
		return m.LastAssistantMessageFunc(ctx, sessionID)
	}
	return nil, nil
}

// mockAssembler returns a canned assembly result.
type mockAssembler struct {
	result *assembly.AssemblyResult
	err    error
}

func (m *mockAssembler) Assemble(ctx context.Context, userText, sessionID string) (*assembly.AssemblyResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &assembly.AssemblyResult{
		SystemPrompt:      "system",
		Prompt:            "prompt",
		Query:             userText,
		SourcesConsidered: map[string]float64{"history": 0.6},
		SourceRelevance:   map[string]float64{"history": 0.6},
		LoadedSources:     map[string]datatypes.LoadedSource{"history": {Available: true, Count: 2}},
		Confidence:        0.7,
	}, nil
}

// mockGuard returns canned verification outcomes.
type mockGuard struct {
	unverified []string
	risk       verification.RiskLevel
	cap        float64
	flags      []verification.UncertaintyFlag
}

func (m *mockGuard) Validate(ctx context.Context, answer string, contextBlocks, factualBlocks []string) []string {
	return m.unverified
}

func (m *mockGuard) AssessRisk(unverified []string) verification.GuardResult {
	risk := m.risk
	confCap := m.cap
	if risk == "" {
		risk = verification.RiskNone
		confCap = 1.0
	}
	return verification.GuardResult{Risk: risk, ConfidenceCap: confCap, UnverifiedEntities: unverified}
}

func (m *mockGuard) DetectUncertainty(sourceUsed string, confidence float64, responseText string) []verification.UncertaintyFlag {
	return m.flags
}

func (m *mockGuard) ActiveStrategy() verification.Strategy {
	return verification.StrategyPattern
}

// mockLLM streams canned tokens.
type mockLLM struct {
	tokens    []string
	streamErr string
	calls     int
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	var out string
	for _, t := range m.tokens {
		out += t
	}
	return out, nil
}

func (m *mockLLM) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams, callback llm.StreamCallback) error {
	m.calls++
	for _, tok := range m.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	if m.streamErr != "" {
		return callback(llm.StreamEvent{Type: llm.StreamEventError, Error: m.streamErr})
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func (m *mockLLM) ModelName() string { return "test-model" }

// mockMemory implements MemoryManager with overridable functions. The zero
// value answers Add with an echo of its arguments and everything else with
// empty success.
type mockMemory struct {
	AddFunc              func(ctx context.Context, sessionID, content, source, category string, confidence float64) (*datatypes.Memory, error)
	SetEnabledFunc       func(ctx context.Context, memoryID string, enabled bool) error
	DeleteFunc           func(ctx context.Context, memoryID string) error
	DeleteForSessionFunc func(ctx context.Context, sessionID string) (int, error)
	ListAllFunc          func(ctx context.Context, sessionID string) ([]datatypes.Memory, error)
	ListByCategoryFunc   func(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error)
	SearchFunc           func(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error)
	CompressFunc         func(ctx context.Context, sessionID string) (*datatypes.Memory, error)
	AutoFunc             func(ctx context.Context, sessionID, userText, assistantText string) (*datatypes.Memory, error)
}

func (m *mockMemory) Add(ctx context.Context, sessionID, content, source, category string, confidence float64) (*datatypes.Memory, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, sessionID, content, source, category, confidence)
	}
	return &datatypes.Memory{
		ID: "mem-1", SessionID: sessionID, Content: content,
		Source: source, Category: category, Confidence: confidence, Enabled: true,
	}, nil
}

func (m *mockMemory) SetEnabled(ctx context.Context, memoryID string, enabled bool) error {
	if m.SetEnabledFunc != nil {
		return m.SetEnabledFunc(ctx, memoryID, enabled)
	}
	return nil
}

func (m *mockMemory) Delete(ctx context.Context, memoryID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, memoryID)
	}
	return nil
}

func (m *mockMemory) DeleteForSession(ctx context.Context, sessionID string) (int, error) {
	if m.DeleteForSessionFunc != nil {
		return m.DeleteForSessionFunc(ctx, sessionID)
	}
	return 0, nil
}

func (m *mockMemory) ListAll(ctx context.Context, sessionID string) ([]datatypes.Memory, error) {
	if m.ListAllFunc != nil {
		return m.ListAllFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockMemory) ListByCategory(ctx context.Context, sessionID, category string) ([]datatypes.Memory, error) {
	if m.ListByCategoryFunc != nil {
		return m.ListByCategoryFunc(ctx, sessionID, category)
	}
	return nil, nil
}

func (m *mockMemory) Search(ctx context.Context, sessionID, query string, limit int) ([]datatypes.Memory, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, sessionID, query, limit)
	}
	return nil, nil
}

func (m *mockMemory) Compress(ctx context.Context, sessionID string) (*datatypes.Memory, error) {
	if m.CompressFunc != nil {
		return m.CompressFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockMemory) AutoMemoryIfNeeded(ctx context.Context, sessionID, userText, assistantText string) (*datatypes.Memory, error) {
	if m.AutoFunc != nil {
		return m.AutoFunc(ctx, sessionID, userText, assistantText)
	}
	return nil, nil
}

// mockFiles implements AttachmentStore with overridable functions.
type mockFiles struct {
	StoreFunc            func(ctx context.Context, sessionID, filename, fileType, content string) (*datatypes.FileAttachment, error)
	DeleteFunc           func(ctx context.Context, sessionID, fileID string) error
	DeleteForSessionFunc func(ctx context.Context, sessionID string) (int, error)
	ListAttachmentsFunc  func(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error)
	ListMetadataFunc     func(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error)
}

func (m *mockFiles) Store(ctx context.Context, sessionID, filename, fileType, content string) (*datatypes.FileAttachment, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, sessionID, filename, fileType, content)
	}
	return &datatypes.FileAttachment{
		ID: "file-1", SessionID: sessionID, Filename: filename,
		FileType: fileType, SizeBytes: len(content), SizeChars: len(content),
	}, nil
}

func (m *mockFiles) Delete(ctx context.Context, sessionID, fileID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, sessionID, fileID)
	}
	return nil
}

func (m *mockFiles) DeleteForSession(ctx context.Context, sessionID string) (int, error) {
	if m.DeleteForSessionFunc != nil {
		return m.DeleteForSessionFunc(ctx, sessionID)
	}
	return 0, nil
}

func (m *mockFiles) ListAttachments(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error) {
	if m.ListAttachmentsFunc != nil {
		return m.ListAttachmentsFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockFiles) ListMetadata(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error) {
	if m.ListMetadataFunc != nil {
		return m.ListMetadataFunc(ctx, sessionID)
	}
	return nil, nil
}

// mockIngestor implements ChunkIngestor.
type mockIngestor struct {
	IngestChunksFunc func(ctx context.Context, sessionID, filename, content string) (int, error)
}

func (m *mockIngestor) IngestChunks(ctx context.Context, sessionID, filename, content string) (int, error) {
	if m.IngestChunksFunc != nil {
		return m.IngestChunksFunc(ctx, sessionID, filename, content)
	}
	return 0, nil
}

// mockWeb implements WebSearcher.
type mockWeb struct {
	SearchFunc      func(ctx context.Context, sessionID, query string, limit int, rules datatypes.RulesConfig) ([]datatypes.SearchResult, error)
	QuotaStatusFunc func(ctx context.Context) ([]datatypes.QuotaStatus, error)
}

func (m *mockWeb) Search(ctx context.Context, sessionID, query string, limit int, rules datatypes.RulesConfig) ([]datatypes.SearchResult, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, sessionID, query, limit, rules)
	}
	return nil, nil
}

func (m *mockWeb) QuotaStatus(ctx context.Context) ([]datatypes.QuotaStatus, error) {
	if m.QuotaStatusFunc != nil {
		return m.QuotaStatusFunc(ctx)
	}
	return nil, nil
}

// mockCatalog implements ModelCatalog.
type mockCatalog struct {
	active         string
	ListModelsFunc func(ctx context.Context) ([]llm.ModelInfo, error)
}

func (m *mockCatalog) ActiveModel() string {
	if m.active != "" {
		return m.active
	}
	return "test-model"
}

func (m *mockCatalog) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if m.ListModelsFunc != nil {
		return m.ListModelsFunc(ctx)
	}
	return []llm.ModelInfo{{Name: m.ActiveModel()}}, nil
}

// newTestHandlers wires the handler set with mocks. Callers mutate the
// returned mocks before issuing requests.
func newTestHandlers(t *testing.T) (*Handlers, *mockStore, *mockAssembler, *mockGuard, *mockLLM) {
	t.Helper()
	store := &mockStore{}
	asm := &mockAssembler{}
	guard := &mockGuard{}
	client := &mockLLM{tokens: []string{"Hello, ", "world."}}
	cfg := config.Default()

	h, err := New(Deps{
		Store:     store,
		Assembler: asm,
		Guard:     guard,
		NewClient: func(model string) (llm.LLMClient, error) { return client, nil },
		Config:    &cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, store, asm, guard, client
}

// fullMocks bundles the optional dependency mocks for tests that exercise
// memory, attachment, web, or model endpoints.
type fullMocks struct {
	store    *mockStore
	memory   *mockMemory
	files    *mockFiles
	ingestor *mockIngestor
	web      *mockWeb
	catalog  *mockCatalog
}

// newFullTestHandlers wires the handler set with every dependency mocked.
func newFullTestHandlers(t *testing.T) (*Handlers, *fullMocks) {
	t.Helper()
	mocks := &fullMocks{
		store:    &mockStore{},
		memory:   &mockMemory{},
		files:    &mockFiles{},
		ingestor: &mockIngestor{},
		web:      &mockWeb{},
		catalog:  &mockCatalog{},
	}
	cfg := config.Default()

	h, err := New(Deps{
		Store:     mocks.store,
		Assembler: &mockAssembler{},
		Guard:     &mockGuard{},
		Memory:    mocks.memory,
		Files:     mocks.files,
		Ingestor:  mocks.ingestor,
		Web:       mocks.web,
		Models:    mocks.catalog,
		NewClient: func(model string) (llm.LLMClient, error) { return &mockLLM{}, nil },
		Config:    &cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, mocks
}
