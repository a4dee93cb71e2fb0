// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures for the chatd service.
//
// This file contains the persisted domain types (sessions, messages,
// memories, file attachments) and the request DTOs with validation.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxTitleBytes is the maximum size of a session title.
	MaxTitleBytes = 512

	// MaxMemoryContentBytes is the maximum size of a memory payload accepted
	// over the API. Stored memories are further truncated by config.
	MaxMemoryContentBytes = 16 * 1024

	// AttachmentPreviewChars is how much of an attachment is echoed into the
	// persisted user message for display purposes.
	AttachmentPreviewChars = 500
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chatd datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes to keep oversized payloads out of the store.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Domain Types
// =============================================================================

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatSession is one conversation with its per-session rules.
//
// # Description
//
// Sessions own their messages, memories, and file attachments: deleting a
// session cascade-deletes all three. Timestamps are Unix milliseconds.
// SortOrder carries the user's manual ordering; lower sorts first, zero
// means "no manual position" and falls back to UpdatedAt descending.
type ChatSession struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
	Rules     RulesConfig `json:"rules"`
	SortOrder int         `json:"sort_order,omitempty"`
}

// ChatMessage is a single turn entry. Messages are append-only and ordered
// by CreatedAt; they are never mutated after creation.
type ChatMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`

	// AttachmentName and AttachmentPreview record an inline upload the user
	// sent with this message. The preview is truncated; the full content
	// lives in FileAttachment.
	AttachmentName    string `json:"attachment_name,omitempty"`
	AttachmentPreview string `json:"attachment_preview,omitempty"`

	// Meta carries assistant provenance. Nil for user messages.
	Meta *AssistantMeta `json:"meta,omitempty"`
}

// AssistantMeta is the provenance record persisted with every assistant
// message: which sources were considered, at what confidence, and what the
// post-generation verification concluded.
type AssistantMeta struct {
	SourcesConsidered map[string]float64      `json:"sources_considered,omitempty"`
	SourceRelevance   map[string]float64      `json:"source_relevance,omitempty"`
	LoadedSources     map[string]LoadedSource `json:"loaded_sources,omitempty"`

	ConfidenceInitial float64 `json:"confidence_initial"`
	ConfidenceFinal   float64 `json:"confidence_final"`

	FactualGuard     *FactualGuardMeta `json:"factual_guard,omitempty"`
	UncertaintyFlags []string          `json:"uncertainty_flags,omitempty"`

	ReasoningVeto  *ReasoningVetoMeta `json:"reasoning_veto,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
	ReasoningChain map[string]any     `json:"reasoning_chain,omitempty"`
}

// LoadedSource records whether a source produced evidence and how much.
type LoadedSource struct {
	Available bool `json:"available"`
	Count     int  `json:"count"`
}

// FactualGuardMeta summarizes the entity grounding check for one answer.
type FactualGuardMeta struct {
	Risk               string   `json:"risk"`
	ConfidenceCap      float64  `json:"confidence_cap"`
	UnverifiedEntities []string `json:"unverified_entities,omitempty"`
}

// ReasoningVetoMeta summarizes the reasoning self-check for one answer.
type ReasoningVetoMeta struct {
	Level          string   `json:"level"`
	ConfidenceCap  float64  `json:"confidence_cap"`
	Reason         string   `json:"reason"`
	MatchedSignals []string `json:"matched_signals,omitempty"`
	ShouldRefuse   bool     `json:"should_refuse"`
}

// Memory is one long-term memory entry. The embedding is computed exactly
// once at creation and never recomputed for that instance.
type Memory struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	Category         string    `json:"category"`
	Source           string    `json:"source"`
	Confidence       float64   `json:"confidence"`
	Enabled          bool      `json:"enabled"`
	Deprecated       bool      `json:"deprecated"`
	CreatedAt        int64     `json:"created_at"`
	LastReferencedAt int64     `json:"last_referenced_at,omitempty"`
	Vector           []float32 `json:"-"`
}

// Memory provenance source tags.
const (
	MemorySourceManual        = "manual"
	MemorySourceAuto          = "auto"
	MemorySourceURLExtraction = "url_extraction"
	MemorySourceCompress      = "compress"
	MemorySourceFile          = "file"
)

// MemoryCategoryImportant marks memories merged into every assembly
// regardless of similarity score.
const MemoryCategoryImportant = "important"

// FileAttachment is one uploaded file's extracted text plus bookkeeping.
type FileAttachment struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	FileType  string `json:"file_type"`
	SizeBytes int    `json:"size_bytes"`
	SizeChars int    `json:"size_chars"`
	Content   string `json:"content,omitempty"`
	UploadedAt int64 `json:"uploaded_at"`
	ExpiresAt  int64 `json:"expires_at,omitempty"`
}

// =============================================================================
// Request DTOs
// =============================================================================

// CreateSessionRequest creates a new chat session.
type CreateSessionRequest struct {
	Title string `json:"title" validate:"required,max=512"`
}

// Validate validates the request fields.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// RenameSessionRequest renames an existing session.
type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,max=512"`
}

// Validate validates the request fields.
func (r *RenameSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ReorderSessionsRequest records the user's manual session ordering.
type ReorderSessionsRequest struct {
	SessionIDs []string `json:"session_ids" validate:"required,min=1,dive,required"`
}

// Validate validates the request fields.
func (r *ReorderSessionsRequest) Validate() error {
	return chatValidate.Struct(r)
}

// AddMemoryRequest stores a new long-term memory.
type AddMemoryRequest struct {
	SessionID  string  `json:"session_id" validate:"required"`
	Content    string  `json:"content" validate:"required,maxbytes"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// Validate validates the request fields.
func (r *AddMemoryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// CompressMemoryRequest merges a session's memories into one summary.
type CompressMemoryRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// Validate validates the request fields.
func (r *CompressMemoryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// AttachmentRequest stores extracted text against a session.
type AttachmentRequest struct {
	Filename string `json:"filename" validate:"required,max=512"`
	Content  string `json:"content" validate:"required"`
}

// Validate validates the request fields.
func (r *AttachmentRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Helpers
// =============================================================================

// generateUUID mints a v4 UUID string.
func generateUUID() string {
	return uuid.NewString()
}

// NowUnixMilli returns the current time in Unix milliseconds.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// NewChatSession constructs a session with defaults applied.
func NewChatSession(title string) *ChatSession {
	now := NowUnixMilli()
	return &ChatSession{
		ID:        generateUUID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Rules:     DefaultRules(),
	}
}

// NewChatMessage constructs a message with a fresh ID and timestamp.
func NewChatMessage(sessionID, role, content string) *ChatMessage {
	return &ChatMessage{
		ID:        generateUUID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: NowUnixMilli(),
	}
}
