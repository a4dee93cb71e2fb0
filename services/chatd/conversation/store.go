// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists chat sessions and their message history
// in Weaviate.
//
// # Description
//
// The Store wraps a Weaviate client and provides CRUD operations over the
// ChatSession and ChatMessage classes. Sessions carry a per-session rules
// blob (stored as JSON text) and a manual sort order; messages carry an
// optional assistant metadata blob recording provenance for a completed
// turn.
//
// # Assumptions
//
//   - The ChatSession and ChatMessage classes exist (see
//     datatypes.EnsureWeaviateSchema).
//   - Session and message IDs are application-generated UUIDs stored as
//     properties; Weaviate object IDs are resolved internally when an
//     update or delete needs one.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

var tracer = otel.Tracer("kodiak.chatd.conversation")

const (
	classSession = "ChatSession"
	classMessage = "ChatMessage"

	// listSessionsMax bounds the session list query. The sidebar UI is the
	// only consumer and never pages.
	listSessionsMax = 500
)

var sessionFields = []graphql.Field{
	{Name: "session_id"},
	{Name: "title"},
	{Name: "created_at"},
	{Name: "updated_at"},
	{Name: "rules_json"},
	{Name: "sort_order"},
	{Name: "_additional { id }"},
}

var messageFields = []graphql.Field{
	{Name: "message_id"},
	{Name: "session_id"},
	{Name: "role"},
	{Name: "content"},
	{Name: "created_at"},
	{Name: "attachment_name"},
	{Name: "attachment_preview"},
	{Name: "meta_json"},
	{Name: "_additional { id }"},
}

// Store provides session and message persistence over Weaviate.
type Store struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewStore creates a conversation store backed by the given Weaviate client.
func NewStore(client *weaviate.Client, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}, nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a new session with the given title and default rules.
func (s *Store) CreateSession(ctx context.Context, title string) (*datatypes.ChatSession, error) {
	ctx, span := tracer.Start(ctx, "conversation.CreateSession")
	defer span.End()

	session := datatypes.NewChatSession(title)
	props := datatypes.ChatSessionProperties{
		SessionID: session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		RulesJSON: datatypes.MarshalRules(session.Rules),
		SortOrder: session.SortOrder,
	}

	_, err := s.client.Data().Creator().
		WithClassName(classSession).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session create failed")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	span.SetAttributes(attribute.String("session.id", session.ID))
	s.logger.Info("session created", "session_id", session.ID, "title", session.Title)
	return session, nil
}

// GetSession returns the session with the given ID, or a NotFoundError.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.ChatSession, error) {
	ctx, span := tracer.Start(ctx, "conversation.GetSession")
	defer span.End()

	result, err := s.client.GraphQL().Get().
		WithClassName(classSession).
		WithFields(sessionFields...).
		WithWhere(whereSessionID(sessionID)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql errors querying session: %v", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](result)
	if err != nil {
		return nil, err
	}
	if len(parsed.Get.ChatSession) == 0 {
		return nil, &datatypes.NotFoundError{Kind: "session", ID: sessionID}
	}
	return sessionFromResult(parsed.Get.ChatSession[0]), nil
}

// ListSessions returns all sessions. Sessions with a manual sort order come
// first in ascending order; the rest follow by most recently updated.
func (s *Store) ListSessions(ctx context.Context) ([]datatypes.ChatSession, error) {
	ctx, span := tracer.Start(ctx, "conversation.ListSessions")
	defer span.End()

	result, err := s.client.GraphQL().Get().
		WithClassName(classSession).
		WithFields(sessionFields...).
		WithLimit(listSessionsMax).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql errors listing sessions: %v", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](result)
	if err != nil {
		return nil, err
	}

	sessions := make([]datatypes.ChatSession, 0, len(parsed.Get.ChatSession))
	for _, r := range parsed.Get.ChatSession {
		sessions = append(sessions, *sessionFromResult(r))
	}

	sortSessions(sessions)
	span.SetAttributes(attribute.Int("sessions.count", len(sessions)))
	return sessions, nil
}

// RenameSession updates the session title and bumps updated_at.
func (s *Store) RenameSession(ctx context.Context, sessionID, title string) error {
	ctx, span := tracer.Start(ctx, "conversation.RenameSession")
	defer span.End()

	return s.mergeSession(ctx, sessionID, map[string]interface{}{
		"title":      title,
		"updated_at": datatypes.NowUnixMilli(),
	})
}

// UpdateSessionRules replaces the per-session rules configuration.
func (s *Store) UpdateSessionRules(ctx context.Context, sessionID string, rules datatypes.RulesConfig) error {
	ctx, span := tracer.Start(ctx, "conversation.UpdateSessionRules")
	defer span.End()

	return s.mergeSession(ctx, sessionID, map[string]interface{}{
		"rules_json": datatypes.MarshalRules(rules),
		"updated_at": datatypes.NowUnixMilli(),
	})
}

// TouchSession bumps the session's updated_at timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "conversation.TouchSession")
	defer span.End()

	return s.mergeSession(ctx, sessionID, map[string]interface{}{
		"updated_at": datatypes.NowUnixMilli(),
	})
}

// ReorderSessions assigns manual sort order 1..n following the given ID
// order. IDs that do not resolve to a session are skipped.
func (s *Store) ReorderSessions(ctx context.Context, sessionIDs []string) error {
	ctx, span := tracer.Start(ctx, "conversation.ReorderSessions")
	defer span.End()

	for i, id := range sessionIDs {
		err := s.mergeSession(ctx, id, map[string]interface{}{
			"sort_order": i + 1,
		})
		if err != nil {
			if datatypes.IsNotFoundError(err) {
				s.logger.Warn("reorder skipped unknown session", "session_id", id)
				continue
			}
			span.RecordError(err)
			return fmt.Errorf("failed to reorder session %s: %w", id, err)
		}
	}
	return nil
}

// DeleteSession removes the session object and all of its messages.
// Memories and file attachments belonging to the session are cascaded by
// their owning services.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "conversation.DeleteSession")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	// Messages first so a crash mid-delete leaves no orphans behind a
	// still-listed session.
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(classMessage).
		WithOutput("minimal").
		WithWhere(whereSessionID(sessionID)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message cascade failed")
		return fmt.Errorf("failed to delete messages for session %s: %w", sessionID, err)
	}

	_, err = s.client.Batch().ObjectsBatchDeleter().
		WithClassName(classSession).
		WithOutput("minimal").
		WithWhere(whereSessionID(sessionID)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session delete failed")
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// AppendMessage persists a message. Assistant metadata, when present, is
// stored as a JSON blob alongside the content.
func (s *Store) AppendMessage(ctx context.Context, msg *datatypes.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "conversation.AppendMessage")
	defer span.End()

	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	metaJSON := ""
	if msg.Meta != nil {
		blob, err := json.Marshal(msg.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal message meta: %w", err)
		}
		metaJSON = string(blob)
	}

	props := datatypes.ChatMessageProperties{
		MessageID:         msg.ID,
		SessionID:         msg.SessionID,
		Role:              msg.Role,
		Content:           msg.Content,
		CreatedAt:         msg.CreatedAt,
		AttachmentName:    msg.AttachmentName,
		AttachmentPreview: msg.AttachmentPreview,
		MetaJSON:          metaJSON,
	}

	_, err := s.client.Data().Creator().
		WithClassName(classMessage).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message create failed")
		return fmt.Errorf("failed to append message: %w", err)
	}

	span.SetAttributes(
		attribute.String("session.id", msg.SessionID),
		attribute.String("message.role", msg.Role),
	)
	return nil
}

// ListMessages returns messages for a session in ascending created_at order.
// When before is nonzero only messages strictly older than it are returned,
// which gives callers a simple backwards pagination cursor.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int, before int64) ([]datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "conversation.ListMessages")
	defer span.End()

	where := whereSessionID(sessionID)
	if before > 0 {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				whereSessionID(sessionID),
				filters.Where().
					WithPath([]string{"created_at"}).
					WithOperator(filters.LessThan).
					WithValueInt(before),
			})
	}

	// Newest-first query bounded by limit, then reversed so callers see
	// chronological order.
	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Desc,
	}

	query := s.client.GraphQL().Get().
		WithClassName(classMessage).
		WithFields(messageFields...).
		WithWhere(where).
		WithSort(sortBy)
	if limit > 0 {
		query = query.WithLimit(limit)
	}

	result, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql errors listing messages: %v", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return nil, err
	}

	msgs := make([]datatypes.ChatMessage, 0, len(parsed.Get.ChatMessage))
	for i := len(parsed.Get.ChatMessage) - 1; i >= 0; i-- {
		msgs = append(msgs, *messageFromResult(parsed.Get.ChatMessage[i]))
	}
	span.SetAttributes(attribute.Int("messages.count", len(msgs)))
	return msgs, nil
}

// LastAssistantMessage returns the most recent assistant message in the
// session, or nil when the session has none.
func (s *Store) LastAssistantMessage(ctx context.Context, sessionID string) (*datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "conversation.LastAssistantMessage")
	defer span.End()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			whereSessionID(sessionID),
			filters.Where().
				WithPath([]string{"role"}).
				WithOperator(filters.Equal).
				WithValueString(datatypes.RoleAssistant),
		})
	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Desc,
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classMessage).
		WithFields(messageFields...).
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query last assistant message: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("graphql errors querying last assistant message: %v", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return nil, err
	}
	if len(parsed.Get.ChatMessage) == 0 {
		return nil, nil
	}
	return messageFromResult(parsed.Get.ChatMessage[0]), nil
}

// =============================================================================
// Helpers
// =============================================================================

// mergeSession applies a partial property update to the session object.
func (s *Store) mergeSession(ctx context.Context, sessionID string, props map[string]interface{}) error {
	weaviateID, err := s.sessionWeaviateID(ctx, sessionID)
	if err != nil {
		return err
	}

	err = s.client.Data().Updater().
		WithClassName(classSession).
		WithID(weaviateID).
		WithProperties(props).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	return nil
}

// sessionWeaviateID resolves the Weaviate object ID for a session.
func (s *Store) sessionWeaviateID(ctx context.Context, sessionID string) (string, error) {
	result, err := s.client.GraphQL().Get().
		WithClassName(classSession).
		WithFields(graphql.Field{Name: "_additional { id }"}).
		WithWhere(whereSessionID(sessionID)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve session object ID: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return "", fmt.Errorf("graphql errors resolving session object ID: %v", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](result)
	if err != nil {
		return "", err
	}
	if len(parsed.Get.ChatSession) == 0 {
		return "", &datatypes.NotFoundError{Kind: "session", ID: sessionID}
	}
	return parsed.Get.ChatSession[0].Additional.ID, nil
}

// sortSessions orders pinned sessions (nonzero sort_order) first by that
// order, then the rest by most recently updated.
func sortSessions(sessions []datatypes.ChatSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		switch {
		case a.SortOrder > 0 && b.SortOrder > 0:
			return a.SortOrder < b.SortOrder
		case a.SortOrder > 0:
			return true
		case b.SortOrder > 0:
			return false
		default:
			return a.UpdatedAt > b.UpdatedAt
		}
	})
}

func whereSessionID(sessionID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)
}

func sessionFromResult(r datatypes.ChatSessionResult) *datatypes.ChatSession {
	session := &datatypes.ChatSession{
		ID:        r.SessionID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Rules:     datatypes.UnmarshalRules(r.RulesJSON),
	}
	if r.SortOrder != nil {
		session.SortOrder = *r.SortOrder
	}
	return session
}

func messageFromResult(r datatypes.ChatMessageResult) *datatypes.ChatMessage {
	msg := &datatypes.ChatMessage{
		ID:                r.MessageID,
		SessionID:         r.SessionID,
		Role:              r.Role,
		Content:           r.Content,
		CreatedAt:         r.CreatedAt,
		AttachmentName:    r.AttachmentName,
		AttachmentPreview: r.AttachmentPreview,
	}
	if r.MetaJSON != "" {
		var meta datatypes.AssistantMeta
		if err := json.Unmarshal([]byte(r.MetaJSON), &meta); err == nil {
			msg.Meta = &meta
		} else {
			slog.Warn("dropping unparseable message meta", "message_id", r.MessageID, "error", err)
		}
	}
	return msg
}
