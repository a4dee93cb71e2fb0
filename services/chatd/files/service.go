// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package files handles uploaded file attachments: the decode boundary
// for raw uploads, the per-session attachment store, and chunk ingestion
// into semantic memory.
//
// # Description
//
// Attachments live in the FileAttachment class with their extracted text
// inline. Every attachment carries an expiry stamp; the ttl package purges
// expired rows on a schedule so stale uploads never accumulate.
//
// # Assumptions
//
//   - The FileAttachment class exists (see datatypes.EnsureWeaviateSchema).
//   - Content passed to Store has already been through the decode boundary
//     and the upload truncation cap.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

var tracer = otel.Tracer("kodiak.chatd.files")

const classAttachment = "FileAttachment"

var attachmentFields = []graphql.Field{
	{Name: "file_id"},
	{Name: "session_id"},
	{Name: "filename"},
	{Name: "file_type"},
	{Name: "size_bytes"},
	{Name: "size_chars"},
	{Name: "content"},
	{Name: "uploaded_at"},
	{Name: "expires_at"},
	{Name: "_additional { id }"},
}

// Store persists file attachments scoped to a session.
type Store struct {
	client *weaviate.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewStore creates an attachment store.
func NewStore(client *weaviate.Client, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

// ===== Writes =====

// Store saves an attachment for a session. Content beyond the attachment
// cap is cut silently; the upload path applies the user-visible truncation
// marker at a lower limit, so hitting this cap means something bypassed it.
func (s *Store) Store(ctx context.Context, sessionID, filename, fileType, content string) (*datatypes.FileAttachment, error) {
	ctx, span := tracer.Start(ctx, "files.Store")
	defer span.End()

	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, &datatypes.ValidationError{Field: "filename", Message: "filename cannot be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &datatypes.ValidationError{Field: "content", Message: "content cannot be empty"}
	}
	if fileType == "" {
		fileType = DetectFileType(filename)
	}
	if len(content) > s.cfg.FileAttachmentMaxChars {
		content = content[:s.cfg.FileAttachmentMaxChars]
		s.logger.Warn("attachment content cut to storage cap",
			"filename", filename,
			"max_chars", s.cfg.FileAttachmentMaxChars)
	}

	now := time.Now()
	att := &datatypes.FileAttachment{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Filename:   filename,
		FileType:   fileType,
		SizeBytes:  len(content),
		SizeChars:  len(content),
		Content:    content,
		UploadedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(s.cfg.FileAttachmentExpiry).UnixMilli(),
	}

	props := datatypes.FileAttachmentProperties{
		FileID:     att.ID,
		SessionID:  att.SessionID,
		Filename:   att.Filename,
		FileType:   att.FileType,
		SizeBytes:  att.SizeBytes,
		SizeChars:  att.SizeChars,
		Content:    att.Content,
		UploadedAt: att.UploadedAt,
		ExpiresAt:  att.ExpiresAt,
	}

	_, err := s.client.Data().Creator().
		WithClassName(classAttachment).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attachment create failed")
		return nil, fmt.Errorf("storing attachment %s: %w", filename, err)
	}

	span.SetAttributes(attribute.String("file.id", att.ID))
	s.logger.Info("attachment stored",
		"session_id", sessionID,
		"filename", filename,
		"file_type", fileType,
		"size_chars", att.SizeChars)
	return att, nil
}

// Delete removes one attachment, scoped to its session so a session
// cannot delete another session's files.
func (s *Store) Delete(ctx context.Context, sessionID, fileID string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"file_id"}).
				WithOperator(filters.Equal).
				WithValueString(fileID),
			filters.Where().
				WithPath([]string{"session_id"}).
				WithOperator(filters.Equal).
				WithValueString(sessionID),
		})

	weaviateID, err := s.resolveID(ctx, fileID, where)
	if err != nil {
		return err
	}
	err = s.client.Data().Deleter().
		WithClassName(classAttachment).
		WithID(weaviateID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting attachment %s: %w", fileID, err)
	}
	s.logger.Info("attachment deleted", "session_id", sessionID, "file_id", fileID)
	return nil
}

// DeleteForSession removes every attachment a session owns. Called from
// session deletion.
func (s *Store) DeleteForSession(ctx context.Context, sessionID string) (int, error) {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(classAttachment).
		WithOutput("minimal").
		WithWhere(whereSessionID(sessionID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting attachments for session %s: %w", sessionID, err)
	}
	deleted := 0
	if resp != nil && resp.Results != nil {
		deleted = int(resp.Results.Successful)
	}
	s.logger.Info("session attachments deleted", "session_id", sessionID, "count", deleted)
	return deleted, nil
}

// DeleteExpired removes attachments whose expiry stamp is before the given
// unix-millisecond cutoff. The ttl scheduler is the only caller.
func (s *Store) DeleteExpired(ctx context.Context, before int64) (int, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"expires_at"}).
				WithOperator(filters.GreaterThan).
				WithValueInt(0),
			filters.Where().
				WithPath([]string{"expires_at"}).
				WithOperator(filters.LessThan).
				WithValueInt(before),
		})

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(classAttachment).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting expired attachments: %w", err)
	}
	deleted := 0
	if resp != nil && resp.Results != nil {
		deleted = int(resp.Results.Successful)
	}
	return deleted, nil
}

// ===== Reads =====

// Get returns one attachment with its content.
func (s *Store) Get(ctx context.Context, fileID string) (*datatypes.FileAttachment, error) {
	where := filters.Where().
		WithPath([]string{"file_id"}).
		WithOperator(filters.Equal).
		WithValueString(fileID)

	result, err := s.client.GraphQL().Get().
		WithClassName(classAttachment).
		WithFields(attachmentFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving attachment %s: %w", fileID, err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("retrieving attachment %s: %s", fileID, result.Errors[0].Message)
	}

	results, err := decodeAttachmentResults(result.Data)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &datatypes.NotFoundError{Kind: "attachment", ID: fileID}
	}
	att := attachmentFromResult(results[0])
	return &att, nil
}

// ListAttachments returns a session's attachments with content, newest
// first. Context assembly reads the content directly from this list.
func (s *Store) ListAttachments(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error) {
	ctx, span := tracer.Start(ctx, "files.ListAttachments")
	defer span.End()

	result, err := s.client.GraphQL().Get().
		WithClassName(classAttachment).
		WithFields(attachmentFields...).
		WithWhere(whereSessionID(sessionID)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attachment list failed")
		return nil, fmt.Errorf("listing attachments for session %s: %w", sessionID, err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("listing attachments for session %s: %s", sessionID, result.Errors[0].Message)
	}

	results, err := decodeAttachmentResults(result.Data)
	if err != nil {
		return nil, err
	}

	attachments := make([]datatypes.FileAttachment, 0, len(results))
	for _, r := range results {
		attachments = append(attachments, attachmentFromResult(r))
	}
	sort.Slice(attachments, func(i, j int) bool {
		return attachments[i].UploadedAt > attachments[j].UploadedAt
	})

	span.SetAttributes(attribute.Int("files.count", len(attachments)))
	return attachments, nil
}

// ListMetadata returns a session's attachments without content, for the
// sidebar file list.
func (s *Store) ListMetadata(ctx context.Context, sessionID string) ([]datatypes.FileAttachment, error) {
	attachments, err := s.ListAttachments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range attachments {
		attachments[i].Content = ""
	}
	return attachments, nil
}

// ===== Helpers =====

func whereSessionID(sessionID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)
}

func decodeAttachmentResults(data any) ([]datatypes.FileAttachmentResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling attachment query data: %w", err)
	}
	var resp datatypes.FileAttachmentQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling attachment query data: %w", err)
	}
	return resp.Get.FileAttachment, nil
}

func attachmentFromResult(r datatypes.FileAttachmentResult) datatypes.FileAttachment {
	att := datatypes.FileAttachment{
		ID:         r.FileID,
		SessionID:  r.SessionID,
		Filename:   r.Filename,
		FileType:   r.FileType,
		Content:    r.Content,
		UploadedAt: r.UploadedAt,
		ExpiresAt:  r.ExpiresAt,
	}
	if r.SizeBytes != nil {
		att.SizeBytes = *r.SizeBytes
	}
	if r.SizeChars != nil {
		att.SizeChars = *r.SizeChars
	}
	return att
}

func (s *Store) resolveID(ctx context.Context, fileID string, where *filters.WhereBuilder) (string, error) {
	result, err := s.client.GraphQL().Get().
		WithClassName(classAttachment).
		WithFields(graphql.Field{Name: "_additional { id }"}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving attachment %s: %w", fileID, err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return "", fmt.Errorf("resolving attachment %s: %s", fileID, result.Errors[0].Message)
	}

	results, err := decodeAttachmentResults(result.Data)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", &datatypes.NotFoundError{Kind: "attachment", ID: fileID}
	}
	return results[0].Additional.ID, nil
}
