// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package files

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

const (
	ingestChunkSize    = 1000
	ingestChunkOverlap = ingestChunkSize / 10
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
	codeSeparators = []string{
		"\nfunction ", "\nclass ", "\ndef ", "\nfunc ", "\ntype ",
		"\n\n", "\n", " ", "",
	}
)

// Ingestor splits attachment content into chunks and stores each chunk in
// semantic memory so later turns can retrieve file facts by similarity
// instead of reloading the whole attachment.
type Ingestor struct {
	client   *weaviate.Client
	embedder datatypes.Embedder
	logger   *slog.Logger
}

// NewIngestor creates a chunk ingestor.
func NewIngestor(client *weaviate.Client, embedder datatypes.Embedder, logger *slog.Logger) (*Ingestor, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{client: client, embedder: embedder, logger: logger}, nil
}

// IngestChunks splits content per the filename's format, embeds each chunk,
// and batch-inserts the chunks as file-sourced memories. Chunk IDs are
// derived from the session and content, so re-ingesting the same file
// overwrites its previous chunks instead of duplicating them.
func (g *Ingestor) IngestChunks(ctx context.Context, sessionID, filename, content string) (int, error) {
	ctx, span := tracer.Start(ctx, "files.IngestChunks")
	defer span.End()

	chunks, err := splitterFor(filename).SplitText(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		return 0, fmt.Errorf("splitting %s: %w", filename, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := g.embedder.Embed(ctx, chunk)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return 0, fmt.Errorf("embedding chunk of %s: %w", filename, err)
		}

		hash := sha256.Sum256([]byte(sessionID + ":" + chunk))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		props := datatypes.MemoryChunkProperties{
			MemoryID:         chunkUUID.String(),
			SessionID:        sessionID,
			Content:          chunk,
			Category:         "other",
			Source:           datatypes.MemorySourceFile,
			Confidence:       config.ConfidenceFile,
			Enabled:          true,
			Deprecated:       false,
			CreatedAt:        now,
			LastReferencedAt: now,
		}
		objects = append(objects, &models.Object{
			Class:      "MemoryChunk",
			ID:         strfmt.UUID(chunkUUID.String()),
			Vector:     vector,
			Properties: props.ToMap(),
		})
	}

	resp, err := g.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch insert failed")
		return 0, fmt.Errorf("storing chunks of %s: %w", filename, err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				g.logger.Warn("chunk insert rejected", "filename", filename, "error", errItem.Message)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("files.chunks", len(chunks)),
		attribute.Int("files.chunks_created", created),
	)
	g.logger.Info("attachment chunks ingested",
		"session_id", sessionID,
		"filename", filename,
		"chunks", len(chunks),
		"created", created)
	return created, nil
}

// splitterFor picks separators suited to the file's format so chunks break
// on structural boundaries rather than mid-sentence.
func splitterFor(filename string) textsplitter.TextSplitter {
	var separators []string
	switch filepath.Ext(filename) {
	case ".md":
		separators = markdownSeparators
	case ".py", ".js", ".ts", ".go", ".java", ".cpp":
		separators = codeSeparators
	default:
		separators = defaultSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ingestChunkSize),
		textsplitter.WithChunkOverlap(ingestChunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}
