// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func GetChatSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatSession",
		Description: "One conversation session with its per-session rules.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the conversation session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "User-facing session title.",
				Tokenization: "word",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the session was created.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "updated_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the last activity. Rewritten on every message.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "rules_json",
				DataType:    []string{"text"},
				Description: "Serialized RulesConfig (provider toggles, limits, custom instructions).",
			},
			{
				Name:            "sort_order",
				DataType:        []string{"int"},
				Description:     "Manual ordering position. 0 = no manual position.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetChatMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatMessage",
		Description: "One append-only message within a session.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "message_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for this message.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The owning session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Message role: user or assistant.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The message body.",
				Tokenization: "word",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the message was appended.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "attachment_name",
				DataType:     []string{"text"},
				Description:  "Filename of an inline upload sent with this message.",
				Tokenization: "field",
			},
			{
				Name:        "attachment_preview",
				DataType:    []string{"text"},
				Description: "Truncated preview of the inline upload.",
			},
			{
				Name:        "meta_json",
				DataType:    []string{"text"},
				Description: "Serialized AssistantMeta provenance (assistant messages only).",
			},
		},
	}
}

func GetMemoryChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "MemoryChunk",
		Description: "One long-term memory entry with its embedding vector.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "memory_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for this memory.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The owning session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The memory text.",
				Tokenization: "word",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Category tag, e.g. 'important' or 'preference_or_fact'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Provenance: manual, auto, url_extraction, or compress.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "confidence",
				DataType:    []string{"number"},
				Description: "Confidence in [0,1] assigned at creation.",
			},
			{
				Name:            "enabled",
				DataType:        []string{"boolean"},
				Description:     "False soft-deletes the memory from search.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "deprecated",
				DataType:        []string{"boolean"},
				Description:     "True once a compressed summary supersedes this memory.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the memory was created.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "last_referenced_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the memory last matched a search.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetFileAttachmentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "FileAttachment",
		Description: "Extracted text of an uploaded file, scoped to a session.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "file_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for this attachment.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The owning session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "filename",
				DataType:     []string{"text"},
				Description:  "Original filename as uploaded.",
				Tokenization: "field",
			},
			{
				Name:            "file_type",
				DataType:        []string{"text"},
				Description:     "Detected type tag: PDF, Word, Text, Config, Code, or File.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "size_bytes",
				DataType:    []string{"int"},
				Description: "Byte size of the stored (possibly truncated) content.",
			},
			{
				Name:        "size_chars",
				DataType:    []string{"int"},
				Description: "Character length of the stored content.",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Extracted text, truncated to the attachment cap.",
				Tokenization: "word",
			},
			{
				Name:            "uploaded_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the file was uploaded.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "expires_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the attachment expires. 0 = never.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetProviderQuotaSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ProviderQuota",
		Description: "Usage counter for a paid web search provider.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "provider",
				DataType:        []string{"text"},
				Description:     "Provider name, e.g. tavily or serper.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "period",
				DataType:        []string{"text"},
				Description:     "Quota period key, e.g. '2026-08' for monthly or 'total'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "used",
				DataType:    []string{"int"},
				Description: "Calls consumed within the period.",
			},
		},
	}
}

func EnsureWeaviateSchema(client *weaviate.Client) {
	// A list of functions that return our schema definitions.
	schemaGetters := []func() *models.Class{
		GetChatSessionSchema,
		GetChatMessageSchema,
		GetMemoryChunkSchema,
		GetFileAttachmentSchema,
		GetProviderQuotaSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
