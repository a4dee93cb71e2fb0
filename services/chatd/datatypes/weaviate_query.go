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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("ChatSession").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[ChatSessionQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, s := range parsed.Get.ChatSession {
//	    fmt.Println(s.SessionID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// ChatSessionQueryResponse represents the response from querying ChatSession.
type ChatSessionQueryResponse struct {
	Get struct {
		ChatSession []ChatSessionResult `json:"ChatSession"`
	} `json:"Get"`
}

// ChatSessionResult represents a single session from a query.
type ChatSessionResult struct {
	SessionID  string `json:"session_id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	RulesJSON  string `json:"rules_json"`
	SortOrder  *int   `json:"sort_order"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ChatMessageQueryResponse represents the response from querying ChatMessage.
type ChatMessageQueryResponse struct {
	Get struct {
		ChatMessage []ChatMessageResult `json:"ChatMessage"`
	} `json:"Get"`
}

// ChatMessageResult represents a single message from a query.
type ChatMessageResult struct {
	MessageID         string `json:"message_id"`
	SessionID         string `json:"session_id"`
	Role              string `json:"role"`
	Content           string `json:"content"`
	CreatedAt         int64  `json:"created_at"`
	AttachmentName    string `json:"attachment_name"`
	AttachmentPreview string `json:"attachment_preview"`
	MetaJSON          string `json:"meta_json"`
	Additional        struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// MemoryChunkQueryResponse represents the response from querying MemoryChunk.
type MemoryChunkQueryResponse struct {
	Get struct {
		MemoryChunk []MemoryChunkResult `json:"MemoryChunk"`
	} `json:"Get"`
}

// MemoryChunkResult represents a single memory from a query.
type MemoryChunkResult struct {
	MemoryID         string  `json:"memory_id"`
	SessionID        string  `json:"session_id"`
	Content          string  `json:"content"`
	Category         string  `json:"category"`
	Source           string  `json:"source"`
	Confidence       float64 `json:"confidence"`
	Enabled          *bool   `json:"enabled"`
	Deprecated       *bool   `json:"deprecated"`
	CreatedAt        int64   `json:"created_at"`
	LastReferencedAt int64   `json:"last_referenced_at"`
	Additional       struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// FileAttachmentQueryResponse represents the response from querying FileAttachment.
type FileAttachmentQueryResponse struct {
	Get struct {
		FileAttachment []FileAttachmentResult `json:"FileAttachment"`
	} `json:"Get"`
}

// FileAttachmentResult represents a single attachment from a query.
type FileAttachmentResult struct {
	FileID     string `json:"file_id"`
	SessionID  string `json:"session_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	SizeBytes  *int   `json:"size_bytes"`
	SizeChars  *int   `json:"size_chars"`
	Content    string `json:"content"`
	UploadedAt int64  `json:"uploaded_at"`
	ExpiresAt  int64  `json:"expires_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ProviderQuotaQueryResponse represents the response from querying ProviderQuota.
type ProviderQuotaQueryResponse struct {
	Get struct {
		ProviderQuota []ProviderQuotaResult `json:"ProviderQuota"`
	} `json:"Get"`
}

// ProviderQuotaResult represents a single quota counter from a query.
type ProviderQuotaResult struct {
	Provider   string `json:"provider"`
	Period     string `json:"period"`
	Used       *int   `json:"used"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// =============================================================================
// Property Structs
// =============================================================================

// ChatSessionProperties represents the properties for creating a ChatSession object.
type ChatSessionProperties struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	RulesJSON string `json:"rules_json"`
	SortOrder int    `json:"sort_order"`
}

// ToMap converts ChatSessionProperties to the map format required by
// Weaviate's WithProperties() method.
func (p *ChatSessionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
		"title":      p.Title,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
		"rules_json": p.RulesJSON,
		"sort_order": p.SortOrder,
	}
}

// ChatMessageProperties represents the properties for creating a ChatMessage object.
type ChatMessageProperties struct {
	MessageID         string `json:"message_id"`
	SessionID         string `json:"session_id"`
	Role              string `json:"role"`
	Content           string `json:"content"`
	CreatedAt         int64  `json:"created_at"`
	AttachmentName    string `json:"attachment_name"`
	AttachmentPreview string `json:"attachment_preview"`
	MetaJSON          string `json:"meta_json"`
}

// ToMap converts ChatMessageProperties to map[string]interface{} for Weaviate.
func (p *ChatMessageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_id":         p.MessageID,
		"session_id":         p.SessionID,
		"role":               p.Role,
		"content":            p.Content,
		"created_at":         p.CreatedAt,
		"attachment_name":    p.AttachmentName,
		"attachment_preview": p.AttachmentPreview,
		"meta_json":          p.MetaJSON,
	}
}

// MemoryChunkProperties represents the properties for creating a MemoryChunk object.
type MemoryChunkProperties struct {
	MemoryID         string  `json:"memory_id"`
	SessionID        string  `json:"session_id"`
	Content          string  `json:"content"`
	Category         string  `json:"category"`
	Source           string  `json:"source"`
	Confidence       float64 `json:"confidence"`
	Enabled          bool    `json:"enabled"`
	Deprecated       bool    `json:"deprecated"`
	CreatedAt        int64   `json:"created_at"`
	LastReferencedAt int64   `json:"last_referenced_at"`
}

// ToMap converts MemoryChunkProperties to map[string]interface{} for Weaviate.
func (p *MemoryChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"memory_id":          p.MemoryID,
		"session_id":         p.SessionID,
		"content":            p.Content,
		"category":           p.Category,
		"source":             p.Source,
		"confidence":         p.Confidence,
		"enabled":            p.Enabled,
		"deprecated":         p.Deprecated,
		"created_at":         p.CreatedAt,
		"last_referenced_at": p.LastReferencedAt,
	}
}

// FileAttachmentProperties represents the properties for creating a FileAttachment object.
type FileAttachmentProperties struct {
	FileID     string `json:"file_id"`
	SessionID  string `json:"session_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	SizeBytes  int    `json:"size_bytes"`
	SizeChars  int    `json:"size_chars"`
	Content    string `json:"content"`
	UploadedAt int64  `json:"uploaded_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// ToMap converts FileAttachmentProperties to map[string]interface{} for Weaviate.
func (p *FileAttachmentProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"file_id":     p.FileID,
		"session_id":  p.SessionID,
		"filename":    p.Filename,
		"file_type":   p.FileType,
		"size_bytes":  p.SizeBytes,
		"size_chars":  p.SizeChars,
		"content":     p.Content,
		"uploaded_at": p.UploadedAt,
		"expires_at":  p.ExpiresAt,
	}
}

// ProviderQuotaProperties represents the properties for creating a ProviderQuota object.
type ProviderQuotaProperties struct {
	Provider string `json:"provider"`
	Period   string `json:"period"`
	Used     int    `json:"used"`
}

// ToMap converts ProviderQuotaProperties to map[string]interface{} for Weaviate.
func (p *ProviderQuotaProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"provider": p.Provider,
		"period":   p.Period,
		"used":     p.Used,
	}
}
