// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"strings"
)

// NewClient builds the LLM backend selected by backendType.
//
// Supported values are "ollama" (default) and "openai". Unknown values
// fall back to Ollama with a warning so a typo in deployment config
// degrades to the local backend instead of failing startup.
func NewClient(backendType, ollamaBaseURL, ollamaModel, openaiModel string) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(backendType)) {
	case "", "ollama":
		return NewOllamaClient(ollamaBaseURL, ollamaModel)
	case "openai":
		return NewOpenAIClient(openaiModel)
	default:
		slog.Warn("Unknown LLM backend type, falling back to ollama", "backend_type", backendType)
		client, err := NewOllamaClient(ollamaBaseURL, ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("fallback ollama client: %w", err)
		}
		return client, nil
	}
}
