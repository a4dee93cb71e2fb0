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

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies what a streaming callback received.
type StreamEventType int

const (
	// StreamEventToken carries one generated answer fragment.
	StreamEventToken StreamEventType = iota
	// StreamEventThinking carries one model reasoning fragment.
	StreamEventThinking
	// StreamEventDone signals the generator finished cleanly.
	StreamEventDone
	// StreamEventError carries a backend error message.
	StreamEventError
)

// StreamEvent is one unit of streamed generator output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in order. Returning a non-nil
// error stops the stream; the generator will not call back again.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a complete response for the prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream produces the response incrementally, invoking callback
	// per fragment. Completion is signaled with a StreamEventDone event
	// before GenerateStream returns; transport errors surface as a single
	// StreamEventError event and a non-nil return.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams,
		callback StreamCallback) error

	// ModelName reports the model identifier requests run against.
	ModelName() string
}
