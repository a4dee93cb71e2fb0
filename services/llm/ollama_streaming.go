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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Stream Configuration
// =============================================================================

// StreamConfig controls how streamed generator output is processed before it
// reaches the caller's callback.
type StreamConfig struct {
	// RedactThinking suppresses StreamEventThinking events entirely.
	RedactThinking bool

	// MaxThinkingLength caps total streamed thinking characters. 0 = no cap.
	MaxThinkingLength int

	// MaxResponseLength caps total streamed answer characters. 0 = no cap.
	MaxResponseLength int

	// RateLimitPerSecond caps callback invocations per second. 0 = no limit.
	RateLimitPerSecond int
}

// DefaultStreamConfig returns the stream configuration used when the caller
// does not provide one.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:     false,
		MaxThinkingLength:  0,
		MaxResponseLength:  100 * 1024,
		RateLimitPerSecond: 0,
	}
}

// =============================================================================
// Stream Chunk
// =============================================================================

// ollamaStreamChunk is one NDJSON line from the Ollama generate stream.
type ollamaStreamChunk struct {
	Model         string `json:"model,omitempty"`
	Response      string `json:"response,omitempty"`
	Thinking      string `json:"thinking,omitempty"`
	Done          bool   `json:"done"`
	DoneReason    string `json:"done_reason,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
	Error         string `json:"error,omitempty"`
}

// parseStreamChunk decodes one NDJSON line into a stream chunk.
//
// # Description
//
// Strict decoding of a single stream line. Lines that are empty, non-JSON,
// or JSON scalars produce an error; the caller decides whether to skip or
// abort.
//
// # Inputs
//
//   - line: Raw NDJSON line without the trailing newline.
//
// # Outputs
//
//   - *ollamaStreamChunk: Decoded chunk on success.
//   - error: Non-nil if the line is not a JSON object.
func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("stream line is not a JSON object")
	}
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// =============================================================================
// Stream Processor
// =============================================================================

// DefaultStreamProcessor applies StreamConfig policy to decoded chunks and
// forwards the resulting events to the caller's callback.
type DefaultStreamProcessor struct {
	cfg            StreamConfig
	logger         *slog.Logger
	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor for one stream. A nil logger
// falls back to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStreamProcessor{cfg: cfg, logger: logger}
}

// GetTokenCount reports how many answer fragments have been forwarded.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	return p.tokenCount
}

// GetResponseLength reports total answer characters forwarded so far.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	return p.responseLength
}

// ProcessChunk handles one decoded chunk.
//
// # Description
//
// Applies redaction and length caps, invokes the callback for anything that
// survives, and reports whether the stream is finished. Error chunks emit a
// StreamEventError event and return a non-nil error with done=true.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - chunk: Decoded stream chunk.
//   - callback: Receiver for surviving events.
//
// # Outputs
//
//   - bool: True when no further chunks should be processed.
//   - error: Non-nil on chunk errors or callback failure.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk,
	callback StreamCallback) (bool, error) {

	if err := ctx.Err(); err != nil {
		return true, err
	}

	if chunk.Error != "" {
		if cbErr := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); cbErr != nil {
			p.logger.Warn("Stream callback failed on error event", "error", cbErr)
		}
		return true, fmt.Errorf("stream error from backend: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		content := chunk.Thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				content = content[:remaining]
			}
		}
		if content != "" {
			p.thinkingLength += len(content)
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: content}); err != nil {
				return true, fmt.Errorf("stream callback failed: %w", err)
			}
		}
	}

	if chunk.Response != "" {
		content := chunk.Response
		if p.cfg.MaxResponseLength > 0 {
			remaining := p.cfg.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				content = content[:remaining]
			}
		}
		if content != "" {
			p.tokenCount++
			p.responseLength += len(content)
			if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
				return true, fmt.Errorf("stream callback failed: %w", err)
			}
		}
	}

	return chunk.Done, nil
}

// =============================================================================
// Streaming Generation
// =============================================================================

// GenerateStream implements the LLMClient interface
func (o *OllamaClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	return o.GenerateStreamWithConfig(ctx, prompt, params, callback, DefaultStreamConfig())
}

// GenerateStreamWithConfig streams a generation with explicit stream policy.
//
// # Description
//
// Sends a streaming generate request and forwards each NDJSON chunk through
// a DefaultStreamProcessor. Malformed stream lines are skipped with a
// warning. On clean completion a StreamEventDone event is emitted before
// returning nil.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - prompt: Fully assembled prompt text.
//   - params: Generation parameters.
//   - callback: Receiver for stream events.
//   - cfg: Stream processing policy.
//
// # Outputs
//
//   - error: Non-nil on transport failure, backend error, callback abort,
//     or context cancellation.
//
// # Limitations
//
//   - The stream is not resumable; a failed stream must be retried from
//     the start by the caller.
func (o *OllamaClient) GenerateStreamWithConfig(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback, cfg StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	generateURL := o.baseURL + "/api/generate"
	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  true,
		Options: o.buildOptions(params),
	}
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal stream request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", generateURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create stream request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// Surface context cancellation directly so callers can distinguish it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("Ollama stream call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("Ollama stream returned an error", "status_code", resp.StatusCode,
			"response", string(body))
		return fmt.Errorf("Ollama stream failed with status %d: %s", resp.StatusCode, string(body))
	}

	processor := NewDefaultStreamProcessor(cfg, slog.Default())
	scanner := bufio.NewScanner(resp.Body)
	// Single chunks can carry large fragments; allow up to 1MB lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("Skipping malformed stream line", "error", err)
			continue
		}
		done, err := processor.ProcessChunk(ctx, chunk, callback)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reading Ollama stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("llm.stream_tokens", processor.GetTokenCount()))
	slog.Debug("Ollama stream complete",
		"tokens", processor.GetTokenCount(),
		"response_chars", processor.GetResponseLength())
	if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
		return fmt.Errorf("stream callback failed: %w", err)
	}
	return nil
}
