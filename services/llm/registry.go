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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Model Registry
// =============================================================================

// ModelInfo describes one model known to the backing generator service.
type ModelInfo struct {
	// Name is the model identifier (e.g., "gpt-oss:20b").
	Name string `json:"name"`

	// SizeBytes is the on-disk model size as reported by the backend.
	SizeBytes int64 `json:"size_bytes,omitempty"`

	// ModifiedAt is when the backend last updated the model.
	ModifiedAt string `json:"modified_at,omitempty"`

	// Active marks the model the service is currently configured to use.
	Active bool `json:"active"`
}

// ModelRegistry lists the models available on the generator backend and
// tracks which one is active.
//
// # Description
//
// For an Ollama backend the registry queries /api/tags on demand and caches
// the result briefly so the model listing endpoint does not hammer Ollama.
// For hosted backends with no enumerable local catalog it reports just the
// configured model.
//
// # Thread Safety
//
// ModelRegistry is safe for concurrent use.
type ModelRegistry struct {
	baseURL     string
	activeModel string
	httpClient  *http.Client

	mu       sync.Mutex
	cached   []ModelInfo
	cachedAt time.Time
	cacheTTL time.Duration
}

// NewModelRegistry creates a registry for the given backend.
//
// # Inputs
//
//   - baseURL: Ollama server URL, or empty for hosted backends.
//   - activeModel: The model the service generates with.
func NewModelRegistry(baseURL, activeModel string) *ModelRegistry {
	return &ModelRegistry{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		activeModel: activeModel,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		cacheTTL:    30 * time.Second,
	}
}

// ActiveModel reports the model the service is configured to generate with.
func (r *ModelRegistry) ActiveModel() string {
	return r.activeModel
}

// ListModels returns the models available on the backend.
//
// # Description
//
// Queries the backend's model catalog, marking the active model. If the
// backend has no catalog endpoint, or the query fails, the registry falls
// back to reporting only the active model so callers always get a usable
// listing.
//
// # Outputs
//
//   - []ModelInfo: At least one entry; the active model is always present.
//   - error: Always nil today; reserved for future strict listing modes.
func (r *ModelRegistry) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if r.baseURL == "" {
		return []ModelInfo{{Name: r.activeModel, Active: true}}, nil
	}

	r.mu.Lock()
	if r.cached != nil && time.Since(r.cachedAt) < r.cacheTTL {
		cached := make([]ModelInfo, len(r.cached))
		copy(cached, r.cached)
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	models, err := r.fetchTags(ctx)
	if err != nil {
		slog.Warn("Failed to list backend models, reporting active model only", "error", err)
		return []ModelInfo{{Name: r.activeModel, Active: true}}, nil
	}

	activeSeen := false
	for i := range models {
		if models[i].Name == r.activeModel {
			models[i].Active = true
			activeSeen = true
		}
	}
	if !activeSeen {
		models = append(models, ModelInfo{Name: r.activeModel, Active: true})
	}

	r.mu.Lock()
	r.cached = models
	r.cachedAt = time.Now()
	r.mu.Unlock()

	result := make([]ModelInfo, len(models))
	copy(result, models)
	return result, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

func (r *ModelRegistry) fetchTags(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", r.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating tags request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying model tags: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tags response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags query failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("parsing tags response: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			Name:       m.Name,
			SizeBytes:  m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return models, nil
}

// WarmActiveModel pre-loads the active model into VRAM.
//
// # Description
//
// Sends a minimal generate request with keep_alive set so the first real
// chat turn does not pay cold-start latency. Failures are logged but not
// fatal; the model loads lazily on first use instead.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - keepAlive: Keep alive setting ("-1" for infinite, "5m" for 5 minutes).
func (r *ModelRegistry) WarmActiveModel(ctx context.Context, keepAlive string) {
	if r.baseURL == "" {
		return
	}
	start := time.Now()
	slog.Info("Warming model", "model", r.activeModel, "keep_alive", keepAlive)

	payload := map[string]interface{}{
		"model":      r.activeModel,
		"prompt":     "ping",
		"stream":     false,
		"keep_alive": keepAlive,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal warmup request", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		slog.Warn("Failed to create warmup request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute} // Long timeout for model loading
	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("Model warmup failed", "model", r.activeModel, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Model warmup returned error status", "model", r.activeModel,
			"status_code", resp.StatusCode)
		return
	}
	slog.Info("Model warmed successfully", "model", r.activeModel,
		"load_duration", time.Since(start))
}
