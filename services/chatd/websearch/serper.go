// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

const serperSearchURL = "https://google.serper.dev/search"

// SerperProvider queries the Serper Google-proxy API. Metered against a
// one-time credit pool.
type SerperProvider struct {
	apiKey string
	quotas *Quotas
	client *http.Client
	logger *slog.Logger
}

// NewSerperProvider creates the Serper provider.
func NewSerperProvider(apiKey string, quotas *Quotas, logger *slog.Logger) *SerperProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerperProvider{
		apiKey: apiKey,
		quotas: quotas,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (p *SerperProvider) Name() string { return ProviderSerper }

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic"`
}

// Search implements Provider.
func (p *SerperProvider) Search(ctx context.Context, query string, limit int) ([]datatypes.SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("serper api key not set")
	}
	if !p.quotas.Allow(ProviderSerper) {
		return nil, fmt.Errorf("serper rate limited, retry later")
	}
	remaining, err := p.quotas.Remaining(ctx, ProviderSerper)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, fmt.Errorf("serper credit pool exhausted")
	}

	payload, err := json.Marshal(map[string]any{"q": query, "num": limit})
	if err != nil {
		return nil, fmt.Errorf("encoding serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serperSearchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	// The call already happened; a lost count must not discard results.
	if err := p.quotas.Consume(ctx, ProviderSerper); err != nil {
		p.logger.Warn("recording serper usage failed", "error", err)
	}

	var body serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding serper response: %w", err)
	}

	var results []datatypes.SearchResult
	for _, r := range body.Organic {
		results = append(results, datatypes.SearchResult{
			Title:   r.Title,
			Snippet: r.Snippet,
			URL:     r.Link,
			Source:  ProviderSerper,
		})
	}
	return results, nil
}

var _ Provider = (*SerperProvider)(nil)
