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

// TavilyProvider queries the Tavily research search API. Metered against a
// monthly quota window.
type TavilyProvider struct {
	baseURL string
	apiKey  string
	quotas  *Quotas
	client  *http.Client
	logger  *slog.Logger
}

// NewTavilyProvider creates the Tavily provider.
func NewTavilyProvider(baseURL, apiKey string, quotas *Quotas, logger *slog.Logger) *TavilyProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TavilyProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		quotas:  quotas,
		client:  &http.Client{Timeout: 20 * time.Second},
		logger:  logger,
	}
}

func (p *TavilyProvider) Name() string { return ProviderTavily }

type tavilySearchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Search implements Provider.
func (p *TavilyProvider) Search(ctx context.Context, query string, limit int) ([]datatypes.SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("tavily api key not set")
	}
	if !p.quotas.Allow(ProviderTavily) {
		return nil, fmt.Errorf("tavily rate limited, retry later")
	}
	remaining, err := p.quotas.Remaining(ctx, ProviderTavily)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, fmt.Errorf("tavily monthly quota exhausted")
	}

	payload, err := json.Marshal(tavilySearchRequest{
		APIKey:      p.apiKey,
		Query:       query,
		MaxResults:  limit,
		SearchDepth: "advanced",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	// The call already happened; a lost count must not discard results.
	if err := p.quotas.Consume(ctx, ProviderTavily); err != nil {
		p.logger.Warn("recording tavily usage failed", "error", err)
	}

	var body tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding tavily response: %w", err)
	}

	var results []datatypes.SearchResult
	for _, r := range body.Results {
		results = append(results, datatypes.SearchResult{
			Title:   r.Title,
			Snippet: r.Content,
			URL:     r.URL,
			Source:  ProviderTavily,
		})
	}
	return results, nil
}

var _ Provider = (*TavilyProvider)(nil)
