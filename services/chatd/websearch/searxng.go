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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// SearxNGProvider queries a self-hosted SearXNG metasearch instance.
type SearxNGProvider struct {
	baseURL string
	client  *http.Client
}

// NewSearxNGProvider creates a provider for the given instance URL. An
// empty URL yields a provider that always returns no results.
func NewSearxNGProvider(baseURL string, timeout time.Duration) *SearxNGProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SearxNGProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *SearxNGProvider) Name() string { return ProviderSearxNG }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Search implements Provider.
func (p *SearxNGProvider) Search(ctx context.Context, query string, limit int) ([]datatypes.SearchResult, error) {
	if p.baseURL == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building searxng request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var body searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding searxng response: %w", err)
	}

	var results []datatypes.SearchResult
	for _, r := range body.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, datatypes.SearchResult{
			Title:   r.Title,
			Snippet: r.Content,
			URL:     r.URL,
			Source:  ProviderSearxNG,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

var _ Provider = (*SearxNGProvider)(nil)
