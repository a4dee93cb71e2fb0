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

const defaultDDGURL = "https://api.duckduckgo.com"

// DDGProvider queries the DuckDuckGo instant answer API. Free and keyless,
// but the answer coverage is shallower than a full search index.
type DDGProvider struct {
	baseURL string
	client  *http.Client
}

// NewDDGProvider creates a DuckDuckGo provider. An empty baseURL uses the
// public API endpoint.
func NewDDGProvider(baseURL string) *DDGProvider {
	if baseURL == "" {
		baseURL = defaultDDGURL
	}
	return &DDGProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *DDGProvider) Name() string { return ProviderDDG }

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search implements Provider.
func (p *DDGProvider) Search(ctx context.Context, query string, limit int) ([]datatypes.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building ddg request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg returned status %d", resp.StatusCode)
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding ddg response: %w", err)
	}

	var results []datatypes.SearchResult
	if body.AbstractText != "" && body.AbstractURL != "" {
		results = append(results, datatypes.SearchResult{
			Title:   body.Heading,
			Snippet: body.AbstractText,
			URL:     body.AbstractURL,
			Source:  ProviderDDG,
		})
	}
	for _, topic := range flattenTopics(body.RelatedTopics) {
		if len(results) >= limit {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, datatypes.SearchResult{
			Title:   topic.Text,
			Snippet: topic.Text,
			URL:     topic.FirstURL,
			Source:  ProviderDDG,
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// flattenTopics unrolls one level of topic grouping; the API nests
// categorized results under a Topics list.
func flattenTopics(topics []ddgTopic) []ddgTopic {
	var flat []ddgTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			flat = append(flat, t.Topics...)
			continue
		}
		flat = append(flat, t)
	}
	return flat
}

var _ Provider = (*DDGProvider)(nil)
