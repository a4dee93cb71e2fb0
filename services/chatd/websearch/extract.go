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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Local extraction hard guards. Pages past these limits are skipped rather
// than partially extracted.
const (
	localExtractMaxChars = 10000
	localExtractMaxBytes = 1 << 20
	localExtractTimeout  = 8 * time.Second
)

var allowedContentTypes = []string{"text/html", "application/xhtml+xml"}

// LocalExtractor downloads a page and strips it to plain text. Free and
// offline-friendly; quality is rougher than the Tavily extractor.
type LocalExtractor struct {
	client *http.Client
}

// NewLocalExtractor creates the local HTML extractor.
func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{
		client: &http.Client{Timeout: localExtractTimeout},
	}
}

// Extract downloads and extracts main text from a URL. Never returns an
// error: any failure yields an empty string so the caller can fall through
// to the next extractor.
func (e *LocalExtractor) Extract(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ""
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	allowed := false
	for _, t := range allowedContentTypes {
		if strings.Contains(contentType, t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return ""
	}

	// Read one byte past the cap to detect oversized pages.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, localExtractMaxBytes+1))
	if err != nil || len(raw) == 0 || len(raw) > localExtractMaxBytes {
		return ""
	}

	text := htmlToText(raw)
	if text == "" {
		return ""
	}
	if len(text) > localExtractMaxChars {
		return strings.TrimRight(text[:localExtractMaxChars], " \t\n") + "…"
	}
	return text
}

// skipElements are ignored wholesale when flattening HTML to text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

// htmlToText flattens an HTML document to newline-separated text lines,
// skipping non-content elements and collapsing blank lines.
func htmlToText(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if line := strings.TrimSpace(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// TavilyExtractor uses Tavily's extract API for cleaner article text.
// Shares the monthly quota window with Tavily search.
type TavilyExtractor struct {
	baseURL  string
	apiKey   string
	maxChars int
	quotas   *Quotas
	client   *http.Client
	logger   *slog.Logger
}

// NewTavilyExtractor creates the Tavily extractor.
func NewTavilyExtractor(baseURL, apiKey string, maxChars int, quotas *Quotas, logger *slog.Logger) *TavilyExtractor {
	if maxChars <= 0 {
		maxChars = localExtractMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TavilyExtractor{
		baseURL:  baseURL,
		apiKey:   apiKey,
		maxChars: maxChars,
		quotas:   quotas,
		client:   &http.Client{Timeout: 20 * time.Second},
		logger:   logger,
	}
}

type tavilyExtractRequest struct {
	APIKey        string   `json:"api_key"`
	URLs          []string `json:"urls"`
	IncludeImages bool     `json:"include_images"`
}

type tavilyExtractResponse struct {
	Results []struct {
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
}

// Extract pulls main content from a URL via Tavily. Quota is consumed only
// when content actually came back. Failures degrade to an empty string.
func (e *TavilyExtractor) Extract(ctx context.Context, pageURL string) string {
	if e.apiKey == "" {
		return ""
	}
	remaining, err := e.quotas.Remaining(ctx, ProviderTavily)
	if err != nil || remaining <= 0 {
		return ""
	}

	payload, err := json.Marshal(tavilyExtractRequest{
		APIKey:        e.apiKey,
		URLs:          []string{pageURL},
		IncludeImages: false,
	})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/extract", bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("tavily extract request failed", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("tavily extract rejected", "status", resp.StatusCode)
		return ""
	}

	var body tavilyExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	if len(body.Results) == 0 {
		return ""
	}

	content := body.Results[0].Content
	if content == "" {
		content = body.Results[0].RawContent
	}
	if strings.TrimSpace(content) == "" {
		return ""
	}

	if err := e.quotas.Consume(ctx, ProviderTavily); err != nil {
		e.logger.Warn("recording tavily extract usage failed", "error", err)
	}

	if len(content) > e.maxChars {
		return strings.TrimRight(content[:e.maxChars], " \t\n") + "…"
	}
	return content
}
