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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/observability"
)

var tracer = otel.Tracer("kodiak.chatd.websearch")

// advanceTotal caps the merged result count in advance search mode.
const advanceTotal = 10

// tavilyKeywords auto-route research-flavored queries to Tavily when it is
// enabled, even outside advance mode.
var tavilyKeywords = []string{
	"research", "study", "paper", "analysis", "in-depth",
	"compare", "latest", "news",
}

// urlPattern matches the first URL embedded in free text.
var urlPattern = regexp.MustCompile(`(?i)http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// Extractor pulls main content from a URL, degrading to "" on failure.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) string
}

// Service routes search and extraction across the configured providers
// according to per-session rules.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	searxng Provider
	ddg     Provider
	tavily  Provider
	serper  Provider

	localExtract  Extractor
	tavilyExtract Extractor
	quotas        *Quotas
}

// NewService wires the full provider set from configuration.
func NewService(cfg *config.Config, quotas *Quotas, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if quotas == nil {
		return nil, fmt.Errorf("quotas cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:           cfg,
		logger:        logger,
		searxng:       NewSearxNGProvider(cfg.SearxNGURL, cfg.SearxNGTimeout),
		ddg:           NewDDGProvider(cfg.DDGURL),
		tavily:        NewTavilyProvider(cfg.TavilyURL, cfg.TavilyAPIKey, quotas, logger),
		serper:        NewSerperProvider(cfg.SerperAPIKey, quotas, logger),
		localExtract:  NewLocalExtractor(),
		tavilyExtract: NewTavilyExtractor(cfg.TavilyURL, cfg.TavilyAPIKey, cfg.URLExtractMaxChars, quotas, logger),
		quotas:        quotas,
	}, nil
}

// QuotaStatus reports the metered providers' remaining budgets.
func (s *Service) QuotaStatus(ctx context.Context) ([]datatypes.QuotaStatus, error) {
	return s.quotas.Status(ctx)
}

// enabledProviders returns the switched-on providers in fallback order:
// free providers first so plain queries never spend metered quota when a
// free provider can answer.
func (s *Service) enabledProviders(rules datatypes.RulesConfig) []Provider {
	var providers []Provider
	if rules.SearxNG {
		providers = append(providers, s.searxng)
	}
	if rules.DuckDuckGo {
		providers = append(providers, s.ddg)
	}
	if rules.Tavily {
		providers = append(providers, s.tavily)
	}
	if rules.Serper {
		providers = append(providers, s.serper)
	}
	return providers
}

// advanceProviders returns the switched-on providers with the metered
// research providers first. Advance mode queries every provider anyway,
// so the order only decides whose results lead the merge.
func (s *Service) advanceProviders(rules datatypes.RulesConfig) []Provider {
	var providers []Provider
	if rules.Tavily {
		providers = append(providers, s.tavily)
	}
	if rules.Serper {
		providers = append(providers, s.serper)
	}
	if rules.SearxNG {
		providers = append(providers, s.searxng)
	}
	if rules.DuckDuckGo {
		providers = append(providers, s.ddg)
	}
	return providers
}

// Search runs a web search honoring the session's provider rules.
//
// # Description
//
// Three routing modes, checked in order:
//
//  1. Advance search fans out across every enabled provider, merging
//     results with URL de-duplication up to a fixed total.
//  2. Research-flavored queries auto-route to Tavily when it is enabled.
//  3. Otherwise the default chain tries each enabled provider in order
//     and returns the first non-empty result set.
//
// Provider failures never propagate; the next provider in line absorbs
// them. Only an empty query or a fully disabled provider set returns
// nothing.
func (s *Service) Search(ctx context.Context, sessionID, query string, limit int, rules datatypes.RulesConfig) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "websearch.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.cfg.WebSearchLimit
	}

	if rules.AdvanceSearch {
		results := s.advanceSearch(ctx, query, rules)
		span.SetAttributes(
			attribute.String("websearch.mode", "advance"),
			attribute.Int("websearch.results", len(results)),
		)
		return results, nil
	}

	if rules.Tavily && isResearchQuery(query) {
		results, err := s.tavily.Search(ctx, query, limit)
		observability.WebSearchesTotal.WithLabelValues("tavily", searchOutcome(len(results), err)).Inc()
		if err == nil {
			span.SetAttributes(
				attribute.String("websearch.mode", "tavily-route"),
				attribute.Int("websearch.results", len(results)),
			)
			return results, nil
		}
		s.logger.Warn("tavily auto-route failed, falling back", "error", err)
	}

	for _, provider := range s.enabledProviders(rules) {
		results, err := provider.Search(ctx, query, limit)
		observability.WebSearchesTotal.WithLabelValues(provider.Name(), searchOutcome(len(results), err)).Inc()
		if err != nil {
			s.logger.Warn("search provider failed",
				"provider", provider.Name(),
				"session_id", sessionID,
				"error", err)
			continue
		}
		if len(results) > 0 {
			span.SetAttributes(
				attribute.String("websearch.mode", "chain"),
				attribute.String("websearch.provider", provider.Name()),
				attribute.Int("websearch.results", len(results)),
			)
			return results, nil
		}
	}

	s.logger.Debug("all search providers failed or returned nothing", "session_id", sessionID)
	return nil, nil
}

// advanceSearch fans out across every enabled provider and merges results
// with URL de-duplication, capped at advanceTotal.
func (s *Service) advanceSearch(ctx context.Context, query string, rules datatypes.RulesConfig) []datatypes.SearchResult {
	providers := s.advanceProviders(rules)
	if len(providers) == 0 {
		s.logger.Warn("advance search with all providers disabled")
		return nil
	}

	perProvider := advanceTotal / len(providers)
	if perProvider < 1 {
		perProvider = 1
	}

	var merged []datatypes.SearchResult
	seen := make(map[string]bool)
	for _, provider := range providers {
		results, err := provider.Search(ctx, query, perProvider)
		observability.WebSearchesTotal.WithLabelValues(provider.Name(), searchOutcome(len(results), err)).Inc()
		if err != nil {
			s.logger.Warn("provider failed in advance search",
				"provider", provider.Name(),
				"error", err)
			continue
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
			if len(merged) >= advanceTotal {
				return merged
			}
		}
	}
	return merged
}

// searchOutcome labels a provider call for the search counter.
func searchOutcome(results int, err error) string {
	switch {
	case err != nil:
		return "error"
	case results == 0:
		return "empty"
	default:
		return "ok"
	}
}

// isResearchQuery reports whether the query reads like a research request.
func isResearchQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range tavilyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractURLFromText returns the first URL found in free text, or "".
func ExtractURLFromText(text string) string {
	return urlPattern.FindString(strings.TrimSpace(text))
}

// Extract finds the first URL in the text and extracts its content per the
// session's extraction rules. Advance mode runs every enabled extractor
// and labels each section; default mode is local first, Tavily fallback.
// No URL or no content yields "" without error.
func (s *Service) Extract(ctx context.Context, sessionID, text string, rules datatypes.RulesConfig) (string, error) {
	ctx, span := tracer.Start(ctx, "websearch.Extract")
	defer span.End()

	cleaned := strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
	pageURL := ExtractURLFromText(cleaned)
	if pageURL == "" {
		return "", nil
	}
	span.SetAttributes(attribute.String("websearch.url", pageURL))

	if rules.AdvanceExtract {
		var sections []string
		if rules.LocalExtract {
			if content := s.localExtract.Extract(ctx, pageURL); content != "" {
				sections = append(sections, "[Local]\n"+content)
			}
		}
		if rules.TavilyExtract {
			if content := s.tavilyExtract.Extract(ctx, pageURL); content != "" {
				sections = append(sections, "[Tavily]\n"+content)
			}
		}
		return strings.Join(sections, "\n---\n"), nil
	}

	if rules.LocalExtract {
		if content := s.localExtract.Extract(ctx, pageURL); content != "" {
			return content, nil
		}
	}
	if rules.TavilyExtract {
		if content := s.tavilyExtract.Extract(ctx, pageURL); content != "" {
			return content, nil
		}
	}

	s.logger.Debug("all extraction methods failed or disabled",
		"session_id", sessionID,
		"url", pageURL)
	return "", nil
}
