// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package websearch runs multi-provider web search and URL content
// extraction with quota accounting for the metered providers.
package websearch

import (
	"context"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// Provider names double as the source label on every search result.
const (
	ProviderSearxNG = "searxng"
	ProviderDDG     = "ddg"
	ProviderTavily  = "tavily"
	ProviderSerper  = "serper"
)

// Provider is one search backend. Search returns at most limit results;
// an empty slice with a nil error means the provider found nothing.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]datatypes.SearchResult, error)
}

// browserUserAgent is sent to endpoints that reject obvious bots.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0 Safari/537.36"
