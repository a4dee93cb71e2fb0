// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembly

import (
	"sort"
	"strings"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// stopWords are query terms that carry no relevance signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true,
}

// RankSearchResults orders results by keyword overlap with the query.
// Title matches score double, plus a flat boost per title term. Ties keep
// their original provider order.
func RankSearchResults(results []datatypes.SearchResult, query string) []datatypes.SearchResult {
	if len(results) == 0 {
		return results
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return results
	}

	type scored struct {
		score  int
		result datatypes.SearchResult
	}

	ranked := make([]scored, 0, len(results))
	for _, r := range results {
		title := strings.ToLower(r.Title)
		snippet := strings.ToLower(r.Snippet)
		text := title + " " + title + " " + snippet

		score := 0
		for term := range terms {
			if strings.Contains(text, term) {
				score++
			}
			if strings.Contains(title, term) {
				score += 2
			}
		}
		ranked = append(ranked, scored{score: score, result: r})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]datatypes.SearchResult, len(ranked))
	for i, s := range ranked {
		out[i] = s.result
	}
	return out
}

func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !stopWords[w] {
			terms[w] = true
		}
	}
	return terms
}
