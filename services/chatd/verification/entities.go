// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verification checks a generated answer against the factual
// context it was grounded in: named entity extraction, grounding checks,
// risk assessment with confidence caps, uncertainty detection, and a
// post-answer reasoning veto.
package verification

import (
	"regexp"
	"strings"
)

// Strategy selects the entity extraction variant. Fixed at construction;
// both implement the same contract.
type Strategy string

const (
	// StrategyPattern extracts capitalized phrases and filters common words.
	StrategyPattern Strategy = "pattern"
	// StrategyLexicon runs pattern extraction plus label heuristics from a
	// small allow-list (acronyms, organization markers).
	StrategyLexicon Strategy = "lexicon"
)

// capitalizedPhrase matches runs of capitalized words ("New York City").
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)*\b`)

// acronym matches standalone uppercase tokens such as "NASA" or "EU".
var acronym = regexp.MustCompile(`\b[A-Z]{2,6}\b`)

// orgMarkers are trailing words that mark an organization name; entities
// carrying one bypass the short-word filter in lexicon mode.
var orgMarkers = map[string]bool{
	"inc": true, "corp": true, "ltd": true, "llc": true, "gmbh": true,
	"university": true, "institute": true, "foundation": true,
	"agency": true, "ministry": true, "bureau": true,
}

// acronymStopList are uppercase tokens that read like acronyms but are
// ordinary words or formatting artifacts.
var acronymStopList = map[string]bool{
	"OK": true, "USA": true, "TODO": true, "NOTE": true, "IMPORTANT": true,
	"AND": true, "THE": true, "FOR": true, "NOT": true, "ALL": true,
}

// Extractor extracts named entities from answer text.
type Extractor struct {
	strategy Strategy
}

// NewExtractor creates an extractor with the given strategy. An empty or
// unknown strategy falls back to pattern extraction.
func NewExtractor(strategy Strategy) *Extractor {
	if strategy != StrategyLexicon {
		strategy = StrategyPattern
	}
	return &Extractor{strategy: strategy}
}

// ActiveStrategy reports which extraction path this extractor runs.
func (e *Extractor) ActiveStrategy() Strategy {
	return e.strategy
}

// Extract returns the named entities found in text, de-duplicated
// case-insensitively, in order of first appearance.
func (e *Extractor) Extract(text string) []string {
	if text == "" {
		return nil
	}
	if e.strategy == StrategyLexicon {
		return extractLexicon(text)
	}
	return extractPattern(text)
}

// extractPattern pulls capitalized phrases and drops common words and very
// short single tokens.
func extractPattern(text string) []string {
	raw := capitalizedPhrase.FindAllString(text, -1)

	var entities []string
	seen := make(map[string]bool)
	for _, ent := range raw {
		if isCommonWord(ent) {
			continue
		}
		if len(ent) < 3 && !strings.Contains(ent, " ") {
			continue
		}
		key := strings.ToLower(ent)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, ent)
	}
	return entities
}

// extractLexicon widens pattern extraction with label heuristics: acronyms
// outside the stop list are kept, and phrases ending in an organization
// marker bypass the length filter.
func extractLexicon(text string) []string {
	entities := extractPattern(text)
	seen := make(map[string]bool, len(entities))
	for _, ent := range entities {
		seen[strings.ToLower(ent)] = true
	}

	for _, ent := range acronym.FindAllString(text, -1) {
		if acronymStopList[ent] {
			continue
		}
		key := strings.ToLower(ent)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, ent)
	}

	for _, ent := range capitalizedPhrase.FindAllString(text, -1) {
		words := strings.Fields(strings.ToLower(ent))
		if len(words) < 2 || !orgMarkers[words[len(words)-1]] {
			continue
		}
		key := strings.ToLower(ent)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, ent)
	}

	return entities
}

// monthEndings catches month names without an exhaustive list.
var monthEndings = []string{"uary", "rch", "il", "ay", "une", "uly", "ust", "ber"}

// demonymSuffixes mark likely adjectives and nationalities.
var demonymSuffixes = []string{"ian", "ish", "ese", "ean", "an", "ern"}

// techSubstrings mark generic tech and web terms.
var techSubstrings = []string{"net", "web", "mail", "site", "line", "book", "tube", "hub"}

// langSuffixes mark programming language names.
var langSuffixes = []string{"script", "thon", "lang"}

var sentenceStarters = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"A": true, "An": true, "I": true,
}

// isCommonWord filters generic terms that should never be flagged as
// unverified entities. Pattern matching instead of exhaustive lists.
func isCommonWord(word string) bool {
	lower := strings.ToLower(word)

	if len(word) == 1 {
		return true
	}
	for _, suffix := range demonymSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	if strings.HasSuffix(lower, "day") {
		return true
	}
	if len(word) >= 3 {
		for _, ending := range monthEndings {
			if strings.HasSuffix(lower, ending) {
				return true
			}
		}
	}
	for _, sub := range techSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	for _, suffix := range langSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return sentenceStarters[word]
}
