// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textutil provides text manipulation helpers shared across the
// chat service: truncation, sentence splitting, sentence scoring, and
// key-phrase extraction.
package textutil

import (
	"regexp"
	"strings"
)

const (
	// MinSentenceLength is the minimum length for a sentence to be kept
	// when splitting text.
	MinSentenceLength = 20

	// MinTextLengthForProcessing is the minimum text length before key
	// point extraction is attempted.
	MinTextLengthForProcessing = 50

	// KeyPointSampleSize caps how many leading sentences are scored
	// during key point extraction.
	KeyPointSampleSize = 10

	// sentenceLengthDenominator normalizes sentence length into [0,1].
	sentenceLengthDenominator = 100.0

	positionWeight = 0.6
	lengthWeight   = 0.4
)

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	capitalizedRe   = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)*\b`)
	multiSpaceRe    = regexp.MustCompile(` +`)
	multiNewlineRe  = regexp.MustCompile(`\n\n+`)
)

// Truncate shortens text to maxChars, appending an ellipsis when anything
// was cut. Text at or under the limit is returned unchanged.
func Truncate(text string, maxChars int, addEllipsis bool) string {
	if text == "" || len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]
	if addEllipsis {
		return truncated + "..."
	}
	return truncated
}

// SentenceScore rates a sentence by position and length. Earlier sentences
// and longer sentences score higher.
func SentenceScore(position, length, totalSentences int) float64 {
	_ = totalSentences

	posWeight := 1.0 / float64(position+1)

	lenWeight := float64(length) / sentenceLengthDenominator
	if lenWeight > 1.0 {
		lenWeight = 1.0
	}

	return posWeight*positionWeight + lenWeight*lengthWeight
}

// SplitSentences splits text on sentence-ending punctuation and drops
// fragments shorter than minLength.
func SplitSentences(text string, minLength int) []string {
	if text == "" {
		return nil
	}

	parts := sentenceSplitRe.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" && len(s) >= minLength {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// ExtractKeyPhrases pulls capitalized phrases (likely names and terms)
// from text, de-duplicated case-insensitively in order of appearance.
func ExtractKeyPhrases(text string, maxPhrases int) []string {
	if text == "" {
		return nil
	}

	phrases := capitalizedRe.FindAllString(text, -1)

	seen := make(map[string]bool, len(phrases))
	unique := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		lower := strings.ToLower(phrase)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		unique = append(unique, phrase)
	}

	if len(unique) > maxPhrases {
		unique = unique[:maxPhrases]
	}
	return unique
}

// ExtractKeyPoints selects the highest scoring sentences from text for use
// as supplemental search queries. Short inputs yield no key points.
func ExtractKeyPoints(text string, maxPoints int) []string {
	if text == "" || len(text) < MinTextLengthForProcessing {
		return nil
	}

	sentences := SplitSentences(text, MinSentenceLength)
	if len(sentences) == 0 {
		return nil
	}

	total := len(sentences)
	if total > KeyPointSampleSize {
		total = KeyPointSampleSize
	}

	type scored struct {
		score    float64
		sentence string
	}
	candidates := make([]scored, 0, total)
	for i, s := range sentences[:total] {
		candidates = append(candidates, scored{
			score:    SentenceScore(i, len(s), total),
			sentence: s,
		})
	}

	// Stable selection sort keeps earlier sentences ahead on ties.
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}

	if maxPoints > len(candidates) {
		maxPoints = len(candidates)
	}
	points := make([]string, 0, maxPoints)
	for _, c := range candidates[:maxPoints] {
		points = append(points, c.sentence)
	}
	return points
}

// NormalizeWhitespace collapses repeated spaces, squeezes blank line runs
// down to one, and trims every line.
func NormalizeWhitespace(text string) string {
	if text == "" {
		return text
	}

	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// Preview builds a short, optionally labeled excerpt of text for logging.
func Preview(text string, maxChars int, context string) string {
	preview := Truncate(text, maxChars, true)
	if context != "" {
		return context + ": '" + preview + "'"
	}
	return preview
}
