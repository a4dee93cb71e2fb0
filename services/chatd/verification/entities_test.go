// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewExtractor_UnknownStrategyFallsBack(t *testing.T) {
	e := NewExtractor(Strategy("bogus"))
	assert.Equal(t, StrategyPattern, e.ActiveStrategy())
}

func TestExtractor_ActiveStrategy(t *testing.T) {
	assert.Equal(t, StrategyPattern, NewExtractor(StrategyPattern).ActiveStrategy())
	assert.Equal(t, StrategyLexicon, NewExtractor(StrategyLexicon).ActiveStrategy())
}

func TestExtract_Pattern(t *testing.T) {
	e := NewExtractor(StrategyPattern)

	t.Run("capitalized phrases", func(t *testing.T) {
		got := e.Extract("Marie Curie worked with Pierre Curie in Paris.")
		assert.Contains(t, got, "Marie Curie")
		assert.Contains(t, got, "Pierre Curie")
		assert.Contains(t, got, "Paris")
	})

	t.Run("sentence starters skipped", func(t *testing.T) {
		got := e.Extract("The answer is simple. This works fine.")
		assert.NotContains(t, got, "The")
		assert.NotContains(t, got, "This")
	})

	t.Run("months and weekdays skipped", func(t *testing.T) {
		got := e.Extract("On Monday in January we met Tesla.")
		assert.NotContains(t, got, "Monday")
		assert.NotContains(t, got, "January")
		assert.Contains(t, got, "Tesla")
	})

	t.Run("short single words skipped", func(t *testing.T) {
		got := e.Extract("Go is a language made at Google.")
		assert.NotContains(t, got, "Go")
		assert.Contains(t, got, "Google")
	})

	t.Run("dedupe preserves first appearance order", func(t *testing.T) {
		got := e.Extract("Bohr wrote to Einstein, and Bohr waited.")
		assert.Equal(t, []string{"Bohr", "Einstein"}, got)
	})

	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, e.Extract(""))
	})
}

func TestExtract_Lexicon(t *testing.T) {
	e := NewExtractor(StrategyLexicon)

	t.Run("acronyms included", func(t *testing.T) {
		got := e.Extract("NASA launched a probe. The CPU overheated.")
		assert.Contains(t, got, "NASA")
		assert.Contains(t, got, "CPU")
	})

	t.Run("stop list acronyms excluded", func(t *testing.T) {
		got := e.Extract("TODO review this. USA is fine though NOT here.")
		assert.NotContains(t, got, "TODO")
		assert.NotContains(t, got, "USA")
		assert.NotContains(t, got, "NOT")
	})

	t.Run("org markers", func(t *testing.T) {
		got := e.Extract("She studied at Stanford University before joining Acme Corp.")
		assert.Contains(t, got, "Stanford University")
		assert.Contains(t, got, "Acme Corp")
	})
}

func TestIsCommonWord(t *testing.T) {
	cases := map[string]bool{
		"January":    true,
		"March":      true,
		"Tuesday":    true,
		"Italian":    true,
		"Facebook":   true,
		"Python":     true,
		"JavaScript": true,
		"The":        true,
		"I":          true,
		"Tesla":      false,
		"Einstein":   false,
	}
	for word, want := range cases {
		assert.Equal(t, want, isCommonWord(word), "word %q", word)
	}
}
