// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"testing"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

func certaintyResult(id string, certainty float32) datatypes.MemoryChunkResult {
	r := datatypes.MemoryChunkResult{MemoryID: id, Content: "content"}
	r.Additional.Certainty = &certainty
	return r
}

func TestFilterByScore(t *testing.T) {
	t.Run("threshold on cosine not certainty", func(t *testing.T) {
		// certainty 0.675 -> cos 0.35, exactly at the threshold
		results := []datatypes.MemoryChunkResult{
			certaintyResult("at", 0.675),
			certaintyResult("above", 0.9),
			certaintyResult("below", 0.5),
		}
		matched := filterByScore(results, 0.35)
		if len(matched) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(matched))
		}
		if matched[0].MemoryID != "at" || matched[1].MemoryID != "above" {
			t.Errorf("unexpected match order: %v, %v", matched[0].MemoryID, matched[1].MemoryID)
		}
	})

	t.Run("missing certainty never matches", func(t *testing.T) {
		results := []datatypes.MemoryChunkResult{{MemoryID: "unvectored"}}
		if matched := filterByScore(results, 0.0); len(matched) != 0 {
			t.Errorf("expected no matches, got %d", len(matched))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if matched := filterByScore(nil, 0.35); matched != nil {
			t.Errorf("expected nil, got %v", matched)
		}
	})
}

func TestMemoryFromResult(t *testing.T) {
	t.Run("flags carried through", func(t *testing.T) {
		enabled := false
		deprecated := true
		r := datatypes.MemoryChunkResult{
			MemoryID:   "m1",
			SessionID:  "s1",
			Content:    "prefers dark roast",
			Category:   "preference_or_fact",
			Source:     datatypes.MemorySourceAuto,
			Confidence: 0.8,
			Enabled:    &enabled,
			Deprecated: &deprecated,
			CreatedAt:  1700000000000,
		}
		m := memoryFromResult(r)
		if m.ID != "m1" || m.Enabled || !m.Deprecated {
			t.Errorf("unexpected mapping: %+v", m)
		}
		if m.Content != "prefers dark roast" || m.Confidence != 0.8 {
			t.Errorf("unexpected content mapping: %+v", m)
		}
	})

	t.Run("missing flags default to active", func(t *testing.T) {
		m := memoryFromResult(datatypes.MemoryChunkResult{MemoryID: "m2"})
		if !m.Enabled || m.Deprecated {
			t.Errorf("expected enabled and not deprecated, got %+v", m)
		}
	})
}

func TestDecodeMemoryResults(t *testing.T) {
	data := map[string]any{
		"Get": map[string]any{
			"MemoryChunk": []any{
				map[string]any{"memory_id": "m1", "content": "a fact", "confidence": 0.7},
			},
		},
	}
	results, err := decodeMemoryResults(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "m1" || results[0].Confidence != 0.7 {
		t.Errorf("unexpected decode: %+v", results)
	}

	empty, err := decodeMemoryResults(map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no results, got %d", len(empty))
	}
}

func TestTruncateItem(t *testing.T) {
	if got := truncateItem("short", 500); got != "short" {
		t.Errorf("expected passthrough, got %q", got)
	}
	if got := truncateItem("abcdefgh", 4); got != "abcd..." {
		t.Errorf("expected truncation with ellipsis, got %q", got)
	}
	if got := truncateItem("anything", 0); got != "anything" {
		t.Errorf("expected no cap, got %q", got)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {1.7, 1},
	}
	for _, c := range cases {
		if got := clamp01(c.in); got != c.want {
			t.Errorf("clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestShouldRemember(t *testing.T) {
	s := &Service{}
	longAnswer := "The build pipeline caches modules under /var/cache and rebuilds on tag pushes."

	t.Run("explicit reject wins", func(t *testing.T) {
		if s.ShouldRemember("please dont remember this", longAnswer) {
			t.Error("expected reject")
		}
		if s.ShouldRemember("don't remember any of that", longAnswer) {
			t.Error("expected reject on apostrophe variant")
		}
	})

	t.Run("explicit accept", func(t *testing.T) {
		if !s.ShouldRemember("remember that I prefer tabs", longAnswer) {
			t.Error("expected accept")
		}
		if !s.ShouldRemember("keep in mind the deadline is Friday", longAnswer) {
			t.Error("expected accept")
		}
	})

	t.Run("short assistant reply skipped", func(t *testing.T) {
		if s.ShouldRemember("what is 2+2", "4") {
			t.Error("expected reject for trivial reply")
		}
	})

	t.Run("substantial turn defaults to remember", func(t *testing.T) {
		if !s.ShouldRemember("how does the deploy work", longAnswer) {
			t.Error("expected default accept")
		}
	})
}
