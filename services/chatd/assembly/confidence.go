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
	"log/slog"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// WeightedConfidence aggregates per-source confidence into one turn-level
// score.
//
// # Description
//
// Only factual sources count: history and follow-up context are excluded
// before aggregation. The loaded snapshot is then cross-checked so a source
// that registered but produced zero evidence (an empty file list, a memory
// search with no hits) is dropped rather than inflating confidence. The
// score is the mean of confidence times relevance over the surviving
// sources, clamped to [0, 1]. A missing relevance entry weighs 0.5.
//
// # Edge cases
//
//   - No sources at all, or none factual, or none surviving the snapshot
//     check: returns the floor confidence (config.ConfidenceNone).
func WeightedConfidence(
	sourcesConsidered map[string]float64,
	sourceRelevance map[string]float64,
	loadedSources map[string]datatypes.LoadedSource,
) float64 {
	if len(sourcesConsidered) == 0 {
		return config.ConfidenceNone
	}

	factual := make(map[string]float64)
	for name, conf := range sourcesConsidered {
		if IsFactualSource(name) {
			factual[name] = conf
		}
	}
	if len(factual) == 0 {
		slog.Info("no factual sources available, using floor confidence")
		return config.ConfidenceNone
	}

	if loadedSources != nil {
		valid := make(map[string]float64)
		for name, conf := range factual {
			switch name {
			case string(SourceFile), string(SourceMemory), string(SourceWeb):
				snap := loadedSources[name]
				if snap.Available && snap.Count > 0 {
					valid[name] = conf
				}
			default:
				// URL extraction has no count snapshot; its presence in
				// sourcesConsidered means content was extracted.
				valid[name] = conf
			}
		}
		if len(valid) == 0 {
			slog.Warn("no factual sources with content after snapshot check")
			return config.ConfidenceNone
		}
		factual = valid
	}

	sum := 0.0
	for name, conf := range factual {
		relevance, ok := sourceRelevance[name]
		if !ok {
			relevance = 0.5
		}
		sum += conf * relevance
	}
	avg := sum / float64(len(factual))

	if avg < 0 {
		return 0
	}
	if avg > 1 {
		return 1
	}
	return avg
}
