// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("kodiak.chatd.verification")

// IsGrounded reports whether an entity appears in the context text, using
// fuzzy matching to tolerate case, plurals, partial multi-word matches,
// and acronym expansions.
func IsGrounded(entity, context string) bool {
	entityLower := strings.ToLower(entity)
	contextLower := strings.ToLower(context)

	if strings.Contains(contextLower, entityLower) {
		return true
	}

	// Any significant word of a multi-word entity counts.
	parts := strings.Fields(entityLower)
	if len(parts) > 1 {
		for _, part := range parts {
			if len(part) > 3 && strings.Contains(contextLower, part) {
				return true
			}
		}
	}

	// Stem matching handles plurals and tenses.
	if len(entityLower) > 5 && strings.Contains(contextLower, entityLower[:5]) {
		return true
	}

	// A long entity may be the expansion of an acronym in the context.
	if len(entity) > 10 {
		var b strings.Builder
		for _, w := range parts {
			if len(w) > 2 {
				b.WriteByte(w[0])
			}
		}
		if acr := b.String(); acr != "" && strings.Contains(contextLower, acr) {
			return true
		}
	}

	return false
}

// Validate returns the entities in the answer that are not grounded in the
// factual context.
//
// # Description
//
// Validation runs against factual blocks only (file, memory, web, URL
// extraction). History and follow-up context never verify a claim: an
// earlier hallucination repeated in history must not ground itself.
// contextBlocks are the legacy fallback used only when no factual blocks
// exist; with neither, every extracted entity is unverified.
func (g *Guard) Validate(ctx context.Context, answer string, contextBlocks, factualBlocks []string) []string {
	_, span := tracer.Start(ctx, "verification.Validate")
	defer span.End()

	entities := g.extractor.Extract(answer)
	if len(entities) == 0 {
		return nil
	}

	var contextText string
	switch {
	case len(factualBlocks) > 0:
		contextText = strings.Join(factualBlocks, "\n\n")
	case len(contextBlocks) > 0:
		contextText = strings.Join(contextBlocks, "\n\n")
		g.logger.Debug("validating against all context blocks, no factual blocks provided")
	default:
		g.logger.Warn("no context blocks provided for entity validation")
		return entities
	}
	if contextText == "" {
		return entities
	}

	var unverified []string
	for _, entity := range entities {
		if !IsGrounded(entity, contextText) {
			unverified = append(unverified, entity)
		}
	}

	span.SetAttributes(
		attribute.Int("verification.entities", len(entities)),
		attribute.Int("verification.unverified", len(unverified)),
	)
	g.logger.Debug("entity validation complete",
		"total", len(entities),
		"unverified", len(unverified))
	return unverified
}

// Guard assesses factual risk for a completed answer.
type Guard struct {
	extractor *Extractor
	logger    *slog.Logger

	uncertaintyThreshold float64
	mediumCount          int
	highCount            int
	capLow               float64
	capMedium            float64
	capHigh              float64
}

// GuardConfig carries the guard thresholds. Zero values are rejected so a
// half-initialized config cannot silently disable the guard.
type GuardConfig struct {
	UncertaintyThreshold float64
	MediumCount          int
	HighCount            int
	CapLow               float64
	CapMedium            float64
	CapHigh              float64
}

// NewGuard creates a factual guard using the given extractor and thresholds.
func NewGuard(extractor *Extractor, cfg GuardConfig, logger *slog.Logger) (*Guard, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if cfg.MediumCount <= 0 || cfg.HighCount <= cfg.MediumCount {
		return nil, fmt.Errorf("invalid risk counts: medium=%d high=%d", cfg.MediumCount, cfg.HighCount)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		extractor:            extractor,
		logger:               logger,
		uncertaintyThreshold: cfg.UncertaintyThreshold,
		mediumCount:          cfg.MediumCount,
		highCount:            cfg.HighCount,
		capLow:               cfg.CapLow,
		capMedium:            cfg.CapMedium,
		capHigh:              cfg.CapHigh,
	}, nil
}

// ActiveStrategy reports the entity extraction variant in use.
func (g *Guard) ActiveStrategy() Strategy {
	return g.extractor.ActiveStrategy()
}
