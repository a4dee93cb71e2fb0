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
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReasoningStep is one recorded step in how an answer came together.
type ReasoningStep struct {
	StepNumber             int      `json:"step_number"`
	Thought                string   `json:"thought"`
	Action                 string   `json:"action"`
	Source                 string   `json:"source"`
	InformationGathered    string   `json:"information_gathered,omitempty"`
	Confidence             float64  `json:"confidence"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty"`
	Timestamp              int64    `json:"timestamp"`
}

// ReasoningChain is the complete record for one turn: the steps taken, the
// sources evaluated, and the final outcome.
type ReasoningChain struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`

	Steps []ReasoningStep `json:"reasoning_steps"`

	FinalAnswer       string             `json:"final_answer,omitempty"`
	FinalConfidence   float64            `json:"final_confidence"`
	SourcesUsed       []string           `json:"sources_used"`
	SourcesConsidered map[string]float64 `json:"sources_considered"`
	UncertaintyFlags  []string           `json:"uncertainty_flags"`

	ModelUsed       string  `json:"model_used,omitempty"`
	TotalDurationMS float64 `json:"total_duration_ms"`
	CreatedAt       int64   `json:"created_at"`
}

// Tracker accumulates a reasoning chain while a turn executes. Safe for
// concurrent use; the streaming pipeline logs from multiple goroutines.
type Tracker struct {
	mu    sync.Mutex
	chain ReasoningChain
}

// NewTracker starts a chain for the given session and user message.
func NewTracker(sessionID, messageID string) *Tracker {
	return &Tracker{
		chain: ReasoningChain{
			ID:                uuid.New().String(),
			SessionID:         sessionID,
			MessageID:         messageID,
			SourcesConsidered: make(map[string]float64),
			CreatedAt:         time.Now().UnixMilli(),
		},
	}
}

// LogStep appends one reasoning step.
func (t *Tracker) LogStep(thought, action, source string, confidence float64, information string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.chain.Steps = append(t.chain.Steps, ReasoningStep{
		StepNumber:          len(t.chain.Steps) + 1,
		Thought:             thought,
		Action:              action,
		Source:              source,
		InformationGathered: information,
		Confidence:          confidence,
		Timestamp:           time.Now().UnixMilli(),
	})
}

// LogSourceEvaluation records the confidence assigned to one source.
func (t *Tracker) LogSourceEvaluation(source string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chain.SourcesConsidered[source] = confidence
}

// LogUncertainty records an uncertainty flag, de-duplicated.
func (t *Tracker) LogUncertainty(flag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.chain.UncertaintyFlags {
		if f == flag {
			return
		}
	}
	t.chain.UncertaintyFlags = append(t.chain.UncertaintyFlags, flag)
}

// Finalize closes the chain with the outcome and returns a copy.
func (t *Tracker) Finalize(finalAnswer string, finalConfidence float64, modelUsed string, durationMS float64) ReasoningChain {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.chain.FinalAnswer = finalAnswer
	t.chain.FinalConfidence = finalConfidence
	t.chain.ModelUsed = modelUsed
	t.chain.TotalDurationMS = durationMS

	seen := make(map[string]bool)
	sources := make([]string, 0)
	for _, step := range t.chain.Steps {
		if !seen[step.Source] {
			seen[step.Source] = true
			sources = append(sources, step.Source)
		}
	}
	t.chain.SourcesUsed = sources

	return t.chain
}

// Summary returns the compact chain view sent to clients.
func (t *Tracker) Summary() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	details := make([]map[string]any, 0, len(t.chain.Steps))
	for _, s := range t.chain.Steps {
		details = append(details, map[string]any{
			"step":       s.StepNumber,
			"action":     s.Action,
			"source":     s.Source,
			"confidence": s.Confidence,
		})
	}

	return map[string]any{
		"steps_count":       len(t.chain.Steps),
		"sources_used":      t.chain.SourcesUsed,
		"final_confidence":  t.chain.FinalConfidence,
		"uncertainty_flags": t.chain.UncertaintyFlags,
		"duration_ms":       t.chain.TotalDurationMS,
		"step_details":      details,
	}
}
