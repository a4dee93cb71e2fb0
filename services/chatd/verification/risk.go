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
	"fmt"
	"regexp"
)

// RiskLevel grades how likely an answer is to contain ungrounded claims.
type RiskLevel string

const (
	RiskNone   RiskLevel = "NONE"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MED"
	RiskHigh   RiskLevel = "HIGH"
)

// GuardResult is the outcome of the factual guard for one answer.
type GuardResult struct {
	Risk               RiskLevel `json:"risk"`
	ConfidenceCap      float64   `json:"cap"`
	UnverifiedEntities []string  `json:"unverified_entities"`
}

// AssessRisk grades the unverified entity count into a risk level with the
// matching confidence cap. NONE never caps.
func (g *Guard) AssessRisk(unverified []string) GuardResult {
	count := len(unverified)
	result := GuardResult{UnverifiedEntities: unverified}

	switch {
	case count >= g.highCount:
		result.Risk = RiskHigh
		result.ConfidenceCap = g.capHigh
	case count >= g.mediumCount:
		result.Risk = RiskMedium
		result.ConfidenceCap = g.capMedium
	case count > 0:
		result.Risk = RiskLow
		result.ConfidenceCap = g.capLow
	default:
		result.Risk = RiskNone
		result.ConfidenceCap = 1.0
	}

	if result.Risk != RiskNone {
		g.logger.Warn("factual guard triggered",
			"risk", string(result.Risk),
			"unverified", count,
			"cap", result.ConfidenceCap)
	}
	return result
}

// UncertaintyFlag marks one aspect of the answer the system is unsure about.
type UncertaintyFlag struct {
	Aspect           string   `json:"aspect"`
	Confidence       float64  `json:"confidence"`
	SuggestedActions []string `json:"suggested_actions"`
}

// hedgingPatterns flag uncertainty language in the answer text.
var hedgingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmight\b`),
	regexp.MustCompile(`(?i)\bcould\b`),
	regexp.MustCompile(`(?i)\bpossibly\b`),
	regexp.MustCompile(`(?i)\bunclear\b`),
	regexp.MustCompile(`(?i)\bassume\b`),
	regexp.MustCompile(`(?i)I'm not sure`),
	regexp.MustCompile(`(?i)uncertain`),
	regexp.MustCompile(`(?i)confusing`),
}

// DetectUncertainty flags low aggregate confidence and hedging language in
// the answer. The two checks are independent; both can fire.
func (g *Guard) DetectUncertainty(sourceUsed string, confidence float64, responseText string) []UncertaintyFlag {
	var flags []UncertaintyFlag

	if confidence < g.uncertaintyThreshold {
		flags = append(flags, UncertaintyFlag{
			Aspect:           fmt.Sprintf("Selected source (%s) has low confidence", sourceUsed),
			Confidence:       confidence,
			SuggestedActions: []string{"search_web", "ask_user"},
		})
	}

	for _, p := range hedgingPatterns {
		if p.MatchString(responseText) {
			flags = append(flags, UncertaintyFlag{
				Aspect:           "Response contains uncertainty language",
				Confidence:       0.6,
				SuggestedActions: []string{"search_web", "ask_user"},
			})
			break
		}
	}

	return flags
}

// Tone-down substitutions for risk rewriting.
var (
	reDefinitely = regexp.MustCompile(`(?i)\bdefinitely\b`)
	reClearly    = regexp.MustCompile(`(?i)\bclearly\b`)
	reWill       = regexp.MustCompile(`(?i)\bwill\b`)
)

const highRiskRefusal = "I can't reliably confirm this with available sources. " +
	"Please provide more information or enable web search."

const verificationDisclaimer = "I may be missing verification for some details. " +
	"Here's my best effort:\n\n"

// RewriteForRisk applies the system-level verification rewrite to an
// answer: HIGH risk replaces it with a refusal, MED/LOW risk or detected
// uncertainty prepends a disclaimer and tones down confident language, and
// everything else passes through unchanged.
func RewriteForRisk(answer string, risk RiskLevel, hasUncertainty bool) string {
	if answer == "" {
		return answer
	}

	if risk == RiskHigh {
		return highRiskRefusal
	}

	if risk == RiskMedium || risk == RiskLow || hasUncertainty {
		toned := reDefinitely.ReplaceAllString(answer, "likely")
		toned = reClearly.ReplaceAllString(toned, "seems")
		toned = reWill.ReplaceAllString(toned, "may")
		return verificationDisclaimer + toned
	}

	return answer
}
