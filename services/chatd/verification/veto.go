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
	"regexp"
	"strings"
)

// VetoLevel is the severity the model's own reasoning assigns to its answer.
type VetoLevel string

const (
	// VetoHard means the reasoning explicitly states the claim cannot be
	// confirmed.
	VetoHard VetoLevel = "hard"
	// VetoSoft means the reasoning expresses uncertainty or speculation.
	VetoSoft VetoLevel = "soft"
	// VetoNone means the reasoning supports the answer.
	VetoNone VetoLevel = "none"
)

// VetoResult is the outcome of post-answer reasoning analysis. The veto is
// diagnostic only: ShouldRefuse is always false and the caps record what
// would have applied, without modifying the answer.
type VetoResult struct {
	Level          VetoLevel `json:"level"`
	MatchedSignals []string  `json:"signals"`
	ConfidenceCap  float64   `json:"confidence_cap"`
	Reason         string    `json:"reason"`
	ShouldRefuse   bool      `json:"should_refuse"`
}

// hardVetoPatterns match reasoning that explicitly disclaims the answer.
var hardVetoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bcannot\s+confirm\b`),
	regexp.MustCompile(`\bcannot\s+verify\b`),
	regexp.MustCompile(`\bcannot\s+determine\b`),
	regexp.MustCompile(`\bimpossible\s+to\s+(?:say|determine|verify)\b`),
	regexp.MustCompile(`\bno\s+reliable\s+source`),
	regexp.MustCompile(`\bno\s+(?:sufficient\s+)?evidence`),
	regexp.MustCompile(`\bno\s+(?:access|information)\s+(?:about|on|to)`),
	regexp.MustCompile(`\bnot\s+(?:covered|mentioned|addressed)\s+in\s+(?:the\s+)?(?:context|sources|files)`),
	regexp.MustCompile(`\boutside\s+(?:my|available)\s+(?:knowledge|context)`),
	regexp.MustCompile(`\bconflicting\s+(?:sources|information)`),
	regexp.MustCompile(`\bsources?\s+(?:disagree|conflict)`),
}

// softVetoPatterns match uncertainty and speculation language.
var softVetoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\buncertain\b`),
	regexp.MustCompile(`\bspeculat(?:ion|ive)`),
	regexp.MustCompile(`\bprojection\b`),
	regexp.MustCompile(`\bmay\s+change\b`),
	regexp.MustCompile(`\best(?:imate|imation)\b`),
	regexp.MustCompile(`\bguess(?:ing|work)?\b`),
	regexp.MustCompile(`\bassum(?:ing|ption)`),
	regexp.MustCompile(`\binfer(?:red|ence)?\b`),
	regexp.MustCompile(`\bdeduced?\b`),
	regexp.MustCompile(`\bconjectur`),
	regexp.MustCompile(`\bnot\s+certain\b`),
	regexp.MustCompile(`\bnot\s+confident\b`),
	regexp.MustCompile(`\bnot\s+sure\b`),
	regexp.MustCompile(`\blow\s+confidence\b`),
	regexp.MustCompile(`\bseems?\s+(?:likely|probable)\b`),
	regexp.MustCompile(`\bprobably\b`),
	regexp.MustCompile(`\blikely\b`),
}

var confidentTonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:clearly|definitely|certainly|without\s+doubt|proven)\b`),
	regexp.MustCompile(`\b(?:is\s+)?the\s+(?:answer|fact|case)\b`),
}

var uncertainTonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:might|could|may|possibly|arguably)\b`),
	regexp.MustCompile(`\b(?:seems?|appears?)\b`),
	regexp.MustCompile(`\bunsure\b`),
}

var answerConfidentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bdefinitely\b`),
	regexp.MustCompile(`\bclearly\b`),
	regexp.MustCompile(`\bcertainly\b`),
}

// reasoningAssertions is what the model's reasoning asserts about its own
// confidence.
type reasoningAssertions struct {
	hardSignals   []string
	softSignals   []string
	contradictory bool
}

func extractReasoningAssertions(reasoning string) reasoningAssertions {
	if reasoning == "" {
		return reasoningAssertions{}
	}
	lower := strings.ToLower(reasoning)

	var a reasoningAssertions
	for _, p := range hardVetoPatterns {
		if m := p.FindString(lower); m != "" {
			a.hardSignals = append(a.hardSignals, m)
		}
	}
	for _, p := range softVetoPatterns {
		if m := p.FindString(lower); m != "" {
			a.softSignals = append(a.softSignals, m)
		}
	}

	confident := anyMatch(confidentTonePatterns, lower)
	uncertain := anyMatch(uncertainTonePatterns, lower)
	a.contradictory = confident && uncertain
	return a
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// AssessVeto analyzes the model's reasoning for red flags against its own
// answer. Diagnostic only: the result never forces a refusal, it records
// what the reasoning admitted.
func AssessVeto(reasoning string, baseConfidence float64, answer string) VetoResult {
	assertions := extractReasoningAssertions(reasoning)

	if len(assertions.hardSignals) > 0 {
		return VetoResult{
			Level:          VetoHard,
			MatchedSignals: assertions.hardSignals,
			ConfidenceCap:  0.0,
			Reason:         "Reasoning explicitly states: " + assertions.hardSignals[0],
			ShouldRefuse:   false,
		}
	}

	if len(assertions.softSignals) > 0 {
		answerLower := strings.ToLower(answer)
		contradiction := assertions.contradictory ||
			anyMatch(answerConfidentPatterns, answerLower)

		confCap := 0.7
		if len(assertions.softSignals) >= 3 {
			confCap = 0.6
		}
		if contradiction {
			confCap = 0.5
		}
		if baseConfidence < confCap {
			confCap = baseConfidence
		}

		head := assertions.softSignals
		if len(head) > 2 {
			head = head[:2]
		}
		reason := "Reasoning expresses uncertainty: " + strings.Join(head, ", ")
		if contradiction {
			reason += " (model contradicts itself with confident tone in answer)"
		}

		return VetoResult{
			Level:          VetoSoft,
			MatchedSignals: assertions.softSignals,
			ConfidenceCap:  confCap,
			Reason:         reason,
			ShouldRefuse:   false,
		}
	}

	return VetoResult{
		Level:          VetoNone,
		MatchedSignals: []string{},
		ConfidenceCap:  1.0,
		Reason:         "Reasoning supports conclusion",
		ShouldRefuse:   false,
	}
}
