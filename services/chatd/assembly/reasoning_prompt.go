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
	"fmt"
	"strings"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// ReasoningPromptInput carries everything the self-explanation prompt needs
// about the completed answer.
type ReasoningPromptInput struct {
	UserQuery       string
	Answer          string
	SourcesUsed     map[string]float64
	LoadedSources   map[string]datatypes.LoadedSource
	Confidence      float64
	UnverifiedCount int
	Risk            string
	FollowUp        bool
	PrimaryAnswer   string

	// AnswerExcerptMax caps how much of the answer is quoted back.
	AnswerExcerptMax int
}

// BuildReasoningPrompt asks the model to justify the answer it just gave,
// structured against the system instruction steps.
func BuildReasoningPrompt(in ReasoningPromptInput) string {
	var sourceSummary []string
	if _, ok := in.SourcesUsed[string(SourceFile)]; ok {
		sourceSummary = append(sourceSummary,
			fmt.Sprintf("- FILE: %d file(s)", in.LoadedSources[string(SourceFile)].Count))
	}
	if _, ok := in.SourcesUsed[string(SourceMemory)]; ok {
		sourceSummary = append(sourceSummary,
			fmt.Sprintf("- MEMORY: %d item(s)", in.LoadedSources[string(SourceMemory)].Count))
	}
	if _, ok := in.SourcesUsed[string(SourceWeb)]; ok {
		sourceSummary = append(sourceSummary,
			fmt.Sprintf("- WEB: %d result(s)", in.LoadedSources[string(SourceWeb)].Count))
	}
	if _, ok := in.SourcesUsed[string(SourceHistory)]; ok {
		sourceSummary = append(sourceSummary, "- HISTORY: Conversation context")
	}
	if _, ok := in.SourcesUsed[string(SourceURLExtract)]; ok {
		sourceSummary = append(sourceSummary, "- URL: Extracted content")
	}
	if in.FollowUp && in.PrimaryAnswer != "" {
		sourceSummary = append(sourceSummary, fmt.Sprintf(
			"- FOLLOW-UP MODE HAS BEEN APPLIED: Previous answer available as primary context (%d chars)",
			len(in.PrimaryAnswer)))
	}

	sourcesText := "No external sources (used training knowledge)"
	if len(sourceSummary) > 0 {
		sourcesText = strings.Join(sourceSummary, "\n")
	}

	risk := in.Risk
	if risk == "" {
		risk = "NONE"
	}
	riskText := "NONE"
	if in.UnverifiedCount > 0 {
		riskText = fmt.Sprintf("%s (found %d unverified entities)", risk, in.UnverifiedCount)
	}

	excerpt := in.Answer
	ellipsis := ""
	if in.AnswerExcerptMax > 0 && len(excerpt) > in.AnswerExcerptMax {
		excerpt = excerpt[:in.AnswerExcerptMax]
		ellipsis = "..."
	}

	return fmt.Sprintf(`You just answered a user's question. Now explain your reasoning process step by step.

USER ASKED: %q

YOUR ANSWER WAS: "%s%s"

SOURCES YOU HAD AVAILABLE:
%s

YOUR CONFIDENCE: %.0f%%
VERIFICATION RISK: %s

%s
`, in.UserQuery, excerpt, ellipsis, sourcesText, in.Confidence*100, riskText, ReasoningPhaseSystem)
}
