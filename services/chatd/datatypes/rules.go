// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "encoding/json"

// RulesConfig holds the per-session (or global default) behavior toggles
// and limit overrides. Limit fields at zero mean "inherit the configured
// default". Field names match the client wire format.
type RulesConfig struct {
	// Web search provider toggles.
	SearxNG    bool `json:"searxng"`
	DuckDuckGo bool `json:"duckduckgo"`
	Tavily     bool `json:"tavily"`
	Serper     bool `json:"serper"`

	// URL extraction toggles.
	TavilyExtract bool `json:"tavilyExtract"`
	LocalExtract  bool `json:"localExtract"`

	// Advance modes fan out across every enabled provider instead of
	// stopping at the first success.
	AdvanceSearch  bool `json:"advanceSearch"`
	AdvanceExtract bool `json:"advanceExtract"`

	// Feature flags.
	FollowUpEnabled  bool `json:"followUpEnabled"`
	ReasoningEnabled bool `json:"reasoningEnabled"`

	// Limit overrides. Zero inherits the configured default.
	WebSearchLimit     int `json:"webSearchLimit,omitempty"`
	HistoryLimit       int `json:"historyLimit,omitempty"`
	MemorySearchLimit  int `json:"memorySearchLimit,omitempty"`
	FileUploadMaxChars int `json:"fileUploadMaxChars,omitempty"`

	// CustomInstructions is appended to the system prompt verbatim.
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// DefaultRules returns the out-of-the-box rules: free local providers on,
// keyed providers off, advanced features off.
func DefaultRules() RulesConfig {
	return RulesConfig{
		SearxNG:      true,
		DuckDuckGo:   true,
		LocalExtract: true,
	}
}

// WebSearchEnabled reports whether any search provider is switched on.
func (r RulesConfig) WebSearchEnabled() bool {
	return r.SearxNG || r.DuckDuckGo || r.Tavily || r.Serper
}

// ExtractEnabled reports whether any URL extraction path is switched on.
func (r RulesConfig) ExtractEnabled() bool {
	return r.LocalExtract || r.TavilyExtract
}

// EnabledProviders lists switched-on search providers in preference order.
func (r RulesConfig) EnabledProviders() []string {
	var providers []string
	if r.Tavily {
		providers = append(providers, "tavily")
	}
	if r.Serper {
		providers = append(providers, "serper")
	}
	if r.SearxNG {
		providers = append(providers, "searxng")
	}
	if r.DuckDuckGo {
		providers = append(providers, "ddg")
	}
	return providers
}

// MarshalRules serializes rules for storage as a JSON text property.
func MarshalRules(r RulesConfig) string {
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UnmarshalRules parses a stored rules blob, falling back to defaults on
// empty or unparsable input.
func UnmarshalRules(blob string) RulesConfig {
	if blob == "" {
		return DefaultRules()
	}
	var r RulesConfig
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return DefaultRules()
	}
	return r
}
