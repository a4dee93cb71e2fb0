// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config centralizes chatd configuration: context assembly limits,
// confidence weights, verification thresholds, and provider credentials.
//
// Values resolve in three layers: compiled defaults, then an optional YAML
// file, then environment variables. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultPort is the HTTP server port.
	DefaultPort = 12310

	// History block limits.
	DefaultHistoryLimit     = 10
	DefaultHistoryMaxPerMsg = 2000
	DefaultHistoryMaxTotal  = 6000

	// Memory block limits.
	DefaultMemorySearchLimit    = 5
	DefaultMemoryScoreThreshold = 0.35
	DefaultMemoryMaxPerItem     = 500
	DefaultMemoryMaxTotal       = 4000
	DefaultMemoryKeyMaxChars    = 80
	DefaultMemoryContentMax     = 2000

	// Web block limits.
	DefaultWebSearchLimit = 5
	DefaultWebSnippetMax  = 400
	DefaultWebTotalMax    = 5000
	DefaultWebMaxQueries  = 3

	// File limits.
	DefaultFileUploadMaxSizeMB    = 10
	DefaultFileUploadMaxChars     = 30000
	DefaultFileAttachmentMaxChars = 50000
	DefaultFileAttachmentExpiry   = 30 * 24 * time.Hour

	// Prompt limits.
	DefaultPromptMaxTotal  = 24000
	DefaultQueryPreviewMax = 100

	// URL extraction.
	DefaultURLExtractMaxChars    = 10000
	DefaultURLExtractMemoryChars = 5000
	DefaultExtractKeyPointsMax   = 2

	// Verification thresholds.
	DefaultUncertaintyThreshold = 0.45
	DefaultRiskMediumCount      = 3
	DefaultRiskHighCount        = 6
	DefaultRiskCapLow           = 0.8
	DefaultRiskCapMedium        = 0.6
	DefaultRiskCapHigh          = 0.3

	// Reasoning phase.
	DefaultReasoningExcerptMax = 800

	// Streaming.
	DefaultSSEHeartbeat = 15 * time.Second

	// Background cleanup.
	DefaultPurgeInterval = 1 * time.Hour

	// Provider quotas.
	DefaultTavilyMonthlyLimit = 1000
	DefaultSerperTotalLimit   = 2500
)

// Per-source confidence and relevance weights used during assembly.
const (
	ConfidenceFile       = 0.95
	ConfidenceMemory     = 0.75
	ConfidenceWeb        = 0.6
	ConfidenceURLExtract = 0.9
	ConfidenceHistory    = 0.2
	ConfidenceFollowUp   = 0.0
	ConfidenceNone       = 0.1
	ConfidenceEmptyMem   = 0.3
	ConfidenceEmptyWeb   = 0.2

	RelevanceFile       = 1.0
	RelevanceMemory     = 0.9
	RelevanceWeb        = 0.8
	RelevanceURLExtract = 0.85
)

// SystemInstructions is the base system prompt prepended to every turn.
const SystemInstructions = `You are a careful assistant grounded in the provided context.

STEP 1 - INTENT: Determine what the user is asking for: information,
explanation, clarification, or a continuation of the previous answer.
STEP 2 - CONTEXT: Identify which provided context blocks are relevant.
Treat uploaded files as the primary source of truth when present.
STEP 3 - SOURCES: For each context block decide whether it is required,
optional, or unused for this answer.
STEP 4 - LIMITS: If the context does not cover the question, say so
plainly instead of guessing.
STEP 5 - ANSWER: Answer directly, cite which context you relied on when
it matters, and keep uncertainty explicit.`

// =============================================================================
// Config
// =============================================================================

// Config holds the complete chatd configuration.
type Config struct {
	Port     int    `yaml:"port"`
	GinMode  string `yaml:"gin_mode"`
	LogLevel string `yaml:"log_level"`

	// Backends.
	WeaviateURL   string `yaml:"weaviate_url"`
	OTelEndpoint  string `yaml:"otel_endpoint"`
	LLMBackend    string `yaml:"llm_backend"`
	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaModel   string `yaml:"ollama_model"`
	OpenAIModel   string `yaml:"openai_model"`
	EmbeddingURL  string `yaml:"embedding_url"`

	// Context assembly limits.
	HistoryLimit     int `yaml:"history_limit"`
	HistoryMaxPerMsg int `yaml:"history_max_per_msg"`
	HistoryMaxTotal  int `yaml:"history_max_total"`

	MemorySearchLimit    int     `yaml:"memory_search_limit"`
	MemoryScoreThreshold float64 `yaml:"memory_score_threshold"`
	MemoryMaxPerItem     int     `yaml:"memory_max_per_item"`
	MemoryMaxTotal       int     `yaml:"memory_max_total"`
	MemoryKeyMaxChars    int     `yaml:"memory_key_max_chars"`
	MemoryContentMax     int     `yaml:"memory_content_max"`

	WebSearchLimit int `yaml:"web_search_limit"`
	WebSnippetMax  int `yaml:"web_snippet_max"`
	WebTotalMax    int `yaml:"web_total_max"`
	WebMaxQueries  int `yaml:"web_max_queries"`

	FileUploadMaxSizeMB    int           `yaml:"file_upload_max_size_mb"`
	FileUploadMaxChars     int           `yaml:"file_upload_max_chars"`
	FileAttachmentMaxChars int           `yaml:"file_attachment_max_chars"`
	FileAttachmentExpiry   time.Duration `yaml:"file_attachment_expiry"`

	PromptMaxTotal  int `yaml:"prompt_max_total"`
	QueryPreviewMax int `yaml:"query_preview_max"`

	URLExtractMaxChars    int `yaml:"url_extract_max_chars"`
	URLExtractMemoryChars int `yaml:"url_extract_memory_chars"`
	ExtractKeyPointsMax   int `yaml:"extract_key_points_max"`

	// Verification.
	UncertaintyThreshold float64 `yaml:"uncertainty_threshold"`
	RiskMediumCount      int     `yaml:"risk_medium_count"`
	RiskHighCount        int     `yaml:"risk_high_count"`
	RiskCapLow           float64 `yaml:"risk_cap_low"`
	RiskCapMedium        float64 `yaml:"risk_cap_medium"`
	RiskCapHigh          float64 `yaml:"risk_cap_high"`
	ReasoningExcerptMax  int     `yaml:"reasoning_excerpt_max"`
	NERStrategy          string  `yaml:"ner_strategy"`

	// Streaming.
	SSEHeartbeat time.Duration `yaml:"sse_heartbeat"`

	// Background cleanup.
	PurgeInterval time.Duration `yaml:"purge_interval"`
	PurgeEnabled  bool          `yaml:"purge_enabled"`
	PurgeLogPath  string        `yaml:"purge_log_path"`

	// Web search providers.
	SearxNGURL         string        `yaml:"searxng_url"`
	SearxNGTimeout     time.Duration `yaml:"searxng_timeout"`
	TavilyURL          string        `yaml:"tavily_url"`
	TavilyAPIKey       string        `yaml:"tavily_api_key"`
	TavilyMonthlyLimit int           `yaml:"tavily_monthly_limit"`
	SerperAPIKey       string        `yaml:"serper_api_key"`
	SerperTotalLimit   int           `yaml:"serper_total_limit"`
	DDGURL             string        `yaml:"ddg_url"`
}

// Default returns a Config populated with compiled defaults.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		GinMode:  "release",
		LogLevel: "info",

		OTelEndpoint:  "kodiak-otel-collector:4317",
		LLMBackend:    "ollama",
		OllamaBaseURL: "http://localhost:11434",
		OllamaModel:   "llama3",
		OpenAIModel:   "gpt-4o-mini",

		HistoryLimit:     DefaultHistoryLimit,
		HistoryMaxPerMsg: DefaultHistoryMaxPerMsg,
		HistoryMaxTotal:  DefaultHistoryMaxTotal,

		MemorySearchLimit:    DefaultMemorySearchLimit,
		MemoryScoreThreshold: DefaultMemoryScoreThreshold,
		MemoryMaxPerItem:     DefaultMemoryMaxPerItem,
		MemoryMaxTotal:       DefaultMemoryMaxTotal,
		MemoryKeyMaxChars:    DefaultMemoryKeyMaxChars,
		MemoryContentMax:     DefaultMemoryContentMax,

		WebSearchLimit: DefaultWebSearchLimit,
		WebSnippetMax:  DefaultWebSnippetMax,
		WebTotalMax:    DefaultWebTotalMax,
		WebMaxQueries:  DefaultWebMaxQueries,

		FileUploadMaxSizeMB:    DefaultFileUploadMaxSizeMB,
		FileUploadMaxChars:     DefaultFileUploadMaxChars,
		FileAttachmentMaxChars: DefaultFileAttachmentMaxChars,
		FileAttachmentExpiry:   DefaultFileAttachmentExpiry,

		PromptMaxTotal:  DefaultPromptMaxTotal,
		QueryPreviewMax: DefaultQueryPreviewMax,

		URLExtractMaxChars:    DefaultURLExtractMaxChars,
		URLExtractMemoryChars: DefaultURLExtractMemoryChars,
		ExtractKeyPointsMax:   DefaultExtractKeyPointsMax,

		UncertaintyThreshold: DefaultUncertaintyThreshold,
		RiskMediumCount:      DefaultRiskMediumCount,
		RiskHighCount:        DefaultRiskHighCount,
		RiskCapLow:           DefaultRiskCapLow,
		RiskCapMedium:        DefaultRiskCapMedium,
		RiskCapHigh:          DefaultRiskCapHigh,
		ReasoningExcerptMax:  DefaultReasoningExcerptMax,
		NERStrategy:          "pattern",

		SSEHeartbeat: DefaultSSEHeartbeat,

		PurgeInterval: DefaultPurgeInterval,
		PurgeEnabled:  true,
		PurgeLogPath:  "./logs/purge.log",

		SearxNGTimeout:     10 * time.Second,
		TavilyURL:          "https://api.tavily.com",
		TavilyMonthlyLimit: DefaultTavilyMonthlyLimit,
		SerperTotalLimit:   DefaultSerperTotalLimit,
	}
}

// Load builds the effective configuration: defaults, overridden by the YAML
// file at path (if non-empty), overridden by environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from environment variables.
func (c *Config) applyEnv() {
	c.Port = getEnvInt("CHATD_PORT", c.Port)
	c.GinMode = getEnvString("GIN_MODE", c.GinMode)
	c.LogLevel = getEnvString("CHATD_LOG_LEVEL", c.LogLevel)

	c.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", c.WeaviateURL)
	c.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTelEndpoint)
	c.LLMBackend = getEnvString("LLM_BACKEND_TYPE", c.LLMBackend)
	c.OllamaBaseURL = getEnvString("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.OllamaModel = getEnvString("OLLAMA_MODEL", c.OllamaModel)
	c.OpenAIModel = getEnvString("OPENAI_MODEL", c.OpenAIModel)
	c.EmbeddingURL = getEnvString("EMBEDDING_SERVICE_URL", c.EmbeddingURL)

	c.HistoryLimit = getEnvInt("CHATD_HISTORY_LIMIT", c.HistoryLimit)
	c.MemorySearchLimit = getEnvInt("CHATD_MEMORY_SEARCH_LIMIT", c.MemorySearchLimit)
	c.WebSearchLimit = getEnvInt("CHATD_WEB_SEARCH_LIMIT", c.WebSearchLimit)
	c.FileUploadMaxChars = getEnvInt("CHATD_FILE_UPLOAD_MAX_CHARS", c.FileUploadMaxChars)
	c.PromptMaxTotal = getEnvInt("CHATD_PROMPT_MAX_TOTAL", c.PromptMaxTotal)

	c.NERStrategy = getEnvString("NER_STRATEGY", c.NERStrategy)

	c.SearxNGURL = getEnvString("SEARXNG_URL", c.SearxNGURL)
	c.TavilyAPIKey = getEnvString("TAVILY_API_KEY", c.TavilyAPIKey)
	c.TavilyMonthlyLimit = getEnvInt("TAVILY_MONTHLY_LIMIT", c.TavilyMonthlyLimit)
	c.SerperAPIKey = getEnvString("SERPER_API_KEY", c.SerperAPIKey)
	c.SerperTotalLimit = getEnvInt("SERPER_TOTAL_LIMIT", c.SerperTotalLimit)
	c.DDGURL = getEnvString("DDG_URL", c.DDGURL)
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be >= 0, got %d", c.HistoryLimit)
	}
	if c.MemoryScoreThreshold < 0 || c.MemoryScoreThreshold > 1 {
		return fmt.Errorf("memory_score_threshold must be in [0,1], got %f", c.MemoryScoreThreshold)
	}
	if c.UncertaintyThreshold < 0 || c.UncertaintyThreshold > 1 {
		return fmt.Errorf("uncertainty_threshold must be in [0,1], got %f", c.UncertaintyThreshold)
	}
	if c.RiskHighCount <= c.RiskMediumCount {
		return fmt.Errorf("risk_high_count (%d) must exceed risk_medium_count (%d)",
			c.RiskHighCount, c.RiskMediumCount)
	}
	if c.PromptMaxTotal <= 0 {
		return fmt.Errorf("prompt_max_total must be > 0, got %d", c.PromptMaxTotal)
	}
	if c.SSEHeartbeat <= 0 {
		return fmt.Errorf("sse_heartbeat must be > 0, got %s", c.SSEHeartbeat)
	}
	return nil
}

// =============================================================================
// Environment Helpers
// =============================================================================

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
