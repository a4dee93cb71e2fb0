// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chatd runs the Kodiak chat backend.
//
// Configuration resolves from compiled defaults, an optional YAML file
// (--config), and environment variables, in that order.
//
// # Environment Variables
//
//   - CHATD_PORT: HTTP server port (default: 12310)
//   - CHATD_LOG_LEVEL: debug, info, warn, error (default: info)
//   - LLM_BACKEND_TYPE: ollama or openai (default: ollama)
//   - OLLAMA_BASE_URL: Ollama endpoint (default: http://localhost:11434)
//   - WEAVIATE_SERVICE_URL: Weaviate URL (required for serve)
//   - EMBEDDING_SERVICE_URL: embedding endpoint used by memory recall
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector (default: kodiak-otel-collector:4317)
//   - NER_STRATEGY: pattern or lexicon (default: pattern)
//
// # Usage
//
//	# Run the server
//	chatd serve
//
//	# Create the Weaviate classes without starting the server
//	chatd schema-init
//
//	# One-shot purge of expired attachments
//	chatd purge-files
//
//	# Check the purge audit log's hash chain
//	chatd audit-verify
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/KodiakAI/KodiakChat/pkg/logging"
	"github.com/KodiakAI/KodiakChat/services/chatd"
	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
	"github.com/KodiakAI/KodiakChat/services/chatd/files"
	"github.com/KodiakAI/KodiakChat/services/chatd/ttl"
)

var (
	configPath string
	logLevel   string
	logDir     string

	rootCmd = &cobra.Command{
		Use:           "chatd",
		Short:         "Kodiak chat backend: grounded answers with post-hoc verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}

	schemaInitCmd = &cobra.Command{
		Use:   "schema-init",
		Short: "Create the Weaviate classes and exit",
		RunE:  runSchemaInit,
	}

	purgeFilesCmd = &cobra.Command{
		Use:   "purge-files",
		Short: "Delete expired file attachments once and exit",
		RunE:  runPurgeFiles,
	}

	auditVerifyCmd = &cobra.Command{
		Use:   "audit-verify",
		Short: "Verify the purge audit log's hash chain",
		RunE:  runAuditVerify,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")

	rootCmd.AddCommand(serveCmd, schemaInitCmd, purgeFilesCmd, auditVerifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration and the process logger.
func loadConfig() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  logDir,
		Service: "chatd",
		// Pipes and container runtimes get JSON; a terminal gets text.
		JSON: !isatty.IsTerminal(os.Stderr.Fd()),
	})
	return cfg, logger, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	slogger := logger.Slog()
	slogger.Info("starting chatd",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := chatd.New(cfg, slogger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run()
}

func runSchemaInit(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	client, err := weaviateClient(cfg)
	if err != nil {
		return err
	}
	datatypes.EnsureWeaviateSchema(client)
	logger.Slog().Info("weaviate schema ensured", "url", cfg.WeaviateURL)
	return nil
}

func runPurgeFiles(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()
	slogger := logger.Slog()

	client, err := weaviateClient(cfg)
	if err != nil {
		return err
	}
	store, err := files.NewStore(client, &cfg, slogger)
	if err != nil {
		return err
	}

	sink, err := ttl.NewFileAuditSink(cfg.PurgeLogPath, slogger)
	if err != nil {
		return fmt.Errorf("failed to open purge audit log: %w", err)
	}
	defer sink.Close()

	scheduler, err := ttl.NewScheduler(store, ttl.SystemClock(), sink, ttl.DefaultSchedulerConfig(), slogger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	result, err := scheduler.RunNow(ctx)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	fmt.Printf("Purged %d expired attachments (cutoff %d).\n", result.Deleted, result.Cutoff)
	return nil
}

func runAuditVerify(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	sink, err := ttl.NewFileAuditSink(cfg.PurgeLogPath, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to open purge audit log: %w", err)
	}
	defer sink.Close()

	valid, breakIndex, err := sink.VerifyChain()
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("audit chain broken at record %d", breakIndex)
	}
	fmt.Println("Audit chain intact.")
	return nil
}

// weaviateClient connects to the configured Weaviate endpoint.
func weaviateClient(cfg config.Config) (*weaviate.Client, error) {
	raw := strings.Trim(cfg.WeaviateURL, "\"' ")
	if raw == "" {
		return nil, fmt.Errorf("weaviate_url is not configured")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate URL: %s", raw)
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
}
