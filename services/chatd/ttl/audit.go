// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/KodiakAI/KodiakChat/services/chatd/observability"
)

// =============================================================================
// Purge Audit Log
// =============================================================================

// GenesisHash is the previous-hash value of the first record in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// auditLogFileMode restricts the audit file to owner read/write. Purge
// records reveal what data existed and when it was removed, which is
// itself sensitive.
const auditLogFileMode = 0600

// PurgeAuditRecord is one JSON line in the audit file. Each record
// carries the hash of the previous record, so any edit to the file
// breaks the chain during verification.
type PurgeAuditRecord struct {
	Sequence   int64  `json:"sequence"`
	Timestamp  string `json:"timestamp"`
	Operation  string `json:"operation"`
	Deleted    int    `json:"deleted"`
	Cutoff     int64  `json:"cutoff"`
	RanAt      int64  `json:"ran_at"`
	DurationMs int64  `json:"duration_ms"`
	PrevHash   string `json:"prev_hash"`
	EntryHash  string `json:"entry_hash"`
}

// FileAuditSink appends a hash-chained purge record per cycle to a
// dedicated file. Structured logs still go to slog; the file is the
// compliance artifact.
//
// # Assumptions
//
//   - Log rotation is handled externally.
//   - Chain verification across rotated files needs the old files.
type FileAuditSink struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
	logger   *slog.Logger
}

// NewFileAuditSink opens (or creates) the audit file in append mode and
// restores the hash-chain state from its last record.
func NewFileAuditSink(path string, logger *slog.Logger) (*FileAuditSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open purge audit log: %w", err)
	}
	sink := &FileAuditSink{
		file:     file,
		path:     path,
		prevHash: GenesisHash,
		logger:   logger,
	}
	if err := sink.restoreChainState(path); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to restore audit chain state: %w", err)
	}
	logger.Info("purge audit log opened",
		"path", path,
		"starting_sequence", sink.sequence,
	)
	return sink, nil
}

// OnPurge appends the cycle's record to the chain.
func (s *FileAuditSink) OnPurge(_ context.Context, result PurgeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("purge audit log is closed")
	}

	s.sequence++
	record := PurgeAuditRecord{
		Sequence:   s.sequence,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Operation:  "purge_cycle",
		Deleted:    result.Deleted,
		Cutoff:     result.Cutoff,
		RanAt:      result.RanAt,
		DurationMs: result.Duration.Milliseconds(),
		PrevHash:   s.prevHash,
	}
	record.EntryHash = computePurgeRecordHash(record)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal purge record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write purge record: %w", err)
	}
	s.prevHash = record.EntryHash
	return nil
}

// VerifyChain walks the file and checks every link and entry hash.
// Returns the index of the first broken record, or -1 when the chain
// is intact.
func (s *FileAuditSink) VerifyChain() (bool, int64, error) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return false, -1, fmt.Errorf("failed to open audit log for verification: %w", err)
	}
	defer file.Close()

	prevHash := GenesisHash
	var index int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record PurgeAuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence == 0 {
			continue
		}
		if record.PrevHash != prevHash {
			return false, index, nil
		}
		if computePurgeRecordHash(record) != record.EntryHash {
			return false, index, nil
		}
		prevHash = record.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("error reading audit log: %w", err)
	}
	return true, -1, nil
}

// Close flushes and closes the audit file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("failed to close purge audit log: %w", err)
	}
	return nil
}

// restoreChainState reads the existing file to continue the chain from
// its last record. A missing file starts fresh at the genesis hash.
func (s *FileAuditSink) restoreChainState(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open audit log for reading: %w", err)
	}
	defer file.Close()

	var last PurgeAuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record PurgeAuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			last = record
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading audit log: %w", err)
	}
	if last.Sequence > 0 {
		s.sequence = last.Sequence
		s.prevHash = last.EntryHash
	}
	return nil
}

// computePurgeRecordHash hashes the record fields, excluding EntryHash,
// in a stable order.
func computePurgeRecordHash(record PurgeAuditRecord) string {
	data := fmt.Sprintf("%d|%s|%s|%d|%d|%d|%d|%s",
		record.Sequence,
		record.Timestamp,
		record.Operation,
		record.Deleted,
		record.Cutoff,
		record.RanAt,
		record.DurationMs,
		record.PrevHash,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

var _ AuditSink = (*FileAuditSink)(nil)

// =============================================================================
// Composite and Metrics Sinks
// =============================================================================

type metricsAuditSink struct{}

func (metricsAuditSink) OnPurge(_ context.Context, result PurgeResult) error {
	observability.AttachmentsPurged.Add(float64(result.Deleted))
	return nil
}

// NewMetricsAuditSink returns a sink that feeds purge counts into the
// Prometheus registry.
func NewMetricsAuditSink() AuditSink { return metricsAuditSink{} }

type multiAuditSink struct {
	sinks []AuditSink
}

// NewMultiAuditSink fans a purge record out to every sink. The first
// sink error is returned after all sinks have been called.
func NewMultiAuditSink(sinks ...AuditSink) AuditSink {
	return &multiAuditSink{sinks: sinks}
}

func (m *multiAuditSink) OnPurge(ctx context.Context, result PurgeResult) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.OnPurge(ctx, result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
