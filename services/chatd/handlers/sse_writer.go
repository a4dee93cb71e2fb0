// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// keepAliveInterval is how often an SSE comment ping is written while a
// long-running phase (generation, verification) produces no events.
const keepAliveInterval = 15 * time.Second

// EventWriter writes a hash-chained event stream to a client. The SSE and
// WebSocket transports both implement it.
//
// # Description
//
// Every event carries the hex SHA-256 of its own envelope plus the hash of
// the previous event, so a client can detect dropped or reordered frames.
// Keep-alives are transport-level (SSE comments, WebSocket pings) and do
// not participate in the chain.
type EventWriter interface {
	// WriteEvent emits a typed event with the given payload.
	WriteEvent(event string, data map[string]any) error

	// WriteKeepAlive emits a comment ping to hold the connection open.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps w for event streaming. It fails when the underlying
// writer cannot flush, which means the server stack has buffering that
// would defeat streaming entirely.
func NewSSEWriter(w http.ResponseWriter) (EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteEvent(event string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := buildEvent(s.prevHash, event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", ev.Event, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.flusher.Flush()

	s.prevHash = ev.Hash
	return nil
}

func (s *sseWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write keep-alive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// buildEvent mints the next envelope in the hash chain.
func buildEvent(prevHash, event string, data map[string]any) (datatypes.StreamEvent, error) {
	ev := datatypes.StreamEvent{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		CreatedAt: time.Now().UnixMilli(),
		PrevHash:  prevHash,
	}
	hash, err := computeEventHash(ev)
	if err != nil {
		return datatypes.StreamEvent{}, fmt.Errorf("failed to hash event: %w", err)
	}
	ev.Hash = hash
	return ev, nil
}

// computeEventHash hashes the envelope fields in a fixed order. The data
// payload is canonicalized through json.Marshal, which sorts map keys.
func computeEventHash(ev datatypes.StreamEvent) (string, error) {
	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s|%s|%d|%s|%s", ev.ID, ev.Event, ev.CreatedAt, ev.PrevHash, dataJSON)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// SetSSEHeaders configures the response for event streaming. Must be called
// before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ EventWriter = (*sseWriter)(nil)
