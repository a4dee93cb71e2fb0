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

// Stream event names, in the order they may appear during one turn.
//
// The contract: zero or more token events, then answer_complete, then
// verification_starting and verification_complete, then optionally
// reasoning_starting with zero or more reasoning_token events, then a
// terminal done or error.
const (
	EventStatus               = "status"
	EventToken                = "token"
	EventAnswerComplete       = "answer_complete"
	EventVerificationStarting = "verification_starting"
	EventVerificationComplete = "verification_complete"
	EventReasoningStarting    = "reasoning_starting"
	EventReasoningToken       = "reasoning_token"
	EventDone                 = "done"
	EventError                = "error"
)

// StreamEvent is the wire envelope for one turn event.
//
// # Description
//
// Every event carries a fresh ID, a Unix-millisecond timestamp, and a
// SHA-256 hash chain: Hash covers this event's identity and payload plus
// PrevHash, so a consumer can detect dropped or reordered events.
//
// # Fields
//
//   - ID: UUID v4, unique per event.
//   - Event: one of the Event* constants.
//   - Data: event-specific payload (token text, verification summary, ...).
//   - CreatedAt: Unix milliseconds at emission time.
//   - PrevHash: hash of the previous event in this stream; empty for the first.
//   - Hash: SHA-256 over (ID, Event, payload, CreatedAt, PrevHash).
type StreamEvent struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt int64          `json:"created_at"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Hash      string         `json:"hash"`
}

// VerificationSummary is the payload of a verification_complete event.
type VerificationSummary struct {
	RiskLevel       string  `json:"risk_level"`
	UnverifiedCount int     `json:"unverified_count"`
	ConfidenceCap   float64 `json:"confidence_cap"`
	HasUncertainty  bool    `json:"has_uncertainties"`
}
