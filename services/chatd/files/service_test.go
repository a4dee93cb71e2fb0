// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package files

import (
	"testing"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

func TestAttachmentFromResult(t *testing.T) {
	sizeBytes := 12
	sizeChars := 11
	r := datatypes.FileAttachmentResult{
		FileID:     "f1",
		SessionID:  "s1",
		Filename:   "notes.txt",
		FileType:   "Text",
		SizeBytes:  &sizeBytes,
		SizeChars:  &sizeChars,
		Content:    "hello world",
		UploadedAt: 1000,
		ExpiresAt:  2000,
	}
	att := attachmentFromResult(r)
	if att.ID != "f1" || att.SessionID != "s1" || att.Filename != "notes.txt" {
		t.Errorf("identity fields not carried: %+v", att)
	}
	if att.SizeBytes != 12 || att.SizeChars != 11 {
		t.Errorf("sizes not carried: %+v", att)
	}
	if att.Content != "hello world" || att.UploadedAt != 1000 || att.ExpiresAt != 2000 {
		t.Errorf("content fields not carried: %+v", att)
	}
}

func TestAttachmentFromResult_MissingSizes(t *testing.T) {
	att := attachmentFromResult(datatypes.FileAttachmentResult{FileID: "f1"})
	if att.SizeBytes != 0 || att.SizeChars != 0 {
		t.Errorf("missing sizes should default to zero: %+v", att)
	}
}

func TestDecodeAttachmentResults(t *testing.T) {
	data := map[string]any{
		"Get": map[string]any{
			"FileAttachment": []any{
				map[string]any{
					"file_id":    "f1",
					"session_id": "s1",
					"filename":   "notes.txt",
					"content":    "hello",
				},
			},
		},
	}
	results, err := decodeAttachmentResults(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].FileID != "f1" || results[0].Content != "hello" {
		t.Errorf("fields not decoded: %+v", results[0])
	}
}

func TestDecodeAttachmentResults_Empty(t *testing.T) {
	results, err := decodeAttachmentResults(map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSplitterFor(t *testing.T) {
	// A markdown heading boundary should produce separate chunks when the
	// chunk budget cannot hold both sections.
	chunks, err := splitterFor("doc.md").SplitText("# One\n" + pad(900) + "\n## Two\n" + pad(900))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected split into multiple chunks, got %d", len(chunks))
	}

	chunks, err = splitterFor("short.txt").SplitText("just a short note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("short content should stay one chunk, got %d", len(chunks))
	}
}

func pad(n int) string {
	b := make([]byte, n)
	for i := range b {
		if i%10 == 9 {
			b[i] = ' '
		} else {
			b[i] = 'x'
		}
	}
	return string(b)
}
