// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package files

import (
	"strings"
	"testing"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

func TestDecodeText_UTF8(t *testing.T) {
	text, err := DecodeText([]byte("  hello world\n"), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("got %q, want %q", text, "hello world")
	}
}

func TestDecodeText_Windows1252(t *testing.T) {
	// "café" with a Latin-1/Windows-1252 e-acute, invalid as UTF-8.
	text, err := DecodeText([]byte{0x63, 0x61, 0x66, 0xE9}, "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "café" {
		t.Errorf("got %q, want %q", text, "café")
	}
}

func TestDecodeText_SmartQuotes(t *testing.T) {
	// 0x93/0x94 are curly quotes in Windows-1252 and control bytes in
	// Latin-1; the Windows-1252 pass must win.
	text, err := DecodeText([]byte{0x93, 0x68, 0x69, 0x94}, "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "“hi”" {
		t.Errorf("got %q, want curly-quoted hi", text)
	}
}

func TestDecodeText_UnsupportedFormats(t *testing.T) {
	cases := []struct {
		filename string
		wantMsg  string
	}{
		{"report.pdf", "PDF extraction"},
		{"report.docx", "Word extraction"},
		{"report.doc", "Legacy .doc format"},
		{"Report.PDF", "PDF extraction"},
	}
	for _, tc := range cases {
		_, err := DecodeText([]byte("anything"), tc.filename)
		if err == nil {
			t.Errorf("%s: expected error", tc.filename)
			continue
		}
		if !datatypes.IsUnsupportedFormatError(err) {
			t.Errorf("%s: expected UnsupportedFormatError, got %T", tc.filename, err)
		}
		if !strings.Contains(err.Error(), tc.wantMsg) {
			t.Errorf("%s: error %q missing %q", tc.filename, err.Error(), tc.wantMsg)
		}
	}
}

func TestDecodeText_Empty(t *testing.T) {
	_, err := DecodeText([]byte("   \n "), "notes.txt")
	if err == nil {
		t.Fatal("expected error for whitespace-only file")
	}
	if !datatypes.IsUnsupportedFormatError(err) {
		t.Errorf("expected UnsupportedFormatError, got %T", err)
	}
}

func TestTruncateContent(t *testing.T) {
	got := TruncateContent("abcdefghij", 4)
	want := "abcd\n\n[Content truncated to 4 chars - original length: 10 chars]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := TruncateContent("short", 100); got != "short" {
		t.Errorf("under-cap content changed: %q", got)
	}
	if got := TruncateContent("anything", 0); got != "anything" {
		t.Errorf("zero cap changed content: %q", got)
	}
}

func TestDetectFileType(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"paper.pdf", "PDF"},
		{"memo.docx", "Word"},
		{"memo.doc", "Word"},
		{"readme.md", "Text"},
		{"notes.TXT", "Text"},
		{"conf.yaml", "Config"},
		{"conf.yml", "Config"},
		{"data.json", "Config"},
		{"main.go", "Code"},
		{"script.py", "Code"},
		{"archive.zip", "File"},
		{"noextension", "File"},
	}
	for _, tc := range cases {
		if got := DetectFileType(tc.filename); got != tc.want {
			t.Errorf("DetectFileType(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
