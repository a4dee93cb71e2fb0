// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package files

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

// DecodeText extracts text from an uploaded file body. Binary document
// formats (.pdf, .docx, .doc) are rejected with a typed error telling the
// user what to do instead; everything else is treated as text with an
// encoding fallback chain.
func DecodeText(content []byte, filename string) (string, error) {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "", &datatypes.UnsupportedFormatError{
			Filename: filename,
			Reason:   "PDF extraction is not available. Please paste the text content or export the document as plain text",
		}
	case strings.HasSuffix(lower, ".docx"):
		return "", &datatypes.UnsupportedFormatError{
			Filename: filename,
			Reason:   "Word extraction is not available. Please export the document as plain text or Markdown",
		}
	case strings.HasSuffix(lower, ".doc"):
		return "", &datatypes.UnsupportedFormatError{
			Filename: filename,
			Reason:   "Legacy .doc format not supported. Please convert the file to .docx format using Microsoft Word or LibreOffice",
		}
	}

	text, err := decodeAsText(content)
	if err != nil {
		return "", &datatypes.UnsupportedFormatError{Filename: filename, Reason: err.Error()}
	}
	return text, nil
}

// decodeAsText decodes bytes as UTF-8, falling back to Windows-1252 and
// then ISO 8859-1. Windows-1252 goes first: it is a superset of Latin-1
// in the 0x80-0x9F range, where real documents carry smart quotes.
func decodeAsText(content []byte) (string, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return "", fmt.Errorf("file is empty")
	}

	if utf8.Valid(content) {
		return strings.TrimSpace(string(content)), nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
		decoded, err = charmap.ISO8859_1.NewDecoder().Bytes(content)
		if err != nil {
			return "", fmt.Errorf("unable to decode file content as text")
		}
	}

	text := strings.TrimSpace(string(decoded))
	if text == "" {
		return "", fmt.Errorf("file has no text content")
	}
	return text, nil
}

// TruncateContent caps extracted content at maxChars, appending a marker
// that records the original length so the user knows content was lost.
func TruncateContent(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	truncated := content[:maxChars]
	return fmt.Sprintf("%s\n\n[Content truncated to %d chars - original length: %d chars]",
		truncated, maxChars, len(content))
}

// DetectFileType maps a filename to a coarse type tag for display and
// prompt labeling.
func DetectFileType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "PDF"
	case strings.HasSuffix(lower, ".docx"), strings.HasSuffix(lower, ".doc"):
		return "Word"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".md"):
		return "Text"
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return "Config"
	case strings.HasSuffix(lower, ".py"), strings.HasSuffix(lower, ".js"), strings.HasSuffix(lower, ".ts"),
		strings.HasSuffix(lower, ".go"), strings.HasSuffix(lower, ".java"), strings.HasSuffix(lower, ".cpp"):
		return "Code"
	default:
		return "File"
	}
}
