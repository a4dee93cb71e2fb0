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
	"regexp"
	"strings"
)

// inlineFilePattern matches a file pasted into the message body by the UI:
// the query text, a blank line, then "[Attached file: name]" and the raw
// content through end of message.
var inlineFilePattern = regexp.MustCompile(`(?s)\n\n\[Attached file: ([^\]]+)\]\n(.+)`)

// ExtractInlineFile splits an inline file section out of the user message.
// It returns the message with the file section removed and the file info,
// or (text, nil) when no inline file is present.
func ExtractInlineFile(text string) (string, *FileInfo) {
	if text == "" {
		return text, nil
	}

	loc := inlineFilePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}

	filename := text[loc[2]:loc[3]]
	content := text[loc[4]:loc[5]]
	clean := strings.TrimSpace(text[:loc[0]])

	return clean, &FileInfo{
		Filename: filename,
		FileType: DetectFileType(filename),
		Content:  content,
		Length:   len(content),
	}
}

// DetectFileType classifies a filename by extension into the coarse buckets
// shown in file context blocks.
func DetectFileType(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".pdf"):
		return "PDF"
	case strings.HasSuffix(name, ".docx"), strings.HasSuffix(name, ".doc"):
		return "Word"
	case strings.HasSuffix(name, ".txt"), strings.HasSuffix(name, ".md"):
		return "Text"
	case strings.HasSuffix(name, ".json"), strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return "Config"
	case strings.HasSuffix(name, ".py"), strings.HasSuffix(name, ".js"), strings.HasSuffix(name, ".ts"),
		strings.HasSuffix(name, ".java"), strings.HasSuffix(name, ".cpp"):
		return "Code"
	default:
		return "unknown"
	}
}
