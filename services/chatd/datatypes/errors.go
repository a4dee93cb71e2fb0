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

import (
	"errors"
	"fmt"
)

// NotFoundError marks a lookup for an unknown session, memory, or file.
// Distinct from transient store failures so handlers can map it to 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFoundError reports whether err is (or wraps) a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError marks a request rejected before any work started.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UnsupportedFormatError marks a file the decode boundary cannot handle.
// This is the only collaborator error surfaced to the user as a hard
// failure: an upload with no extractable text is a genuine request error.
type UnsupportedFormatError struct {
	Filename string
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("cannot extract content from %s: %s", e.Filename, e.Reason)
}

// IsUnsupportedFormatError reports whether err is (or wraps) an
// UnsupportedFormatError.
func IsUnsupportedFormatError(err error) bool {
	var uf *UnsupportedFormatError
	return errors.As(err, &uf)
}

// RetrievalError marks a failed call to an external collaborator (store,
// embedding service, search provider). Retryable distinguishes transient
// transport failures from permanent ones.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed (status %d, retryable %t): %s",
		e.StatusCode, e.Retryable, e.Message)
}

// IsRetrievalError reports whether err is (or wraps) a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// IsRetryable reports whether err is a retryable RetrievalError.
func IsRetryable(err error) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
