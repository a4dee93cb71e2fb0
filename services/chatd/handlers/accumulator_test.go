// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newInsecureAccumulator builds the fallback implementation directly so
// tests are deterministic regardless of the host's mlock limits.
func newInsecureAccumulator() TokenAccumulator {
	return &insecureTokenAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		hasher:    sha256.New(),
	}
}

func TestTokenAccumulator_WriteAndFinalize(t *testing.T) {
	acc := NewTokenAccumulator(testAccLogger())
	defer acc.Destroy()

	tokens := []string{"The ", "answer ", "is ", "42."}
	for _, tok := range tokens {
		require.NoError(t, acc.Write(tok))
	}

	answer, contentHash, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", answer)

	sum := sha256.Sum256([]byte("The answer is 42."))
	assert.Equal(t, hex.EncodeToString(sum[:]), contentHash,
		"hash must cover the concatenated tokens")
}

func TestTokenAccumulator_FinalizeEmpty(t *testing.T) {
	acc := NewTokenAccumulator(testAccLogger())
	defer acc.Destroy()

	answer, contentHash, err := acc.Finalize()
	require.NoError(t, err)
	assert.Empty(t, answer)

	sum := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), contentHash)
}

func TestTokenAccumulator_WriteAfterDestroy(t *testing.T) {
	acc := NewTokenAccumulator(testAccLogger())
	acc.Destroy()

	assert.Error(t, acc.Write("late"))
	_, _, err := acc.Finalize()
	assert.Error(t, err)
}

func TestTokenAccumulator_DestroyIdempotent(t *testing.T) {
	acc := NewTokenAccumulator(testAccLogger())
	acc.Destroy()
	acc.Destroy()
}

func TestTokenAccumulator_Identity(t *testing.T) {
	a := NewTokenAccumulator(testAccLogger())
	defer a.Destroy()
	b := NewTokenAccumulator(testAccLogger())
	defer b.Destroy()

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.False(t, a.CreatedAt().IsZero())
}

func TestInsecureAccumulator_Roundtrip(t *testing.T) {
	acc := newInsecureAccumulator()
	defer acc.Destroy()

	require.NoError(t, acc.Write("hello "))
	require.NoError(t, acc.Write("world"))

	answer, contentHash, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "hello world", answer)

	sum := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, hex.EncodeToString(sum[:]), contentHash)

	// Finalize wipes; a second call must fail.
	_, _, err = acc.Finalize()
	assert.Error(t, err)
}
