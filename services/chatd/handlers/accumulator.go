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
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"crypto/sha256"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the mlocked buffer size for answer accumulation.
	// Answers beyond this overflow into regular heap memory.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the smallest RLIMIT_MEMLOCK (in KB) under which
	// secure buffers are attempted at all.
	MinMlockLimitKB = 512
)

// TokenAccumulator collects streamed answer tokens before persistence.
//
// # Description
//
// The secure implementation keeps the partial answer in mlocked memory so
// it never reaches swap, and hashes tokens incrementally so Finalize can
// return a content hash without a second pass. Callers must Destroy the
// accumulator on every path, including errors.
type TokenAccumulator interface {
	Write(token string) error
	Finalize() (answer string, contentHash string, err error)
	Destroy()
	ID() string
	CreatedAt() time.Time
}

var (
	memguardOnce   sync.Once
	mlockAvailable bool
)

func initMemguard() {
	memguardOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockAvailable = checkMlockLimit()
	})
}

// checkMlockLimit inspects RLIMIT_MEMLOCK. A limit below MinMlockLimitKB
// would make memguard allocations fail at runtime, so fall back early.
func checkMlockLimit() bool {
	if os.Getenv("KODIAK_INSECURE_MEMORY") == "true" {
		return false
	}
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		// Cannot read the limit; assume the platform allows mlock.
		return true
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true
	}
	return rlimit.Cur >= MinMlockLimitKB*1024
}

// IsMlockAvailable reports whether secure accumulators use mlocked buffers.
func IsMlockAvailable() bool {
	initMemguard()
	return mlockAvailable
}

// PurgeAllSecureMemory wipes every live memguard allocation. Call on
// shutdown after in-flight streams have drained.
func PurgeAllSecureMemory() {
	memguard.Purge()
}

// NewTokenAccumulator returns a secure accumulator when mlock is usable,
// otherwise a plain in-memory fallback.
func NewTokenAccumulator(logger *slog.Logger) TokenAccumulator {
	initMemguard()
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	now := time.Now()
	if !mlockAvailable {
		logger.Warn("mlock unavailable, accumulating tokens in regular memory",
			"accumulator_id", id)
		return &insecureTokenAccumulator{
			id:        id,
			createdAt: now,
			hasher:    sha256.New(),
		}
	}
	buf := memguard.NewBuffer(SecureBufferSize)
	buf.Melt()
	return &secureTokenAccumulator{
		id:        id,
		createdAt: now,
		buffer:    buf,
		hasher:    sha256.New(),
		logger:    logger,
	}
}

type secureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  []byte
	destroyed bool
	logger    *slog.Logger
}

func (a *secureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	a.hasher.Write([]byte(token))

	if a.overflow != nil {
		a.overflow = append(a.overflow, token...)
		return nil
	}
	if a.offset+len(token) > SecureBufferSize {
		a.logger.Warn("secure buffer exhausted, overflowing to heap",
			"accumulator_id", a.id, "offset", a.offset)
		a.overflow = append([]byte{}, token...)
		return nil
	}
	copy(a.buffer.Bytes()[a.offset:], token)
	a.offset += len(token)
	return nil
}

func (a *secureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	answer := string(a.buffer.Bytes()[:a.offset])
	if a.overflow != nil {
		answer += string(a.overflow)
	}
	contentHash := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.overflow = nil
	a.destroyed = true
	return answer, contentHash, nil
}

func (a *secureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.overflow = nil
	a.destroyed = true
}

func (a *secureTokenAccumulator) ID() string           { return a.id }
func (a *secureTokenAccumulator) CreatedAt() time.Time { return a.createdAt }

// insecureTokenAccumulator is the fallback when RLIMIT_MEMLOCK is too low
// or KODIAK_INSECURE_MEMORY=true is set.
type insecureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    []byte
	hasher    hash.Hash
	destroyed bool
}

func (a *insecureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	a.hasher.Write([]byte(token))
	a.buffer = append(a.buffer, token...)
	return nil
}

func (a *insecureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	answer := string(a.buffer)
	contentHash := hex.EncodeToString(a.hasher.Sum(nil))
	a.buffer = nil
	a.destroyed = true
	return answer, contentHash, nil
}

func (a *insecureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
	a.destroyed = true
}

func (a *insecureTokenAccumulator) ID() string           { return a.id }
func (a *insecureTokenAccumulator) CreatedAt() time.Time { return a.createdAt }

var (
	_ TokenAccumulator = (*secureTokenAccumulator)(nil)
	_ TokenAccumulator = (*insecureTokenAccumulator)(nil)
)
