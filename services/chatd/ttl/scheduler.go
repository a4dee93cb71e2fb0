// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the background purge of expired file attachments.
//
// # Description
//
// Attachments carry an expiry stamp written at upload time. The scheduler
// wakes on an interval, computes a purge cutoff through the injected
// filter, and asks the purger to delete everything expired before it.
// Every cycle is reported to the audit sink.
//
// # Assumptions
//
//   - One scheduler runs per process.
//   - The purger's delete is idempotent; overlapping cycles after a
//     restart only re-delete nothing.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts system time so tests can pin it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real time source.
func SystemClock() Clock { return systemClock{} }

// Purger deletes rows whose expiry stamp is before the unix-millisecond
// cutoff and reports how many were removed.
type Purger interface {
	DeleteExpired(ctx context.Context, before int64) (int, error)
}

// PurgeResult summarizes one purge cycle.
type PurgeResult struct {
	Deleted  int           `json:"deleted"`
	Cutoff   int64         `json:"cutoff"`
	RanAt    int64         `json:"ran_at"`
	Duration time.Duration `json:"duration"`
}

// AuditSink receives a record of every completed purge cycle. Sink
// failures are logged and never fail the cycle.
type AuditSink interface {
	OnPurge(ctx context.Context, result PurgeResult) error
}

type noopAuditSink struct{}

func (noopAuditSink) OnPurge(context.Context, PurgeResult) error { return nil }

// NewNoopAuditSink returns a sink that discards purge records.
func NewNoopAuditSink() AuditSink { return noopAuditSink{} }

// CutoffFilter maps the current time to a purge cutoff.
type CutoffFilter interface {
	Cutoff(now time.Time) int64
}

// skewTolerantFilter backs the cutoff off by a tolerance so clock drift
// between replicas cannot purge an attachment moments before its real
// expiry.
type skewTolerantFilter struct {
	tolerance time.Duration
}

// NewSkewTolerantFilter returns a filter whose cutoff trails now by the
// given tolerance. A non-positive tolerance means no slack.
func NewSkewTolerantFilter(tolerance time.Duration) CutoffFilter {
	if tolerance < 0 {
		tolerance = 0
	}
	return &skewTolerantFilter{tolerance: tolerance}
}

func (f *skewTolerantFilter) Cutoff(now time.Time) int64 {
	return now.Add(-f.tolerance).UnixMilli()
}

// SchedulerConfig holds purge scheduler settings.
type SchedulerConfig struct {
	Interval      time.Duration
	SkewTolerance time.Duration
}

// DefaultSchedulerConfig returns production defaults: hourly cycles with
// five minutes of clock-skew slack.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      1 * time.Hour,
		SkewTolerance: 5 * time.Minute,
	}
}

// Scheduler periodically purges expired attachments.
type Scheduler struct {
	purger Purger
	clock  Clock
	filter CutoffFilter
	sink   AuditSink
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewScheduler creates a purge scheduler. Clock and sink may be nil;
// they default to the system clock and a discarding sink.
func NewScheduler(purger Purger, clock Clock, sink AuditSink, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if purger == nil {
		return nil, fmt.Errorf("purger cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if clock == nil {
		clock = SystemClock()
	}
	if sink == nil {
		sink = NewNoopAuditSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		purger: purger,
		clock:  clock,
		filter: NewSkewTolerantFilter(cfg.SkewTolerance),
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the background purge loop. An initial cycle runs
// immediately so a restart never extends an attachment's life by a full
// interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("attachment purge scheduler starting",
		"interval", s.cfg.Interval.String(),
		"skew_tolerance", s.cfg.SkewTolerance.String())

	go s.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit. Safe to call multiple times; does not
// interrupt a purge already in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info("attachment purge scheduler stopping")
	close(s.done)
	s.running = false
}

// RunNow executes one purge cycle immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (PurgeResult, error) {
	return s.purgeCycle(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.executePurge(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("attachment purge scheduler stopped", "reason", "context cancelled")
			return
		case <-s.done:
			s.logger.Info("attachment purge scheduler stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			s.executePurge(ctx)
		}
	}
}

// executePurge runs one cycle and absorbs its error so a failed cycle
// never kills the loop.
func (s *Scheduler) executePurge(ctx context.Context) {
	result, err := s.purgeCycle(ctx)
	if err != nil {
		s.logger.Error("attachment purge cycle failed", "error", err)
		return
	}
	if result.Deleted > 0 {
		s.logger.Info("expired attachments purged",
			"deleted", result.Deleted,
			"cutoff", result.Cutoff,
			"duration", result.Duration.String())
	}
}

func (s *Scheduler) purgeCycle(ctx context.Context) (PurgeResult, error) {
	start := s.clock.Now()
	cutoff := s.filter.Cutoff(start)

	deleted, err := s.purger.DeleteExpired(ctx, cutoff)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purging expired attachments: %w", err)
	}

	result := PurgeResult{
		Deleted:  deleted,
		Cutoff:   cutoff,
		RanAt:    start.UnixMilli(),
		Duration: s.clock.Now().Sub(start),
	}
	if err := s.sink.OnPurge(ctx, result); err != nil {
		s.logger.Warn("purge audit sink failed", "error", err)
	}
	return result, nil
}
