// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakePurger struct {
	deleted    int
	err        error
	lastCutoff int64
	calls      int
}

func (p *fakePurger) DeleteExpired(_ context.Context, before int64) (int, error) {
	p.calls++
	p.lastCutoff = before
	return p.deleted, p.err
}

type captureSink struct {
	results []PurgeResult
	err     error
}

func (s *captureSink) OnPurge(_ context.Context, result PurgeResult) error {
	s.results = append(s.results, result)
	return s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunNow_AppliesSkewTolerance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	purger := &fakePurger{deleted: 3}
	sink := &captureSink{}

	cfg := SchedulerConfig{Interval: time.Hour, SkewTolerance: 5 * time.Minute}
	s, err := NewScheduler(purger, clock, sink, cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantCutoff := now.Add(-5 * time.Minute).UnixMilli()
	if purger.lastCutoff != wantCutoff {
		t.Errorf("cutoff = %d, want %d", purger.lastCutoff, wantCutoff)
	}
	if result.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", result.Deleted)
	}
	if result.RanAt != now.UnixMilli() {
		t.Errorf("ran_at = %d, want %d", result.RanAt, now.UnixMilli())
	}
	if len(sink.results) != 1 || sink.results[0].Deleted != 3 {
		t.Errorf("sink did not record the cycle: %+v", sink.results)
	}
}

func TestRunNow_PurgerError(t *testing.T) {
	purger := &fakePurger{err: fmt.Errorf("weaviate down")}
	sink := &captureSink{}
	s, err := NewScheduler(purger, &fakeClock{now: time.Now()}, sink, DefaultSchedulerConfig(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected error from failing purger")
	}
	if len(sink.results) != 0 {
		t.Errorf("failed cycle must not reach the sink: %+v", sink.results)
	}
}

func TestRunNow_SinkFailureDoesNotFailCycle(t *testing.T) {
	purger := &fakePurger{deleted: 1}
	sink := &captureSink{err: fmt.Errorf("audit log full")}
	s, err := NewScheduler(purger, &fakeClock{now: time.Now()}, sink, DefaultSchedulerConfig(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("sink failure must not fail the cycle: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", result.Deleted)
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewScheduler(nil, nil, nil, DefaultSchedulerConfig(), testLogger()); err == nil {
		t.Error("expected error for nil purger")
	}
	cfg := SchedulerConfig{Interval: 0}
	if _, err := NewScheduler(&fakePurger{}, nil, nil, cfg, testLogger()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	s, err := NewScheduler(&fakePurger{}, nil, nil, DefaultSchedulerConfig(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.clock == nil || s.sink == nil {
		t.Error("nil clock and sink must default")
	}
	if _, err := s.RunNow(context.Background()); err != nil {
		t.Errorf("defaults must produce a working scheduler: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	purger := &fakePurger{}
	s, err := NewScheduler(purger, &fakeClock{now: time.Now()}, nil, SchedulerConfig{Interval: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second start must report already running")
	}

	s.Stop()
	s.Stop() // idempotent

	if err := s.Start(ctx); err != nil {
		t.Errorf("restart after stop failed: %v", err)
	}
	s.Stop()
}

func TestSkewTolerantFilter_NegativeTolerance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewSkewTolerantFilter(-time.Minute)
	if got := f.Cutoff(now); got != now.UnixMilli() {
		t.Errorf("negative tolerance must clamp to zero slack, got %d", got)
	}
}
