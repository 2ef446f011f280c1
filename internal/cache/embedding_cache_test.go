// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Model() string  { return "counting" }

func TestCachedEmbedder(t *testing.T) {
	db, err := OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	defer db.Close()

	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, db, time.Hour, zerolog.Nop())
	ctx := context.Background()

	first, err := c.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := c.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
	if len(second) != 2 || second[0] != first[0] || second[1] != first[1] {
		t.Errorf("cached embedding = %v, want %v", second, first)
	}

	if _, err := c.Embed(ctx, "other"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls.Load())
	}
	if c.Dimension() != 2 || c.Model() != "counting" {
		t.Errorf("Dimension()=%d Model()=%q", c.Dimension(), c.Model())
	}
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	db, err := OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	defer db.Close()

	inner := &countingEmbedder{err: errors.New("upstream down")}
	c := NewCachedEmbedder(inner, db, 0, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := c.Embed(context.Background(), "q"); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls.Load())
	}
}

func TestCachedEmbedderRunGC(t *testing.T) {
	for _, path := range []string{"", t.TempDir()} {
		db, err := OpenBadger(path)
		if err != nil {
			t.Fatalf("OpenBadger(%q) error = %v", path, err)
		}
		c := NewCachedEmbedder(&countingEmbedder{}, db, time.Millisecond, zerolog.Nop())
		if _, err := c.Embed(context.Background(), "expiring"); err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		if err := c.RunGC(context.Background()); err != nil {
			t.Errorf("RunGC() on %q error = %v", path, err)
		}
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
}
