// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/metrics"
)

// Key prefix for BadgerDB storage
const embeddingKeyPrefix = "emb:"

// OpenBadger opens the badger database backing the embedding cache. An
// empty path opens an in-memory database.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// CachedEmbedder memoizes embeddings of an inner embedder in BadgerDB,
// keyed by model and text hash. Query texts repeat often across users.
type CachedEmbedder struct {
	inner  embedding.Embedder
	db     *badger.DB
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedEmbedder wraps inner. Entries expire after ttl; zero keeps them
// until the database is dropped.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewCachedEmbedder(inner embedding.Embedder, db *badger.DB, ttl time.Duration, logger zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		db:     db,
		ttl:    ttl,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
	}
}

// Embed returns the cached embedding of text or computes and stores it.
// Cache failures are logged and fall through to the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	cached, err := c.get(key)
	switch {
	case err == nil:
		metrics.RecordCacheLookup("embedding", true)
		return cached, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		c.logger.Warn().Err(err).Msg("embedding cache read failed")
	}
	metrics.RecordCacheLookup("embedding", false)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.set(key, vec); err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache write failed")
	}
	return vec, nil
}

// Dimension returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Model returns the inner embedder's model.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// gcDiscardRatio is the stale fraction a value log file needs before GC
// rewrites it.
const gcDiscardRatio = 0.5

// RunGC reclaims value log space left by expired embeddings. It runs until
// badger finds nothing to rewrite. In-memory databases have no value log.
func (c *CachedEmbedder) RunGC(ctx context.Context) error {
	for ctx.Err() == nil {
		err := c.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("embedding cache gc: %w", err)
		}
	}
	return ctx.Err()
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(embeddingKeyPrefix + c.inner.Model() + ":" + hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) get(key []byte) ([]float32, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vec)
		})
	})
	return vec, err
}

func (c *CachedEmbedder) set(key []byte, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}
