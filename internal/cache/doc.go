// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package cache provides the two caches used by the ranking engine.

# Rank Cache

Cache is a thread-safe in-memory TTL cache holding recent feed rankings.
Keys start with a per-user prefix (personalize.UserCachePrefix) so one
recorded interaction can invalidate every cached ranking of that user:

	c := cache.New(30 * time.Second)
	defer c.Close()

	prefix := personalize.UserCachePrefix(tc, "alice")
	c.Set(prefix+"feed", result)
	c.DeletePrefix(prefix) // after alice reacts to a document

Expired entries are dropped lazily on Get and periodically by a cleanup
goroutine that stops on Close.

# Embedding Cache

CachedEmbedder wraps an embedding.Embedder and memoizes vectors in
BadgerDB. Keys are the model name plus the SHA-256 of the text, so
switching models never serves stale vectors:

	db, _ := cache.OpenBadger("/data/embeddings")
	embedder := cache.NewCachedEmbedder(openai, db, 24*time.Hour, logger)

Read and write failures against BadgerDB are logged and bypassed; the
inner embedder remains the source of truth.

# Metrics

Both caches report through internal/metrics. CachedEmbedder records
lookups under the "embedding" label. The rank cache is instrumented by
the engine under the "rank" label.

Badger only reclaims value log space when asked; the server runs
CachedEmbedder.RunGC periodically from the supervisor's data layer.
*/
package cache
