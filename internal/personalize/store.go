// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// Store is the tenant-scoped persistence port. It is implemented by the
// DuckDB and PostgreSQL backends. Reads take no locks.
type Store interface {
	// COIs returns both pools of the user in creation order.
	COIs(ctx context.Context, tc tenant.Context, userID string) ([]coi.COI, error)

	// TagWeights returns the user's tag weights.
	TagWeights(ctx context.Context, tc tenant.Context, userID string) (map[string]int, error)

	// InteractedDocuments returns the ids of documents in the user's
	// interaction log.
	InteractedDocuments(ctx context.Context, tc tenant.Context, userID string) ([]string, error)

	// Snippets loads the given snippets. Unknown refs are skipped.
	Snippets(ctx context.Context, tc tenant.Context, refs []SnippetRef) ([]SnippetData, error)

	// Trending returns documents ordered by interactions since the given
	// time, then by creation time (newest first), then by id.
	Trending(ctx context.Context, tc tenant.Context, since time.Time, limit int, exclude []string) ([]TrendingDocument, error)

	// WithUserLock runs fn in one transaction serialized on
	// (tenant, user, pool) for every pool in pools. Keys are taken in
	// the order of UserLockKeys. fn's error rolls the transaction back.
	WithUserLock(ctx context.Context, tc tenant.Context, userID string, pools []coi.Polarity, fn func(Tx) error) error

	// UpsertDocuments inserts or fully replaces documents and their snippets.
	UpsertDocuments(ctx context.Context, tc tenant.Context, docs []Document) error

	// DeleteDocument removes a document and its snippets. Missing
	// documents yield a KindNotFound error.
	DeleteDocument(ctx context.Context, tc tenant.Context, documentID string) error

	// Document loads a document with its snippets.
	Document(ctx context.Context, tc tenant.Context, documentID string) (*Document, error)
}

// Tx is the write side of a user-serialized transaction.
type Tx interface {
	// Snippet loads a snippet and its document's tags. Missing snippets
	// yield a KindNotFound error.
	Snippet(ctx context.Context, ref SnippetRef) (SnippetData, error)

	// COIDimension returns the embedding dimension of the user's COIs
	// across both pools, or 0 when the user has none.
	COIDimension(ctx context.Context, userID string) (int, error)

	// COIs returns one pool of the user in creation order.
	COIs(ctx context.Context, userID string, polarity coi.Polarity) ([]coi.COI, error)

	// SaveCOI inserts or updates a COI.
	SaveCOI(ctx context.Context, userID string, c coi.COI) error

	// AppendInteraction appends to the interaction log.
	AppendInteraction(ctx context.Context, in LoggedInteraction) error

	// AdjustTagWeights adds deltas to the user's tag weights, clamping
	// the results to floor.
	AdjustTagWeights(ctx context.Context, userID string, deltas map[string]int, floor int) error
}

// Index is the nearest-neighbour collaborator. Lookups are tenant scoped.
type Index interface {
	KNN(ctx context.Context, tc tenant.Context, query []float32, params KNNParams) ([]Candidate, error)
}

// TenantRegistry manages tenant schemas.
type TenantRegistry interface {
	CreateTenant(ctx context.Context, tc tenant.Context) error
	DeleteTenant(ctx context.Context, tc tenant.Context) error
	ListTenants(ctx context.Context) ([]string, error)
	HasTenant(ctx context.Context, tc tenant.Context) (bool, error)
}

// RankCache caches ranking results. internal/cache.Cache satisfies it.
type RankCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	DeletePrefix(prefix string) int
}

// EventPublisher publishes write-path events.
type EventPublisher interface {
	PublishInteractionRecorded(ctx context.Context, ev RecordedEvent) error
}

// Embedder is the embedding collaborator.
type Embedder = embedding.Embedder

// UserCachePrefix returns the rank cache key prefix of a user. Parts are
// quoted, so no user's prefix is a prefix of another user's keys.
func UserCachePrefix(tc tenant.Context, userID string) string {
	return "rank:" + strconv.Quote(tc.ID) + strconv.Quote(userID)
}

// rankCacheKey extends the user's prefix with the request parameters.
func rankCacheKey(tc tenant.Context, userID string, count int, query string, tags []string) string {
	var b strings.Builder
	b.WriteString(UserCachePrefix(tc, userID))
	b.WriteString(strconv.Itoa(count))
	b.WriteByte('[')
	for _, tag := range tags {
		b.WriteString(strconv.Quote(tag))
	}
	b.WriteByte(']')
	b.WriteString(strconv.Quote(query))
	return b.String()
}

// UserLockKeys returns the serialization keys of (tenant, user, pool) for
// pools, deduplicated and ordered positive before negative. Backends
// acquire them in this order.
func UserLockKeys(tc tenant.Context, userID string, pools []coi.Polarity) []string {
	var keys []string
	for _, p := range []coi.Polarity{coi.Positive, coi.Negative} {
		for _, want := range pools {
			if want == p {
				keys = append(keys, tc.ID+"|"+userID+"|"+p.String())
				break
			}
		}
	}
	return keys
}
