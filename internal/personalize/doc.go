// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package personalize implements the write and read paths of the ranking
engine on top of the coi package.

# Components

  - Recorder: applies interactions. Each interaction appends to the
    interaction log, updates the (user, polarity) COI pool and adjusts
    tag weights. A batch runs in one transaction serialized on every pool
    it touches, so it commits whole or not at all.
  - Engine: ranks documents. Rank serves persisted and cold-start feeds,
    RankStateless derives ephemeral COIs from inline history and
    SemanticSearch ranks by query or document similarity.
  - DocumentService: ingests, reads and deletes documents, embedding
    snippets that arrive without a vector.

Storage, the nearest-neighbour index and the embedder are collaborators
behind the Store, Index and Embedder interfaces. The DuckDB and
PostgreSQL backends implement Store, Tx and Index.

# Ranking Modes

A request with at least coi.min_cois positive COIs is ranked in persisted
mode:

	score = w0*coiSimilarity + w1*tagAffinity + w2*recency - negativePenalty

Candidates come from one KNN query per recent COI with a budget
proportional to the COI's weight. Fewer COIs select cold start, which
ranks by query similarity when a query and an embedder are present and by
trending order otherwise. Index failures in persisted mode degrade to cold
start and are flagged on the result.

Every request walks the RankState machine:

	Unranked -> ModeSelected -> CandidatesRetrieved -> Scored -> Truncated -> Returned

and ends in Failed on error.

# Errors

All errors crossing the package boundary are *Error values carrying a
stable Kind. Storage errors are retried with exponential backoff by
withRetry; validation errors never are. The API layer maps kinds to HTTP
status codes.
*/
package personalize
