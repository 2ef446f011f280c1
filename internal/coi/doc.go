// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package coi implements Centers of Interest: per-user clusters of embedding
vectors that summarise what a user reacted to.

The package is pure. It owns the online clustering rule, the recency decay
curve and the relevance weighting of COIs, and never touches storage. The
persisting wrapper lives in internal/personalize.

# Update Rule

Each reaction is attributed to the most similar COI of the same polarity
pool. When the best cosine similarity reaches the configured threshold the
COI is shifted towards the reaction:

	new = normalize(old + shift_factor * (input - old))

otherwise a new COI is created with the normalized input as its point. Ties
on similarity go to the COI with the larger view count. Pools never affect
each other and existing COIs are never merged or re-balanced.

# Recency

DecayWeight maps the age of a COI to [0, 1] with a shifted exponential that
is 1 at age zero and reaches 0 at the horizon:

	w(age) = (exp(-0.1*age_days) - exp(-0.1*horizon_days)) / (1 - exp(-0.1*horizon_days))

# Thread Safety

System is immutable after construction and safe for concurrent use. COI
slices are not: callers serialise mutation of a pool.
*/
package coi
