// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// KNN returns the snippets most cosine-similar to query with an exact
// scan. Ties are broken by document id and sub id.
func (db *DB) KNN(ctx context.Context, tc tenant.Context, query []float32, p personalize.KNNParams) ([]personalize.Candidate, error) {
	const op = "knn"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	if p.K <= 0 || len(query) == 0 {
		return nil, nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	exclude := p.ExcludeDocuments
	if exclude == nil {
		exclude = []string{}
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	rows, err := db.pool.Query(ctx, fmt.Sprintf(`SELECT s.document_id, s.sub_id,
			%[1]s.cosine_similarity(s.embedding, $1::real[]) AS sim, s.embedding, d.properties, d.tags
		FROM %[1]s.snippet s JOIN %[1]s.document d ON d.document_id = s.document_id
		WHERE cardinality(s.embedding) = $2
			AND NOT (s.document_id = ANY($3::text[]))
			AND (cardinality($4::text[]) = 0 OR d.tags && $4::text[])
		ORDER BY sim DESC, s.document_id, s.sub_id
		LIMIT $5`, tc.Schema), query, len(query), exclude, tags, p.K)
	if err != nil {
		return nil, observe(op, start, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (personalize.Candidate, error) {
		var (
			c     personalize.Candidate
			subID int32
		)
		if err := row.Scan(&c.DocumentID, &subID, &c.Similarity, &c.Embedding, &c.Properties, &c.Tags); err != nil {
			return c, err
		}
		c.SubID = int(subID)
		c.Properties = normalizeProperties(c.Properties)
		if len(c.Tags) == 0 {
			c.Tags = nil
		}
		return c, nil
	})
	return out, observe(op, start, err)
}
