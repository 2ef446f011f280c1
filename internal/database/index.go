// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// KNN returns the snippets most cosine-similar to query. The scan is exact:
// list_cosine_similarity over every snippet of matching dimension.
// Ties are broken by document id and sub id.
func (db *DB) KNN(ctx context.Context, tc tenant.Context, query []float32, p personalize.KNNParams) ([]personalize.Candidate, error) {
	const op = "knn"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	if p.K <= 0 || len(query) == 0 {
		return nil, nil
	}
	vec, err := encodeVector(query)
	if err != nil {
		return nil, personalize.NewValidationError(op, personalize.CodeInvalidEmbedding, err)
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT s.document_id, s.sub_id,
		CAST(list_cosine_similarity(s.embedding, CAST(? AS FLOAT[])) AS DOUBLE) AS sim,
		CAST(s.embedding AS VARCHAR), d.properties, %[2]s
	FROM %[1]s.snippet s JOIN %[1]s.document d ON d.document_id = s.document_id
	WHERE len(s.embedding) = ?`, tc.Schema, tagsColumn(tc.Schema, "s.document_id"))
	args := []any{vec, len(query)}

	if len(p.ExcludeDocuments) > 0 {
		fmt.Fprintf(&b, ` AND s.document_id NOT IN (%s)`, placeholders(len(p.ExcludeDocuments)))
		for _, id := range p.ExcludeDocuments {
			args = append(args, id)
		}
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, ` AND EXISTS (SELECT 1 FROM %s.document_tag ft WHERE ft.document_id = s.document_id AND ft.tag IN (%s))`,
			tc.Schema, placeholders(len(p.Tags)))
		for _, tag := range p.Tags {
			args = append(args, tag)
		}
	}
	b.WriteString(` ORDER BY sim DESC, s.document_id, s.sub_id LIMIT ?`)
	args = append(args, p.K)

	rows, err := db.conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()

	var out []personalize.Candidate
	for rows.Next() {
		var (
			c                personalize.Candidate
			emb, props, tags string
		)
		if err := rows.Scan(&c.DocumentID, &c.SubID, &c.Similarity, &emb, &props, &tags); err != nil {
			return nil, observe(op, start, err)
		}
		if c.Embedding, err = decodeVector(emb); err != nil {
			return nil, observe(op, start, err)
		}
		if c.Properties, err = decodeProperties(props); err != nil {
			return nil, observe(op, start, err)
		}
		c.Tags = splitTags(tags)
		out = append(out, c)
	}
	return out, observe(op, start, rows.Err())
}
