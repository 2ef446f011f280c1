// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// COIs returns both pools of the user in creation order.
func (db *DB) COIs(ctx context.Context, tc tenant.Context, userID string) ([]coi.COI, error) {
	const op = "load cois"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	cois, err := queryCOIs(ctx, db.pool, tc.Schema, userID, nil)
	return cois, observe(op, start, err)
}

func queryCOIs(ctx context.Context, q querier, schema, userID string, polarity *coi.Polarity) ([]coi.COI, error) {
	query := fmt.Sprintf(`SELECT coi_id, is_positive, embedding, view_count, view_time_ms, last_view
		FROM %s.center_of_interest WHERE user_id = $1`, schema)
	args := []any{userID}
	if polarity != nil {
		query += ` AND is_positive = $2`
		args = append(args, polarity.IsPositive())
	}
	query += ` ORDER BY seq`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (coi.COI, error) {
		var (
			c          coi.COI
			isPositive bool
			viewTimeMS int64
			viewCount  int32
		)
		if err := row.Scan(&c.ID, &isPositive, &c.Embedding, &viewCount, &viewTimeMS, &c.LastView); err != nil {
			return c, fmt.Errorf("scan coi: %w", err)
		}
		c.Polarity = coi.PolarityFromBool(isPositive)
		c.ViewCount = int(viewCount)
		c.ViewTime = time.Duration(viewTimeMS) * time.Millisecond
		c.LastView = c.LastView.UTC()
		return c, nil
	})
}

// TagWeights returns the user's tag weights.
func (db *DB) TagWeights(ctx context.Context, tc tenant.Context, userID string) (map[string]int, error) {
	const op = "load tag weights"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	rows, err := db.pool.Query(ctx,
		fmt.Sprintf(`SELECT tag, weight FROM %s.weighted_tag WHERE user_id = $1`, tc.Schema), userID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()

	weights := make(map[string]int)
	for rows.Next() {
		var tag string
		var w int32
		if err := rows.Scan(&tag, &w); err != nil {
			return nil, observe(op, start, err)
		}
		weights[tag] = int(w)
	}
	return weights, observe(op, start, rows.Err())
}

// InteractedDocuments returns the user's documents in order of first
// interaction.
func (db *DB) InteractedDocuments(ctx context.Context, tc tenant.Context, userID string) ([]string, error) {
	const op = "load interacted documents"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	rows, err := db.pool.Query(ctx, fmt.Sprintf(`SELECT document_id FROM %s.interaction
		WHERE user_id = $1 GROUP BY document_id ORDER BY MIN(time_stamp), document_id`, tc.Schema), userID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, observe(op, start, err)
}

// Snippets loads the given snippets in ref order. Unknown refs are skipped.
func (db *DB) Snippets(ctx context.Context, tc tenant.Context, refs []personalize.SnippetRef) ([]personalize.SnippetData, error) {
	const op = "load snippets"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	found, err := querySnippets(ctx, db.pool, tc.Schema, refs)
	if err != nil {
		return nil, observe(op, start, err)
	}
	out := make([]personalize.SnippetData, 0, len(found))
	for _, ref := range refs {
		if data, ok := found[ref]; ok {
			out = append(out, data)
			delete(found, ref)
		}
	}
	return out, observe(op, start, nil)
}

// querySnippets joins the snippet table against the unnested refs.
func querySnippets(ctx context.Context, q querier, schema string, refs []personalize.SnippetRef) (map[personalize.SnippetRef]personalize.SnippetData, error) {
	docIDs := make([]string, len(refs))
	subIDs := make([]int32, len(refs))
	for i, ref := range refs {
		docIDs[i] = ref.DocumentID
		subIDs[i] = int32(ref.SubID) //nolint:gosec // sub ids are validated small integers
	}
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT s.document_id, s.sub_id, s.embedding, d.tags
		FROM %[1]s.snippet s
		JOIN %[1]s.document d ON d.document_id = s.document_id
		JOIN unnest($1::text[], $2::int[]) AS r(document_id, sub_id)
			ON r.document_id = s.document_id AND r.sub_id = s.sub_id`, schema), docIDs, subIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[personalize.SnippetRef]personalize.SnippetData, len(refs))
	for rows.Next() {
		var (
			data  personalize.SnippetData
			subID int32
		)
		if err := rows.Scan(&data.DocumentID, &subID, &data.Embedding, &data.Tags); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		data.SubID = int(subID)
		if len(data.Tags) == 0 {
			data.Tags = nil
		}
		found[data.SnippetRef] = data
	}
	return found, rows.Err()
}

// Trending returns documents ordered by interactions since the given time,
// then by creation time (newest first), then by id.
func (db *DB) Trending(ctx context.Context, tc tenant.Context, since time.Time, limit int, exclude []string) ([]personalize.TrendingDocument, error) {
	const op = "trending"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	var lim any
	if limit > 0 {
		lim = limit
	}
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := db.pool.Query(ctx, fmt.Sprintf(`WITH counts AS (
		SELECT document_id, COUNT(*) AS n FROM %[1]s.interaction WHERE time_stamp >= $1 GROUP BY document_id
	)
	SELECT d.document_id, COALESCE(c.n, 0), d.created_at, d.properties, d.tags
	FROM %[1]s.document d LEFT JOIN counts c ON c.document_id = d.document_id
	WHERE NOT (d.document_id = ANY($2::text[]))
	ORDER BY 2 DESC, d.created_at DESC, d.document_id
	LIMIT $3::bigint`, tc.Schema), since.UTC(), exclude, lim)
	if err != nil {
		return nil, observe(op, start, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (personalize.TrendingDocument, error) {
		var (
			td personalize.TrendingDocument
			n  int64
		)
		if err := row.Scan(&td.DocumentID, &n, &td.CreatedAt, &td.Properties, &td.Tags); err != nil {
			return td, err
		}
		td.Interactions = int(n)
		td.CreatedAt = td.CreatedAt.UTC()
		td.Properties = normalizeProperties(td.Properties)
		if len(td.Tags) == 0 {
			td.Tags = nil
		}
		return td, nil
	})
	return out, observe(op, start, err)
}

// WithUserLock runs fn in a transaction holding an advisory lock on
// (tenant, user, pool) for each of pools. The locks are released at
// commit or rollback.
func (db *DB) WithUserLock(ctx context.Context, tc tenant.Context, userID string, pools []coi.Polarity, fn func(personalize.Tx) error) error {
	const op = "user transaction"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	keys := personalize.UserLockKeys(tc, userID, pools)
	if len(keys) == 0 {
		return personalize.NewInternalError(op, errors.New("no pool to lock"))
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(ctx, tx, &db.logger)

	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return observe(op, start, err)
		}
	}

	// fn's errors are returned unchanged; the recorder owns their kinds.
	if err := fn(&pgTx{tx: tx, schema: tc.Schema}); err != nil {
		metrics.RecordDBQuery(backend, op, time.Since(start), err)
		return err
	}
	return observe(op, start, tx.Commit(ctx))
}

// UpsertDocuments inserts or fully replaces documents and their snippets.
// Snippets are bulk loaded with COPY.
func (db *DB) UpsertDocuments(ctx context.Context, tc tenant.Context, docs []personalize.Document) error {
	const op = "upsert documents"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(ctx, tx, &db.logger)

	now := db.now().UTC()
	var snippetRows [][]any
	for i := range docs {
		d := &docs[i]
		step := d.PreprocessingStep
		if step == "" {
			step = personalize.PreprocessingNone
		}
		created := now
		if !d.CreatedAt.IsZero() {
			created = d.CreatedAt.UTC()
		}
		tags := slices.Clone(d.Tags)
		if tags == nil {
			tags = []string{}
		}
		slices.Sort(tags)
		props := d.Properties
		if props == nil {
			props = map[string]any{}
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.document (document_id, tags, properties, preprocessing_step, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id) DO UPDATE SET tags = excluded.tags, properties = excluded.properties,
				preprocessing_step = excluded.preprocessing_step`, tc.Schema),
			d.ID, tags, props, string(step), created); err != nil {
			return observe(op, start, fmt.Errorf("upsert document %q: %w", d.ID, err))
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.snippet WHERE document_id = $1`, tc.Schema), d.ID); err != nil {
			return observe(op, start, fmt.Errorf("replace snippets of %q: %w", d.ID, err))
		}
		for _, sn := range d.Snippets {
			snippetRows = append(snippetRows, []any{d.ID, int32(sn.SubID), sn.Text, sn.Embedding}) //nolint:gosec // validated
		}
	}
	if len(snippetRows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{tc.Schema, "snippet"},
			[]string{"document_id", "sub_id", "text", "embedding"}, pgx.CopyFromRows(snippetRows)); err != nil {
			return observe(op, start, fmt.Errorf("copy snippets: %w", err))
		}
	}
	return observe(op, start, tx.Commit(ctx))
}

// DeleteDocument removes a document; snippets cascade. The interaction log
// and COIs are kept.
func (db *DB) DeleteDocument(ctx context.Context, tc tenant.Context, documentID string) error {
	const op = "delete document"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tag, err := db.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.document WHERE document_id = $1`, tc.Schema), documentID)
	if err != nil {
		return observe(op, start, err)
	}
	if tag.RowsAffected() == 0 {
		return observe(op, start, personalize.NewNotFound(op, personalize.CodeDocumentNotFound,
			fmt.Errorf("document %q not found", documentID)))
	}
	return observe(op, start, nil)
}

// Document loads a document with its snippets in sub id order.
func (db *DB) Document(ctx context.Context, tc tenant.Context, documentID string) (*personalize.Document, error) {
	const op = "get document"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	doc := personalize.Document{ID: documentID}
	var step string
	err := db.pool.QueryRow(ctx, fmt.Sprintf(`SELECT tags, properties, preprocessing_step, created_at
		FROM %s.document WHERE document_id = $1`, tc.Schema), documentID).
		Scan(&doc.Tags, &doc.Properties, &step, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, observe(op, start, personalize.NewNotFound(op, personalize.CodeDocumentNotFound,
			fmt.Errorf("document %q not found", documentID)))
	}
	if err != nil {
		return nil, observe(op, start, err)
	}
	doc.PreprocessingStep = personalize.PreprocessingStep(step)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.Properties = normalizeProperties(doc.Properties)
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}

	rows, err := db.pool.Query(ctx, fmt.Sprintf(`SELECT sub_id, text, embedding
		FROM %s.snippet WHERE document_id = $1 ORDER BY sub_id`, tc.Schema), documentID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	doc.Snippets, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (personalize.Snippet, error) {
		var (
			sn    personalize.Snippet
			subID int32
		)
		err := row.Scan(&subID, &sn.Text, &sn.Embedding)
		sn.SubID = int(subID)
		return sn, err
	})
	if err != nil {
		return nil, observe(op, start, err)
	}
	return &doc, observe(op, start, nil)
}

// normalizeProperties maps the stored empty object to nil.
func normalizeProperties(p map[string]any) map[string]any {
	if len(p) == 0 {
		return nil
	}
	return p
}
