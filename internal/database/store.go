// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// snippetBatch bounds the refs looked up per query.
const snippetBatch = 256

// tagsColumn aggregates a document's tags in tag order.
func tagsColumn(schema, documentCol string) string {
	return fmt.Sprintf(
		`COALESCE((SELECT string_agg(t.tag, chr(31) ORDER BY t.tag) FROM %s.document_tag t WHERE t.document_id = %s), '')`,
		schema, documentCol)
}

// COIs returns both pools of the user in creation order.
func (db *DB) COIs(ctx context.Context, tc tenant.Context, userID string) ([]coi.COI, error) {
	const op = "load cois"
	if err := db.requireTenant(op, tc); err != nil {
		return nil, err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	cois, err := queryCOIs(ctx, db.conn, tc.Schema, userID, nil)
	return cois, observe(op, start, err)
}

// queryCOIs loads a user's COIs, optionally restricted to one polarity.
func queryCOIs(ctx context.Context, q execQuerier, schema, userID string, polarity *coi.Polarity) ([]coi.COI, error) {
	query := fmt.Sprintf(`SELECT coi_id, is_positive, CAST(embedding AS VARCHAR), view_count, view_time_ms, last_view
		FROM %s.center_of_interest WHERE user_id = ?`, schema)
	args := []any{userID}
	if polarity != nil {
		query += ` AND is_positive = ?`
		args = append(args, polarity.IsPositive())
	}
	query += ` ORDER BY seq`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coi.COI
	for rows.Next() {
		var (
			id         string
			isPositive bool
			emb        string
			viewTimeMS int64
			c          coi.COI
		)
		if err := rows.Scan(&id, &isPositive, &emb, &c.ViewCount, &viewTimeMS, &c.LastView); err != nil {
			return nil, fmt.Errorf("scan coi: %w", err)
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse coi id %q: %w", id, err)
		}
		if c.Embedding, err = decodeVector(emb); err != nil {
			return nil, err
		}
		c.Polarity = coi.PolarityFromBool(isPositive)
		c.ViewTime = time.Duration(viewTimeMS) * time.Millisecond
		c.LastView = c.LastView.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
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

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT tag, weight FROM %s.weighted_tag WHERE user_id = ?`, tc.Schema), userID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()

	weights := make(map[string]int)
	for rows.Next() {
		var tag string
		var w int
		if err := rows.Scan(&tag, &w); err != nil {
			return nil, observe(op, start, err)
		}
		weights[tag] = w
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

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT document_id FROM %s.interaction
		WHERE user_id = ? GROUP BY document_id ORDER BY MIN(time_stamp), document_id`, tc.Schema), userID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, observe(op, start, err)
		}
		ids = append(ids, id)
	}
	return ids, observe(op, start, rows.Err())
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

	found := make(map[personalize.SnippetRef]personalize.SnippetData, len(refs))
	for lo := 0; lo < len(refs); lo += snippetBatch {
		hi := min(lo+snippetBatch, len(refs))
		if err := querySnippets(ctx, db.conn, tc.Schema, refs[lo:hi], found); err != nil {
			return nil, observe(op, start, err)
		}
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

// querySnippets adds the rows matching refs to found.
func querySnippets(ctx context.Context, q execQuerier, schema string, refs []personalize.SnippetRef, found map[personalize.SnippetRef]personalize.SnippetData) error {
	conds := make([]string, len(refs))
	args := make([]any, 0, 2*len(refs))
	for i, ref := range refs {
		conds[i] = "(s.document_id = ? AND s.sub_id = ?)"
		args = append(args, ref.DocumentID, ref.SubID)
	}
	query := fmt.Sprintf(`SELECT s.document_id, s.sub_id, CAST(s.embedding AS VARCHAR), %s
		FROM %s.snippet s WHERE %s`, tagsColumn(schema, "s.document_id"), schema, strings.Join(conds, " OR "))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			data     personalize.SnippetData
			emb, tag string
		)
		if err := rows.Scan(&data.DocumentID, &data.SubID, &emb, &tag); err != nil {
			return fmt.Errorf("scan snippet: %w", err)
		}
		if data.Embedding, err = decodeVector(emb); err != nil {
			return err
		}
		data.Tags = splitTags(tag)
		found[data.SnippetRef] = data
	}
	return rows.Err()
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

	var b strings.Builder
	fmt.Fprintf(&b, `WITH counts AS (
		SELECT document_id, COUNT(*) AS n FROM %[1]s.interaction WHERE time_stamp >= ? GROUP BY document_id
	)
	SELECT d.document_id, COALESCE(c.n, 0) AS n, d.created_at, d.properties, %[2]s
	FROM %[1]s.document d LEFT JOIN counts c ON c.document_id = d.document_id`,
		tc.Schema, tagsColumn(tc.Schema, "d.document_id"))
	args := []any{since.UTC()}
	if len(exclude) > 0 {
		fmt.Fprintf(&b, ` WHERE d.document_id NOT IN (%s)`, placeholders(len(exclude)))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	b.WriteString(` ORDER BY n DESC, d.created_at DESC, d.document_id`)
	if limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()

	var out []personalize.TrendingDocument
	for rows.Next() {
		var (
			td          personalize.TrendingDocument
			n           int64
			props, tags string
		)
		if err := rows.Scan(&td.DocumentID, &n, &td.CreatedAt, &props, &tags); err != nil {
			return nil, observe(op, start, err)
		}
		if td.Properties, err = decodeProperties(props); err != nil {
			return nil, observe(op, start, err)
		}
		td.Interactions = int(n)
		td.CreatedAt = td.CreatedAt.UTC()
		td.Tags = splitTags(tags)
		out = append(out, td)
	}
	return out, observe(op, start, rows.Err())
}

// WithUserLock runs fn in a transaction serialized on (tenant, user,
// pool) for each of pools. fn's error rolls the transaction back.
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
	for _, key := range keys {
		unlock, err := db.locks.Lock(ctx, key)
		if err != nil {
			return observe(op, start, err)
		}
		defer unlock()
	}

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(sqlTx, &db.logger)

	// fn's errors are returned unchanged; the recorder owns their kinds.
	if err := fn(&dbTx{tx: sqlTx, schema: tc.Schema}); err != nil {
		metrics.RecordDBQuery(backend, op, time.Since(start), err)
		return err
	}
	return observe(op, start, sqlTx.Commit())
}

// UpsertDocuments inserts or fully replaces documents and their snippets.
func (db *DB) UpsertDocuments(ctx context.Context, tc tenant.Context, docs []personalize.Document) error {
	const op = "upsert documents"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	for _, d := range docs {
		for _, tag := range d.Tags {
			if strings.Contains(tag, tagSeparator) {
				return personalize.NewValidationError(op, personalize.CodeInvalidRequest,
					fmt.Errorf("document %q: tag contains a control character", d.ID))
			}
		}
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(tx, &db.logger)

	now := db.now().UTC()
	for i := range docs {
		if err := upsertDocument(ctx, tx, tc.Schema, &docs[i], now); err != nil {
			return observe(op, start, err)
		}
	}
	return observe(op, start, tx.Commit())
}

func upsertDocument(ctx context.Context, tx *sql.Tx, schema string, d *personalize.Document, now time.Time) error {
	props, err := encodeProperties(d.Properties)
	if err != nil {
		return personalize.NewValidationError("upsert documents", personalize.CodeInvalidRequest, err)
	}
	step := d.PreprocessingStep
	if step == "" {
		step = personalize.PreprocessingNone
	}
	created := now
	if !d.CreatedAt.IsZero() {
		created = d.CreatedAt.UTC()
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s.document (document_id, properties, preprocessing_step, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET properties = excluded.properties, preprocessing_step = excluded.preprocessing_step`, schema),
		d.ID, props, string(step), created); err != nil {
		return fmt.Errorf("upsert document %q: %w", d.ID, err)
	}
	if err := deleteDocumentRows(ctx, tx, schema, d.ID); err != nil {
		return err
	}
	for _, tag := range d.Tags {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.document_tag (document_id, tag) VALUES (?, ?)`, schema), d.ID, tag); err != nil {
			return fmt.Errorf("insert tag of %q: %w", d.ID, err)
		}
	}
	for _, sn := range d.Snippets {
		emb, err := encodeVector(sn.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.snippet (document_id, sub_id, text, embedding) VALUES (?, ?, ?, CAST(? AS FLOAT[]))`, schema),
			d.ID, sn.SubID, sn.Text, emb); err != nil {
			return fmt.Errorf("insert snippet %s/%d: %w", d.ID, sn.SubID, err)
		}
	}
	return nil
}

// deleteDocumentRows removes a document's tags and snippets.
func deleteDocumentRows(ctx context.Context, tx *sql.Tx, schema, documentID string) error {
	for _, table := range []string{"document_tag", "snippet"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s.%s WHERE document_id = ?`, schema, table), documentID); err != nil {
			return fmt.Errorf("delete %s rows of %q: %w", table, documentID, err)
		}
	}
	return nil
}

// DeleteDocument removes a document with its tags and snippets. The
// interaction log and COIs are kept.
func (db *DB) DeleteDocument(ctx context.Context, tc tenant.Context, documentID string) error {
	const op = "delete document"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(tx, &db.logger)

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.document WHERE document_id = ?`, tc.Schema), documentID)
	if err != nil {
		return observe(op, start, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return observe(op, start, err)
	} else if n == 0 {
		return observe(op, start, personalize.NewNotFound(op, personalize.CodeDocumentNotFound,
			fmt.Errorf("document %q not found", documentID)))
	}
	if err := deleteDocumentRows(ctx, tx, tc.Schema, documentID); err != nil {
		return observe(op, start, err)
	}
	return observe(op, start, tx.Commit())
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

	var (
		doc         = personalize.Document{ID: documentID}
		props, tags string
		step        string
	)
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT d.properties, d.preprocessing_step, d.created_at, %s
		FROM %s.document d WHERE d.document_id = ?`, tagsColumn(tc.Schema, "d.document_id"), tc.Schema), documentID).
		Scan(&props, &step, &doc.CreatedAt, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, observe(op, start, personalize.NewNotFound(op, personalize.CodeDocumentNotFound,
			fmt.Errorf("document %q not found", documentID)))
	}
	if err != nil {
		return nil, observe(op, start, err)
	}
	if doc.Properties, err = decodeProperties(props); err != nil {
		return nil, observe(op, start, err)
	}
	doc.PreprocessingStep = personalize.PreprocessingStep(step)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.Tags = splitTags(tags)

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT sub_id, text, CAST(embedding AS VARCHAR)
		FROM %s.snippet WHERE document_id = ? ORDER BY sub_id`, tc.Schema), documentID)
	if err != nil {
		return nil, observe(op, start, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sn personalize.Snippet
		var emb string
		if err := rows.Scan(&sn.SubID, &sn.Text, &emb); err != nil {
			return nil, observe(op, start, err)
		}
		if sn.Embedding, err = decodeVector(emb); err != nil {
			return nil, observe(op, start, err)
		}
		doc.Snippets = append(doc.Snippets, sn)
	}
	return &doc, observe(op, start, rows.Err())
}
