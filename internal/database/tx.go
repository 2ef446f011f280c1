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
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// dbTx is the write side of WithUserLock. Errors are classified per call.
type dbTx struct {
	tx     *sql.Tx
	schema string
}

var _ personalize.Tx = (*dbTx)(nil)

func (t *dbTx) Snippet(ctx context.Context, ref personalize.SnippetRef) (personalize.SnippetData, error) {
	const op = "load snippet"
	start := time.Now()
	found := make(map[personalize.SnippetRef]personalize.SnippetData, 1)
	if err := querySnippets(ctx, t.tx, t.schema, []personalize.SnippetRef{ref}, found); err != nil {
		return personalize.SnippetData{}, observe(op, start, err)
	}
	data, ok := found[ref]
	if !ok {
		return personalize.SnippetData{}, observe(op, start, personalize.NewNotFound(op, "",
			fmt.Errorf("snippet %s/%d not found", ref.DocumentID, ref.SubID)))
	}
	return data, observe(op, start, nil)
}

func (t *dbTx) COIDimension(ctx context.Context, userID string) (int, error) {
	const op = "coi dimension"
	start := time.Now()
	var dim int
	err := t.tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT len(embedding) FROM %s.center_of_interest WHERE user_id = ? LIMIT 1`, t.schema), userID).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, observe(op, start, nil)
	}
	return dim, observe(op, start, err)
}

func (t *dbTx) COIs(ctx context.Context, userID string, polarity coi.Polarity) ([]coi.COI, error) {
	const op = "load cois"
	start := time.Now()
	cois, err := queryCOIs(ctx, t.tx, t.schema, userID, &polarity)
	return cois, observe(op, start, err)
}

// SaveCOI updates the COI in place, inserting it when it does not exist.
func (t *dbTx) SaveCOI(ctx context.Context, userID string, c coi.COI) error {
	const op = "save coi"
	start := time.Now()
	emb, err := encodeVector(c.Embedding)
	if err != nil {
		return observe(op, start, err)
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s.center_of_interest
		SET embedding = CAST(? AS FLOAT[]), view_count = ?, view_time_ms = ?, last_view = ?
		WHERE coi_id = ? AND user_id = ?`, t.schema),
		emb, c.ViewCount, c.ViewTime.Milliseconds(), c.LastView.UTC(), c.ID.String(), userID)
	if err != nil {
		return observe(op, start, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return observe(op, start, err)
	}
	if n > 0 {
		return observe(op, start, nil)
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s.center_of_interest
		(coi_id, user_id, is_positive, embedding, view_count, view_time_ms, last_view)
		VALUES (?, ?, ?, CAST(? AS FLOAT[]), ?, ?, ?)`, t.schema),
		c.ID.String(), userID, c.Polarity.IsPositive(), emb, c.ViewCount, c.ViewTime.Milliseconds(), c.LastView.UTC())
	return observe(op, start, err)
}

// AppendInteraction appends to the log. Replayed interactions with the
// same key are ignored.
func (t *dbTx) AppendInteraction(ctx context.Context, in personalize.LoggedInteraction) error {
	const op = "append interaction"
	start := time.Now()
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s.interaction
		(document_id, sub_id, user_id, time_stamp, reaction, view_time_ms) VALUES (?, ?, ?, ?, ?, ?)`, t.schema),
		in.DocumentID, in.SubID, in.UserID, in.Timestamp.UTC(), in.Reaction.IsPositive(), in.ViewTime.Milliseconds())
	return observe(op, start, err)
}

// AdjustTagWeights adds deltas to the user's tag weights, clamping the
// results to floor.
func (t *dbTx) AdjustTagWeights(ctx context.Context, userID string, deltas map[string]int, floor int) error {
	const op = "adjust tag weights"
	start := time.Now()
	query := fmt.Sprintf(`INSERT INTO %s.weighted_tag (user_id, tag, weight) VALUES (?, ?, greatest(CAST(? AS INTEGER), CAST(? AS INTEGER)))
		ON CONFLICT (user_id, tag) DO UPDATE SET weight = greatest(weight + CAST(? AS INTEGER), CAST(? AS INTEGER))`, t.schema)
	for tag, d := range deltas {
		if _, err := t.tx.ExecContext(ctx, query, userID, tag, d, floor, d, floor); err != nil {
			return observe(op, start, err)
		}
	}
	return observe(op, start, nil)
}
