// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// pgTx is the write side of WithUserLock.
type pgTx struct {
	tx     pgx.Tx
	schema string
}

var _ personalize.Tx = (*pgTx)(nil)

func (t *pgTx) Snippet(ctx context.Context, ref personalize.SnippetRef) (personalize.SnippetData, error) {
	const op = "load snippet"
	start := time.Now()
	found, err := querySnippets(ctx, t.tx, t.schema, []personalize.SnippetRef{ref})
	if err != nil {
		return personalize.SnippetData{}, observe(op, start, err)
	}
	data, ok := found[ref]
	if !ok {
		return personalize.SnippetData{}, observe(op, start, personalize.NewNotFound(op, "",
			fmt.Errorf("snippet %s/%d not found", ref.DocumentID, ref.SubID)))
	}
	return data, observe(op, start, nil)
}

func (t *pgTx) COIDimension(ctx context.Context, userID string) (int, error) {
	const op = "coi dimension"
	start := time.Now()
	var dim int32
	err := t.tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT cardinality(embedding) FROM %s.center_of_interest WHERE user_id = $1 LIMIT 1`, t.schema), userID).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, observe(op, start, nil)
	}
	return int(dim), observe(op, start, err)
}

func (t *pgTx) COIs(ctx context.Context, userID string, polarity coi.Polarity) ([]coi.COI, error) {
	const op = "load cois"
	start := time.Now()
	cois, err := queryCOIs(ctx, t.tx, t.schema, userID, &polarity)
	return cois, observe(op, start, err)
}

// SaveCOI inserts the COI or updates its mutable fields. The creation
// sequence of an existing COI is kept.
func (t *pgTx) SaveCOI(ctx context.Context, userID string, c coi.COI) error {
	const op = "save coi"
	start := time.Now()
	_, err := t.tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.center_of_interest
		(coi_id, user_id, is_positive, embedding, view_count, view_time_ms, last_view)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (coi_id) DO UPDATE SET embedding = excluded.embedding, view_count = excluded.view_count,
			view_time_ms = excluded.view_time_ms, last_view = excluded.last_view`, t.schema),
		c.ID, userID, c.Polarity.IsPositive(), c.Embedding, int32(c.ViewCount), //nolint:gosec // counts stay small
		c.ViewTime.Milliseconds(), c.LastView.UTC())
	return observe(op, start, err)
}

// AppendInteraction appends to the log. Replayed interactions with the
// same key are ignored.
func (t *pgTx) AppendInteraction(ctx context.Context, in personalize.LoggedInteraction) error {
	const op = "append interaction"
	start := time.Now()
	_, err := t.tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.interaction
		(document_id, sub_id, user_id, time_stamp, reaction, view_time_ms) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`, t.schema),
		in.DocumentID, int32(in.SubID), in.UserID, in.Timestamp.UTC(), //nolint:gosec // validated
		in.Reaction.IsPositive(), in.ViewTime.Milliseconds())
	return observe(op, start, err)
}

// AdjustTagWeights adds deltas to the user's tag weights in one batch,
// clamping the results to floor.
func (t *pgTx) AdjustTagWeights(ctx context.Context, userID string, deltas map[string]int, floor int) error {
	const op = "adjust tag weights"
	if len(deltas) == 0 {
		return nil
	}
	start := time.Now()
	query := fmt.Sprintf(`INSERT INTO %s.weighted_tag AS w (user_id, tag, weight) VALUES ($1, $2, greatest($3::int, $4::int))
		ON CONFLICT (user_id, tag) DO UPDATE SET weight = greatest(w.weight + $3::int, $4::int)`, t.schema)

	batch := &pgx.Batch{}
	for tag, d := range deltas {
		batch.Queue(query, userID, tag, d, floor)
	}
	return observe(op, start, t.tx.SendBatch(ctx, batch).Close())
}
