// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// maxIDLength bounds user and document ids.
const maxIDLength = 256

// Recorder turns interactions into interaction log rows, COI updates and
// tag weight updates, applied atomically per batch.
// It is safe for concurrent use.
type Recorder struct {
	store     Store
	config    Config
	coiUpdate *COIUpdater
	tagUpdate *TagAffinityUpdater
	cache     RankCache
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// RecorderOption configures optional Recorder collaborators.
type RecorderOption func(*Recorder)

// WithRecorderCache invalidates cached rankings of a user after each
// recorded interaction.
func WithRecorderCache(c RankCache) RecorderOption {
	return func(r *Recorder) { r.cache = c }
}

// WithEventPublisher publishes an event per recorded interaction.
func WithEventPublisher(p EventPublisher) RecorderOption {
	return func(r *Recorder) { r.publisher = p }
}

// WithRecorderClock overrides the clock used for missing timestamps.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRecorder(store Store, cfg Config, logger zerolog.Logger, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("recorder: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	system, err := coi.NewSystem(cfg.COI)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		store:     store,
		config:    cfg,
		coiUpdate: NewCOIUpdater(system),
		tagUpdate: NewTagAffinityUpdater(cfg.Personalization.MinTagWeight),
		logger:    logger.With().Str("component", "recorder").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// errFirstCOI aborts a transaction that would create the user's first
// COI while holding only one pool's lock.
var errFirstCOI = errors.New("first coi needs both pool locks")

// Record validates and applies one interaction of userID. Retryable
// storage failures are retried with backoff before being returned.
//
//nolint:gocritic // hugeParam: interaction passed by value for immutability
func (r *Recorder) Record(ctx context.Context, tc tenant.Context, userID string, in Interaction) (*RecordResult, error) {
	results, err := r.record(ctx, tc, userID, []Interaction{in})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// RecordBatch records interactions of one user in order, in a single
// transaction. The first invalid interaction rolls back the whole batch,
// so a failed batch leaves no trace and can be retried as is.
func (r *Recorder) RecordBatch(ctx context.Context, tc tenant.Context, userID string, batch []Interaction) ([]RecordResult, error) {
	if len(batch) == 0 {
		return nil, NewValidationError("record", CodeInvalidRequest, errors.New("no interactions"))
	}
	return r.record(ctx, tc, userID, batch)
}

func (r *Recorder) record(ctx context.Context, tc tenant.Context, userID string, batch []Interaction) ([]RecordResult, error) {
	if tc.IsZero() {
		return nil, NewInternalError("record", tenant.ErrMissing)
	}
	batch = append([]Interaction(nil), batch...)
	for i := range batch {
		if err := validateInteraction(userID, &batch[i]); err != nil {
			metrics.RecordInteraction(batch[i].Reaction.String(), string(KindValidation))
			return nil, batchError(err, i, len(batch))
		}
		if batch[i].Timestamp.IsZero() {
			batch[i].Timestamp = r.now().UTC()
		}
	}

	results, failed, err := r.commit(ctx, tc, userID, batchPools(batch), batch)
	if errors.Is(err, errFirstCOI) {
		results, failed, err = r.commit(ctx, tc, userID, []coi.Polarity{coi.Positive, coi.Negative}, batch)
	}
	if err != nil {
		err = wrapStorage("record", err)
		metrics.RecordInteraction(batch[failed].Reaction.String(), string(KindOf(err)))
		return nil, batchError(err, failed, len(batch))
	}

	for i := range results {
		metrics.RecordInteraction(batch[i].Reaction.String(), "ok")
		metrics.RecordCOIUpdate(batch[i].Reaction.String(), results[i].Created)
	}
	r.afterCommit(ctx, tc, userID, batch, results)
	return results, nil
}

// commit applies batch in one transaction holding the locks of pools. It
// returns the index of the interaction that failed along with the error.
func (r *Recorder) commit(ctx context.Context, tc tenant.Context, userID string, pools []coi.Polarity, batch []Interaction) ([]RecordResult, int, error) {
	var (
		results []RecordResult
		failed  int
	)
	bothPools := len(pools) == 2
	err := withRetry(ctx, r.config.Retry, "record", r.logger, func() error {
		return r.store.WithUserLock(ctx, tc, userID, pools, func(tx Tx) error {
			results = make([]RecordResult, 0, len(batch))
			for i := range batch {
				failed = i
				res, err := r.apply(ctx, tx, userID, batch[i], bothPools)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return nil
		})
	})
	if err != nil {
		return nil, failed, err
	}
	return results, 0, nil
}

// batchPools returns the pools touched by batch.
func batchPools(batch []Interaction) []coi.Polarity {
	var pools []coi.Polarity
	for _, in := range batch {
		if len(pools) == 0 || (len(pools) == 1 && pools[0] != in.Reaction) {
			pools = append(pools, in.Reaction)
		}
	}
	return pools
}

// batchError names the invalid interaction of a multi-interaction batch.
func batchError(err error, index, size int) error {
	if size < 2 {
		return err
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		return err
	}
	return &Error{Kind: e.Kind, Op: e.Op, Code: e.Code, Err: fmt.Errorf("interaction %d: %w", index, e.Err)}
}

// apply runs the three effects of an interaction inside tx. A user's
// first COI fixes the embedding dimension of both pools, so it is only
// created when bothPools are locked.
//
//nolint:gocritic // hugeParam: interaction passed by value for immutability
func (r *Recorder) apply(ctx context.Context, tx Tx, userID string, in Interaction, bothPools bool) (RecordResult, error) {
	snippet, err := tx.Snippet(ctx, in.Ref())
	if err != nil {
		if KindOf(err) == KindNotFound {
			return RecordResult{}, NewValidationError("record", CodeUnknownTarget,
				fmt.Errorf("snippet %s/%d does not exist", in.DocumentID, in.SubID))
		}
		return RecordResult{}, wrapStorage("load snippet", err)
	}
	if len(snippet.Embedding) == 0 {
		return RecordResult{}, NewValidationError("record", CodeInvalidEmbedding,
			fmt.Errorf("snippet %s/%d has no embedding", in.DocumentID, in.SubID))
	}

	dim, err := tx.COIDimension(ctx, userID)
	if err != nil {
		return RecordResult{}, wrapStorage("load coi dimension", err)
	}
	if dim == 0 && !bothPools {
		return RecordResult{}, errFirstCOI
	}
	if dim != 0 && dim != len(snippet.Embedding) {
		return RecordResult{}, NewValidationError("record", CodeDimensionMismatch,
			fmt.Errorf("snippet has dimension %d, user COIs have %d", len(snippet.Embedding), dim))
	}

	if r.config.Personalization.StoreUserHistory {
		if err := tx.AppendInteraction(ctx, LoggedInteraction{Interaction: in, UserID: userID}); err != nil {
			return RecordResult{}, wrapStorage("append interaction", err)
		}
	}

	outcome, err := r.coiUpdate.Apply(ctx, tx, userID, in.Reaction, snippet.Embedding, in.Timestamp, in.ViewTime)
	if err != nil {
		return RecordResult{}, err
	}

	if err := r.tagUpdate.Apply(ctx, tx, userID, snippet.Tags, in.Reaction); err != nil {
		return RecordResult{}, wrapStorage("adjust tag weights", err)
	}

	return RecordResult{
		DocumentID: in.DocumentID,
		SubID:      in.SubID,
		COIID:      outcome.COI.ID,
		Created:    outcome.Created,
		ViewCount:  outcome.COI.ViewCount,
		RecordedAt: in.Timestamp,
	}, nil
}

// afterCommit invalidates cached rankings and publishes one event per
// interaction. Its failures are logged, the batch is already durable.
func (r *Recorder) afterCommit(ctx context.Context, tc tenant.Context, userID string, batch []Interaction, results []RecordResult) {
	if r.cache != nil {
		if n := r.cache.DeletePrefix(UserCachePrefix(tc, userID)); n > 0 {
			metrics.CacheInvalidations.WithLabelValues("rank").Add(float64(n))
		}
	}
	if r.publisher == nil {
		return
	}
	for i := range results {
		in := &batch[i]
		ev := RecordedEvent{
			Tenant:     tc.ID,
			UserID:     userID,
			DocumentID: in.DocumentID,
			SubID:      in.SubID,
			Reaction:   in.Reaction,
			COIID:      results[i].COIID,
			Created:    results[i].Created,
			At:         in.Timestamp,
		}
		if err := r.publisher.PublishInteractionRecorded(ctx, ev); err != nil {
			r.logger.Warn().
				Err(err).
				Str("tenant", tc.ID).
				Str("user_id", userID).
				Msg("failed to publish interaction event")
		}
	}
}

// validateInteraction checks ids and polarity.
func validateInteraction(userID string, in *Interaction) error {
	if err := validateID("user_id", userID); err != nil {
		return err
	}
	if err := validateID("document_id", in.DocumentID); err != nil {
		return err
	}
	if in.SubID < 0 {
		return NewValidationError("record", CodeInvalidRequest, fmt.Errorf("sub_id must be non-negative, got %d", in.SubID))
	}
	if !in.Reaction.Valid() {
		return NewValidationError("record", CodeInvalidRequest, errors.New("reaction must be positive or negative"))
	}
	if in.ViewTime < 0 {
		return NewValidationError("record", CodeInvalidRequest, errors.New("view_time must be non-negative"))
	}
	return nil
}

// validateID checks an opaque user or document id.
func validateID(field, id string) error {
	switch {
	case id == "":
		return NewValidationError("validate", CodeInvalidRequest, fmt.Errorf("%s is required", field))
	case len(id) > maxIDLength:
		return NewValidationError("validate", CodeInvalidRequest, fmt.Errorf("%s exceeds %d bytes", field, maxIDLength))
	case strings.ContainsRune(id, 0):
		return NewValidationError("validate", CodeInvalidRequest, fmt.Errorf("%s contains NUL", field))
	}
	return nil
}
