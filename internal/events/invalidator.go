// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// RankInvalidator drops cached rankings of users whose interactions were
// recorded, including those recorded by other instances.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func RankInvalidator(cache personalize.RankCache, logger zerolog.Logger) Handler {
	return func(_ context.Context, ev InteractionRecorded) error {
		tc, err := tenant.New(ev.Tenant)
		if err != nil {
			logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Event for invalid tenant")
			return nil
		}
		n := cache.DeletePrefix(personalize.UserCachePrefix(tc, ev.UserID))
		logger.Debug().Str("tenant", tc.ID).Str("user_id", ev.UserID).Int("entries", n).Msg("Rank cache invalidated")
		return nil
	}
}
