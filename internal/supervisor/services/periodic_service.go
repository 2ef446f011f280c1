// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PeriodicService runs a task on a fixed interval until canceled. Task
// errors are logged and the next tick proceeds; a failing task never
// makes suture restart the service.
//
//	gc := services.NewPeriodicService("embedding-cache-gc", 10*time.Minute, embedCache.RunGC, logger)
//	tree.AddDataService(gc)
type PeriodicService struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	logger   zerolog.Logger
}

// NewPeriodicService creates the service. Non-positive intervals become
// one minute.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPeriodicService(name string, interval time.Duration, task func(ctx context.Context) error, logger zerolog.Logger) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With().Str("service", name).Logger(),
	}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := p.task(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn().Err(err).Msg("periodic task failed")
				continue
			}
			p.logger.Debug().Dur("duration", time.Since(start)).Msg("periodic task finished")
		}
	}
}

// String names the service in supervisor logs.
func (p *PeriodicService) String() string {
	return p.name
}
