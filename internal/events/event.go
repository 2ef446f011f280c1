// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package events

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// TypeInteractionRecorded is the event_type metadata of recorded interactions.
const TypeInteractionRecorded = "interaction.recorded"

// InteractionRecorded is the wire form of personalize.RecordedEvent.
type InteractionRecorded struct {
	ID         string       `json:"id"`
	Tenant     string       `json:"tenant"`
	UserID     string       `json:"user_id"`
	DocumentID string       `json:"document_id"`
	SubID      int          `json:"sub_id"`
	Reaction   coi.Polarity `json:"reaction"`
	COIID      coi.ID       `json:"coi_id"`
	Created    bool         `json:"created"`
	At         time.Time    `json:"at"`
}

// fromRecorded converts a write-path event.
func fromRecorded(id string, ev personalize.RecordedEvent) InteractionRecorded {
	return InteractionRecorded{
		ID:         id,
		Tenant:     ev.Tenant,
		UserID:     ev.UserID,
		DocumentID: ev.DocumentID,
		SubID:      ev.SubID,
		Reaction:   ev.Reaction,
		COIID:      ev.COIID,
		Created:    ev.Created,
		At:         ev.At,
	}
}

// Validate checks the fields consumers rely on.
func (e *InteractionRecorded) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Tenant == "" || e.UserID == "" {
		return fmt.Errorf("event %s: tenant and user_id are required", e.ID)
	}
	return nil
}

func encode(e InteractionRecorded) ([]byte, error) {
	return json.Marshal(e)
}

func decode(payload []byte) (InteractionRecorded, error) {
	var e InteractionRecorded
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	return e, e.Validate()
}

// idSource generates sortable, monotonic event ids.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	//nolint:gosec // event ids need ordering, not unpredictability
	return &idSource{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}
}

func (s *idSource) next(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}
