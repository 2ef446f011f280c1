// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"fmt"
)

// Mode is the ranking strategy chosen for a request.
type Mode int

const (
	// ModeUnknown is the zero value before mode selection.
	ModeUnknown Mode = iota
	// ModePersisted ranks from the user's stored COIs.
	ModePersisted
	// ModeColdStart ranks without personalization signals.
	ModeColdStart
	// ModeStateless ranks from COIs derived from inline history.
	ModeStateless
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePersisted:
		return "persisted"
	case ModeColdStart:
		return "cold_start"
	case ModeStateless:
		return "stateless"
	default:
		return "unknown"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// RankState is the lifecycle state of a ranking request.
type RankState int

const (
	StateUnranked RankState = iota
	StateModeSelected
	StateCandidatesRetrieved
	StateScored
	StateTruncated
	StateReturned
	StateFailed
)

// String returns the wire name of the state.
func (s RankState) String() string {
	switch s {
	case StateUnranked:
		return "unranked"
	case StateModeSelected:
		return "mode_selected"
	case StateCandidatesRetrieved:
		return "candidates_retrieved"
	case StateScored:
		return "scored"
	case StateTruncated:
		return "truncated"
	case StateReturned:
		return "returned"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s RankState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s RankState) Terminal() bool {
	return s == StateReturned || s == StateFailed
}

// rankRun tracks one request through the ranking state machine.
type rankRun struct {
	state    RankState
	mode     Mode
	degraded bool
	reason   string
}

// selectMode enters ModeSelected. Re-selection is allowed before
// candidates are retrieved, which is how a degraded request falls back.
func (r *rankRun) selectMode(m Mode) error {
	if r.state != StateUnranked && r.state != StateModeSelected {
		return r.invalid(StateModeSelected)
	}
	r.state = StateModeSelected
	r.mode = m
	return nil
}

// degrade falls back to cold start after a collaborator failure.
func (r *rankRun) degrade(reason string) error {
	if err := r.selectMode(ModeColdStart); err != nil {
		return err
	}
	r.degraded = true
	r.reason = reason
	return nil
}

// advance moves to the next state in the fixed order.
func (r *rankRun) advance(next RankState) error {
	if r.state.Terminal() || next != r.state+1 || next == StateFailed {
		return r.invalid(next)
	}
	r.state = next
	return nil
}

// fail enters the Failed state with reason.
func (r *rankRun) fail(reason string) {
	if r.state.Terminal() {
		return
	}
	r.state = StateFailed
	r.reason = reason
}

func (r *rankRun) invalid(next RankState) error {
	return NewInternalError("rank", fmt.Errorf("invalid rank state transition %s -> %s", r.state, next))
}
