// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
)

// PrimarySubID identifies the snippet an interaction targets when the
// caller names only a document.
const PrimarySubID = 0

// PreprocessingStep records how a document's snippets were produced.
type PreprocessingStep string

const (
	PreprocessingNone      PreprocessingStep = "none"
	PreprocessingSplit     PreprocessingStep = "split"
	PreprocessingSummarize PreprocessingStep = "summarize"
)

// Valid reports whether s is a known step.
func (s PreprocessingStep) Valid() bool {
	switch s {
	case PreprocessingNone, PreprocessingSplit, PreprocessingSummarize:
		return true
	default:
		return false
	}
}

// Document is a piece of rankable content.
type Document struct {
	// ID is the opaque document identifier.
	ID string `json:"id"`

	// Tags are free-form labels used for tag affinity.
	Tags []string `json:"tags"`

	// Properties are arbitrary key/value pairs returned with rankings.
	Properties map[string]any `json:"properties,omitempty"`

	// PreprocessingStep is stored but not interpreted.
	PreprocessingStep PreprocessingStep `json:"preprocessing_step"`

	// Snippets are the embedded chunks of the document.
	Snippets []Snippet `json:"snippets"`

	// CreatedAt is set by storage on first insert.
	CreatedAt time.Time `json:"created_at"`
}

// Snippet is an embedded chunk of a document.
type Snippet struct {
	// SubID is unique within the document. 0 is the primary snippet.
	SubID int `json:"sub_id"`

	// Text is the raw chunk text.
	Text string `json:"text"`

	// Embedding is computed by the embedder when empty on upsert.
	Embedding []float32 `json:"embedding,omitempty"`
}

// SnippetRef identifies a snippet.
type SnippetRef struct {
	DocumentID string `json:"document_id"`
	SubID      int    `json:"sub_id"`
}

// SnippetData is what the write and stateless paths need from a snippet.
type SnippetData struct {
	SnippetRef
	Embedding []float32
	Tags      []string
}

// Interaction is a user's reaction to a snippet.
type Interaction struct {
	// DocumentID is the target document.
	DocumentID string `json:"document_id"`

	// SubID is the target snippet; PrimarySubID when unset.
	SubID int `json:"sub_id"`

	// Reaction is the polarity of the interaction.
	Reaction coi.Polarity `json:"reaction"`

	// Timestamp defaults to the time of recording.
	Timestamp time.Time `json:"time_stamp"`

	// ViewTime is the time the user spent on the snippet, if known.
	ViewTime time.Duration `json:"view_time,omitempty"`
}

// Ref returns the snippet the interaction targets.
func (i Interaction) Ref() SnippetRef {
	return SnippetRef{DocumentID: i.DocumentID, SubID: i.SubID}
}

// LoggedInteraction is an interaction log row.
type LoggedInteraction struct {
	Interaction
	UserID string
}

// Candidate is a nearest-neighbour hit from the index.
type Candidate struct {
	SnippetRef

	// Similarity is the cosine similarity to the query embedding.
	Similarity float64

	// Embedding is the snippet embedding, used for negative COI penalties.
	Embedding []float32

	// Tags are the owning document's tags.
	Tags []string

	// Properties are the owning document's properties.
	Properties map[string]any
}

// KNNParams parameterizes a nearest-neighbour lookup.
type KNNParams struct {
	// K is the maximum number of candidates.
	K int

	// ExcludeDocuments are never returned.
	ExcludeDocuments []string

	// Tags, when set, restricts results to documents carrying any of them.
	Tags []string
}

// TrendingDocument is an entry of the non-personalized fallback order.
type TrendingDocument struct {
	DocumentID   string
	Interactions int
	CreatedAt    time.Time
	Tags         []string
	Properties   map[string]any
}

// RecordResult describes the effect of one recorded interaction.
type RecordResult struct {
	DocumentID string    `json:"document_id"`
	SubID      int       `json:"sub_id"`
	COIID      coi.ID    `json:"coi_id"`
	Created    bool      `json:"created"`
	ViewCount  int       `json:"view_count"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordedEvent is published after an interaction is committed.
type RecordedEvent struct {
	Tenant     string       `json:"tenant"`
	UserID     string       `json:"user_id"`
	DocumentID string       `json:"document_id"`
	SubID      int          `json:"sub_id"`
	Reaction   coi.Polarity `json:"reaction"`
	COIID      coi.ID       `json:"coi_id"`
	Created    bool         `json:"created"`
	At         time.Time    `json:"at"`
}

// HistoryEntry is an inline interaction supplied with a stateless request.
type HistoryEntry struct {
	DocumentID string       `json:"document_id"`
	SubID      int          `json:"sub_id"`
	Reaction   coi.Polarity `json:"reaction"`
	Timestamp  time.Time    `json:"timestamp"`
}
