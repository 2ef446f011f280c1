// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/validation"
)

// errEmptyBody is returned by decodeJSON for a request without a body.
var errEmptyBody = errors.New("request body is empty")

// interactionsRequest is the body of PATCH /users/{user_id}/interactions.
type interactionsRequest struct {
	Documents []interactionItem `json:"documents" validate:"required,min=1,max=100,dive"`
}

type interactionItem struct {
	ID         string     `json:"id" validate:"entity_id"`
	SubID      *int       `json:"sub_id,omitempty" validate:"omitempty,gte=0"`
	Reaction   string     `json:"reaction,omitempty" validate:"omitempty,oneof=positive negative"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	ViewTimeMs *int64     `json:"view_time_ms,omitempty" validate:"omitempty,gte=0"`
}

// rankRequest is the optional body of POST /users/{user_id}/personalized_documents.
type rankRequest struct {
	Count *int     `json:"count,omitempty" validate:"omitempty,gte=1"`
	Query string   `json:"query,omitempty"`
	Tags  []string `json:"tags,omitempty" validate:"max=64,dive,required,max=256"`
}

// statelessRequest is the body of POST /personalized_documents.
type statelessRequest struct {
	History []historyItem `json:"history" validate:"required,min=1,dive"`
	Count   *int          `json:"count,omitempty" validate:"omitempty,gte=1"`
	Query   string        `json:"query,omitempty"`
	Tags    []string      `json:"tags,omitempty" validate:"max=64,dive,required,max=256"`
}

type historyItem struct {
	ID        string     `json:"id" validate:"entity_id"`
	SubID     *int       `json:"sub_id,omitempty" validate:"omitempty,gte=0"`
	Reaction  string     `json:"reaction,omitempty" validate:"omitempty,oneof=positive negative"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// searchRequest is the body of POST /semantic_search.
type searchRequest struct {
	Document    searchTarget       `json:"document"`
	Count       *int               `json:"count,omitempty" validate:"omitempty,gte=1"`
	Personalize *searchPersonalize `json:"personalize,omitempty"`
	Tags        []string           `json:"tags,omitempty" validate:"max=64,dive,required,max=256"`
}

// searchTarget names either a query text or an existing document.
type searchTarget struct {
	ID    string `json:"id,omitempty" validate:"omitempty,entity_id"`
	Query string `json:"query,omitempty"`
}

// searchPersonalize personalizes a search with a stored user or an inline
// history, never both.
type searchPersonalize struct {
	User    *searchUser   `json:"user,omitempty"`
	History []historyItem `json:"history,omitempty" validate:"dive"`
}

type searchUser struct {
	ID string `json:"id" validate:"entity_id"`
}

// documentsRequest is the body of PUT /documents.
type documentsRequest struct {
	Documents []documentItem `json:"documents" validate:"required,min=1,max=100,dive"`
}

type documentItem struct {
	ID                string         `json:"id" validate:"entity_id"`
	Tags              []string       `json:"tags,omitempty" validate:"max=64,dive,required,max=256"`
	Properties        map[string]any `json:"properties,omitempty"`
	PreprocessingStep string         `json:"preprocessing_step,omitempty" validate:"omitempty,oneof=none split summarize"`
	Snippets          []snippetItem  `json:"snippets" validate:"required,min=1,max=256,dive"`
}

type snippetItem struct {
	SubID     int       `json:"sub_id" validate:"gte=0"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// decodeJSON decodes the body into dst and validates it. An empty body
// is reported as errEmptyBody so callers with optional bodies can
// tolerate it.
func decodeJSON(r *http.Request, dst any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validation.ValidateStruct(dst)
}

// respondDecodeError writes the error of decodeJSON.
func respondDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		respondDomainError(w, r, err)
	case errors.As(err, &maxErr):
		respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
	default:
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON body: "+err.Error(), nil)
	}
}

// singleFieldError builds a validation error for one field.
func singleFieldError(field, tag, message string) error {
	return &validation.RequestValidationError{Fields: []validation.FieldError{{
		Field:   field,
		Tag:     tag,
		Message: message,
	}}}
}

func parseReaction(s string) (coi.Polarity, error) {
	if s == "" {
		return coi.Positive, nil
	}
	return coi.ParsePolarity(s)
}

func subIDOrPrimary(subID *int) int {
	if subID == nil {
		return personalize.PrimarySubID
	}
	return *subID
}

func (req *interactionsRequest) toInteractions() ([]personalize.Interaction, error) {
	out := make([]personalize.Interaction, 0, len(req.Documents))
	for i, d := range req.Documents {
		reaction, err := parseReaction(d.Reaction)
		if err != nil {
			return nil, singleFieldError(fmt.Sprintf("documents[%d].reaction", i), "oneof", err.Error())
		}
		in := personalize.Interaction{
			DocumentID: d.ID,
			SubID:      subIDOrPrimary(d.SubID),
			Reaction:   reaction,
		}
		if d.Timestamp != nil {
			in.Timestamp = *d.Timestamp
		}
		if d.ViewTimeMs != nil {
			in.ViewTime = time.Duration(*d.ViewTimeMs) * time.Millisecond
		}
		out = append(out, in)
	}
	return out, nil
}

func toHistory(field string, items []historyItem) ([]personalize.HistoryEntry, error) {
	out := make([]personalize.HistoryEntry, 0, len(items))
	for i, h := range items {
		reaction, err := parseReaction(h.Reaction)
		if err != nil {
			return nil, singleFieldError(fmt.Sprintf("%s[%d].reaction", field, i), "oneof", err.Error())
		}
		entry := personalize.HistoryEntry{
			DocumentID: h.ID,
			SubID:      subIDOrPrimary(h.SubID),
			Reaction:   reaction,
		}
		if h.Timestamp != nil {
			entry.Timestamp = *h.Timestamp
		}
		out = append(out, entry)
	}
	return out, nil
}

func (req *statelessRequest) toStateless() (personalize.StatelessRequest, error) {
	history, err := toHistory("history", req.History)
	if err != nil {
		return personalize.StatelessRequest{}, err
	}
	return personalize.StatelessRequest{
		History: history,
		Count:   req.Count,
		Query:   req.Query,
		Tags:    req.Tags,
	}, nil
}

func (req *searchRequest) toSearch() (personalize.SearchRequest, error) {
	hasID := req.Document.ID != ""
	hasQuery := strings.TrimSpace(req.Document.Query) != ""
	if hasID == hasQuery {
		return personalize.SearchRequest{}, singleFieldError("document", "exclusive",
			"document requires exactly one of id and query")
	}

	out := personalize.SearchRequest{
		Query:      req.Document.Query,
		DocumentID: req.Document.ID,
		Count:      req.Count,
		Tags:       req.Tags,
	}
	if p := req.Personalize; p != nil {
		if p.User != nil && len(p.History) > 0 {
			return personalize.SearchRequest{}, singleFieldError("personalize", "exclusive",
				"personalize accepts either user or history, not both")
		}
		if p.User != nil {
			out.UserID = p.User.ID
		}
		if len(p.History) > 0 {
			history, err := toHistory("personalize.history", p.History)
			if err != nil {
				return personalize.SearchRequest{}, err
			}
			out.History = history
		}
	}
	return out, nil
}

func (req *documentsRequest) toDocuments() []personalize.Document {
	out := make([]personalize.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		step := personalize.PreprocessingNone
		if d.PreprocessingStep != "" {
			step = personalize.PreprocessingStep(d.PreprocessingStep)
		}
		snippets := make([]personalize.Snippet, 0, len(d.Snippets))
		for _, s := range d.Snippets {
			snippets = append(snippets, personalize.Snippet{SubID: s.SubID, Text: s.Text, Embedding: s.Embedding})
		}
		out = append(out, personalize.Document{
			ID:                d.ID,
			Tags:              d.Tags,
			Properties:        d.Properties,
			PreprocessingStep: step,
			Snippets:          snippets,
		})
	}
	return out
}

// rankQuery reads count and tags from the query string of
// GET /users/{user_id}/personalized_documents. Tags may repeat or be
// comma separated.
func rankQuery(r *http.Request) (rankRequest, error) {
	var req rankRequest
	q := r.URL.Query()
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, singleFieldError("count", "number", "count must be an integer")
		}
		req.Count = &n
	}
	for _, v := range q["tags"] {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				req.Tags = append(req.Tags, tag)
			}
		}
	}
	req.Query = q.Get("query")
	if err := validation.ValidateStruct(&req); err != nil {
		return req, err
	}
	return req, nil
}
