// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package validation validates request bodies with go-playground/validator.
//
// A single validator instance caches struct metadata for the process.
// Error fields are reported by their json names with the path into nested
// slices, for example "interactions[2].document_id", and the API layer
// returns them under the VALIDATION_ERROR code.
//
// Custom tags:
//   - entity_id: non-blank, at most 256 bytes, no control characters.
//     Used for user and document identifiers.
//
// Example:
//
//	type interactionBody struct {
//	    DocumentID string `json:"document_id" validate:"entity_id"`
//	    Reaction   string `json:"reaction" validate:"required,oneof=positive negative"`
//	}
//
//	if err := validation.ValidateStruct(&body); err != nil {
//	    // *RequestValidationError
//	}
//
// Domain rules that need configuration, such as the maximum number of
// documents, stay in internal/personalize.
package validation
