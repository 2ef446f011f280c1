// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package api serves the personalization engine over HTTP with the chi router.

# Endpoints

Frontoffice (role frontoffice in jwt mode):

	PATCH /users/{user_id}/interactions            record interactions
	GET   /users/{user_id}/personalized_documents  ranked feed (?count=&tags=)
	POST  /users/{user_id}/personalized_documents  ranked feed (JSON body)
	POST  /personalized_documents                  stateless ranking from inline history
	POST  /semantic_search                         query or document similarity search

Backoffice (role backoffice in jwt mode):

	PUT    /documents                 upsert documents
	GET    /documents/{document_id}   fetch a document
	DELETE /documents/{document_id}   delete a document

Operational, no tenant:

	GET /health/live
	GET /health/ready
	GET /metrics

# Tenancy

Every API request names exactly one tenant. With AUTH_MODE=none the tenant
is read from the X-Tenant-ID header. With AUTH_MODE=jwt it is the tenant
claim of the bearer token, and the casbin policy in internal/authz decides
which routes the token's role may call.

# Responses

All bodies use the APIResponse envelope:

	{"success":true,"data":{...},"meta":{"request_id":"...","timestamp":"...","duration_ms":3}}
	{"success":false,"error":{"code":"DIMENSION_MISMATCH","message":"...","request_id":"..."},"meta":{...}}

Engine error kinds map to status codes: validation 400, not found and
unknown tenant 404, storage 503, collaborator timeout 504, anything else
500. Only validation messages are returned verbatim.
*/
package api
