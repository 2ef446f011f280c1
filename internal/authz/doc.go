// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package authz maps token roles to the routes they may call, using Casbin.
//
// # Model
//
//	[request_definition]
//	r = sub, obj, act
//
//	[policy_definition]
//	p = sub, obj, act
//
//	[role_definition]
//	g = _, _
//
//	[policy_effect]
//	e = some(where (p.eft == allow))
//
//	[matchers]
//	m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
//
// The subject is the role claim of the token, the object the request path
// and the action the HTTP method. The embedded policy gives frontoffice
// the interaction, ranking and search routes and backoffice the document
// routes and search. A grouping line such as
//
//	g, admin, frontoffice
//
// in a custom POLICY_PATH file lets one role inherit another.
//
// Authorization only runs with AUTH_MODE=jwt; tenant isolation is enforced
// separately by the tenant claim.
package authz
