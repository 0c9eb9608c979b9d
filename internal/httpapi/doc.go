// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package httpapi exposes the auth engine over HTTP under /auth.
//
// Request bodies are checked against JSON schemas reflected from the request
// types before they reach the engine. Engine errors map to statuses as
// follows: *auth.ValidationError is 400 (410 for an invalid token on
// register), *auth.AuthError is 400 on login and 401 on refresh and bearer
// routes, and anything else is a logged 500.
package httpapi
