// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package postgres implements the auth repositories on PostgreSQL.
//
// Repositories accept a store.DB so they can run against a *pgxpool.Pool in
// production and a pgxmock pool in unit tests. Calls made with a context
// returned by Transactor.InTransaction run on that transaction.
package postgres
