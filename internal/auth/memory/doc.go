// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package memory provides in-process implementations of the auth
// repositories for tests and single-node development.
//
// A Store serializes transactions with one mutex. Everything a transaction
// writes is rolled back when its function returns an error.
package memory
