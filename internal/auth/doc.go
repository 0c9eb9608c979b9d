// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package auth implements account registration and token-based sessions.
//
// # Domain Types
//
// User and Token should be created using their constructors:
//   - NewUser - creates an inactive User with a normalized email
//   - NewToken - creates a Token with validated owner, kind and expiry
//
// Token records are shared by three kinds. Email confirmation and password
// reset tokens are single-use and are burned by setting UsedAt. Refresh
// tokens are rotated: each successful refresh revokes the presented token
// and issues a new one. Only SHA-256 hashes of token secrets are stored.
//
// # Service
//
// Service coordinates the flows on top of UserRepository, TokenRepository
// and Transactor. Every state change runs in one transaction, and issuance
// and bulk revocation for a user are serialized on LockForUpdate so that
// LogoutAll cannot miss a token minted by a concurrent refresh.
//
// Access tokens are signed JWTs verified without storage. They stay valid
// until they expire, even after LogoutAll.
package auth
