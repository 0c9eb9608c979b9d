// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenKind discriminates the three token families that share storage.
type TokenKind string

// Token kinds.
const (
	TokenKindEmailConfirm  TokenKind = "email_confirm"
	TokenKindPasswordReset TokenKind = "password_reset"
	TokenKindRefresh       TokenKind = "refresh_token"
)

// Valid reports whether k is a known kind.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindEmailConfirm, TokenKindPasswordReset, TokenKindRefresh:
		return true
	}
	return false
}

// SingleUse reports whether tokens of this kind are burned on consumption
// rather than revoked.
func (k TokenKind) SingleUse() bool {
	return k == TokenKindEmailConfirm || k == TokenKindPasswordReset
}

// Token is a persisted token record. Only the SHA-256 hash of the secret is
// stored, whatever the kind.
type Token struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Kind      TokenKind
	Hash      string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time // single-use kinds only
	RevokedAt *time.Time // refresh kind only
}

// NewToken creates a validated Token.
func NewToken(userID ulid.ULID, kind TokenKind, hash string, now, expiresAt time.Time) (*Token, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if !kind.Valid() {
		return nil, oops.Code("TOKEN_INVALID_KIND").With("kind", string(kind)).Errorf("unknown token kind")
	}
	if hash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}
	return &Token{
		ID:        ulid.Make(),
		UserID:    userID,
		Kind:      kind,
		Hash:      hash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsUsed reports whether a single-use token has been consumed.
func (t *Token) IsUsed() bool { return t.UsedAt != nil }

// IsRevoked reports whether a refresh token has been revoked.
func (t *Token) IsRevoked() bool { return t.RevokedAt != nil }

// IsExpiredAt reports whether the token is expired at the given time.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValidAt reports whether the token is unused, unrevoked and unexpired.
func (t *Token) IsValidAt(now time.Time) bool {
	return !t.IsUsed() && !t.IsRevoked() && !t.IsExpiredAt(now)
}

// TokenRepository manages token persistence. Methods that change state use
// compare-and-swap semantics and return ErrTokenConsumed when the token was
// already transitioned.
type TokenRepository interface {
	// CreateSingleUse generates a random value, stores its hash and returns
	// the record together with the plaintext value.
	CreateSingleUse(ctx context.Context, userID ulid.ULID, kind TokenKind, now, expiresAt time.Time) (*Token, string, error)

	// FindValidSingleUse returns the unused, unexpired token of the given kind
	// whose hash matches value. Returns ErrNotFound otherwise.
	FindValidSingleUse(ctx context.Context, value string, kind TokenKind, now time.Time) (*Token, error)

	// MarkUsed transitions a single-use token to used.
	MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) error

	// SaveRefresh stores a refresh token record.
	SaveRefresh(ctx context.Context, token *Token) error

	// FindValidRefresh returns the unrevoked, unexpired refresh token with the
	// given hash. Returns ErrNotFound otherwise.
	FindValidRefresh(ctx context.Context, hash string, now time.Time) (*Token, error)

	// Revoke transitions a refresh token to revoked.
	Revoke(ctx context.Context, id ulid.ULID, now time.Time) error

	// RevokeAllForUser revokes every unrevoked refresh token of the user and
	// returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error)
}

// Transactor runs fn inside a unit of work. Repository calls made with the
// context passed to fn participate in it; returning an error rolls it back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
