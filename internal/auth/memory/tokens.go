// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package memory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
)

// TokenRepository implements auth.TokenRepository on a Store.
type TokenRepository struct {
	store *Store
}

var _ auth.TokenRepository = (*TokenRepository)(nil)

// CreateSingleUse generates and stores a confirmation or reset token.
func (r *TokenRepository) CreateSingleUse(ctx context.Context, userID ulid.ULID, kind auth.TokenKind, now, expiresAt time.Time) (*auth.Token, string, error) {
	if !kind.SingleUse() {
		return nil, "", oops.Code("TOKEN_INVALID_KIND").With("kind", string(kind)).Errorf("not a single-use kind")
	}
	value, hash, err := auth.GenerateSingleUseToken()
	if err != nil {
		return nil, "", err
	}
	token, err := auth.NewToken(userID, kind, hash, now, expiresAt)
	if err != nil {
		return nil, "", err
	}
	if err := r.insert(ctx, token); err != nil {
		return nil, "", err
	}
	return token, value, nil
}

// FindValidSingleUse finds an unused, unexpired token by its plaintext value.
func (r *TokenRepository) FindValidSingleUse(ctx context.Context, value string, kind auth.TokenKind, now time.Time) (*auth.Token, error) {
	return r.findValid(ctx, auth.HashToken(value), kind, now)
}

// MarkUsed burns a single-use token.
func (r *TokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.transition(ctx, id, func(t *auth.Token) bool {
		if t.UsedAt != nil {
			return false
		}
		t.UsedAt = &now
		return true
	})
}

// SaveRefresh stores a refresh token record.
func (r *TokenRepository) SaveRefresh(ctx context.Context, token *auth.Token) error {
	if token.Kind != auth.TokenKindRefresh {
		return oops.Code("TOKEN_INVALID_KIND").With("kind", string(token.Kind)).Errorf("not a refresh token")
	}
	return r.insert(ctx, token)
}

// FindValidRefresh finds an unrevoked, unexpired refresh token by hash.
func (r *TokenRepository) FindValidRefresh(ctx context.Context, hash string, now time.Time) (*auth.Token, error) {
	return r.findValid(ctx, hash, auth.TokenKindRefresh, now)
}

// Revoke revokes a refresh token.
func (r *TokenRepository) Revoke(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.transition(ctx, id, func(t *auth.Token) bool {
		if t.RevokedAt != nil {
			return false
		}
		t.RevokedAt = &now
		return true
	})
}

// RevokeAllForUser revokes every unrevoked refresh token of the user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error) {
	var n int64
	r.store.do(ctx, func() {
		for id, t := range r.store.tokens {
			if t.UserID != userID || t.Kind != auth.TokenKindRefresh || t.RevokedAt != nil {
				continue
			}
			revokedAt := now
			t.RevokedAt = &revokedAt
			r.store.tokens[id] = t
			n++
		}
	})
	return n, nil
}

func (r *TokenRepository) insert(ctx context.Context, token *auth.Token) error {
	var err error
	r.store.do(ctx, func() {
		if _, ok := r.store.users[token.UserID]; !ok {
			err = oops.Code("TOKEN_USER_NOT_FOUND").With("user_id", token.UserID.String()).Wrap(auth.ErrNotFound)
			return
		}
		for _, t := range r.store.tokens {
			if t.Hash == token.Hash {
				err = oops.Code("TOKEN_HASH_EXISTS").Wrap(auth.ErrAlreadyExists)
				return
			}
		}
		r.store.tokens[token.ID] = *token
	})
	return err
}

func (r *TokenRepository) findValid(ctx context.Context, hash string, kind auth.TokenKind, now time.Time) (*auth.Token, error) {
	var found *auth.Token
	r.store.do(ctx, func() {
		for _, t := range r.store.tokens {
			if t.Hash == hash && t.Kind == kind && t.IsValidAt(now) {
				found = &t
				return
			}
		}
	})
	if found == nil {
		return nil, oops.Code("TOKEN_NOT_FOUND").With("kind", string(kind)).Wrap(auth.ErrNotFound)
	}
	return found, nil
}

// transition applies a compare-and-swap state change. apply returns false
// when the token is no longer in the expected state.
func (r *TokenRepository) transition(ctx context.Context, id ulid.ULID, apply func(*auth.Token) bool) error {
	var err error
	r.store.do(ctx, func() {
		t, ok := r.store.tokens[id]
		if !ok {
			err = oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
			return
		}
		if !apply(&t) {
			err = oops.Code("TOKEN_CONSUMED").With("id", id.String()).Wrap(auth.ErrTokenConsumed)
			return
		}
		r.store.tokens[id] = t
	})
	return err
}
