// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/store"
)

const tokenColumns = `id, user_id, kind, token_hash, expires_at, created_at, used_at, revoked_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db store.DB
}

var _ auth.TokenRepository = (*TokenRepository)(nil)

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(db store.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateSingleUse generates a confirmation or reset value and stores its hash.
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

// FindValidSingleUse finds an unused, unexpired token of kind by value.
func (r *TokenRepository) FindValidSingleUse(ctx context.Context, value string, kind auth.TokenKind, now time.Time) (*auth.Token, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM auth_tokens
		WHERE token_hash = $1 AND kind = $2 AND used_at IS NULL AND expires_at > $3
	`, auth.HashToken(value), string(kind), now)
	return r.scanFound(row, kind)
}

// MarkUsed burns a single-use token. It fails with auth.ErrTokenConsumed if
// the token was already used.
func (r *TokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE auth_tokens SET used_at = $2
		WHERE id = $1 AND kind <> 'refresh_token' AND used_at IS NULL
	`, id.String(), now)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").
			With("operation", "mark token used").
			With("token_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_CONSUMED").With("token_id", id.String()).Wrap(auth.ErrTokenConsumed)
	}
	return nil
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
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM auth_tokens
		WHERE token_hash = $1 AND kind = 'refresh_token' AND revoked_at IS NULL AND expires_at > $2
	`, hash, now)
	return r.scanFound(row, auth.TokenKindRefresh)
}

// Revoke revokes a refresh token. It fails with auth.ErrTokenConsumed if
// the token was already revoked.
func (r *TokenRepository) Revoke(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE auth_tokens SET revoked_at = $2
		WHERE id = $1 AND kind = 'refresh_token' AND revoked_at IS NULL
	`, id.String(), now)
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("token_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_CONSUMED").With("token_id", id.String()).Wrap(auth.ErrTokenConsumed)
	}
	return nil
}

// RevokeAllForUser revokes every live refresh token of the user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE auth_tokens SET revoked_at = $2
		WHERE user_id = $1 AND kind = 'refresh_token' AND revoked_at IS NULL
	`, userID.String(), now)
	if err != nil {
		return 0, oops.Code("TOKEN_REVOKE_ALL_FAILED").
			With("operation", "revoke all refresh tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) insert(ctx context.Context, token *auth.Token) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO auth_tokens (id, user_id, kind, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.UserID.String(),
		string(token.Kind),
		token.Hash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return oops.Code("TOKEN_HASH_EXISTS").With("kind", string(token.Kind)).Wrap(auth.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return oops.Code("TOKEN_USER_NOT_FOUND").With("user_id", token.UserID.String()).Wrap(auth.ErrNotFound)
	default:
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("kind", string(token.Kind)).
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
}

func (r *TokenRepository) scanFound(row pgx.Row, kind auth.TokenKind) (*auth.Token, error) {
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").With("kind", string(kind)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "find token").
			With("kind", string(kind)).
			Wrap(err)
	}
	return token, nil
}

func scanToken(row pgx.Row) (*auth.Token, error) {
	var (
		token         auth.Token
		idStr, uidStr string
		kind          string
	)
	if err := row.Scan(&idStr, &uidStr, &kind, &token.Hash, &token.ExpiresAt, &token.CreatedAt, &token.UsedAt, &token.RevokedAt); err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse token id").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(uidStr)
	if err != nil {
		return nil, oops.With("operation", "parse token user id").With("user_id", uidStr).Wrap(err)
	}
	token.ID = id
	token.UserID = userID
	token.Kind = auth.TokenKind(kind)
	return &token, nil
}
