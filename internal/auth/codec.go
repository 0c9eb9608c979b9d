// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshTokenBytes is the amount of randomness in a refresh secret.
const RefreshTokenBytes = 64

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// AccessTokenCodec signs and verifies access tokens. Access tokens are
// stateless; they are never stored and are revoked only by expiring.
type AccessTokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAccessTokenCodec creates a codec from cfg. now supplies the clock; nil
// means time.Now.
func NewAccessTokenCodec(cfg Config, now func() time.Time) (*AccessTokenCodec, error) {
	method, err := signingMethod(cfg.SigningAlgorithm)
	if err != nil {
		return nil, err
	}
	if len(cfg.SigningSecret) == 0 {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("signing secret is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("access token ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.SigningSecret))
	copy(secret, cfg.SigningSecret)
	return &AccessTokenCodec{
		secret: secret,
		method: method,
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		now:    now,
	}, nil
}

// Issue signs an access token for userID. Returns the token and its expiry.
func (c *AccessTokenCodec) Issue(userID ulid.ULID) (string, time.Time, error) {
	issuedAt := c.now()
	expiresAt := issuedAt.Add(c.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("ACCESS_TOKEN_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Parse verifies an access token and returns its subject. Any malformed,
// tampered or expired token yields an ACCESS_TOKEN_INVALID error.
func (c *AccessTokenCodec) Parse(token string) (ulid.ULID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCESS_TOKEN_INVALID").Wrap(err)
	}
	if !parsed.Valid {
		return ulid.ULID{}, oops.Code("ACCESS_TOKEN_INVALID").Errorf("token is not valid")
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCESS_TOKEN_INVALID").
			With("operation", "parse subject").
			Wrap(err)
	}
	return userID, nil
}

// GenerateRefreshToken creates a URL-safe refresh secret and its lookup hash.
// The plaintext is returned to the client once; only the hash is stored.
func GenerateRefreshToken() (token, hash string, err error) {
	raw := make([]byte, RefreshTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("REFRESH_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}

// GenerateSingleUseToken creates a random value for email confirmation or
// password reset links, and its lookup hash.
func GenerateSingleUseToken() (token, hash string, err error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", "", oops.Code("SINGLE_USE_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = id.String()
	return token, HashToken(token), nil
}

// HashToken computes the hex-encoded SHA-256 of a token secret.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyTokenHash checks a plaintext secret against a stored hash in
// constant time.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(hash)) == 1
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(alg) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, oops.Code("AUTH_CONFIG_INVALID").
			With("algorithm", alg).
			Errorf("unsupported signing algorithm %q", alg)
	}
}
