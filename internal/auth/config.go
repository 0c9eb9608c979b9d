// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Token lifetimes used when Config leaves them zero.
const (
	DefaultAccessTokenTTL   = 30 * time.Minute
	DefaultRefreshTokenTTL  = 30 * 24 * time.Hour
	DefaultEmailConfirmTTL  = 24 * time.Hour
	DefaultPasswordResetTTL = time.Hour
)

// MinSigningSecretLength is the shortest HS256 secret accepted.
const MinSigningSecretLength = 32

// Config holds every tunable the engine and its components need. It is passed
// explicitly to constructors; nothing in this package reads global settings.
type Config struct {
	// SigningSecret is the symmetric key for access tokens.
	SigningSecret []byte
	// SigningAlgorithm is the JWT alg. Only HS256, HS384 and HS512 are supported.
	SigningAlgorithm string
	// Issuer is written to and checked against the "iss" claim when non-empty.
	Issuer string

	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	EmailConfirmTTL  time.Duration
	PasswordResetTTL time.Duration

	Password PasswordPolicy
}

// DefaultConfig returns a Config with default TTLs and password policy.
// The signing secret must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		SigningAlgorithm: "HS256",
		AccessTokenTTL:   DefaultAccessTokenTTL,
		RefreshTokenTTL:  DefaultRefreshTokenTTL,
		EmailConfirmTTL:  DefaultEmailConfirmTTL,
		PasswordResetTTL: DefaultPasswordResetTTL,
		Password:         DefaultPasswordPolicy(),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if len(c.SigningSecret) < MinSigningSecretLength {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("min_length", MinSigningSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSigningSecretLength)
	}
	if _, err := signingMethod(c.SigningAlgorithm); err != nil {
		return err
	}
	ttls := map[string]time.Duration{
		"access_token_ttl":   c.AccessTokenTTL,
		"refresh_token_ttl":  c.RefreshTokenTTL,
		"email_confirm_ttl":  c.EmailConfirmTTL,
		"password_reset_ttl": c.PasswordResetTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return oops.Code("AUTH_CONFIG_INVALID").
				With("field", name).
				Errorf("%s must be positive", name)
		}
	}
	return c.Password.Validate()
}
