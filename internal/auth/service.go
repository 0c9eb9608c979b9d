// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenTypeBearer is the token_type reported alongside issued pairs.
const TokenTypeBearer = "bearer"

// Deps are the collaborators of Service.
type Deps struct {
	Users      UserRepository
	Tokens     TokenRepository
	Transactor Transactor
	Hasher     PasswordHasher
	Notifier   Notifier

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
	// Now defaults to time.Now when nil.
	Now func() time.Time
}

// Service is the auth engine: registration, confirmation, login, refresh
// rotation, logout-everywhere and password reset. It holds no mutable state
// between calls; all state lives in the repositories.
type Service struct {
	cfg      Config
	users    UserRepository
	tokens   TokenRepository
	tx       Transactor
	hasher   PasswordHasher
	notifier Notifier
	access   *AccessTokenCodec
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. It validates cfg and requires every
// collaborator except Logger and Now.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("tokens repository is required")
	case deps.Transactor == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	access, err := NewAccessTokenCodec(cfg, deps.Now)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:      cfg,
		users:    deps.Users,
		tokens:   deps.Tokens,
		tx:       deps.Transactor,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		access:   access,
		logger:   deps.Logger,
		now:      deps.Now,
	}, nil
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Email           string
	Password        string
	PasswordConfirm string
}

// ResetPasswordRequest is the input of ResetPassword.
type ResetPasswordRequest struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
	// Email is accepted for wire compatibility only. The password policy
	// runs against the stored email of the token's owner.
	Email           string
}

// TokenPair is the result of a successful login or refresh. RefreshToken is
// the only copy of the secret; the caller must persist the newest pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Register creates an inactive user and sends an email confirmation link.
// A failure to deliver the link does not fail registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	email := NormalizeEmail(req.Email)

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return errEmailExists()
	case !errors.Is(err, ErrNotFound):
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	if err := s.cfg.Password.ValidatePassword(req.Password, email); err != nil {
		return err
	}
	if req.Password != req.PasswordConfirm {
		return NewValidationError(CodePasswordMismatch,
			"Passwords do not match. Please enter the same password twice", "password_confirm")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := s.now()
	user, err := NewUser(email, hash, now)
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "new user").
			Wrap(err)
	}

	var confirmToken string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return errEmailExists()
			}
			return oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "create user").
				Wrap(err)
		}
		_, value, err := s.tokens.CreateSingleUse(ctx, user.ID, TokenKindEmailConfirm, now, now.Add(s.cfg.EmailConfirmTTL))
		if err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "create confirmation token").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		confirmToken = value
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	s.notify(ctx, user.ID, Notification{
		Kind:      NotificationEmailConfirmation,
		Recipient: user.Email,
		Token:     confirmToken,
	})
	return nil
}

// ConfirmEmail consumes an email confirmation token and activates its user.
func (s *Service) ConfirmEmail(ctx context.Context, value string) error {
	if value == "" {
		return errInvalidToken()
	}

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		token, err := s.consumeSingleUse(ctx, value, TokenKindEmailConfirm, now)
		if err != nil {
			return err
		}
		if err := s.users.Activate(ctx, token.UserID); err != nil {
			return oops.Code("AUTH_CONFIRM_FAILED").
				With("operation", "activate user").
				With("user_id", token.UserID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "email confirmed", "user_id", token.UserID.String())
		return nil
	})
}

// Login authenticates by email and password and issues a fresh token pair.
// Unknown emails and wrong passwords fail identically, and the password is
// verified in both cases so timing does not reveal which one happened.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, ErrInvalidCredentials
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if !userExists || !valid {
		return nil, ErrInvalidCredentials
	}

	// Checked after verification so an inactive account is indistinguishable
	// from a wrong password until the password is proven.
	if !user.Active {
		return nil, ErrEmailNotVerified
	}

	s.upgradeHash(ctx, user, password)

	var pair *TokenPair
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		pair, err = s.issuePair(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued for the same user. Of two concurrent calls presenting the
// same token at most one succeeds; the other gets ErrInvalidCredentials.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidCredentials
	}
	hash := HashToken(refreshToken)

	var pair *TokenPair
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		stored, err := s.tokens.FindValidRefresh(ctx, hash, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidCredentials
			}
			return oops.Code("AUTH_REFRESH_FAILED").
				With("operation", "find refresh token").
				Wrap(err)
		}

		if err := s.lockUser(ctx, stored.UserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}

		if err := s.tokens.Revoke(ctx, stored.ID, now); err != nil {
			if errors.Is(err, ErrTokenConsumed) || errors.Is(err, ErrNotFound) {
				s.logger.WarnContext(ctx, "refresh token reused", "user_id", stored.UserID.String())
				return ErrInvalidCredentials
			}
			return oops.Code("AUTH_REFRESH_FAILED").
				With("operation", "revoke refresh token").
				With("user_id", stored.UserID.String()).
				Wrap(err)
		}

		pair, err = s.mintPair(ctx, stored.UserID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// LogoutAll revokes every live refresh token of the user. Access tokens
// already issued remain valid until they expire.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockUser(ctx, userID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		revoked, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
		if err != nil {
			return oops.Code("AUTH_LOGOUT_FAILED").
				With("operation", "revoke all refresh tokens").
				With("user_id", userID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "logged out everywhere",
			"user_id", userID.String(),
			"revoked", revoked)
		return nil
	})
}

// Authenticate verifies an access token and returns its subject.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (ulid.ULID, error) {
	if accessToken == "" {
		return ulid.ULID{}, ErrInvalidCredentials
	}
	userID, err := s.access.Parse(accessToken)
	if err != nil {
		s.logger.DebugContext(ctx, "access token rejected", "error", err)
		return ulid.ULID{}, ErrInvalidCredentials
	}
	return userID, nil
}

// RequestPasswordReset sends a reset link if the email belongs to a user.
// The result is the same whether or not it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	now := s.now()
	_, value, err := s.tokens.CreateSingleUse(ctx, user.ID, TokenKindPasswordReset, now, now.Add(s.cfg.PasswordResetTTL))
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "create reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.notify(ctx, user.ID, Notification{
		Kind:      NotificationPasswordReset,
		Recipient: user.Email,
		Token:     value,
	})
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// checked first, then the password policy, then the confirmation match. On
// success every refresh token of the user is revoked.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		return errInvalidToken()
	}

	token, err := s.tokens.FindValidSingleUse(ctx, req.Token, TokenKindPasswordReset, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidToken()
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "find reset token").
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidToken()
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by id").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}

	if err := s.cfg.Password.ValidatePassword(req.NewPassword, user.Email); err != nil {
		return err
	}
	if req.NewPassword != req.ConfirmPassword {
		return NewValidationError(CodePasswordMismatch, "Passwords do not match", "confirm_password")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockUser(ctx, user.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errInvalidToken()
			}
			return err
		}
		now := s.now()
		if err := s.tokens.MarkUsed(ctx, token.ID, now); err != nil {
			if errors.Is(err, ErrTokenConsumed) || errors.Is(err, ErrNotFound) {
				return errInvalidToken()
			}
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "mark token used").
				Wrap(err)
		}
		if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "update password").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		if _, err := s.tokens.RevokeAllForUser(ctx, user.ID, now); err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "revoke refresh tokens").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
		return nil
	})
}

// issuePair locks the user and mints a new pair. Must run in a transaction.
func (s *Service) issuePair(ctx context.Context, userID ulid.ULID) (*TokenPair, error) {
	if err := s.lockUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.mintPair(ctx, userID, s.now())
}

// mintPair stores a new refresh token and signs an access token. The caller
// must already hold the user lock.
func (s *Service) mintPair(ctx context.Context, userID ulid.ULID, now time.Time) (*TokenPair, error) {
	secret, hash, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	refresh, err := NewToken(userID, TokenKindRefresh, hash, now, now.Add(s.cfg.RefreshTokenTTL))
	if err != nil {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "new refresh token").
			Wrap(err)
	}
	if err := s.tokens.SaveRefresh(ctx, refresh); err != nil {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "save refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	access, accessExpiry, err := s.access.Issue(userID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		TokenType:        TokenTypeBearer,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *Service) lockUser(ctx context.Context, userID ulid.ULID) error {
	if err := s.users.LockForUpdate(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("AUTH_USER_LOCK_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// consumeSingleUse finds a valid token and burns it. Both a missing token and
// a lost race against a concurrent consumer yield INVALID_TOKEN.
func (s *Service) consumeSingleUse(ctx context.Context, value string, kind TokenKind, now time.Time) (*Token, error) {
	token, err := s.tokens.FindValidSingleUse(ctx, value, kind, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errInvalidToken()
		}
		return nil, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "find single-use token").
			With("kind", string(kind)).
			Wrap(err)
	}
	if err := s.tokens.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, ErrTokenConsumed) || errors.Is(err, ErrNotFound) {
			return nil, errInvalidToken()
		}
		return nil, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "mark token used").
			With("kind", string(kind)).
			Wrap(err)
	}
	return token, nil
}

// upgradeHash rehashes the password when the stored digest uses outdated
// parameters. Login succeeds regardless of the outcome.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	user.PasswordHash = newHash
}

func (s *Service) notify(ctx context.Context, userID ulid.ULID, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			"kind", string(n.Kind),
			"user_id", userID.String(),
			"error", err)
	}
}

func errEmailExists() *ValidationError {
	return NewValidationError(CodeEmailExists, "A user with this email already exists", "email")
}
