// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/auth/memory"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "Str0ng!Passw0rd"
	newPassword   = "N3w!Secure-Pass"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, note auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last(t *testing.T) auth.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no notification sent")
	return n.sent[len(n.sent)-1]
}

type serviceFixture struct {
	svc      *auth.Service
	store    *memory.Store
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), auth.NewArgon2idHasherWithParams(cheapParams))
}

func newFixtureWithStore(t *testing.T, store *memory.Store, hasher auth.PasswordHasher) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    store,
		notifier: &recordingNotifier{},
		clock:    newClock(),
	}
	svc, err := auth.NewService(testConfig(), auth.Deps{
		Users:      store.Users(),
		Tokens:     store.Tokens(),
		Transactor: store,
		Hasher:     hasher,
		Notifier:   f.notifier,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *serviceFixture) register(t *testing.T, email, password string) string {
	t.Helper()
	require.NoError(t, f.svc.Register(context.Background(), auth.RegisterRequest{
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	}))
	note := f.notifier.last(t)
	require.Equal(t, auth.NotificationEmailConfirmation, note.Kind)
	return note.Token
}

func (f *serviceFixture) registerConfirmed(t *testing.T, email, password string) ulid.ULID {
	t.Helper()
	token := f.register(t, email, password)
	require.NoError(t, f.svc.ConfirmEmail(context.Background(), token))
	user, err := f.store.Users().GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return user.ID
}

func (f *serviceFixture) login(t *testing.T, email, password string) *auth.TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), email, password)
	require.NoError(t, err)
	return pair
}

func TestNewService(t *testing.T) {
	store := memory.New()
	valid := auth.Deps{
		Users:      store.Users(),
		Tokens:     store.Tokens(),
		Transactor: store,
		Hasher:     auth.NewArgon2idHasherWithParams(cheapParams),
		Notifier:   &recordingNotifier{},
	}

	t.Run("accepts complete deps", func(t *testing.T) {
		svc, err := auth.NewService(testConfig(), valid)
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.SigningSecret = []byte("short")
		_, err := auth.NewService(cfg, valid)
		assert.Error(t, err)
	})

	missing := map[string]func(d *auth.Deps){
		"users":      func(d *auth.Deps) { d.Users = nil },
		"tokens":     func(d *auth.Deps) { d.Tokens = nil },
		"transactor": func(d *auth.Deps) { d.Transactor = nil },
		"hasher":     func(d *auth.Deps) { d.Hasher = nil },
		"notifier":   func(d *auth.Deps) { d.Notifier = nil },
	}
	for name, drop := range missing {
		t.Run("rejects missing "+name, func(t *testing.T) {
			deps := valid
			drop(&deps)
			_, err := auth.NewService(testConfig(), deps)
			assert.Error(t, err)
		})
	}
}

func TestServiceRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates inactive user and sends confirmation", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Register(ctx, auth.RegisterRequest{
			Email:           "  Alice@Example.com ",
			Password:        alicePassword,
			PasswordConfirm: alicePassword,
		}))

		user, err := f.store.Users().GetByEmail(ctx, aliceEmail)
		require.NoError(t, err)
		assert.Equal(t, aliceEmail, user.Email)
		assert.False(t, user.Active)
		assert.NotEqual(t, alicePassword, user.PasswordHash)

		note := f.notifier.last(t)
		assert.Equal(t, auth.NotificationEmailConfirmation, note.Kind)
		assert.Equal(t, aliceEmail, note.Recipient)
		assert.NotEmpty(t, note.Token)
	})

	t.Run("existing email", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, aliceEmail, alicePassword)

		err := f.svc.Register(ctx, auth.RegisterRequest{
			Email:           "ALICE@example.com",
			Password:        "short",
			PasswordConfirm: "different",
		})
		var ve *auth.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, auth.CodeEmailExists, ve.Code)
		assert.Equal(t, "email", ve.Field)
	})

	failures := []struct {
		name     string
		password string
		confirm  string
		wantCode string
	}{
		{"short password", "Short1!", "Short1!", auth.CodePasswordLength},
		{"password contains email local part", "Alice!Secure99", "Alice!Secure99", auth.CodePasswordContainsEmailPart},
		{"policy checked before confirmation match", "Short1!", "Other1!", auth.CodePasswordLength},
		{"confirmation mismatch", alicePassword, alicePassword + "x", auth.CodePasswordMismatch},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.Register(ctx, auth.RegisterRequest{
				Email:           aliceEmail,
				Password:        tt.password,
				PasswordConfirm: tt.confirm,
			})
			assert.Equal(t, tt.wantCode, auth.ValidationCode(err))

			users, tokens := f.store.Len()
			assert.Zero(t, users)
			assert.Zero(t, tokens)
			assert.Zero(t, f.notifier.count())
		})
	}

	t.Run("notification failure does not fail registration", func(t *testing.T) {
		f := newFixture(t)
		f.notifier.err = errors.New("smtp down")

		require.NoError(t, f.svc.Register(ctx, auth.RegisterRequest{
			Email:           aliceEmail,
			Password:        alicePassword,
			PasswordConfirm: alicePassword,
		}))
		_, err := f.store.Users().GetByEmail(ctx, aliceEmail)
		assert.NoError(t, err)
	})
}

func TestServiceConfirmEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("activates user once", func(t *testing.T) {
		f := newFixture(t)
		token := f.register(t, aliceEmail, alicePassword)

		require.NoError(t, f.svc.ConfirmEmail(ctx, token))
		user, err := f.store.Users().GetByEmail(ctx, aliceEmail)
		require.NoError(t, err)
		assert.True(t, user.Active)

		err = f.svc.ConfirmEmail(ctx, token)
		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(err))
	})

	t.Run("unknown and empty tokens", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(f.svc.ConfirmEmail(ctx, "nope")))
		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(f.svc.ConfirmEmail(ctx, "")))
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		token := f.register(t, aliceEmail, alicePassword)
		f.clock.Advance(auth.DefaultEmailConfirmTTL)

		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(f.svc.ConfirmEmail(ctx, token)))
	})

	t.Run("reset token cannot confirm email", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, aliceEmail, alicePassword)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, aliceEmail))
		resetToken := f.notifier.last(t).Token

		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(f.svc.ConfirmEmail(ctx, resetToken)))
	})
}

func TestServiceLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfirmed user", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, aliceEmail, alicePassword)

		_, err := f.svc.Login(ctx, aliceEmail, alicePassword)
		assert.ErrorIs(t, err, auth.ErrEmailNotVerified)
	})

	t.Run("unconfirmed user with wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, aliceEmail, alicePassword)

		_, err := f.svc.Login(ctx, aliceEmail, "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown email and wrong password fail identically", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)

		_, unknownErr := f.svc.Login(ctx, "nobody@example.com", alicePassword)
		_, wrongErr := f.svc.Login(ctx, aliceEmail, "Wr0ng!Password")
		assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
		assert.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)
		assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	})

	t.Run("issues bearer pair", func(t *testing.T) {
		f := newFixture(t)
		userID := f.registerConfirmed(t, aliceEmail, alicePassword)

		pair := f.login(t, "ALICE@EXAMPLE.COM", alicePassword)
		assert.Equal(t, auth.TokenTypeBearer, pair.TokenType)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, f.clock.now.Add(auth.DefaultAccessTokenTTL), pair.AccessExpiresAt)
		assert.Equal(t, f.clock.now.Add(auth.DefaultRefreshTokenTTL), pair.RefreshExpiresAt)

		got, err := f.svc.Authenticate(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	})

	t.Run("upgrades outdated hash", func(t *testing.T) {
		store := memory.New()
		weak := newFixtureWithStore(t, store, auth.NewArgon2idHasherWithParams(
			auth.Argon2Params{Time: 1, Memory: 512, Threads: 1, SaltLen: 16, KeyLen: 32}))
		userID := weak.registerConfirmed(t, aliceEmail, alicePassword)
		before, err := store.Users().GetByID(ctx, userID)
		require.NoError(t, err)

		current := newFixtureWithStore(t, store, auth.NewArgon2idHasherWithParams(cheapParams))
		current.login(t, aliceEmail, alicePassword)

		after, err := store.Users().GetByID(ctx, userID)
		require.NoError(t, err)
		assert.NotEqual(t, before.PasswordHash, after.PasswordHash)
		current.login(t, aliceEmail, alicePassword)
	})
}

func TestServiceRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotation works once", func(t *testing.T) {
		f := newFixture(t)
		userID := f.registerConfirmed(t, aliceEmail, alicePassword)
		first := f.login(t, aliceEmail, alicePassword)

		second, err := f.svc.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		got, err := f.svc.Authenticate(ctx, second.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, got)

		_, err = f.svc.Refresh(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		_, err = f.svc.Refresh(ctx, second.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("tampered, unknown and empty tokens", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		pair := f.login(t, aliceEmail, alicePassword)

		tampered := []byte(pair.RefreshToken)
		tampered[0] ^= 1
		for _, token := range []string{string(tampered), "unknown", ""} {
			_, err := f.svc.Refresh(ctx, token)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		}
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		pair := f.login(t, aliceEmail, alicePassword)

		_, err := f.svc.Refresh(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		pair := f.login(t, aliceEmail, alicePassword)
		f.clock.Advance(auth.DefaultRefreshTokenTTL)

		_, err := f.svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("concurrent refresh of one token succeeds once", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		pair := f.login(t, aliceEmail, alicePassword)

		const workers = 8
		var (
			wg      sync.WaitGroup
			success sync.Map
			errs    = make(chan error, workers)
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := f.svc.Refresh(ctx, pair.RefreshToken)
				if err != nil {
					errs <- err
					return
				}
				success.Store(i, p)
			}()
		}
		wg.Wait()
		close(errs)

		var successes int
		success.Range(func(_, _ any) bool {
			successes++
			return true
		})
		assert.Equal(t, 1, successes)
		for err := range errs {
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		}
	})
}

func TestServiceLogoutAll(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidates every refresh token", func(t *testing.T) {
		f := newFixture(t)
		userID := f.registerConfirmed(t, aliceEmail, alicePassword)
		phone := f.login(t, aliceEmail, alicePassword)
		laptop := f.login(t, aliceEmail, alicePassword)

		require.NoError(t, f.svc.LogoutAll(ctx, userID))

		for _, pair := range []*auth.TokenPair{phone, laptop} {
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		}

		// Access tokens live until they expire.
		got, err := f.svc.Authenticate(ctx, phone.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, got)

		fresh := f.login(t, aliceEmail, alicePassword)
		_, err = f.svc.Refresh(ctx, fresh.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("other users keep their sessions", func(t *testing.T) {
		f := newFixture(t)
		aliceID := f.registerConfirmed(t, aliceEmail, alicePassword)
		f.registerConfirmed(t, "bob@example.com", alicePassword)
		bob := f.login(t, "bob@example.com", alicePassword)

		require.NoError(t, f.svc.LogoutAll(ctx, aliceID))
		_, err := f.svc.Refresh(ctx, bob.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("unknown user is a no-op", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.svc.LogoutAll(ctx, ulid.Make()))
	})
}

func TestServicePasswordReset(t *testing.T) {
	ctx := context.Background()

	requestReset := func(t *testing.T, f *serviceFixture) string {
		t.Helper()
		require.NoError(t, f.svc.RequestPasswordReset(ctx, aliceEmail))
		note := f.notifier.last(t)
		require.Equal(t, auth.NotificationPasswordReset, note.Kind)
		require.Equal(t, aliceEmail, note.Recipient)
		return note.Token
	}

	t.Run("unknown email gets neutral response", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Zero(t, f.notifier.count())
	})

	t.Run("resets password and consumes token", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		token := requestReset(t, f)

		req := auth.ResetPasswordRequest{
			Token:           token,
			NewPassword:     newPassword,
			ConfirmPassword: newPassword,
			Email:           aliceEmail,
		}
		require.NoError(t, f.svc.ResetPassword(ctx, req))

		_, err := f.svc.Login(ctx, aliceEmail, alicePassword)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		f.login(t, aliceEmail, newPassword)

		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(f.svc.ResetPassword(ctx, req)))
	})

	t.Run("revokes refresh tokens", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		pair := f.login(t, aliceEmail, alicePassword)
		token := requestReset(t, f)

		require.NoError(t, f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:           token,
			NewPassword:     newPassword,
			ConfirmPassword: newPassword,
			Email:           aliceEmail,
		}))
		_, err := f.svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	failures := []struct {
		name     string
		token    func(valid string) string
		password string
		confirm  string
		wantCode string
	}{
		{"invalid token reported before weak password", func(string) string { return "bogus" }, "weak", "weak", auth.CodeInvalidToken},
		{"empty token", func(string) string { return "" }, newPassword, newPassword, auth.CodeInvalidToken},
		{"weak password", func(v string) string { return v }, "Short1!", "Short1!", auth.CodePasswordLength},
		{"password contains email", func(v string) string { return v }, "Alice!Secure99", "Alice!Secure99", auth.CodePasswordContainsEmailPart},
		{"policy reported before mismatch", func(v string) string { return v }, "Short1!", "Other1!", auth.CodePasswordLength},
		{"mismatch", func(v string) string { return v }, newPassword, newPassword + "x", auth.CodePasswordMismatch},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.registerConfirmed(t, aliceEmail, alicePassword)
			token := requestReset(t, f)

			err := f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
				Token:           tt.token(token),
				NewPassword:     tt.password,
				ConfirmPassword: tt.confirm,
				Email:           aliceEmail,
			})
			assert.Equal(t, tt.wantCode, auth.ValidationCode(err))

			// A rejected attempt leaves the token usable.
			if tt.wantCode != auth.CodeInvalidToken {
				require.NoError(t, f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
					Token:           token,
					NewPassword:     newPassword,
					ConfirmPassword: newPassword,
					Email:           aliceEmail,
				}))
			}
		})
	}

	t.Run("policy uses stored email, not the supplied one", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		token := requestReset(t, f)

		err := f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:           token,
			NewPassword:     "Alice!Secure99",
			ConfirmPassword: "Alice!Secure99",
			Email:           "bob@example.com",
		})
		assert.Equal(t, auth.CodePasswordContainsEmailPart, auth.ValidationCode(err))

		require.NoError(t, f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:           token,
			NewPassword:     newPassword,
			ConfirmPassword: newPassword,
		}))
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		f.registerConfirmed(t, aliceEmail, alicePassword)
		token := requestReset(t, f)
		f.clock.Advance(auth.DefaultPasswordResetTTL)

		err := f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:           token,
			NewPassword:     newPassword,
			ConfirmPassword: newPassword,
			Email:           aliceEmail,
		})
		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(err))
	})

	t.Run("confirmation token cannot reset password", func(t *testing.T) {
		f := newFixture(t)
		confirmToken := f.register(t, aliceEmail, alicePassword)

		err := f.svc.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:           confirmToken,
			NewPassword:     newPassword,
			ConfirmPassword: newPassword,
			Email:           aliceEmail,
		})
		assert.Equal(t, auth.CodeInvalidToken, auth.ValidationCode(err))
	})
}

func TestServiceAuthenticate(t *testing.T) {
	f := newFixture(t)
	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := f.svc.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
}

type failingUsers struct {
	auth.UserRepository
	err error
}

func (f failingUsers) GetByEmail(context.Context, string) (*auth.User, error) {
	return nil, f.err
}

func TestServiceStorageFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dbErr := errors.New("connection refused")
	svc, err := auth.NewService(testConfig(), auth.Deps{
		Users:      failingUsers{UserRepository: store.Users(), err: dbErr},
		Tokens:     store.Tokens(),
		Transactor: store,
		Hasher:     auth.NewArgon2idHasherWithParams(cheapParams),
		Notifier:   &recordingNotifier{},
	})
	require.NoError(t, err)

	err = svc.Register(ctx, auth.RegisterRequest{Email: aliceEmail, Password: alicePassword, PasswordConfirm: alicePassword})
	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, auth.ValidationCode(err))

	_, err = svc.Login(ctx, aliceEmail, alicePassword)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)

	err = svc.RequestPasswordReset(ctx, aliceEmail)
	assert.ErrorIs(t, err, dbErr, "storage errors are not hidden by the neutral response")
}
