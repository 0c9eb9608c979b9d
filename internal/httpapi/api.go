// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskmill/taskmill/internal/auth"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 64 << 10

var tracer = otel.Tracer("taskmill/httpapi")

// Engine is the part of *auth.Service the API calls.
type Engine interface {
	Register(ctx context.Context, req auth.RegisterRequest) error
	ConfirmEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	LogoutAll(ctx context.Context, userID ulid.ULID) error
	Authenticate(ctx context.Context, accessToken string) (ulid.ULID, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req auth.ResetPasswordRequest) error
}

// API serves the auth routes.
type API struct {
	engine  Engine
	logger  *slog.Logger
	maxBody int64
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger for unexpected errors.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// New creates an API backed by engine.
func New(engine Engine, opts ...Option) *API {
	a := &API{engine: engine, logger: slog.Default(), maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", a.instrument("register", a.register))
	mux.Handle("GET /auth/confirm-email", a.instrument("confirm_email", a.confirmEmail))
	mux.Handle("POST /auth/login", a.instrument("login", a.loginForm))
	mux.Handle("POST /auth/login/json", a.instrument("login", a.loginJSON))
	mux.Handle("POST /auth/refresh", a.instrument("refresh", a.refresh))
	mux.Handle("POST /auth/logout-all", a.instrument("logout_all", a.logoutAll))
	mux.Handle("POST /auth/password-reset/request", a.instrument("password_reset_request", a.requestPasswordReset))
	mux.Handle("POST /auth/password-reset/confirm", a.instrument("password_reset_confirm", a.resetPassword))
	return mux
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) int

// instrument wraps h in a server span and records request metrics.
func (a *API) instrument(operation string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "auth."+operation,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()

		status := h(w, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		recordRequest(operation, status, time.Since(start))
	})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) int {
	var req RegisterRequest
	if err := a.readJSON(w, r, "register", &req); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	err := a.engine.Register(r.Context(), auth.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{goneOnInvalidToken: true})
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Check your email to confirm your address"})
	return http.StatusOK
}

func (a *API) confirmEmail(w http.ResponseWriter, r *http.Request) int {
	token := r.URL.Query().Get("token")
	if token == "" {
		return a.writeError(r.Context(), w, &RequestError{Field: "token", Message: "field is required"}, errorPolicy{})
	}
	if err := a.engine.ConfirmEmail(r.Context(), token); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Email confirmed"})
	return http.StatusOK
}

// loginForm accepts the OAuth2 password form, where username carries the
// email. A JSON body is handled as loginJSON.
func (a *API) loginForm(w http.ResponseWriter, r *http.Request) int {
	if isJSON(r) {
		return a.loginJSON(w, r)
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
	if err := r.ParseForm(); err != nil {
		return a.writeError(r.Context(), w, &RequestError{Message: "body must be a url-encoded form"}, errorPolicy{})
	}
	fields := map[string]string{}
	for form, key := range map[string]string{"username": "email", "password": "password"} {
		if vs, ok := r.PostForm[form]; ok && len(vs) > 0 {
			fields[key] = vs[0]
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}

	var req LoginRequest
	if err := validateBody("login", raw, &req); err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Field == "email" {
			reqErr.Field = "username"
		}
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	return a.login(w, r, req)
}

func (a *API) loginJSON(w http.ResponseWriter, r *http.Request) int {
	var req LoginRequest
	if err := a.readJSON(w, r, "login", &req); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	return a.login(w, r, req)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, req LoginRequest) int {
	pair, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{authStatus: http.StatusBadRequest})
	}
	writeJSON(w, http.StatusOK, newTokenPairResponse(pair))
	return http.StatusOK
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) int {
	var req RefreshRequest
	if err := a.readJSON(w, r, "refresh", &req); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{authStatus: http.StatusUnauthorized})
	}
	writeJSON(w, http.StatusOK, newTokenPairResponse(pair))
	return http.StatusOK
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) int {
	token, ok := bearerToken(r)
	if !ok {
		return unauthorized(w)
	}
	userID, err := a.engine.Authenticate(r.Context(), token)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			return unauthorized(w)
		}
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	if err := a.engine.LogoutAll(r.Context(), userID); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out from all devices"})
	return http.StatusOK
}

func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) int {
	var req PasswordResetRequest
	if err := a.readJSON(w, r, "password-reset-request", &req); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "If the email exists, instructions have been sent"})
	return http.StatusOK
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) int {
	var req PasswordResetConfirmRequest
	if err := a.readJSON(w, r, "password-reset-confirm", &req); err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	err := a.engine.ResetPassword(r.Context(), auth.ResetPasswordRequest{
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
		Email:           req.Email,
	})
	if err != nil {
		return a.writeError(r.Context(), w, err, errorPolicy{})
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password changed"})
	return http.StatusOK
}

// readJSON reads a capped body and validates it against the named schema.
func (a *API) readJSON(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &RequestError{Message: "body too large"}
		}
		return &RequestError{Message: "body could not be read"}
	}
	return validateBody(schema, raw, dst)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
