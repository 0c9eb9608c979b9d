// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/pkg/errutil"
)

// MessageResponse is the body of operations that return no data.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenPairResponse is the body of login and refresh.
type TokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenPairResponse(p *auth.TokenPair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		AccessExpiresAt:  p.AccessExpiresAt.UTC(),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC(),
	}
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail ErrorDetail `json:"detail"`
}

// Codes of errors raised by the HTTP layer itself.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL_ERROR"
)

// errorPolicy is how a route maps engine errors.
type errorPolicy struct {
	// authStatus is the status for an *auth.AuthError; zero means 401.
	authStatus int
	// goneOnInvalidToken maps INVALID_TOKEN validation errors to 410.
	goneOnInvalidToken bool
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, d ErrorDetail) {
	writeJSON(w, status, ErrorResponse{Detail: d})
}

// writeError maps err to a response. It returns the status written.
func (a *API) writeError(ctx context.Context, w http.ResponseWriter, err error, p errorPolicy) int {
	var (
		reqErr  *RequestError
		valErr  *auth.ValidationError
		authErr *auth.AuthError
	)
	switch {
	case errors.As(err, &reqErr):
		writeDetail(w, http.StatusUnprocessableEntity, ErrorDetail{
			Code:    CodeInvalidRequest,
			Message: reqErr.Message,
			Field:   reqErr.Field,
		})
		return http.StatusUnprocessableEntity
	case errors.As(err, &valErr):
		status := http.StatusBadRequest
		if p.goneOnInvalidToken && valErr.Code == auth.CodeInvalidToken {
			status = http.StatusGone
		}
		writeDetail(w, status, ErrorDetail{Code: valErr.Code, Message: valErr.Message, Field: valErr.Field})
		return status
	case errors.As(err, &authErr):
		status := p.authStatus
		if status == 0 {
			status = http.StatusUnauthorized
		}
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer`)
		}
		writeDetail(w, status, ErrorDetail{Code: authErr.Code, Message: authErr.Message})
		return status
	default:
		errutil.LogErrorContext(ctx, a.logger, "auth request failed", err)
		writeDetail(w, http.StatusInternalServerError, ErrorDetail{
			Code:    CodeInternal,
			Message: "Internal server error",
		})
		return http.StatusInternalServerError
	}
}

// unauthorized is the response for a missing or unusable bearer token.
func unauthorized(w http.ResponseWriter) int {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	writeDetail(w, http.StatusUnauthorized, ErrorDetail{
		Code:    CodeUnauthorized,
		Message: "Invalid token",
	})
	return http.StatusUnauthorized
}
