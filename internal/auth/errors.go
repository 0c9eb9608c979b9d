// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import "errors"

// Storage sentinels. Repositories wrap these so callers can use errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a unique constraint rejects a write.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTokenConsumed is returned when a token was used or revoked by a
	// concurrent caller between lookup and the state transition.
	ErrTokenConsumed = errors.New("token already consumed")
)

// Validation error codes.
const (
	CodeEmailExists                 = "EMAIL_EXISTS"
	CodePasswordMismatch            = "PASSWORD_MISMATCH"
	CodePasswordRequired            = "PASSWORD_REQUIRED"
	CodePasswordLength              = "PASSWORD_LENGTH"
	CodePasswordForbiddenChars      = "PASSWORD_FORBIDDEN_CHARS"
	CodePasswordUppercase           = "PASSWORD_UPPERCASE"
	CodePasswordLowercase           = "PASSWORD_LOWERCASE"
	CodePasswordDigit               = "PASSWORD_DIGIT"
	CodePasswordSpecial             = "PASSWORD_SPECIAL"
	CodePasswordContainsEmailPart   = "PASSWORD_CONTAINS_EMAIL_PART"
	CodePasswordContainsEmailDomain = "PASSWORD_CONTAINS_EMAIL_DOMAIN"
	CodeInvalidToken                = "INVALID_TOKEN"
)

// Auth error codes.
const (
	CodeInvalidCredentials = "InvalidCredentials"
	CodeEmailNotVerified   = "EmailNotVerified"
)

// ValidationError is a field-scoped input problem. The HTTP layer maps it to
// a 4xx response carrying all three fields.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// NewValidationError creates a ValidationError.
func NewValidationError(code, message, field string) *ValidationError {
	return &ValidationError{Code: code, Message: message, Field: field}
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message + " (" + e.Field + ")"
}

// AuthError is a coarse, user-facing authentication failure. Its message is
// deliberately generic so it cannot be used to enumerate accounts.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target is an AuthError with the same code, so callers can
// write errors.Is(err, auth.ErrInvalidCredentials).
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Canonical auth errors.
var (
	ErrInvalidCredentials = &AuthError{
		Code:    CodeInvalidCredentials,
		Message: "Check that the data you entered is correct",
	}
	ErrEmailNotVerified = &AuthError{
		Code:    CodeEmailNotVerified,
		Message: "Confirm your email to sign in",
	}
)

// errInvalidToken is the single failure for an absent, expired, or used
// single-use token.
func errInvalidToken() *ValidationError {
	return NewValidationError(CodeInvalidToken, "The link is invalid or has expired", "token")
}

// ValidationCode returns the code of a ValidationError in err's chain, or "".
func ValidationCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
