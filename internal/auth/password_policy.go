// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Default password policy values.
const (
	DefaultPasswordMinLength = 12
	DefaultPasswordMaxLength = 100
	DefaultSpecialChars      = "!$%^*()_+=-"

	// Email chunks shorter than these are ignored. Domain fragments such as
	// "co" or "ru" appear in too many passwords to be useful.
	DefaultLocalChunkMinLength  = 3
	DefaultDomainChunkMinLength = 4
)

// passwordField is the request field every policy failure points at.
const passwordField = "password"

// DefaultForbiddenSequences rejects quoting, path, markup and SQL comment
// characters.
var DefaultForbiddenSequences = []string{`'`, `"`, `\`, `/`, `;`, `--`, `#`, `<`, `>`, `&`, `@`}

// PasswordPolicy describes the rules a candidate password must satisfy.
type PasswordPolicy struct {
	MinLength            int
	MaxLength            int
	ForbiddenSequences   []string
	SpecialChars         string
	LocalChunkMinLength  int
	DomainChunkMinLength int
}

// DefaultPasswordPolicy returns the 12..100 policy used in production.
func DefaultPasswordPolicy() PasswordPolicy {
	forbidden := make([]string, len(DefaultForbiddenSequences))
	copy(forbidden, DefaultForbiddenSequences)
	return PasswordPolicy{
		MinLength:            DefaultPasswordMinLength,
		MaxLength:            DefaultPasswordMaxLength,
		ForbiddenSequences:   forbidden,
		SpecialChars:         DefaultSpecialChars,
		LocalChunkMinLength:  DefaultLocalChunkMinLength,
		DomainChunkMinLength: DefaultDomainChunkMinLength,
	}
}

// Validate checks that the policy itself is coherent.
func (p PasswordPolicy) Validate() error {
	if p.MinLength < 1 {
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("password min length must be at least 1")
	}
	if p.MaxLength < p.MinLength {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("min", p.MinLength).
			With("max", p.MaxLength).
			Errorf("password max length must not be less than min length")
	}
	if p.SpecialChars == "" {
		return oops.Code("AUTH_CONFIG_INVALID").Errorf("password special character set cannot be empty")
	}
	for _, c := range p.SpecialChars {
		for _, seq := range p.ForbiddenSequences {
			if seq == string(c) {
				return oops.Code("AUTH_CONFIG_INVALID").
					With("char", seq).
					Errorf("character %q is both required and forbidden", seq)
			}
		}
	}
	return nil
}

// ValidatePassword checks password against the policy. Rules run in a fixed
// order and the first failing rule is returned as a *ValidationError.
func (p PasswordPolicy) ValidatePassword(password, email string) error {
	if password == "" {
		return NewValidationError(CodePasswordRequired, "Password is required", passwordField)
	}

	if n := utf8.RuneCountInString(password); n < p.MinLength || n > p.MaxLength {
		return NewValidationError(CodePasswordLength,
			fmt.Sprintf("Password must be between %d and %d characters long", p.MinLength, p.MaxLength),
			passwordField)
	}

	for _, seq := range p.ForbiddenSequences {
		if seq != "" && strings.Contains(password, seq) {
			return NewValidationError(CodePasswordForbiddenChars,
				"Password contains a forbidden character", passwordField)
		}
	}

	if !strings.ContainsFunc(password, isASCIIUpper) {
		return NewValidationError(CodePasswordUppercase,
			"Password must contain at least one uppercase letter (A-Z)", passwordField)
	}
	if !strings.ContainsFunc(password, isASCIILower) {
		return NewValidationError(CodePasswordLowercase,
			"Password must contain at least one lowercase letter (a-z)", passwordField)
	}
	if !strings.ContainsFunc(password, isASCIIDigit) {
		return NewValidationError(CodePasswordDigit,
			"Password must contain at least one digit (0-9)", passwordField)
	}
	if !strings.ContainsAny(password, p.SpecialChars) {
		return NewValidationError(CodePasswordSpecial,
			"Password must contain at least one special character ("+p.SpecialChars+")", passwordField)
	}

	return p.checkEmailSimilarity(password, email)
}

// checkEmailSimilarity rejects passwords containing a chunk of either side of
// the email address. An address without "@" has no parts to compare.
func (p PasswordPolicy) checkEmailSimilarity(password, email string) error {
	email = strings.ToLower(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return nil
	}
	lowered := strings.ToLower(password)

	for _, chunk := range splitEmailPart(email[:at]) {
		if utf8.RuneCountInString(chunk) >= p.LocalChunkMinLength && strings.Contains(lowered, chunk) {
			return NewValidationError(CodePasswordContainsEmailPart,
				"Password must not contain the part of your email before @", passwordField)
		}
	}
	for _, chunk := range splitEmailPart(email[at+1:]) {
		if utf8.RuneCountInString(chunk) >= p.DomainChunkMinLength && strings.Contains(lowered, chunk) {
			return NewValidationError(CodePasswordContainsEmailDomain,
				"Password must not contain the part of your email after @", passwordField)
		}
	}
	return nil
}

// ValidatePassword checks password against the default policy.
func ValidatePassword(password, email string) error {
	return DefaultPasswordPolicy().ValidatePassword(password, email)
}

func splitEmailPart(part string) []string {
	return strings.FieldsFunc(part, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

func isASCIIUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isASCIILower(r rune) bool { return r >= 'a' && r <= 'z' }
func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }
