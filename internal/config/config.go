// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then TASKMILL_* environment variables, then command
// line flags.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/logging"
	"github.com/taskmill/taskmill/internal/mail"
	"github.com/taskmill/taskmill/internal/store"
)

// Config is the root configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Mail     MailConfig     `koanf:"mail"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// PublicURL is the externally visible base URL used in email links.
	PublicURL string `koanf:"public_url"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// TracingConfig configures span export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint string `koanf:"endpoint"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// RedisConfig configures the mail queue. An empty URL sends mail inline.
type RedisConfig struct {
	URL   string `koanf:"url"`
	Queue string `koanf:"queue"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// AuthConfig configures the auth engine.
type AuthConfig struct {
	JWTSecret        string         `koanf:"jwt_secret"`
	Algorithm        string         `koanf:"algorithm"`
	Issuer           string         `koanf:"issuer"`
	AccessTokenTTL   time.Duration  `koanf:"access_token_ttl"`
	RefreshTokenTTL  time.Duration  `koanf:"refresh_token_ttl"`
	EmailConfirmTTL  time.Duration  `koanf:"email_confirm_ttl"`
	PasswordResetTTL time.Duration  `koanf:"password_reset_ttl"`
	Password         PasswordConfig `koanf:"password"`
}

// PasswordConfig configures the password policy.
type PasswordConfig struct {
	MinLength            int    `koanf:"min_length"`
	MaxLength            int    `koanf:"max_length"`
	SpecialChars         string `koanf:"special_chars"`
	LocalChunkMinLength  int    `koanf:"local_chunk_min_length"`
	DomainChunkMinLength int    `koanf:"domain_chunk_min_length"`
}

// MailConfig configures SMTP delivery and the queue worker.
type MailConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	TLS         bool          `koanf:"tls"`
	From        string        `koanf:"from"`
	MaxRetries  uint64        `koanf:"max_retries"`
	RetryDelay  time.Duration `koanf:"retry_delay"`
	PollTimeout time.Duration `koanf:"poll_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := auth.DefaultPasswordPolicy()
	pool := store.DefaultPoolConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			PublicURL:       "http://localhost:8000",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			MaxConns:        pool.MaxConns,
			ConnectAttempts: pool.ConnectAttempts,
			ConnectBackoff:  pool.ConnectBackoff,
		},
		Redis: RedisConfig{Queue: mail.DefaultQueue},
		Log:   LogConfig{Format: "json", Level: "info"},
		Auth: AuthConfig{
			Algorithm:        "HS256",
			Issuer:           "taskmill",
			AccessTokenTTL:   auth.DefaultAccessTokenTTL,
			RefreshTokenTTL:  auth.DefaultRefreshTokenTTL,
			EmailConfirmTTL:  auth.DefaultEmailConfirmTTL,
			PasswordResetTTL: auth.DefaultPasswordResetTTL,
			Password: PasswordConfig{
				MinLength:            policy.MinLength,
				MaxLength:            policy.MaxLength,
				SpecialChars:         policy.SpecialChars,
				LocalChunkMinLength:  policy.LocalChunkMinLength,
				DomainChunkMinLength: policy.DomainChunkMinLength,
			},
		},
		Mail: MailConfig{
			Port:        465,
			From:        mail.DefaultFrom,
			MaxRetries:  mail.DefaultMaxRetries,
			RetryDelay:  mail.DefaultRetryDelay,
			PollTimeout: mail.DefaultPollTimeout,
		},
	}
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// ValidateCommon checks the logging and public URL settings shared by the
// API and the mail worker.
func (c Config) ValidateCommon() error {
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if !strings.HasPrefix(c.HTTP.PublicURL, "http://") && !strings.HasPrefix(c.HTTP.PublicURL, "https://") {
		return invalid("http.public_url", "public url must start with http:// or https://")
	}
	return nil
}

// Validate checks everything the API server needs. Database and Redis
// URLs are checked by the commands that use them.
func (c Config) Validate() error {
	if err := c.ValidateCommon(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return invalid("auth.jwt_secret", "jwt secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSigningSecretLength {
		return invalid("auth.jwt_secret", "jwt secret must be at least %d bytes", auth.MinSigningSecretLength)
	}
	for key, ttl := range map[string]time.Duration{
		"auth.access_token_ttl":   c.Auth.AccessTokenTTL,
		"auth.refresh_token_ttl":  c.Auth.RefreshTokenTTL,
		"auth.email_confirm_ttl":  c.Auth.EmailConfirmTTL,
		"auth.password_reset_ttl": c.Auth.PasswordResetTTL,
	} {
		if ttl <= 0 {
			return invalid(key, "%s must be positive, got %s", key, ttl)
		}
	}
	if c.Auth.Password.MinLength > c.Auth.Password.MaxLength {
		return invalid("auth.password.min_length", "password min length %d exceeds max length %d",
			c.Auth.Password.MinLength, c.Auth.Password.MaxLength)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.Tracing.Endpoint != "" && !strings.HasPrefix(c.Tracing.Endpoint, "http://") &&
		!strings.HasPrefix(c.Tracing.Endpoint, "https://") {
		return invalid("tracing.endpoint", "tracing endpoint must be an http:// or https:// URL")
	}
	return nil
}

// AuthConfig returns the engine configuration.
func (c Config) AuthConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.SigningSecret = []byte(c.Auth.JWTSecret)
	cfg.SigningAlgorithm = c.Auth.Algorithm
	cfg.Issuer = c.Auth.Issuer
	cfg.AccessTokenTTL = c.Auth.AccessTokenTTL
	cfg.RefreshTokenTTL = c.Auth.RefreshTokenTTL
	cfg.EmailConfirmTTL = c.Auth.EmailConfirmTTL
	cfg.PasswordResetTTL = c.Auth.PasswordResetTTL

	p := c.Auth.Password
	cfg.Password.MinLength = p.MinLength
	cfg.Password.MaxLength = p.MaxLength
	if p.SpecialChars != "" {
		cfg.Password.SpecialChars = p.SpecialChars
	}
	if p.LocalChunkMinLength > 0 {
		cfg.Password.LocalChunkMinLength = p.LocalChunkMinLength
	}
	if p.DomainChunkMinLength > 0 {
		cfg.Password.DomainChunkMinLength = p.DomainChunkMinLength
	}
	return cfg
}

// PoolConfig returns the database pool settings.
func (c Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		MaxConns:        c.Database.MaxConns,
		ConnectAttempts: c.Database.ConnectAttempts,
		ConnectBackoff:  c.Database.ConnectBackoff,
	}
}

// SMTPConfig returns the mail sender settings.
func (c Config) SMTPConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		From:     c.Mail.From,
		StartTLS: c.Mail.TLS,
	}
}

// RendererConfig returns the mail template settings.
func (c Config) RendererConfig() mail.RendererConfig {
	return mail.RendererConfig{
		BaseURL:    c.HTTP.PublicURL,
		ConfirmTTL: c.Auth.EmailConfirmTTL,
		ResetTTL:   c.Auth.PasswordResetTTL,
	}
}

// WorkerConfig returns the mail queue worker settings.
func (c Config) WorkerConfig() mail.WorkerConfig {
	return mail.WorkerConfig{
		Queue:       c.Redis.Queue,
		MaxRetries:  c.Mail.MaxRetries,
		RetryDelay:  c.Mail.RetryDelay,
		PollTimeout: c.Mail.PollTimeout,
	}
}
