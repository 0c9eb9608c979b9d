// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package config

import (
	"errors"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// levels: TASKMILL_AUTH__JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "TASKMILL_"

const delim = "."

// Loader assembles a Config from its sources.
type Loader struct {
	// File is an optional YAML file. A missing file is an error when set.
	File string
	// Flags are applied last. Only flags the user changed override earlier
	// sources; FlagKeys maps flag names to config keys.
	Flags    *pflag.FlagSet
	FlagKeys map[string]string
	// Environ lists KEY=value pairs; nil reads the process environment.
	Environ []string
}

// Load reads every source in precedence order and unmarshals the result.
// It does not call Validate.
func (l Loader) Load() (Config, error) {
	k := koanf.New(delim)

	if err := k.Load(defaultsProvider{}, nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if l.File != "" {
		if err := k.Load(file.Provider(l.File), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", l.File).
				Wrap(err)
		}
	}

	if err := k.Load(l.envProvider(), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if l.Flags != nil {
		provider := posflag.ProviderWithFlag(l.Flags, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := l.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(l.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

func (l Loader) envProvider() koanf.Provider {
	if l.Environ == nil {
		return env.ProviderWithValue(EnvPrefix, delim, envValue)
	}
	return environProvider{environ: l.Environ}
}

// envKey maps TASKMILL_MAIL__RETRY_DELAY to mail.retry_delay.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", delim)
}

// envValue skips variables that are set but empty, so a blank entry in a
// compose file does not wipe a value from the config file.
func envValue(name, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	return envKey(name), value
}

// environProvider reads TASKMILL_ variables from a fixed list, so the
// environment layer can be exercised without touching the process.
type environProvider struct {
	environ []string
}

func (p environProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("environ provider does not support ReadBytes")
}

func (p environProvider) Read() (map[string]any, error) {
	out := map[string]any{}
	for _, kv := range p.environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key, v := envValue(name, value)
		if key == "" {
			continue
		}
		setPath(out, strings.Split(key, delim), v)
	}
	return out, nil
}

// defaultsProvider serves Default() as a nested map.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("defaults provider does not support ReadBytes")
}

func (defaultsProvider) Read() (map[string]any, error) {
	d := Default()
	out := map[string]any{}
	for key, v := range map[string]any{
		"http.addr":                             d.HTTP.Addr,
		"http.read_timeout":                     d.HTTP.ReadTimeout,
		"http.write_timeout":                    d.HTTP.WriteTimeout,
		"http.shutdown_timeout":                 d.HTTP.ShutdownTimeout,
		"http.public_url":                       d.HTTP.PublicURL,
		"metrics.addr":                          d.Metrics.Addr,
		"database.url":                          d.Database.URL,
		"database.max_conns":                    d.Database.MaxConns,
		"database.connect_attempts":             d.Database.ConnectAttempts,
		"database.connect_backoff":              d.Database.ConnectBackoff,
		"redis.url":                             d.Redis.URL,
		"redis.queue":                           d.Redis.Queue,
		"log.format":                            d.Log.Format,
		"log.level":                             d.Log.Level,
		"auth.jwt_secret":                       d.Auth.JWTSecret,
		"auth.algorithm":                        d.Auth.Algorithm,
		"auth.issuer":                           d.Auth.Issuer,
		"auth.access_token_ttl":                 d.Auth.AccessTokenTTL,
		"auth.refresh_token_ttl":                d.Auth.RefreshTokenTTL,
		"auth.email_confirm_ttl":                d.Auth.EmailConfirmTTL,
		"auth.password_reset_ttl":               d.Auth.PasswordResetTTL,
		"auth.password.min_length":              d.Auth.Password.MinLength,
		"auth.password.max_length":              d.Auth.Password.MaxLength,
		"auth.password.special_chars":           d.Auth.Password.SpecialChars,
		"auth.password.local_chunk_min_length":  d.Auth.Password.LocalChunkMinLength,
		"auth.password.domain_chunk_min_length": d.Auth.Password.DomainChunkMinLength,
		"mail.host":                             d.Mail.Host,
		"mail.port":                             d.Mail.Port,
		"mail.username":                         d.Mail.Username,
		"mail.password":                         d.Mail.Password,
		"mail.tls":                              d.Mail.TLS,
		"mail.from":                             d.Mail.From,
		"mail.max_retries":                      d.Mail.MaxRetries,
		"mail.retry_delay":                      d.Mail.RetryDelay,
		"mail.poll_timeout":                     d.Mail.PollTimeout,
	} {
		setPath(out, strings.Split(key, delim), v)
	}
	return out, nil
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
