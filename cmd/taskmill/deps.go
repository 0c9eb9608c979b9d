// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/mail"
	"github.com/taskmill/taskmill/internal/store"
)

// Pool is the subset of *pgxpool.Pool the commands use.
type Pool interface {
	store.DB
	store.Pinger
	Close()
}

// RedisClient is the subset of *redis.Client the commands use.
type RedisClient interface {
	redis.Cmdable
	Close() error
}

// Deps contains injectable dependencies for serve and mail-worker.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string, cfg store.PoolConfig, logger *slog.Logger) (Pool, error)

	// RedisFactory opens a client for a redis:// URL.
	// Default: redis.ParseURL + redis.NewClient
	RedisFactory func(url string) (RedisClient, error)

	// SenderFactory builds the mail sender.
	// Default: mail.NewSender
	SenderFactory func(cfg mail.SMTPConfig, logger *slog.Logger) mail.Sender

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, dsn string, cfg store.PoolConfig, logger *slog.Logger) (Pool, error) {
			return store.Connect(ctx, dsn, cfg, logger)
		}
	}
	if out.RedisFactory == nil {
		out.RedisFactory = newRedisClient
	}
	if out.SenderFactory == nil {
		out.SenderFactory = mail.NewSender
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

func newRedisClient(url string) (RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "redis.url").Wrap(err)
	}
	return redis.NewClient(opts), nil
}
