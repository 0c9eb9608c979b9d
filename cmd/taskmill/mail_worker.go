// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/mail"
)

var mailWorkerFlagKeys = map[string]string{
	"redis-url":  "redis.url",
	"queue":      "redis.queue",
	"public-url": "http.public_url",
	"log-format": "log.format",
	"log-level":  "log.level",
}

// NewMailWorkerCmd creates the mail-worker subcommand.
func NewMailWorkerCmd() *cobra.Command {
	return newMailWorkerCmd(nil)
}

func newMailWorkerCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail-worker",
		Short: "Deliver queued confirmation and reset emails",
		Long: `Consume the Redis mail queue filled by 'taskmill serve' and send each
email over SMTP, or to the log when no SMTP credentials are configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMailWorkerWithDeps(cmd.Context(), cmd, deps)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("redis-url", "", "Redis URL of the mail queue")
	cmd.Flags().String("queue", defaults.Redis.Queue, "Redis list holding queued emails")
	cmd.Flags().String("public-url", defaults.HTTP.PublicURL, "public base URL used in email links")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	return cmd
}

// runMailWorkerWithDeps runs the worker until ctx is cancelled or a signal
// arrives. If deps is nil, default implementations are used.
func runMailWorkerWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd, mailWorkerFlagKeys)
	if err != nil {
		return err
	}
	if err := cfg.ValidateCommon(); err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "redis.url").
			Errorf("redis url is required (--redis-url or TASKMILL_REDIS__URL)")
	}

	logger := newLogger(cfg, deps)

	delivery, err := buildDelivery(cfg, deps, logger)
	if err != nil {
		return err
	}
	client, err := deps.RedisFactory(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Debug("error closing redis client", "error", closeErr)
		}
	}()

	if err := client.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping redis").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Println("Mail worker started")
	return mail.NewWorker(client, delivery, cfg.WorkerConfig(), logger).Run(ctx)
}
