// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/auth/memory"
	"github.com/taskmill/taskmill/internal/auth/postgres"
	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/httpapi"
	"github.com/taskmill/taskmill/internal/logging"
	"github.com/taskmill/taskmill/internal/mail"
	"github.com/taskmill/taskmill/internal/observability"
	"github.com/taskmill/taskmill/internal/store"
	"github.com/taskmill/taskmill/pkg/errutil"
)

// Store backends selectable with --store.
const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// readinessTimeout bounds the database ping behind /healthz/readiness.
const readinessTimeout = 2 * time.Second

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"addr":          "http.addr",
	"public-url":    "http.public_url",
	"metrics-addr":  "metrics.addr",
	"otel-endpoint": "tracing.endpoint",
	"database-url":  "database.url",
	"redis-url":     "redis.url",
	"log-format":    "log.format",
	"log-level":     "log.level",
}

type serveOptions struct {
	store string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *Deps) *cobra.Command {
	opts := &serveOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth HTTP API",
		Long: `Start the auth HTTP API together with the metrics and health server.
Confirmation and reset emails are queued on Redis when redis.url is set,
and sent inline otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), opts, cmd, deps)
		},
	}

	cmd.Flags().StringVar(&opts.store, "store", storePostgres, "user and token store (postgres or memory)")
	cmd.Flags().String("addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("public-url", defaults.HTTP.PublicURL, "public base URL used in email links")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("otel-endpoint", "", "OTLP/HTTP trace endpoint URL (empty = tracing disabled)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL")
	cmd.Flags().String("redis-url", "", "Redis URL for the mail queue (empty = send inline)")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	return cmd
}

// runServeWithDeps runs the API until ctx is cancelled or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, opts *serveOptions, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd, serveFlagKeys)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.store != storePostgres && opts.store != storeMemory {
		return oops.Code("CONFIG_INVALID").
			With("key", "store").
			Errorf("store must be %q or %q, got %q", storePostgres, storeMemory, opts.store)
	}

	logger := newLogger(cfg, deps)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.Endpoint, serviceName, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			errutil.LogError(logger, "error flushing traces", err)
		}
	}()

	backend, err := openBackend(ctx, opts.store, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	notifier, closeNotifier, err := buildNotifier(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	svc, err := auth.NewService(cfg.AuthConfig(), auth.Deps{
		Users:      backend.users,
		Tokens:     backend.tokens,
		Transactor: backend.tx,
		Hasher:     auth.NewArgon2idHasher(),
		Notifier:   notifier,
		Logger:     logger,
	})
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	api := httpapi.New(svc, httpapi.WithLogger(logger))
	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, version, backend.ready,
			httpapi.RegisterMetrics, mail.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			_ = listener.Close() //nolint:errcheck // start error takes precedence
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	apiErrChan := make(chan error, 1)
	go func() {
		defer close(apiErrChan)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrChan <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	cmd.Println("Auth API started")
	logger.Info("auth API ready",
		"addr", listener.Addr().String(),
		"store", opts.store,
		"mail_queue", cfg.Redis.URL != "",
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping auth API", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.Config, deps *Deps) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogWriter)
	slog.SetDefault(logger)
	return logger
}

// backend bundles the store collaborators of the engine.
type backend struct {
	users  auth.UserRepository
	tokens auth.TokenRepository
	tx     auth.Transactor
	ready  observability.ReadinessChecker
	close  func()
}

func openBackend(ctx context.Context, kind string, cfg config.Config, deps *Deps, logger *slog.Logger) (*backend, error) {
	if kind == storeMemory {
		logger.Warn("using in-memory store, all accounts are lost on exit")
		m := memory.New()
		return &backend{
			users:  m.Users(),
			tokens: m.Tokens(),
			tx:     m,
			ready:  func() bool { return true },
			close:  func() {},
		}, nil
	}

	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database url is required for the %s store", storePostgres)
	}
	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, cfg.PoolConfig(), logger)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")
	return &backend{
		users:  postgres.NewUserRepository(pool),
		tokens: postgres.NewTokenRepository(pool),
		tx:     postgres.NewTransactor(pool),
		ready:  store.ReadinessCheck(pool, readinessTimeout),
		close:  pool.Close,
	}, nil
}

// buildDelivery returns the notifier that renders and sends in the
// caller's goroutine.
func buildDelivery(cfg config.Config, deps *Deps, logger *slog.Logger) (*mail.DirectDispatcher, error) {
	renderer, err := mail.NewRenderer(cfg.RendererConfig())
	if err != nil {
		return nil, err
	}
	smtpCfg := cfg.SMTPConfig()
	if smtpCfg.ConsoleMode() {
		logger.Warn("mail credentials not configured, emails are logged instead of sent")
	}
	return mail.NewDirectDispatcher(renderer, deps.SenderFactory(smtpCfg, logger)), nil
}

// buildNotifier queues notifications on Redis when a URL is configured,
// falling back to inline delivery if a push fails.
func buildNotifier(cfg config.Config, deps *Deps, logger *slog.Logger) (auth.Notifier, func(), error) {
	direct, err := buildDelivery(cfg, deps, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Redis.URL == "" {
		return direct, func() {}, nil
	}

	client, err := deps.RedisFactory(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	queued := mail.NewQueuedDispatcher(client,
		mail.WithQueue(cfg.Redis.Queue),
		mail.WithFallback(direct),
		mail.WithLogger(logger),
	)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Debug("error closing redis client", "error", err)
		}
	}
	return queued, closeFn, nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error is received, the channel is closed, or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
