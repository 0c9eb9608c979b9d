// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/pkg/errutil"
)

// Worker defaults.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 60 * time.Second
	DefaultPollTimeout = 5 * time.Second
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Queue string
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries uint64
	RetryDelay time.Duration
	// PollTimeout bounds each blocking pop, and with it how long Run takes
	// to notice cancellation.
	PollTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// Worker consumes the queue filled by QueuedDispatcher and delivers each
// notification, retrying failed sends with a constant delay. A notification
// that still fails after the last retry is logged and dropped.
type Worker struct {
	client   redis.Cmdable
	delivery auth.Notifier
	cfg      WorkerConfig
	logger   *slog.Logger
}

// NewWorker creates a Worker that delivers through delivery, usually a
// DirectDispatcher.
func NewWorker(client redis.Cmdable, delivery auth.Notifier, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client:   client,
		delivery: delivery,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run pops and delivers notifications until ctx is cancelled. It returns nil
// on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "mail worker started", "queue", w.cfg.Queue)
	defer w.logger.Info("mail worker stopped", "queue", w.cfg.Queue)

	for ctx.Err() == nil {
		res, err := w.client.BRPop(ctx, w.cfg.PollTimeout, w.cfg.Queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			errutil.LogErrorContext(ctx, w.logger, "mail queue read failed",
				oops.Code("MAIL_DEQUEUE_FAILED").With("queue", w.cfg.Queue).Wrap(err))
			if !sleep(ctx, w.cfg.PollTimeout) {
				return nil
			}
			continue
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}
		w.handle(ctx, res[1])
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, payload string) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		recordDispatch("", PathWorker, StatusMalformed)
		errutil.LogErrorContext(ctx, w.logger, "dropping malformed mail job",
			oops.Code("MAIL_JOB_MALFORMED").Wrap(err))
		return
	}

	n := job.Notification
	attempts := 0
	backoff := retry.WithMaxRetries(w.cfg.MaxRetries, retry.NewConstant(w.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := w.delivery.Notify(ctx, n); err != nil {
			w.logger.WarnContext(ctx, "mail delivery attempt failed",
				"kind", string(n.Kind),
				"attempt", attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	recordDispatch(n.Kind, PathWorker, statusOf(err))
	if err != nil {
		errutil.LogErrorContext(ctx, w.logger, "mail delivery gave up",
			oops.Code("MAIL_DELIVERY_FAILED").
				With("kind", string(n.Kind)).
				With("recipient", n.Recipient).
				With("attempts", attempts).
				Wrap(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
