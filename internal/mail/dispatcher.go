// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
)

// DefaultQueue is the Redis list that carries queued notifications.
const DefaultQueue = "taskmill:mail:outbox"

// Job is the queued form of a notification.
type Job struct {
	Notification auth.Notification `json:"notification"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// DirectDispatcher renders and sends a notification in the caller's
// goroutine.
type DirectDispatcher struct {
	renderer *Renderer
	sender   Sender
}

// NewDirectDispatcher creates a DirectDispatcher.
func NewDirectDispatcher(renderer *Renderer, sender Sender) *DirectDispatcher {
	return &DirectDispatcher{renderer: renderer, sender: sender}
}

// Notify implements auth.Notifier.
func (d *DirectDispatcher) Notify(ctx context.Context, n auth.Notification) error {
	err := d.deliver(ctx, n)
	recordDispatch(n.Kind, PathDirect, statusOf(err))
	return err
}

func (d *DirectDispatcher) deliver(ctx context.Context, n auth.Notification) error {
	msg, err := d.renderer.Render(n)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

// QueuedDispatcher pushes notifications onto a Redis list for a Worker.
// When the push fails and a fallback is set, the notification is handed to
// the fallback instead.
type QueuedDispatcher struct {
	client   redis.Cmdable
	queue    string
	fallback auth.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// QueueOption configures a QueuedDispatcher.
type QueueOption func(*QueuedDispatcher)

// WithQueue overrides DefaultQueue.
func WithQueue(queue string) QueueOption {
	return func(q *QueuedDispatcher) {
		if queue != "" {
			q.queue = queue
		}
	}
}

// WithFallback delivers through n when the queue is unreachable.
func WithFallback(n auth.Notifier) QueueOption {
	return func(q *QueuedDispatcher) { q.fallback = n }
}

// WithLogger sets the logger used for enqueue failures.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *QueuedDispatcher) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueuedDispatcher creates a QueuedDispatcher on client.
func NewQueuedDispatcher(client redis.Cmdable, opts ...QueueOption) *QueuedDispatcher {
	q := &QueuedDispatcher{
		client: client,
		queue:  DefaultQueue,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify implements auth.Notifier.
func (q *QueuedDispatcher) Notify(ctx context.Context, n auth.Notification) error {
	payload, err := json.Marshal(Job{Notification: n, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return oops.Code("MAIL_ENQUEUE_FAILED").With("kind", string(n.Kind)).Wrap(err)
	}

	err = q.client.LPush(ctx, q.queue, payload).Err()
	recordDispatch(n.Kind, PathQueued, statusOf(err))
	if err == nil {
		return nil
	}

	err = oops.Code("MAIL_ENQUEUE_FAILED").
		With("kind", string(n.Kind)).
		With("queue", q.queue).
		Wrap(err)
	if q.fallback == nil {
		return err
	}

	q.logger.WarnContext(ctx, "mail queue unavailable, delivering directly",
		"kind", string(n.Kind),
		"error", err)
	fbErr := q.fallback.Notify(ctx, n)
	recordDispatch(n.Kind, PathFallback, statusOf(fbErr))
	return fbErr
}
