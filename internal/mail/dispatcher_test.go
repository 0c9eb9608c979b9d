// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/mail"
	"github.com/taskmill/taskmill/pkg/errutil"
)

func TestDirectDispatcher_RendersAndSends(t *testing.T) {
	sender := &recordingSender{}
	d := mail.NewDirectDispatcher(newRenderer(t), sender)
	counter := mail.DispatchTotal.WithLabelValues(string(auth.NotificationPasswordReset), mail.PathDirect, mail.StatusSuccess)
	before := testutil.ToFloat64(counter)

	err := d.Notify(context.Background(), auth.Notification{
		Kind:      auth.NotificationPasswordReset,
		Recipient: "alice@example.com",
		Token:     "reset-token",
	})
	require.NoError(t, err)

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].Text, "/auth/password-reset/confirm?token=reset-token")
	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
}

func TestDirectDispatcher_SendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay refused")}
	d := mail.NewDirectDispatcher(newRenderer(t), sender)
	counter := mail.DispatchTotal.WithLabelValues(string(auth.NotificationEmailConfirmation), mail.PathDirect, mail.StatusFailed)
	before := testutil.ToFloat64(counter)

	err := d.Notify(context.Background(), confirmation("alice@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay refused")
	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
}

func TestDirectDispatcher_RenderFailureSkipsSend(t *testing.T) {
	sender := &recordingSender{}
	d := mail.NewDirectDispatcher(newRenderer(t), sender)

	err := d.Notify(context.Background(), auth.Notification{Kind: "unknown", Recipient: "a@example.com", Token: "t"})
	errutil.AssertErrorCode(t, err, "MAIL_UNKNOWN_KIND")
	assert.Empty(t, sender.sent())
}

func TestQueuedDispatcher_PushesJob(t *testing.T) {
	mr, client := newRedis(t)
	defer mr.Close()
	defer client.Close()

	q := mail.NewQueuedDispatcher(client, mail.WithQueue("test:outbox"))
	note := confirmation("alice@example.com")
	require.NoError(t, q.Notify(context.Background(), note))

	items, err := mr.List("test:outbox")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job mail.Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, note, job.Notification)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestQueuedDispatcher_FallsBackWhenRedisIsDown(t *testing.T) {
	mr, client := newRedis(t)
	defer client.Close()
	mr.Close()

	fallback := newScriptedNotifier(0)
	q := mail.NewQueuedDispatcher(client, mail.WithFallback(fallback))

	require.NoError(t, q.Notify(context.Background(), confirmation("alice@example.com")))
	assert.Equal(t, []string{"alice@example.com"}, fallback.deliveredTo())
}

func TestQueuedDispatcher_NoFallbackReturnsError(t *testing.T) {
	mr, client := newRedis(t)
	defer client.Close()
	mr.Close()

	err := mail.NewQueuedDispatcher(client).Notify(context.Background(), confirmation("alice@example.com"))
	errutil.AssertErrorCode(t, err, "MAIL_ENQUEUE_FAILED")
	errutil.AssertErrorContext(t, err, "queue", mail.DefaultQueue)
}

func TestDispatchers_SatisfyNotifier(t *testing.T) {
	var _ auth.Notifier = (*mail.DirectDispatcher)(nil)
	var _ auth.Notifier = (*mail.QueuedDispatcher)(nil)
}
