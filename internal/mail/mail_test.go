// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/mail"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) sent() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.msgs...)
}

// scriptedNotifier fails every notification for a recipient listed in
// bounce, and the first failFirst notifications of everyone else.
type scriptedNotifier struct {
	mu        sync.Mutex
	bounce    map[string]bool
	failFirst int
	calls     map[string]int
	delivered []auth.Notification
}

func newScriptedNotifier(failFirst int, bounce ...string) *scriptedNotifier {
	n := &scriptedNotifier{bounce: map[string]bool{}, failFirst: failFirst, calls: map[string]int{}}
	for _, b := range bounce {
		n.bounce[b] = true
	}
	return n
}

func (n *scriptedNotifier) Notify(_ context.Context, note auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[note.Recipient]++
	if n.bounce[note.Recipient] {
		return errors.New("mailbox unavailable")
	}
	if n.failFirst > 0 {
		n.failFirst--
		return errors.New("temporary failure")
	}
	n.delivered = append(n.delivered, note)
	return nil
}

func (n *scriptedNotifier) callsFor(recipient string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[recipient]
}

func (n *scriptedNotifier) deliveredTo() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.delivered))
	for _, d := range n.delivered {
		out = append(out, d.Recipient)
	}
	return out
}

// newRedis starts miniredis and a client with retries off. Callers close
// both; goleak checks run before t.Cleanup would.
func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	return mr, client
}

func confirmation(recipient string) auth.Notification {
	return auth.Notification{
		Kind:      auth.NotificationEmailConfirmation,
		Recipient: recipient,
		Token:     "tok-" + recipient,
	}
}
