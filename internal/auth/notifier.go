// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package auth

import "context"

// NotificationKind identifies which email a Notification should produce.
type NotificationKind string

// Notification kinds.
const (
	NotificationEmailConfirmation NotificationKind = "email_confirmation"
	NotificationPasswordReset     NotificationKind = "password_reset"
)

// Notification asks the mail collaborator to deliver a single-use token.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	Token     string           `json:"token"`
}

// Notifier delivers notifications. Delivery is best effort: the engine logs a
// returned error and carries on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
