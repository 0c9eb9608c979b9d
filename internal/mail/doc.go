// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

// Package mail delivers the confirmation and password reset emails the auth
// engine asks for.
//
// A Renderer turns an auth.Notification into a Message; a Sender puts it on
// the wire (SMTP) or in the log (console mode). DirectDispatcher does both
// inline. QueuedDispatcher pushes the notification to a Redis list, and a
// Worker pops it and delivers it with bounded retries.
package mail
