// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmill/taskmill/internal/auth"
)

// Dispatch paths.
const (
	PathDirect   = "direct"
	PathQueued   = "queued"
	PathFallback = "fallback"
	PathWorker   = "worker"
)

// Dispatch statuses.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusMalformed = "malformed"
)

// DispatchTotal counts notification deliveries and enqueues.
// Use RegisterMetrics to register this with a Prometheus registry.
var DispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskmill_mail_dispatch_total",
		Help: "Total number of mail dispatches by notification kind, path and status",
	},
	[]string{"kind", "path", "status"},
)

// RegisterMetrics registers mail package metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(DispatchTotal)
}

func recordDispatch(kind auth.NotificationKind, path, status string) {
	DispatchTotal.WithLabelValues(string(kind), path, status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
