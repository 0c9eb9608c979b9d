// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestsTotal counts handled requests by operation and response status.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskmill_auth_requests_total",
		Help: "Total number of auth API requests by operation and status code",
	},
	[]string{"operation", "status"},
)

// RequestDuration is the histogram of request handling time.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "taskmill_auth_request_duration_seconds",
		Help:    "Auth API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// RegisterMetrics registers httpapi metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestsTotal)
	reg.MustRegister(RequestDuration)
}

func recordRequest(operation string, status int, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
