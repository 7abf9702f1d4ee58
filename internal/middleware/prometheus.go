// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package middleware holds chi-compatible HTTP middleware shared by the
// front-end workers (HttpWorker, GraphQLWorker).
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/fleetkeeper/internal/metrics"
)

// Prometheus instruments every request with fleet_http_requests_total,
// fleet_http_request_duration_seconds, and fleet_http_requests_in_flight,
// labeled with worker so HttpWorker and GraphQLWorker metrics stay distinct
// under one scrape target.
func Prometheus(worker string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.HTTPRequestsInFlight.WithLabelValues(worker).Inc()
			defer metrics.HTTPRequestsInFlight.WithLabelValues(worker).Dec()

			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)
			duration := time.Since(start)

			metrics.HTTPRequestsTotal.WithLabelValues(worker, r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(worker, r.Method, r.URL.Path).Observe(duration.Seconds())
		})
	}
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code
// for metrics, since http.ResponseWriter does not expose it after the fact.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
