// Package metrics exports alarmd activity to Prometheus and serves the
// /metrics and /healthz endpoints.
package metrics
