// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics
