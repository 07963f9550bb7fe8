// Package server implements the HTTP control API of the live session service:
// session start/stop/status, the recent transcript, sanitized configuration,
// chat/image/video generation endpoints and Prometheus metrics.
package server
