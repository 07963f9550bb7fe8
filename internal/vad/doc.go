// Package vad provides an energy based voice activity meter for captured
// microphone frames. It feeds the session's speaking flag and metrics.
package vad
