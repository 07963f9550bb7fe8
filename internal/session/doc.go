// Package session runs the single live conversation: it acquires capture
// devices, opens the live connection, forwards captured media once the
// remote confirms setup and feeds server events to the transcript and the
// playback renderer.
//
// All server events for a session are consumed by one goroutine in arrival
// order. Teardown always runs capture stop, connection close and playback
// cancel in that order, whatever ended the session.
package session
