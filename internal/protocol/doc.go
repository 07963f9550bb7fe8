// Package protocol defines the wire formats the service speaks: the Gemini
// Live websocket messages with their decoded ServerEvent variants, and the
// binary datagrams a microphone capture agent sends over UDP.
package protocol
