// Package transport maintains the duplex websocket session with the Gemini
// Live endpoint: setup, outbound media queues and the ordered inbound event
// stream.
package transport
