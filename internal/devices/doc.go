// Package devices bridges the service to capture and playback hardware that
// lives outside the process.
//
// Microphone audio arrives from a capture agent as UDP datagrams. Each
// datagram carries an 8-byte header:
//
//	[PacketType:1][PacketLen:2][StreamID:4][Version:1]
//
// followed by either an announce payload describing the PCM format
//
//	[SampleRate:4][Channels:1][DeviceName:32]
//
// or an audio payload
//
//	[Sequence:4][PCM16 LE:N]
//
// All integers are big-endian. Audio is reordered by sequence number and
// served as fixed-size frames.
//
// The camera is a snapshot URL returning a JPEG or PNG still. Speaker output
// is PCM16 LE written either to an external player's stdin or to a WAV file.
package devices
