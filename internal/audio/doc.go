// Package audio holds the PCM-16 wire codec used on both directions of a live
// session, a sequence-reordering buffer for framed microphone packets, and
// WAV container encoding for recorded playback.
package audio
