// Package capture turns microphone frames and periodic camera stills into
// encoded media chunks for the live session.
//
// Audio is read in fixed 4096-sample frames at 16kHz, metered by the voice
// activity detector and encoded to PCM16. Video runs on a 1Hz ticker with a
// drop-if-busy policy: a tick that fires while the previous still is being
// captured or encoded is skipped. Nothing is forwarded until Resume is
// called, which the session does once the remote endpoint confirms setup.
package capture
