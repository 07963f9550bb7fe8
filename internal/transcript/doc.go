// Package transcript keeps the most recent input and output transcription
// lines of a live session.
package transcript
