// Package playback schedules decoded model audio gaplessly on an output
// device clock and cancels everything pending when the model is interrupted.
//
// A Renderer keeps nextStartTime, the playback-clock time at which the next
// segment begins. Each enqueued segment starts at max(nextStartTime, now) so
// segments never overlap and never start in the past. Interrupt stops every
// active segment and resets the schedule.
package playback
