package protocol

import (
	"fmt"
	"mime"
	"strconv"
)

// ServerEvent is one event decoded from the live session. The set of
// variants is closed; handle it with a type switch.
type ServerEvent interface {
	EventName() string
	isServerEvent()
}

// Opened confirms the remote accepted the session setup
type Opened struct{}

// InputTranscript carries recognized text of the user's speech
type InputTranscript struct {
	Text string
}

// OutputTranscript carries the text of the model's spoken reply
type OutputTranscript struct {
	Text string
}

// AudioData carries one base64 encoded PCM chunk of the model's reply
type AudioData struct {
	Payload  string
	MIMEType string
}

// SampleRate returns the rate declared by the MIME type
// ("audio/pcm;rate=24000"), or 0 when none is given
func (a AudioData) SampleRate() int {
	if a.MIMEType == "" {
		return 0
	}
	_, params, err := mime.ParseMediaType(a.MIMEType)
	if err != nil {
		return 0
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0
	}
	return rate
}

// Interrupted tells the client to cancel all pending playback
type Interrupted struct{}

// TurnComplete marks the end of a model turn
type TurnComplete struct{}

// Error reports a transport or protocol failure. It ends the session.
type Error struct {
	Detail string
	Err    error
}

// Closed reports that the remote closed the session
type Closed struct {
	Code   int
	Reason string
}

func (Opened) EventName() string           { return "opened" }
func (InputTranscript) EventName() string  { return "input_transcript" }
func (OutputTranscript) EventName() string { return "output_transcript" }
func (AudioData) EventName() string        { return "audio_data" }
func (Interrupted) EventName() string      { return "interrupted" }
func (TurnComplete) EventName() string     { return "turn_complete" }
func (Error) EventName() string            { return "error" }
func (Closed) EventName() string           { return "closed" }

func (Opened) isServerEvent()           {}
func (InputTranscript) isServerEvent()  {}
func (OutputTranscript) isServerEvent() {}
func (AudioData) isServerEvent()        {}
func (Interrupted) isServerEvent()      {}
func (TurnComplete) isServerEvent()     {}
func (Error) isServerEvent()            {}
func (Closed) isServerEvent()           {}

// Unwrap exposes the underlying cause to errors.Is/As
func (e Error) Unwrap() error { return e.Err }

func (e Error) Error() string {
	if e.Err != nil && e.Detail != "" {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Detail
}

func (c Closed) String() string {
	return fmt.Sprintf("closed (code %d): %s", c.Code, c.Reason)
}
