package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Live session media constants
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	MIMETypeJPEG     = "image/jpeg"
)

// AudioChunk is one captured slice of PCM-16 LE audio ready to send
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// MIMEType returns the wire media type, e.g. "audio/pcm;rate=16000"
func (c AudioChunk) MIMEType() string {
	rate := c.SampleRate
	if rate <= 0 {
		rate = InputSampleRate
	}
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// VideoChunk is one encoded camera still ready to send
type VideoChunk struct {
	Data     []byte
	MIMEType string
}

// SetupConfig holds the parameters sent in the opening setup message
type SetupConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	Transcribe        bool
}

// SetupMessage is the first client message of a live session
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup configures model, voice and transcription for the session
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig selects the response modality and voice
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig wraps the voice selection
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps a prebuilt voice
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names one of the service's stock voices
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either text or inline media
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 encoded media
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInputMessage streams media to the session
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput holds media chunks
type RealtimeInput struct {
	MediaChunks []InlineData `json:"mediaChunks"`
}

// ServerMessage is any message received from the live session
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent carries model output for the current turn
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

// Transcription is a fragment of recognized speech
type Transcription struct {
	Text string `json:"text"`
}

// GoAway announces the server will close the connection soon
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// BuildSetup renders the setup message for cfg
func BuildSetup(cfg SetupConfig) ([]byte, error) {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := Setup{
		Model: model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Transcribe {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}

	data, err := json.Marshal(SetupMessage{Setup: setup})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal setup: %w", err)
	}
	return data, nil
}

// BuildRealtimeInput renders one media chunk as a realtimeInput message
func BuildRealtimeInput(mimeType string, data []byte) ([]byte, error) {
	msg := RealtimeInputMessage{
		RealtimeInput: RealtimeInput{
			MediaChunks: []InlineData{{
				MIMEType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		},
	}

	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal realtime input: %w", err)
	}
	return out, nil
}

// ParseServerMessage decodes one server message into events in the order a
// client must apply them: open confirmation, transcripts, audio, interrupt,
// turn completion. A goAway yields no event.
func ParseServerMessage(data []byte) ([]ServerEvent, *ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode server message: %w", err)
	}

	var events []ServerEvent
	if msg.SetupComplete != nil {
		events = append(events, Opened{})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, InputTranscript{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, OutputTranscript{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") && part.InlineData.MIMEType != "" {
					continue
				}
				events = append(events, AudioData{
					Payload:  part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				})
			}
		}
		if sc.Interrupted {
			events = append(events, Interrupted{})
		}
		if sc.TurnComplete {
			events = append(events, TurnComplete{})
		}
	}

	return events, &msg, nil
}
