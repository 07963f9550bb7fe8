package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skypro1111/gemini-live-service/internal/audio"
)

func TestWAVSpeaker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	w, err := OpenSpeaker(SpeakerOptions{Kind: SpeakerWAV, WAVPath: path, SampleRate: 24000, Channels: 1})
	if err != nil {
		t.Fatalf("OpenSpeaker() error: %v", err)
	}

	pcm := audio.EncodeAudio(make([]float32, 2400))
	if _, err := w.Write(pcm); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	// Trailing half sample from a cut write
	if _, err := w.Write([]byte{0x01}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if _, err := w.Write(pcm); err == nil {
		t.Error("Expected write after close to fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	info, err := audio.GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo() error: %v", err)
	}
	if info.SampleRate != 24000 || info.NumFrames != 2400 {
		t.Errorf("Expected 24000 Hz / 2400 frames, got %d Hz / %d frames", info.SampleRate, info.NumFrames)
	}
}

func TestOpenSpeaker_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts SpeakerOptions
	}{
		{name: "unknown kind", opts: SpeakerOptions{Kind: "bluetooth"}},
		{name: "wav without path", opts: SpeakerOptions{Kind: SpeakerWAV, SampleRate: 24000, Channels: 1}},
		{name: "wav bad format", opts: SpeakerOptions{Kind: SpeakerWAV, WAVPath: "x.wav"}},
		{name: "missing player", opts: SpeakerOptions{Command: []string{"/nonexistent/player"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := OpenSpeaker(tt.opts)
			if err == nil {
				t.Error("Expected error")
			}
			if w != nil {
				t.Error("Expected nil writer on error")
			}
		})
	}
}

func TestOpenSpeaker_Discard(t *testing.T) {
	w, err := OpenSpeaker(SpeakerOptions{Kind: SpeakerDiscard})
	if err != nil {
		t.Fatalf("OpenSpeaker() error: %v", err)
	}
	if n, err := w.Write([]byte{1, 2}); err != nil || n != 2 {
		t.Errorf("Write() = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
