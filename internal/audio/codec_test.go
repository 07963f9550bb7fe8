package audio

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestEncodeAudio(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"zero", 0, 0},
		{"full positive clamps", 1, 32767},
		{"full negative", -1, -32768},
		{"over range", 1.5, 32767},
		{"under range", -3, -32768},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"one step", 1.0 / 32768, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodeAudio([]float32{tt.sample})
			if len(out) != 2 {
				t.Fatalf("Expected 2 bytes, got %d", len(out))
			}
			got := int16(uint16(out[0]) | uint16(out[1])<<8)
			if got != tt.want {
				t.Errorf("EncodeAudio(%v) = %d, want %d", tt.sample, got, tt.want)
			}
		})
	}
}

func TestEncodeAudioLittleEndian(t *testing.T) {
	out := EncodeAudio([]float32{256.0 / 32768})
	if out[0] != 0x00 || out[1] != 0x01 {
		t.Errorf("Expected [0x00 0x01], got %v", out)
	}
}

func TestEncodeDecodeBoundedError(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0] = 1
	samples[1] = -1

	frames, err := DecodePCM16(EncodeAudio(samples), 16000, 1)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}

	const step = 1.0/32768 + 1e-9
	for i, s := range samples {
		diff := math.Abs(float64(frames.Channels[0][i]) - float64(s))
		if diff > step {
			t.Fatalf("sample %d: %v decoded as %v (diff %g)", i, s, frames.Channels[0][i], diff)
		}
	}
}

func TestDecodeBase64(t *testing.T) {
	data, err := DecodeBase64("AAAA")
	if err != nil {
		t.Fatalf("DecodeBase64 failed: %v", err)
	}
	if len(data) != 3 {
		t.Errorf("Expected 3 bytes, got %d", len(data))
	}

	for _, bad := range []string{"!!!!", "AAA", "A===", "ZZ Z"} {
		if _, err := DecodeBase64(bad); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("DecodeBase64(%q) error = %v, want ErrMalformedPayload", bad, err)
		}
	}
}

func TestDecodePCM16(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		channels int
		wantLen  int
		wantErr  error
	}{
		{"AAA= is one mono sample", "AAA=", 1, 1, nil},
		{"AAA= is half a stereo frame", "AAA=", 2, 0, ErrTruncatedBuffer},
		{"odd byte count", "AAAA", 1, 0, ErrTruncatedBuffer},
		{"empty", "", 1, 0, ErrTruncatedBuffer},
		{"two mono samples", "AAAAAA==", 1, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeBase64(tt.payload)
			if err != nil {
				t.Fatalf("DecodeBase64 failed: %v", err)
			}
			frames, err := DecodePCM16(data, 24000, tt.channels)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePCM16 failed: %v", err)
			}
			if frames.Len() != tt.wantLen {
				t.Errorf("Expected %d samples, got %d", tt.wantLen, frames.Len())
			}
		})
	}
}

func TestDecodePCM16Values(t *testing.T) {
	data := []byte{0x00, 0x80, 0xFF, 0x7F, 0x00, 0x00, 0x00, 0x40}
	frames, err := DecodePCM16(data, 24000, 1)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}

	want := []float32{-1, 32767.0 / 32768, 0, 0.5}
	for i, w := range want {
		if frames.Channels[0][i] != w {
			t.Errorf("sample %d: expected %v, got %v", i, w, frames.Channels[0][i])
		}
	}
}

func TestFramesDuration(t *testing.T) {
	frames, err := DecodePCM16(make([]byte, 24000*2), 24000, 1)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	if frames.Duration() != time.Second {
		t.Errorf("Expected 1s, got %v", frames.Duration())
	}
	if frames.Seconds() != 1 {
		t.Errorf("Expected 1.0 seconds, got %v", frames.Seconds())
	}

	stereo, _ := DecodePCM16(make([]byte, 16000*4), 16000, 2)
	if stereo.Seconds() != 1 {
		t.Errorf("Expected stereo 1.0 seconds, got %v", stereo.Seconds())
	}
	if len(stereo.Interleaved()) != 32000 {
		t.Errorf("Expected 32000 interleaved samples, got %d", len(stereo.Interleaved()))
	}
}

func TestDecodePCM16InvalidFormat(t *testing.T) {
	if _, err := DecodePCM16([]byte{0, 0}, 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := DecodePCM16([]byte{0, 0}, 16000, 0); err == nil {
		t.Error("Expected error for zero channels")
	}
}
