package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMalformedPayload is returned when a transport payload is not valid base64
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrTruncatedBuffer is returned when PCM bytes do not hold a whole number of frames
	ErrTruncatedBuffer = errors.New("truncated buffer")
)

// Frames holds normalized audio samples split per channel
type Frames struct {
	Channels   [][]float32
	SampleRate int
}

// NumChannels returns the channel count
func (f *Frames) NumChannels() int {
	return len(f.Channels)
}

// Len returns the number of samples per channel
func (f *Frames) Len() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.Channels[0])
}

// Seconds returns the playback length in seconds
func (f *Frames) Seconds() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(f.Len()) / float64(f.SampleRate)
}

// Duration returns the playback length as a time.Duration
func (f *Frames) Duration() time.Duration {
	return time.Duration(f.Seconds() * float64(time.Second))
}

// Interleaved returns the samples interleaved by channel
func (f *Frames) Interleaved() []float32 {
	channels := f.NumChannels()
	n := f.Len()
	out := make([]float32, 0, n*channels)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			out = append(out, f.Channels[ch][i])
		}
	}
	return out
}

// EncodeAudio converts float samples in [-1,1] to 16-bit little-endian PCM.
// Out-of-range samples are clamped.
func EncodeAudio(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Float32ToInt16(s)))
	}
	return out
}

// Float32ToInt16 quantizes one normalized sample
func Float32ToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	q := math.Round(v * 32768)
	if q > math.MaxInt16 {
		q = math.MaxInt16
	}
	if q < math.MinInt16 {
		q = math.MinInt16
	}
	return int16(q)
}

// Int16ToFloat32 normalizes one PCM sample to [-1,1)
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768
}

// DecodeBase64 decodes a standard base64 payload
func DecodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// EncodeBase64 encodes bytes with standard base64
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePCM16 interprets little-endian signed 16-bit interleaved PCM as
// normalized per-channel samples
func DecodePCM16(data []byte, sampleRate, channels int) (*Frames, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	frameBytes := 2 * channels
	if len(data) == 0 || len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedBuffer, len(data), frameBytes)
	}

	n := len(data) / frameBytes
	frames := &Frames{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range frames.Channels {
		frames.Channels[ch] = make([]float32, n)
	}

	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[offset:]))
			frames.Channels[ch][i] = Int16ToFloat32(sample)
		}
	}

	return frames, nil
}

// BytesToSamples converts little-endian PCM bytes to normalized mono samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = Int16ToFloat32(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out
}
