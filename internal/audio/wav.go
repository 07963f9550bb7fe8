package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a WAV file without its samples
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// EncodeWAV wraps interleaved PCM-16 LE bytes in a WAV container
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 || channels > 0xFFFF {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channel(s)", ErrTruncatedBuffer, len(pcm), channels)
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM WAV file into normalized frames
func DecodeWAV(data []byte) (*Frames, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}

	end := 44 + int(header.Subchunk2Size)
	if end > len(data) {
		return nil, fmt.Errorf("WAV data chunk declares %d bytes, only %d present", header.Subchunk2Size, len(data)-44)
	}

	return DecodePCM16(data[44:end], int(header.SampleRate), int(header.NumChannels))
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numFrames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}

func readWAVHeader(data []byte) (*WAVHeader, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	case header.AudioFormat != 1:
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	case header.BitsPerSample != 16:
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	case header.NumChannels == 0 || header.SampleRate == 0:
		return nil, fmt.Errorf("invalid WAV format: %d channel(s) at %d Hz", header.NumChannels, header.SampleRate)
	}

	return &header, nil
}
