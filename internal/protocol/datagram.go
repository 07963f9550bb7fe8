package protocol

import (
	"encoding/binary"
	"fmt"
)

// Capture agent datagram constants
const (
	// Packet types
	PacketTypeAnnounce = 0x01
	PacketTypeAudio    = 0x02

	// Version carried in the last header byte
	Version1 = 0x01

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	AnnouncePayloadSize    = 37 // 4 + 1 + 32 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	DeviceNameSize         = 32

	// MaxDatagramSize is the largest packet PacketLen can describe
	MaxDatagramSize = 0xFFFF
)

// Header represents the 8-byte datagram header sent by a capture agent
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Version:1]
type Header struct {
	PacketType uint8  // 0x01=Announce, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Identifies one capture run of the agent
	Version    uint8
}

// AnnouncePayload describes the PCM format of a capture stream
// Layout: [SampleRate:4][Channels:1][DeviceName:32]
type AnnouncePayload struct {
	SampleRate uint32
	Channels   uint8
	DeviceName [DeviceNameSize]byte // Null-terminated string
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // PCM-16 LE audio data (variable length)
}

// ParsedPacket represents a fully parsed datagram
type ParsedPacket struct {
	Header   *Header
	Announce *AnnouncePayload // Only set for announce packets
	Audio    *AudioPayload    // Only set for audio packets
}

// ParseHeader parses the 8-byte datagram header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Version:    data[7],
	}, nil
}

// ParseAnnouncePayload parses the 37-byte announce payload
func ParseAnnouncePayload(data []byte) (*AnnouncePayload, error) {
	if len(data) < AnnouncePayloadSize {
		return nil, fmt.Errorf("announce payload too short: expected %d bytes, got %d",
			AnnouncePayloadSize, len(data))
	}

	payload := &AnnouncePayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   data[4],
	}
	copy(payload.DeviceName[:], data[5:5+DeviceNameSize])

	if payload.SampleRate == 0 || payload.Channels == 0 {
		return nil, fmt.Errorf("announce payload has empty format: rate=%d channels=%d",
			payload.SampleRate, payload.Channels)
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete datagram (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeAnnounce:
		payload, err := ParseAnnouncePayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse announce payload: %w", err)
		}
		packet.Announce = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Version != Version1 {
		return fmt.Errorf("unsupported version: 0x%02x", header.Version)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeAnnounce:
		if payloadSize != AnnouncePayloadSize {
			return fmt.Errorf("announce packet payload size mismatch: expected %d, got %d",
				AnnouncePayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeAnnounce || ptype == PacketTypeAudio
}

// BuildAnnouncePacket serializes an announce datagram
func BuildAnnouncePacket(streamID uint32, sampleRate uint32, channels uint8, deviceName string) []byte {
	buf := make([]byte, HeaderSize+AnnouncePayloadSize)
	putHeader(buf, PacketTypeAnnounce, streamID)

	payload := buf[HeaderSize:]
	binary.BigEndian.PutUint32(payload[0:4], sampleRate)
	payload[4] = channels
	copy(payload[5:5+DeviceNameSize-1], deviceName)

	return buf
}

// BuildAudioPacket serializes an audio datagram
func BuildAudioPacket(streamID, sequence uint32, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxDatagramSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxDatagramSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)

	return buf, nil
}

func putHeader(buf []byte, ptype uint8, streamID uint32) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = Version1
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// GetDeviceName extracts the device name as a string
func (a *AnnouncePayload) GetDeviceName() string {
	return ExtractString(a.DeviceName[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeAnnounce:
		packetType = "Announce"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Version:%d}",
		packetType, h.PacketLen, h.StreamID, h.Version)
}

// String returns a human-readable representation of the announce payload
func (a *AnnouncePayload) String() string {
	return fmt.Sprintf("AnnouncePayload{SampleRate:%d, Channels:%d, Device:%q}",
		a.SampleRate, a.Channels, a.GetDeviceName())
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
