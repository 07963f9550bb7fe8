package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
)

// ErrMicrophoneClosed is returned by ReadFrame after Close
var ErrMicrophoneClosed = errors.New("microphone closed")

// UDPMicrophoneOptions configures the capture agent listener
type UDPMicrophoneOptions struct {
	Address          string        // host:port to listen on
	FrameSamples     int           // samples per frame returned by ReadFrame
	SampleRate       int           // rate assumed until the agent announces one
	ReadBufferSize   int           // socket receive buffer in bytes
	AcquireTimeout   time.Duration // how long Open waits for the first datagram
	MaxBufferSeconds float64       // unread audio retained before the oldest is dropped

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (o *UDPMicrophoneOptions) applyDefaults() {
	if o.FrameSamples <= 0 {
		o.FrameSamples = 4096
	}
	if o.SampleRate <= 0 {
		o.SampleRate = protocol.InputSampleRate
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1 << 20
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 3 * time.Second
	}
	if o.MaxBufferSeconds <= 0 {
		o.MaxBufferSeconds = 2
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// UDPMicrophone receives PCM datagrams from a capture agent and serves them
// as fixed-size mono frames
type UDPMicrophone struct {
	conn    *net.UDPConn
	opts    UDPMicrophoneOptions
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	buffer     *audio.Buffer
	streamID   uint32
	streaming  bool
	channels   int
	deviceName string
	lastLost   uint32

	notify chan struct{}
	first  chan struct{}

	closeOnce sync.Once

	packetsReceived uint64
	parseErrors     uint64
}

// UDPMicrophoneStats reports listener counters
type UDPMicrophoneStats struct {
	PacketsReceived uint64            `json:"packets_received"`
	ParseErrors     uint64            `json:"parse_errors"`
	DeviceName      string            `json:"device_name"`
	Buffer          audio.BufferStats `json:"buffer"`
}

// OpenUDPMicrophone listens on opts.Address and waits until the capture agent
// delivers its first datagram. A silent agent is an acquisition failure.
func OpenUDPMicrophone(ctx context.Context, opts UDPMicrophoneOptions) (*UDPMicrophone, error) {
	m, err := ListenUDPMicrophone(opts)
	if err != nil {
		return nil, err
	}

	if err := m.WaitReady(ctx); err != nil {
		m.Close()
		return nil, err
	}

	m.logger.Info("Microphone acquired",
		slog.String("address", m.LocalAddr().String()),
		slog.Int("frame_samples", m.opts.FrameSamples))

	return m, nil
}

// ListenUDPMicrophone binds the listener and starts receiving without
// waiting for the capture agent
func ListenUDPMicrophone(opts UDPMicrophoneOptions) (*UDPMicrophone, error) {
	opts.applyDefaults()

	addr, err := net.ResolveUDPAddr("udp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	logger := opts.Logger.With(slog.String("component", "udp_microphone"))
	if err := conn.SetReadBuffer(opts.ReadBufferSize); err != nil {
		logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", opts.ReadBufferSize),
			slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &UDPMicrophone{
		conn:     conn,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		buffer:   audio.NewBuffer(opts.SampleRate, 1, opts.MaxBufferSeconds),
		channels: 1,
		notify:   make(chan struct{}, 1),
		first:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.receiveLoop()

	return m, nil
}

// WaitReady blocks until the first valid datagram arrives, AcquireTimeout
// passes or ctx is done
func (m *UDPMicrophone) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(m.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-m.first:
		return nil
	case <-timer.C:
		return fmt.Errorf("no capture agent datagrams on %s within %s", m.LocalAddr(), m.opts.AcquireTimeout)
	case <-m.ctx.Done():
		return ErrMicrophoneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LocalAddr returns the bound listen address
func (m *UDPMicrophone) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

func (m *UDPMicrophone) receiveLoop() {
	defer m.wg.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	var firstOnce sync.Once

	for {
		if m.ctx.Err() != nil {
			return
		}

		// Periodic deadline so cancellation is observed
		if err := m.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remote, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		if m.handlePacket(buf[:n], remote) {
			firstOnce.Do(func() { close(m.first) })
		}
	}
}

// handlePacket reports whether the datagram was accepted
func (m *UDPMicrophone) handlePacket(data []byte, remote *net.UDPAddr) bool {
	packet, err := protocol.ParsePacket(data)

	m.mu.Lock()
	m.packetsReceived++
	if err != nil {
		m.parseErrors++
	}
	m.mu.Unlock()

	m.metrics.RecordMicPacket(err != nil)
	if err != nil {
		m.logger.Warn("Failed to parse capture agent packet",
			slog.String("remote_addr", remote.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()))
		return false
	}

	switch packet.Header.PacketType {
	case protocol.PacketTypeAnnounce:
		m.handleAnnounce(packet.Header, packet.Announce)
		return true
	case protocol.PacketTypeAudio:
		return m.handleAudio(packet.Header, packet.Audio)
	}
	return false
}

func (m *UDPMicrophone) handleAnnounce(header *protocol.Header, announce *protocol.AnnouncePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(announce.SampleRate) != m.opts.SampleRate {
		m.logger.Warn("Capture agent sample rate differs from the session rate",
			slog.Uint64("announced", uint64(announce.SampleRate)),
			slog.Int("expected", m.opts.SampleRate))
	}

	m.streamID = header.StreamID
	m.streaming = true
	m.channels = int(announce.Channels)
	m.deviceName = announce.GetDeviceName()
	m.buffer = audio.NewBuffer(int(announce.SampleRate), m.channels, m.opts.MaxBufferSeconds)
	m.lastLost = 0

	m.logger.Info("Capture agent announced",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("device", m.deviceName),
		slog.Uint64("sample_rate", uint64(announce.SampleRate)),
		slog.Int("channels", m.channels))
}

func (m *UDPMicrophone) handleAudio(header *protocol.Header, payload *protocol.AudioPayload) bool {
	m.mu.Lock()
	if !m.streaming || header.StreamID != m.streamID {
		// An agent restart without an announce keeps the current format
		if m.streaming {
			m.logger.Info("Capture agent stream changed",
				slog.Uint64("old_stream_id", uint64(m.streamID)),
				slog.Uint64("stream_id", uint64(header.StreamID)))
		}
		m.buffer.Reset()
		m.streamID = header.StreamID
		m.streaming = true
		m.lastLost = 0
	}
	buffer := m.buffer
	m.mu.Unlock()

	if err := buffer.Add(payload.Sequence, payload.AudioData); err != nil {
		m.logger.Warn("Dropping audio packet",
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()))
		return false
	}

	lost := buffer.Stats().LostPackets
	m.mu.Lock()
	if lost > m.lastLost {
		m.metrics.AddMicPacketsLost(lost - m.lastLost)
		m.lastLost = lost
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// ReadFrame blocks until FrameSamples samples are buffered and returns them
// as mono floats. Multi-channel streams are downmixed.
func (m *UDPMicrophone) ReadFrame(ctx context.Context) ([]float32, error) {
	for {
		m.mu.Lock()
		buffer, channels := m.buffer, m.channels
		m.mu.Unlock()

		if data, ok := buffer.PopFrame(m.opts.FrameSamples); ok {
			return toMono(data, buffer.SampleRate(), channels)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrMicrophoneClosed
		case <-m.notify:
		}
	}
}

func toMono(data []byte, sampleRate, channels int) ([]float32, error) {
	if channels <= 1 {
		return audio.BytesToSamples(data), nil
	}

	frames, err := audio.DecodePCM16(data, sampleRate, channels)
	if err != nil {
		return nil, err
	}

	mono := make([]float32, frames.Len())
	for _, ch := range frames.Channels {
		for i, s := range ch {
			mono[i] += s / float32(channels)
		}
	}
	return mono, nil
}

// Close stops the listener. It is idempotent.
func (m *UDPMicrophone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()
		if cerr := m.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		m.wg.Wait()

		stats := m.Stats()
		m.logger.Info("Microphone released",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("parse_errors", stats.ParseErrors),
			slog.Uint64("lost_packets", uint64(stats.Buffer.LostPackets)))
	})
	return err
}

// Stats returns listener and buffer counters
func (m *UDPMicrophone) Stats() UDPMicrophoneStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return UDPMicrophoneStats{
		PacketsReceived: m.packetsReceived,
		ParseErrors:     m.parseErrors,
		DeviceName:      m.deviceName,
		Buffer:          m.buffer.Stats(),
	}
}
