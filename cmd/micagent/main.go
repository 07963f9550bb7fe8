// Command micagent streams PCM16 audio to the service's UDP microphone
// bridge. It reads raw PCM from stdin (for example from arecord or ffmpeg)
// or replays a WAV file in real time.
//
//	arecord -q -f S16_LE -r 16000 -c 1 -t raw | micagent --target 127.0.0.1:5004
//	micagent --wav prompt.wav --loop
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
)

var (
	target       string
	wavPath      string
	sampleRate   int
	channels     int
	packetMillis int
	loop         bool
	deviceName   string
)

var rootCmd = &cobra.Command{
	Use:          "micagent",
	Short:        "Stream microphone PCM to the live service over UDP",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&target, "target", "127.0.0.1:5004", "UDP address of the microphone bridge")
	rootCmd.Flags().StringVar(&wavPath, "wav", "", "Replay this WAV file instead of reading stdin")
	rootCmd.Flags().IntVar(&sampleRate, "rate", 16000, "Sample rate of raw stdin PCM")
	rootCmd.Flags().IntVar(&channels, "channels", 1, "Channel count of raw stdin PCM")
	rootCmd.Flags().IntVar(&packetMillis, "packet", 20, "Audio per datagram in milliseconds")
	rootCmd.Flags().BoolVar(&loop, "loop", false, "Repeat the WAV file until interrupted")
	rootCmd.Flags().StringVar(&deviceName, "device", "micagent", "Device name sent in the announce packet")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer conn.Close()

	s := &streamer{
		conn:     conn,
		streamID: rand.Uint32(),
		logger:   logger,
	}

	if wavPath != "" {
		data, err := os.ReadFile(wavPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", wavPath, err)
		}
		frames, err := audio.DecodeWAV(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", wavPath, err)
		}
		pcm := audio.EncodeAudio(frames.Interleaved())

		if err := s.announce(frames.SampleRate, frames.NumChannels()); err != nil {
			return err
		}
		for {
			if err := s.replay(ctx, pcm, frames.SampleRate, frames.NumChannels()); err != nil {
				return err
			}
			if !loop {
				return nil
			}
		}
	}

	if err := s.announce(sampleRate, channels); err != nil {
		return err
	}
	return s.pipe(ctx, os.Stdin, sampleRate, channels)
}

type streamer struct {
	conn     net.Conn
	streamID uint32
	sequence uint32
	sent     uint64
	logger   *slog.Logger
}

func (s *streamer) announce(rate, ch int) error {
	packet := protocol.BuildAnnouncePacket(s.streamID, uint32(rate), uint8(ch), deviceName)
	if _, err := s.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send announce: %w", err)
	}
	s.logger.Info("Streaming",
		slog.String("target", target),
		slog.Uint64("stream_id", uint64(s.streamID)),
		slog.Int("sample_rate", rate),
		slog.Int("channels", ch))
	return nil
}

func (s *streamer) send(pcm []byte) error {
	packet, err := protocol.BuildAudioPacket(s.streamID, s.sequence, pcm)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	s.sequence++
	s.sent++
	return nil
}

func packetBytes(rate, ch int) int {
	n := rate * packetMillis / 1000 * ch * 2
	if n <= 0 {
		n = 640
	}
	return n
}

// replay sends pcm paced to real time
func (s *streamer) replay(ctx context.Context, pcm []byte, rate, ch int) error {
	size := packetBytes(rate, ch)
	interval := time.Duration(packetMillis) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		if err := s.send(pcm[off:end]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// pipe forwards r as it arrives; the producer sets the pace
func (s *streamer) pipe(ctx context.Context, r io.Reader, rate, ch int) error {
	buf := make([]byte, packetBytes(rate, ch))
	for ctx.Err() == nil {
		n, err := io.ReadFull(r, buf)
		// Keep whole samples only
		n -= n % (2 * ch)
		if n > 0 {
			if sendErr := s.send(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.logger.Info("Input ended", slog.Uint64("packets", s.sent))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
	return nil
}
