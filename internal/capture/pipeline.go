package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
	"github.com/skypro1111/gemini-live-service/internal/transport"
	"github.com/skypro1111/gemini-live-service/internal/vad"
)

// Drop reasons reported to metrics
const (
	DropNotOpen   = "not_open"
	DropBusy      = "busy"
	DropQueueFull = "queue_full"
	DropCapture   = "capture_error"
	DropEncode    = "encode_error"
)

// Sender accepts encoded media. *transport.Conn satisfies it.
type Sender interface {
	SendAudio(chunk protocol.AudioChunk) error
	SendVideo(chunk protocol.VideoChunk) error
}

// Config holds capture cadence and encoding parameters
type Config struct {
	FrameSamples  int
	SampleRate    int
	VideoInterval time.Duration
	JPEGQuality   int
	MaxWidth      int
}

// DefaultConfig returns 4096-sample 16kHz audio frames and one 640px JPEG
// frame per second
func DefaultConfig() Config {
	return Config{
		FrameSamples:  4096,
		SampleRate:    protocol.InputSampleRate,
		VideoInterval: time.Second,
		JPEGQuality:   DefaultJPEGQuality,
		MaxWidth:      640,
	}
}

// Options wires a pipeline to its devices and destination
type Options struct {
	Config  Config
	Devices *Devices
	Sender  Sender
	VAD     *vad.Processor
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Stats reports pipeline counters
type Stats struct {
	AudioCaptured uint64 `json:"audio_captured"`
	AudioSent     uint64 `json:"audio_sent"`
	VideoCaptured uint64 `json:"video_captured"`
	VideoSent     uint64 `json:"video_sent"`
	Dropped       uint64 `json:"dropped"`
	Speaking      bool   `json:"speaking"`
}

// Pipeline reads microphone frames and, when a camera is present, periodic
// stills, and forwards them to a Sender. Nothing is forwarded until Resume.
type Pipeline struct {
	cfg     Config
	devices *Devices
	sender  Sender
	vad     *vad.Processor
	metrics *metrics.Metrics
	logger  *slog.Logger

	open      atomic.Bool
	videoBusy atomic.Bool
	speaking  atomic.Bool

	cancel context.CancelFunc
	group  *errgroup.Group
	failed chan error

	stopOnce sync.Once
	stopErr  error

	audioCaptured atomic.Uint64
	audioSent     atomic.Uint64
	videoCaptured atomic.Uint64
	videoSent     atomic.Uint64
	dropped       atomic.Uint64
}

// Start launches the capture goroutines. The pipeline owns the devices and
// releases them on Stop.
func Start(opts Options) (*Pipeline, error) {
	if opts.Devices == nil || opts.Devices.Microphone == nil {
		return nil, fmt.Errorf("capture requires a microphone")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("capture requires a sender")
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = def.FrameSamples
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.VideoInterval <= 0 {
		cfg.VideoInterval = def.VideoInterval
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pipeline{
		cfg:     cfg,
		devices: opts.Devices,
		sender:  opts.Sender,
		vad:     opts.VAD,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("component", "capture")),
		cancel:  cancel,
		group:   group,
		failed:  make(chan error, 1),
	}

	group.Go(func() error { return p.audioLoop(gctx) })
	if opts.Devices.Camera != nil {
		group.Go(func() error { return p.videoLoop(gctx, group) })
	}

	p.logger.Info("Capture started",
		slog.Bool("camera", opts.Devices.Camera != nil),
		slog.Int("frame_samples", cfg.FrameSamples),
		slog.Duration("video_interval", cfg.VideoInterval))

	return p, nil
}

// Resume opens the forwarding gate
func (p *Pipeline) Resume() {
	p.open.Store(true)
}

// Forwarding reports whether the gate is open
func (p *Pipeline) Forwarding() bool {
	return p.open.Load()
}

// Failed delivers at most one fatal capture error. It never fires for a
// pipeline stopped with Stop.
func (p *Pipeline) Failed() <-chan error {
	return p.failed
}

func (p *Pipeline) audioLoop(ctx context.Context) error {
	mic := p.devices.Microphone

	for {
		samples, err := mic.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return p.fail(fmt.Errorf("microphone read failed: %w", err))
		}

		p.audioCaptured.Add(1)
		p.metrics.RecordCaptureFrame("audio")
		p.measure(samples)

		if !p.open.Load() {
			p.drop("audio", DropNotOpen)
			continue
		}

		chunk := protocol.AudioChunk{
			Data:       audio.EncodeAudio(samples),
			SampleRate: p.cfg.SampleRate,
			Channels:   1,
		}
		if err := p.sender.SendAudio(chunk); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			if errors.Is(err, transport.ErrSendQueueFull) {
				p.drop("audio", DropQueueFull)
				continue
			}
			return p.fail(fmt.Errorf("failed to send audio: %w", err))
		}

		p.audioSent.Add(1)
		p.metrics.RecordChunkSent("audio", len(chunk.Data))
	}
}

func (p *Pipeline) measure(samples []float32) {
	if p.vad == nil {
		return
	}
	result, err := p.vad.Process(samples)
	if err != nil {
		p.logger.Debug("Voice activity skipped", slog.String("error", err.Error()))
		return
	}
	p.speaking.Store(result.Speaking)
	p.metrics.RecordVoiceActivity(result.HasVoice, result.Speaking)
	if result.Changed {
		p.logger.Debug("Voice activity changed",
			slog.Bool("speaking", result.Speaking),
			slog.Float64("level", float64(result.Probability)))
	}
}

func (p *Pipeline) videoLoop(ctx context.Context, group *errgroup.Group) error {
	ticker := time.NewTicker(p.cfg.VideoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !p.open.Load() {
			p.drop("video", DropNotOpen)
			continue
		}

		// Skip the tick while the previous frame is still in flight
		if !p.videoBusy.CompareAndSwap(false, true) {
			p.drop("video", DropBusy)
			continue
		}

		group.Go(func() error {
			defer p.videoBusy.Store(false)
			p.captureFrame(ctx)
			return nil
		})
	}
}

func (p *Pipeline) captureFrame(ctx context.Context) {
	img, err := p.devices.Camera.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Camera capture failed", slog.String("error", err.Error()))
			p.drop("video", DropCapture)
		}
		return
	}

	p.videoCaptured.Add(1)
	p.metrics.RecordCaptureFrame("video")

	data, err := EncodeJPEG(Downscale(img, p.cfg.MaxWidth), p.cfg.JPEGQuality)
	if err != nil {
		p.logger.Warn("Frame encode failed", slog.String("error", err.Error()))
		p.drop("video", DropEncode)
		return
	}

	if err := p.sender.SendVideo(protocol.VideoChunk{Data: data, MIMEType: protocol.MIMETypeJPEG}); err != nil {
		if !errors.Is(err, transport.ErrClosed) {
			p.drop("video", DropQueueFull)
		}
		return
	}

	p.videoSent.Add(1)
	p.metrics.RecordChunkSent("video", len(data))
}

func (p *Pipeline) drop(kind, reason string) {
	p.dropped.Add(1)
	p.metrics.RecordCaptureDropped(kind, reason)
}

func (p *Pipeline) fail(err error) error {
	p.logger.Error("Capture failed", slog.String("error", err.Error()))
	select {
	case p.failed <- err:
	default:
	}
	return err
}

// Stop halts capture and releases the devices. It is idempotent and
// returns the first fatal capture error, if any.
func (p *Pipeline) Stop() error {
	if p == nil {
		return nil
	}

	p.stopOnce.Do(func() {
		p.open.Store(false)
		p.cancel()

		// Closing the devices unblocks reads that ignore ctx
		closeErr := p.devices.Close()

		err := p.group.Wait()
		p.stopErr = errors.Join(err, closeErr)

		p.logger.Info("Capture stopped", slog.Any("stats", p.Stats()))
	})

	return p.stopErr
}

// Stats returns pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		AudioCaptured: p.audioCaptured.Load(),
		AudioSent:     p.audioSent.Load(),
		VideoCaptured: p.videoCaptured.Load(),
		VideoSent:     p.videoSent.Load(),
		Dropped:       p.dropped.Load(),
		Speaking:      p.speaking.Load(),
	}
}
