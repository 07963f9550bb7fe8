package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/gemini-live-service/internal/audio"
	"github.com/skypro1111/gemini-live-service/internal/capture"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/playback"
	"github.com/skypro1111/gemini-live-service/internal/protocol"
	"github.com/skypro1111/gemini-live-service/internal/transcript"
	"github.com/skypro1111/gemini-live-service/internal/transport"
	"github.com/skypro1111/gemini-live-service/internal/vad"
)

var (
	// ErrSessionBusy is returned by Start unless the controller is Idle
	ErrSessionBusy = errors.New("a live session is already running")

	// ErrSetupTimeout ends a session whose setup was never confirmed
	ErrSetupTimeout = errors.New("live session setup not confirmed in time")

	// ErrMaxDuration ends a session that reached its configured length
	ErrMaxDuration = errors.New("live session reached its maximum duration")

	// ErrStartAborted is returned by Start when Stop interrupts it
	ErrStartAborted = errors.New("session start aborted")
)

// End reasons reported to metrics and OnEnd
const (
	ReasonStopped      = "stopped"
	ReasonError        = "error"
	ReasonRemoteClosed = "remote_closed"
	ReasonCapture      = "capture_error"
	ReasonSetupTimeout = "setup_timeout"
	ReasonMaxDuration  = "max_duration"
)

// Connection is the live transport as seen by the controller.
// *transport.Conn satisfies it.
type Connection interface {
	capture.Sender
	Events() <-chan protocol.ServerEvent
	Close() error
}

// Dialer opens a live connection and sends setup
type Dialer func(ctx context.Context, setup protocol.SetupConfig) (Connection, error)

// SinkFactory creates the audio output for one session. The sink must
// schedule against clock.
type SinkFactory func(clock playback.Clock) (playback.Sink, error)

// Config holds per-session behaviour
type Config struct {
	Setup            protocol.SetupConfig
	Capture          capture.Config
	VAD              *vad.Config // nil disables voice activity metering
	OutputSampleRate int
	SetupTimeout     time.Duration
	MaxDuration      time.Duration // 0 means unlimited
	TranscriptSize   int
}

// Options wires the controller to its collaborators
type Options struct {
	Config  Config
	Devices capture.DeviceProvider
	Dial    Dialer
	NewSink SinkFactory

	// NewClock returns the playback clock for a session; defaults to a wall
	// clock anchored at session start
	NewClock func() playback.Clock

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// OnEnd is called once per session after teardown
	OnEnd func(EndInfo)
}

// StartOptions are chosen per session
type StartOptions struct {
	Camera bool `json:"camera"`
}

// EndInfo describes how a session ended. Err is nil for a user stop.
type EndInfo struct {
	ID       string
	Reason   string
	Err      error
	Duration time.Duration
}

// State is everything owned by one running session. Capture and connection
// are set together and cleared together.
type State struct {
	ID        string
	StartedAt time.Time
	Camera    bool

	conn     Connection
	capture  *capture.Pipeline
	renderer *playback.Renderer

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	decodeErrors uint64
	endReason    string
	endErr       error
}

func (s *State) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Controller runs at most one live session at a time
type Controller struct {
	cfg      Config
	devices  capture.DeviceProvider
	dial     Dialer
	newSink  SinkFactory
	newClock func() playback.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	onEnd    func(EndInfo)

	transcript *transcript.Log

	mu           sync.Mutex
	phase        Phase
	state        *State
	abortStart   context.CancelFunc
	startDone    chan struct{} // closed once an in-flight Start has returned
	startAborted bool
	lastError    string
	lastID       string
}

// NewController creates an idle controller
func NewController(opts Options) (*Controller, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("session controller requires a dialer")
	}
	if opts.NewSink == nil {
		return nil, fmt.Errorf("session controller requires a sink factory")
	}

	cfg := opts.Config
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = protocol.OutputSampleRate
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}
	if cfg.TranscriptSize <= 0 {
		cfg.TranscriptSize = transcript.DefaultCapacity
	}
	if cfg.VAD != nil {
		if _, err := vad.NewProcessor(*cfg.VAD); err != nil {
			return nil, fmt.Errorf("invalid voice activity config: %w", err)
		}
	}

	newClock := opts.NewClock
	if newClock == nil {
		newClock = func() playback.Clock { return playback.NewWallClock() }
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:        cfg,
		devices:    opts.Devices,
		dial:       opts.Dial,
		newSink:    opts.NewSink,
		newClock:   newClock,
		metrics:    opts.Metrics,
		logger:     logger.With(slog.String("component", "session")),
		onEnd:      opts.OnEnd,
		transcript: transcript.NewLog(cfg.TranscriptSize),
		phase:      Idle,
	}, nil
}

// Start acquires devices, opens the live connection and begins capture.
// It returns once the connection is up; the session becomes Active when the
// remote confirms setup. Any failure releases what was acquired and leaves
// the controller Idle.
func (c *Controller) Start(ctx context.Context, so StartOptions) (*Status, error) {
	c.mu.Lock()
	if c.phase != Idle {
		phase := c.phase
		c.mu.Unlock()
		c.metrics.RecordSessionStart("busy")
		return nil, fmt.Errorf("%w (state %s)", ErrSessionBusy, phase)
	}
	startCtx, abort := context.WithCancel(ctx)
	startDone := make(chan struct{})
	c.phase = Starting
	c.abortStart = abort
	c.startDone = startDone
	c.startAborted = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.startDone == startDone {
			c.startDone = nil
		}
		c.mu.Unlock()
		close(startDone)
	}()

	st, err := c.open(startCtx, so)

	c.mu.Lock()
	c.abortStart = nil
	if c.startAborted {
		// Whatever open returned, the start was cancelled by Stop
		err = ErrStartAborted
	}
	if err != nil {
		c.mu.Unlock()
		abort()

		// Still Starting while releasing, so no new Start can overlap
		if st != nil {
			c.release(st)
		}

		c.mu.Lock()
		c.phase = Idle
		c.lastError = err.Error()
		c.mu.Unlock()

		c.metrics.RecordSessionStart(startResult(err))
		c.logger.Warn("Session start failed", slog.String("error", err.Error()))
		return nil, err
	}

	c.state = st
	c.lastID = st.ID
	c.lastError = ""
	c.transcript.Reset()
	c.mu.Unlock()
	abort()

	c.metrics.RecordSessionStart("ok")
	c.logger.Info("Session starting",
		slog.String("session_id", st.ID),
		slog.Bool("camera", st.Camera))

	go c.run(st)

	status := c.Status()
	return &status, nil
}

// open builds the session resources in order. On failure it returns the
// partially built state so the caller can release it.
func (c *Controller) open(ctx context.Context, so StartOptions) (*State, error) {
	st := &State{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Camera:    so.Camera,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	devs, err := capture.Acquire(ctx, c.devices, so.Camera)
	if err != nil {
		return nil, err
	}

	clock := c.newClock()
	sink, err := c.newSink(clock)
	if err != nil {
		devs.Close()
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	st.renderer = playback.NewRenderer(sink, playback.Options{
		SampleRate: c.cfg.OutputSampleRate,
		Channels:   1,
		Clock:      clock,
		Logger:     c.logger,
	})

	conn, err := c.dial(ctx, c.cfg.Setup)
	if err != nil {
		devs.Close()
		return st, fmt.Errorf("failed to open live session: %w", err)
	}
	st.conn = conn

	var meter *vad.Processor
	if c.cfg.VAD != nil {
		meter, _ = vad.NewProcessor(*c.cfg.VAD)
	}

	pipeline, err := capture.Start(capture.Options{
		Config:  c.cfg.Capture,
		Devices: devs,
		Sender:  conn,
		VAD:     meter,
		Metrics: c.metrics,
		Logger:  c.logger,
	})
	if err != nil {
		devs.Close()
		return st, fmt.Errorf("failed to start capture: %w", err)
	}
	st.capture = pipeline

	return st, nil
}

func startResult(err error) string {
	switch {
	case errors.Is(err, capture.ErrDeviceAcquisition):
		return "device"
	case errors.Is(err, transport.ErrTransport):
		return "transport"
	case errors.Is(err, ErrStartAborted), errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "error"
	}
}

// run is the single consumer of server events for one session
func (c *Controller) run(st *State) {
	defer close(st.done)

	setupTimer := time.NewTimer(c.cfg.SetupTimeout)
	defer setupTimer.Stop()

	var maxDuration <-chan time.Time
	if c.cfg.MaxDuration > 0 {
		t := time.NewTimer(c.cfg.MaxDuration)
		defer t.Stop()
		maxDuration = t.C
	}

	events := st.conn.Events()
	for {
		select {
		case <-st.stop:
			c.teardown(st, ReasonStopped, nil)
			return

		case ev, ok := <-events:
			if !ok {
				c.teardown(st, ReasonError, fmt.Errorf("%w: event stream ended", transport.ErrTransport))
				return
			}
			if c.handle(st, ev, setupTimer) {
				return
			}

		case err := <-st.capture.Failed():
			c.teardown(st, ReasonCapture, err)
			return

		case <-setupTimer.C:
			if c.Phase() == Starting {
				c.teardown(st, ReasonSetupTimeout, ErrSetupTimeout)
				return
			}

		case <-maxDuration:
			c.teardown(st, ReasonMaxDuration, ErrMaxDuration)
			return
		}
	}
}

// handle applies one server event and reports whether it ended the session
func (c *Controller) handle(st *State, ev protocol.ServerEvent, setupTimer *time.Timer) bool {
	c.metrics.RecordServerEvent(ev.EventName())

	switch e := ev.(type) {
	case protocol.Opened:
		c.mu.Lock()
		if c.phase == Starting {
			c.phase = Active
		}
		c.mu.Unlock()
		setupTimer.Stop()
		st.capture.Resume()
		c.logger.Info("Session active", slog.String("session_id", st.ID))

	case protocol.InputTranscript:
		c.transcript.Append(transcript.SpeakerUser, e.Text)

	case protocol.OutputTranscript:
		c.transcript.Append(transcript.SpeakerModel, e.Text)

	case protocol.AudioData:
		c.playAudio(st, e)

	case protocol.Interrupted:
		cancelled := st.renderer.Interrupt()
		c.metrics.RecordInterruption()
		c.logger.Debug("Model interrupted", slog.Int("cancelled", cancelled))

	case protocol.TurnComplete:
		c.logger.Debug("Turn complete", slog.String("session_id", st.ID))

	case protocol.Error:
		c.teardown(st, ReasonError, e)
		return true

	case protocol.Closed:
		c.teardown(st, ReasonRemoteClosed, fmt.Errorf("%w: %s", transport.ErrRemoteClosed, e))
		return true
	}

	return false
}

func (c *Controller) playAudio(st *State, ev protocol.AudioData) {
	src, err := st.renderer.EnqueueBase64(ev.Payload, ev.SampleRate())
	if err != nil {
		kind := "error"
		switch {
		case errors.Is(err, audio.ErrMalformedPayload):
			kind = "malformed"
		case errors.Is(err, audio.ErrTruncatedBuffer):
			kind = "truncated"
		}

		c.mu.Lock()
		st.decodeErrors++
		c.mu.Unlock()

		c.metrics.RecordDecodeError(kind)
		c.logger.Warn("Dropping audio chunk",
			slog.String("kind", kind),
			slog.Int("payload_size", len(ev.Payload)),
			slog.String("error", err.Error()))
		return
	}

	c.metrics.RecordSegmentScheduled(src.Duration)
}

// teardown stops capture, closes the connection, cancels playback and
// clears the session
func (c *Controller) teardown(st *State, reason string, cause error) {
	c.mu.Lock()
	c.phase = Stopping
	c.mu.Unlock()

	c.release(st)

	duration := time.Since(st.StartedAt)

	c.mu.Lock()
	st.endReason = reason
	st.endErr = cause
	c.state = nil
	c.phase = Idle
	if cause != nil {
		c.lastError = cause.Error()
	}
	c.mu.Unlock()

	c.metrics.RecordSessionEnd(reason, duration.Seconds())

	attrs := []any{
		slog.String("session_id", st.ID),
		slog.String("reason", reason),
		slog.Duration("duration", duration),
	}
	if cause != nil {
		c.logger.Warn("Session ended", append(attrs, slog.String("error", cause.Error()))...)
	} else {
		c.logger.Info("Session ended", attrs...)
	}

	if c.onEnd != nil {
		c.onEnd(EndInfo{ID: st.ID, Reason: reason, Err: cause, Duration: duration})
	}
}

// release frees whatever st holds, in teardown order
func (c *Controller) release(st *State) {
	if st.capture != nil {
		if err := st.capture.Stop(); err != nil {
			c.logger.Debug("Capture stopped with error", slog.String("error", err.Error()))
		}
	}
	if st.conn != nil {
		if err := st.conn.Close(); err != nil {
			c.logger.Warn("Failed to close live connection", slog.String("error", err.Error()))
		}
	}
	if st.renderer != nil {
		if err := st.renderer.Close(); err != nil {
			c.logger.Warn("Failed to close audio output", slog.String("error", err.Error()))
		}
	}
}

// Stop ends the current session and waits for teardown. It is idempotent;
// during Start it aborts the start and waits until Start has released what
// it acquired.
func (c *Controller) Stop() error {
	c.mu.Lock()
	st := c.state
	if st == nil {
		startDone := c.startDone
		if startDone == nil {
			c.mu.Unlock()
			return nil
		}
		if c.abortStart != nil {
			// Cancelled under the lock so Start cannot commit the session
			c.startAborted = true
			c.abortStart()
		}
		c.mu.Unlock()

		<-startDone
		return nil
	}
	c.mu.Unlock()

	st.requestStop()
	<-st.done
	return nil
}

// Done returns a channel closed when the current session has been torn
// down, or nil when no session is running
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	return c.state.done
}

// Phase returns the lifecycle phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Transcript returns the recent transcript in arrival order
func (c *Controller) Transcript() []transcript.Entry {
	return c.transcript.Entries()
}
