package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/gemini-live-service/internal/protocol"
)

// DefaultURL is the Gemini Live BidiGenerateContent websocket endpoint
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// MaxMessageSize bounds a single inbound message (16MB)
const MaxMessageSize = 16 * 1024 * 1024

var (
	// ErrTransport marks a failure of the underlying connection
	ErrTransport = errors.New("transport error")

	// ErrRemoteClosed marks a session closed by the remote endpoint
	ErrRemoteClosed = errors.New("remote closed session")

	// ErrClosed is returned when sending on a closed connection
	ErrClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned when a media queue has no room
	ErrSendQueueFull = errors.New("send queue full")
)

// Options configures a live connection
type Options struct {
	URL    string
	APIKey string
	Setup  protocol.SetupConfig

	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	AudioQueueSize int
	VideoQueueSize int
	EventBuffer    int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = MaxMessageSize
	}
	if o.AudioQueueSize <= 0 {
		o.AudioQueueSize = 64
	}
	if o.VideoQueueSize <= 0 {
		o.VideoQueueSize = 4
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats reports connection counters
type Stats struct {
	AudioSent      uint64 `json:"audio_sent"`
	VideoSent      uint64 `json:"video_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
	Dropped        uint64 `json:"dropped"`
	EventsReceived uint64 `json:"events_received"`
}

// Conn is one live duplex session. A reader goroutine decodes server
// messages into Events in arrival order. A writer goroutine drains the
// outbound media queues.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	audioQ chan []byte
	videoQ chan []byte
	events chan protocol.ServerEvent

	writerDone chan struct{}
	readerDone chan struct{}

	writeErrMu sync.Mutex
	writeErr   error

	closeOnce sync.Once
	closeErr  error

	audioSent      atomic.Uint64
	videoSent      atomic.Uint64
	bytesSent      atomic.Uint64
	dropped        atomic.Uint64
	eventsReceived atomic.Uint64
}

// Open dials the live endpoint and sends the setup message. It returns once
// the socket is up; the remote confirms the setup later with an Opened
// event. ctx bounds only the dial and setup write.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	opts.applyDefaults()

	headers := http.Header{}
	if opts.APIKey != "" {
		headers.Set("x-goog-api-key", opts.APIKey)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancelDial()

	ws, resp, err := opts.Dialer.DialContext(dialCtx, opts.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial failed with HTTP %d: %v", ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial failed: %v", ErrTransport, err)
	}
	ws.SetReadLimit(opts.MaxMessageSize)

	setup, err := protocol.BuildSetup(opts.Setup)
	if err != nil {
		ws.Close()
		return nil, err
	}

	_ = ws.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, setup); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: failed to send setup: %v", ErrTransport, err)
	}

	// The connection outlives the request that opened it
	connCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		ws:         ws,
		opts:       opts,
		logger:     opts.Logger.With(slog.String("component", "live_transport")),
		ctx:        connCtx,
		cancel:     cancel,
		audioQ:     make(chan []byte, opts.AudioQueueSize),
		videoQ:     make(chan []byte, opts.VideoQueueSize),
		events:     make(chan protocol.ServerEvent, opts.EventBuffer),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go c.writeLoop()
	go c.readLoop()

	c.logger.Info("Live session connected",
		slog.String("url", opts.URL),
		slog.String("model", opts.Setup.Model))

	return c, nil
}

// Events returns the ordered stream of server events. It is closed after
// the terminal event, or without one when Close was called locally.
func (c *Conn) Events() <-chan protocol.ServerEvent {
	return c.events
}

// SendAudio queues an audio chunk. It never blocks.
func (c *Conn) SendAudio(chunk protocol.AudioChunk) error {
	msg, err := protocol.BuildRealtimeInput(chunk.MIMEType(), chunk.Data)
	if err != nil {
		return err
	}
	return c.enqueue(c.audioQ, msg)
}

// SendVideo queues a video frame. It never blocks.
func (c *Conn) SendVideo(chunk protocol.VideoChunk) error {
	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = protocol.MIMETypeJPEG
	}
	msg, err := protocol.BuildRealtimeInput(mimeType, chunk.Data)
	if err != nil {
		return err
	}
	return c.enqueue(c.videoQ, msg)
}

func (c *Conn) enqueue(q chan<- []byte, msg []byte) error {
	if c == nil || c.ws == nil || c.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case q <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		c.dropped.Add(1)
		return ErrSendQueueFull
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	w := &outboundWriter{
		ws:           c.ws,
		ctx:          c.ctx,
		audio:        c.audioQ,
		video:        c.videoQ,
		pingInterval: c.opts.PingInterval,
		writeTimeout: c.opts.WriteTimeout,
		onWrite: func(kind string, n int) {
			if kind == "audio" {
				c.audioSent.Add(1)
			} else {
				c.videoSent.Add(1)
			}
			c.bytesSent.Add(uint64(n))
		},
	}

	if err := w.Run(); err != nil {
		c.writeErrMu.Lock()
		c.writeErr = err
		c.writeErrMu.Unlock()

		// Unblocks the reader, which reports the failure
		_ = c.ws.Close()
	}
}

func (c *Conn) readLoop() {
	defer close(c.readerDone)
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ev := c.terminalEvent(err); ev != nil {
				c.emit(ev)
			}
			return
		}

		events, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable server message",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(data)))
			continue
		}

		if msg.GoAway != nil {
			c.logger.Warn("Server announced disconnect", slog.String("time_left", msg.GoAway.TimeLeft))
		}

		for _, ev := range events {
			if !c.emit(ev) {
				return
			}
		}
	}
}

// terminalEvent maps a read failure to the event that ends the session.
// A failure caused by a local Close produces no event.
func (c *Conn) terminalEvent(readErr error) protocol.ServerEvent {
	if c.ctx.Err() != nil {
		return nil
	}

	c.writeErrMu.Lock()
	writeErr := c.writeErr
	c.writeErrMu.Unlock()

	if writeErr != nil {
		return protocol.Error{
			Detail: "write failed",
			Err:    fmt.Errorf("%w: %v", ErrTransport, writeErr),
		}
	}

	// 1006 is what gorilla reports for a dropped TCP connection
	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		return protocol.Closed{Code: closeErr.Code, Reason: closeErr.Text}
	}

	return protocol.Error{
		Detail: "read failed",
		Err:    fmt.Errorf("%w: %v", ErrTransport, readErr),
	}
}

func (c *Conn) emit(ev protocol.ServerEvent) bool {
	select {
	case c.events <- ev:
		c.eventsReceived.Add(1)
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Close stops both goroutines, sends a normal close frame and releases the
// socket. It is idempotent and safe on a nil or never-opened Conn.
func (c *Conn) Close() error {
	if c == nil || c.ws == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.cancel()
		<-c.writerDone
		if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		<-c.readerDone
		c.logger.Info("Live session closed", slog.Any("stats", c.Stats()))
	})

	return c.closeErr
}

// Stats returns connection counters
func (c *Conn) Stats() Stats {
	return Stats{
		AudioSent:      c.audioSent.Load(),
		VideoSent:      c.videoSent.Load(),
		BytesSent:      c.bytesSent.Load(),
		Dropped:        c.dropped.Load(),
		EventsReceived: c.eventsReceived.Load(),
	}
}
