package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/skypro1111/gemini-live-service/internal/audio"
)

// ErrRendererClosed is returned by Enqueue after Close
var ErrRendererClosed = errors.New("renderer closed")

// Handle controls one segment handed to a Sink
type Handle interface {
	// Stop cancels playback. Safe to call more than once and after completion.
	Stop()
	// Done is closed when playback finished or was stopped
	Done() <-chan struct{}
}

// Sink plays decoded frames at a time on the renderer's clock
type Sink interface {
	Play(frames *audio.Frames, at float64) Handle
	Close() error
}

// Source is one scheduled audio segment
type Source struct {
	Start    float64
	Duration float64
	Frames   *audio.Frames

	handle Handle
}

// End returns the scheduled end time
func (s *Source) End() float64 {
	return s.Start + s.Duration
}

// Done is closed when the segment completes or is cancelled
func (s *Source) Done() <-chan struct{} {
	return s.handle.Done()
}

// Options configures a Renderer
type Options struct {
	SampleRate int
	Channels   int
	Clock      Clock
	Logger     *slog.Logger

	// OnComplete is called after a source leaves the active set on its own
	OnComplete func(*Source)
}

// Stats reports renderer counters
type Stats struct {
	Scheduled     uint64  `json:"scheduled"`
	Completed     uint64  `json:"completed"`
	Interruptions uint64  `json:"interruptions"`
	Cancelled     uint64  `json:"cancelled"`
	Active        int     `json:"active"`
	NextStartTime float64 `json:"next_start_time"`
}

// Renderer schedules decoded audio gaplessly on a Sink and cancels all
// pending audio on interruption
type Renderer struct {
	sink       Sink
	clock      Clock
	sampleRate int
	channels   int
	logger     *slog.Logger
	onComplete func(*Source)

	mu            sync.Mutex
	nextStartTime float64
	active        map[*Source]struct{}
	closed        bool

	scheduled     uint64
	completed     uint64
	interruptions uint64
	cancelled     uint64

	wg sync.WaitGroup
}

// NewRenderer creates a renderer that plays through sink
func NewRenderer(sink Sink, opts Options) *Renderer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Clock == nil {
		opts.Clock = NewWallClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Renderer{
		sink:       sink,
		clock:      opts.Clock,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		logger:     opts.Logger,
		onComplete: opts.OnComplete,
		active:     make(map[*Source]struct{}),
	}
}

// EnqueueBase64 decodes a base64 PCM-16 payload recorded at sampleRate and
// schedules it, resampling to the output rate when they differ. A zero
// sampleRate means the output rate. Decode errors leave the schedule
// untouched.
func (r *Renderer) EnqueueBase64(payload string, sampleRate int) (*Source, error) {
	data, err := audio.DecodeBase64(payload)
	if err != nil {
		return nil, err
	}

	if sampleRate <= 0 {
		sampleRate = r.sampleRate
	}
	frames, err := audio.DecodePCM16(data, sampleRate, r.channels)
	if err != nil {
		return nil, err
	}

	frames, err = audio.Resample(frames, r.sampleRate)
	if err != nil {
		return nil, err
	}

	return r.Enqueue(frames)
}

// Enqueue schedules frames to start at max(nextStartTime, now) and advances
// nextStartTime by the frames' duration
func (r *Renderer) Enqueue(frames *audio.Frames) (*Source, error) {
	if frames == nil || frames.Len() == 0 {
		return nil, fmt.Errorf("%w: no frames to schedule", audio.ErrTruncatedBuffer)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRendererClosed
	}

	start := math.Max(r.nextStartTime, r.clock.Now())
	src := &Source{
		Start:    start,
		Duration: frames.Seconds(),
		Frames:   frames,
	}
	src.handle = r.sink.Play(frames, start)
	r.nextStartTime = src.End()
	r.active[src] = struct{}{}
	r.scheduled++

	r.wg.Add(1)
	r.mu.Unlock()

	go r.watch(src)

	r.logger.Debug("Scheduled audio segment",
		slog.Float64("start", src.Start),
		slog.Float64("duration", src.Duration))

	return src, nil
}

// watch removes src from the active set when it finishes. A source already
// removed by Interrupt is left alone.
func (r *Renderer) watch(src *Source) {
	defer r.wg.Done()
	<-src.handle.Done()

	r.mu.Lock()
	_, ok := r.active[src]
	if ok {
		delete(r.active, src)
		r.completed++
	}
	onComplete := r.onComplete
	r.mu.Unlock()

	if ok && onComplete != nil {
		onComplete(src)
	}
}

// Interrupt stops every active source, empties the active set and resets
// nextStartTime so the next segment starts immediately
func (r *Renderer) Interrupt() int {
	r.mu.Lock()
	stopped := make([]*Source, 0, len(r.active))
	for src := range r.active {
		stopped = append(stopped, src)
	}
	clear(r.active)
	r.nextStartTime = 0
	r.interruptions++
	r.cancelled += uint64(len(stopped))
	r.mu.Unlock()

	for _, src := range stopped {
		src.handle.Stop()
	}

	if len(stopped) > 0 {
		r.logger.Debug("Playback interrupted", slog.Int("cancelled", len(stopped)))
	}

	return len(stopped)
}

// Close cancels all playback and closes the sink. Safe to call more than once.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.Interrupt()

	// Closing the sink releases handles stuck on the output; only then can
	// the watchers finish
	err := r.sink.Close()
	r.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close sink: %w", err)
	}
	return nil
}

// ActiveCount returns the number of scheduled sources not yet finished
func (r *Renderer) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// NextStartTime returns where the next segment would be scheduled, before
// clamping to the clock
func (r *Renderer) NextStartTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextStartTime
}

// Stats returns renderer counters
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Scheduled:     r.scheduled,
		Completed:     r.completed,
		Interruptions: r.interruptions,
		Cancelled:     r.cancelled,
		Active:        len(r.active),
		NextStartTime: r.nextStartTime,
	}
}
