package playback

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/gemini-live-service/internal/audio"
)

// DefaultSliceDuration is how much audio DeviceSink writes per tick
const DefaultSliceDuration = 20 * time.Millisecond

// DeviceSink plays frames by writing PCM-16 LE to an output stream (a
// player's stdin or a recorder) in paced slices at their scheduled time
type DeviceSink struct {
	out    io.Writer
	clock  Clock
	slice  time.Duration
	lead   time.Duration
	logger *slog.Logger

	writeMu sync.Mutex // serializes writes from overlapping handles
	mu      sync.Mutex
	closed  bool
	err     error
	handles map[*sinkHandle]struct{}
	wg      sync.WaitGroup
}

// DeviceSinkOptions configures a DeviceSink
type DeviceSinkOptions struct {
	Clock Clock
	// SliceDuration is the pacing granularity
	SliceDuration time.Duration
	// Lead writes each slice this much before its due time so the player
	// never starves
	Lead   time.Duration
	Logger *slog.Logger
}

// NewDeviceSink creates a sink writing to out
func NewDeviceSink(out io.Writer, opts DeviceSinkOptions) *DeviceSink {
	if opts.Clock == nil {
		opts.Clock = NewWallClock()
	}
	if opts.SliceDuration <= 0 {
		opts.SliceDuration = DefaultSliceDuration
	}
	if opts.Lead < 0 {
		opts.Lead = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &DeviceSink{
		out:     out,
		clock:   opts.Clock,
		slice:   opts.SliceDuration,
		lead:    opts.Lead,
		logger:  opts.Logger,
		handles: make(map[*sinkHandle]struct{}),
	}
}

type sinkHandle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (h *sinkHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *sinkHandle) Done() <-chan struct{} {
	return h.done
}

// Play starts a goroutine that writes frames from time at
func (s *DeviceSink) Play(frames *audio.Frames, at float64) Handle {
	h := &sinkHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(h.done)
		return h
	}
	s.handles[h] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(h, frames, at)
	return h
}

func (s *DeviceSink) run(h *sinkHandle, frames *audio.Frames, at float64) {
	defer func() {
		s.mu.Lock()
		delete(s.handles, h)
		s.mu.Unlock()
		close(h.done)
		s.wg.Done()
	}()

	pcm := audio.EncodeAudio(frames.Interleaved())
	frameBytes := 2 * frames.NumChannels()
	samplesPerSlice := int(float64(frames.SampleRate) * s.slice.Seconds())
	if samplesPerSlice <= 0 {
		samplesPerSlice = 1
	}
	sliceBytes := samplesPerSlice * frameBytes

	timer := time.NewTimer(0)
	defer timer.Stop()

	for offset, i := 0, 0; offset < len(pcm); offset, i = offset+sliceBytes, i+1 {
		due := at + float64(i*samplesPerSlice)/float64(frames.SampleRate) - s.lead.Seconds()
		if !s.wait(timer, h, due) {
			return
		}

		end := min(offset+sliceBytes, len(pcm))
		if err := s.write(pcm[offset:end]); err != nil {
			select {
			case <-h.stop:
				// output closed under a stopped handle
			default:
				s.logger.Warn("Failed to write audio to output",
					slog.String("error", err.Error()))
			}
			return
		}
	}

	// Completion is reported when the audio has actually been played out
	s.wait(timer, h, at+frames.Seconds())
}

// wait sleeps until the clock reaches t; false means the handle was stopped
func (s *DeviceSink) wait(timer *time.Timer, h *sinkHandle, t float64) bool {
	d := Until(s.clock, t)
	if d <= 0 {
		select {
		case <-h.stop:
			return false
		default:
			return true
		}
	}

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)

	select {
	case <-h.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (s *DeviceSink) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, err := s.out.Write(p); err != nil {
		s.err = fmt.Errorf("audio output: %w", err)
		return s.err
	}
	return nil
}

// Close stops all playback, closes the output if it is an io.Closer and
// waits for writers. The output is closed first so a writer blocked on a
// stalled stream is released.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for h := range s.handles {
		h.Stop()
	}
	s.mu.Unlock()

	var closeErr error
	if c, ok := s.out.(io.Closer); ok {
		if err := c.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close audio output: %w", err)
		}
	}

	s.wg.Wait()
	return closeErr
}
